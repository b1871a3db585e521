package prover

import (
	"fmt"

	merkletree "zair/zair-prover/merkle-tree"
	"zair/zair-prover/prover/common"
)

func SetupCircuit(circuit common.CircuitType, treeDepth uint32) (*common.ProvingSystem, error) {
	switch circuit {
	case common.NonMembershipCircuitType:
		return SetupNonMembership(treeDepth)
	default:
		return nil, fmt.Errorf("invalid circuit: %s", circuit)
	}
}

// ParseDepths reads a list of tree depths, defaulting to the snapshot default.
func ParseDepths(raw []int64) ([]uint32, error) {
	if len(raw) == 0 {
		return []uint32{merkletree.DefaultDepth}, nil
	}
	depths := make([]uint32, 0, len(raw))
	for _, d := range raw {
		if d < merkletree.MinDepth || d > merkletree.MaxDepth {
			return nil, fmt.Errorf("tree depth %d out of range [%d, %d]", d, merkletree.MinDepth, merkletree.MaxDepth)
		}
		depths = append(depths, uint32(d))
	}
	return depths, nil
}
