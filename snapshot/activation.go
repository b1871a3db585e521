package snapshot

import (
	"fmt"

	"zair/zair-prover/prover/common"
)

type activationKey struct {
	network common.Network
	pool    common.Pool
}

// ActivationTable maps (network, pool) to the first height at which the pool exists.
// Values are immutable once built.
type ActivationTable struct {
	heights map[activationKey]uint64
}

type Activation struct {
	Network common.Network
	Pool    common.Pool
	Height  uint64
}

func NewActivationTable(entries ...Activation) ActivationTable {
	heights := make(map[activationKey]uint64, len(entries))
	for _, e := range entries {
		heights[activationKey{e.Network, e.Pool}] = e.Height
	}
	return ActivationTable{heights: heights}
}

func DefaultActivationTable() ActivationTable {
	return NewActivationTable(
		Activation{common.Mainnet, common.Sapling, 419200},
		Activation{common.Mainnet, common.Orchard, 1687104},
		Activation{common.Testnet, common.Sapling, 280000},
		Activation{common.Testnet, common.Orchard, 1842420},
	)
}

func (t ActivationTable) Height(network common.Network, pool common.Pool) (uint64, bool) {
	h, ok := t.heights[activationKey{network, pool}]
	return h, ok
}

// Check fails with PoolNotActiveError when start precedes the pool's activation.
func (t ActivationTable) Check(network common.Network, pool common.Pool, start uint64) error {
	activation, ok := t.Height(network, pool)
	if !ok {
		return fmt.Errorf("no activation height for %s on %s", pool, network)
	}
	if start < activation {
		return &PoolNotActiveError{Pool: pool, Network: network, Height: start, Activation: activation}
	}
	return nil
}
