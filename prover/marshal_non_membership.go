package prover

import (
	"encoding/json"
	"fmt"

	merkletree "zair/zair-prover/merkle-tree"
	"zair/zair-prover/prover/common"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

type LeafJSON struct {
	Tag   uint8  `json:"tag"`
	Value string `json:"value"`
}

type NonMembershipParametersJSON struct {
	CircuitType     common.CircuitType `json:"circuitType"`
	Pool            common.Pool        `json:"pool"`
	TreeDepth       uint32             `json:"treeDepth"`
	SnapshotRange   common.HeightRange `json:"snapshotRange"`
	TargetID        string             `json:"targetId"`
	Root            string             `json:"root"`
	HidingNullifier string             `json:"hiddenNullifier"`
	Nullifier       string             `json:"nullifier"`
	NoteSecret      string             `json:"noteSecret"`
	LowIndex        uint64             `json:"lowIndex"`
	LowLeaf         LeafJSON           `json:"lowLeaf"`
	HighLeaf        LeafJSON           `json:"highLeaf"`
	LowPath         []string           `json:"lowPath"`
	HighPath        []string           `json:"highPath"`
}

func ParseNonMembership(inputJSON string) (NonMembershipParameters, error) {
	var proofData NonMembershipParameters
	err := json.Unmarshal([]byte(inputJSON), &proofData)
	if err != nil {
		return NonMembershipParameters{}, fmt.Errorf("error parsing JSON: %v", err)
	}
	return proofData, nil
}

func (p *NonMembershipParameters) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.CreateNonMembershipParametersJSON())
}

func (p *NonMembershipParameters) CreateNonMembershipParametersJSON() NonMembershipParametersJSON {
	paramsJson := NonMembershipParametersJSON{
		CircuitType:     common.NonMembershipCircuitType,
		Pool:            p.Pool,
		TreeDepth:       p.TreeDepth(),
		SnapshotRange:   p.Range,
		TargetID:        p.Domain.TargetID,
		Root:            common.ElementToHex(p.Root),
		HidingNullifier: common.ElementToHex(p.HidingNullifier),
		Nullifier:       p.Value.Hex(),
		NoteSecret:      p.Secret.Hex(),
		LowIndex:        p.LowIndex,
		LowLeaf:         LeafJSON{Tag: uint8(p.Low.Tag), Value: p.Low.Value.Hex()},
		HighLeaf:        LeafJSON{Tag: uint8(p.High.Tag), Value: p.High.Value.Hex()},
		LowPath:         make([]string, len(p.LowPath)),
		HighPath:        make([]string, len(p.HighPath)),
	}
	for i := range p.LowPath {
		paramsJson.LowPath[i] = common.ElementToHex(p.LowPath[i])
	}
	for i := range p.HighPath {
		paramsJson.HighPath[i] = common.ElementToHex(p.HighPath[i])
	}
	return paramsJson
}

func (p *NonMembershipParameters) UnmarshalJSON(data []byte) error {
	var params NonMembershipParametersJSON
	err := json.Unmarshal(data, &params)
	if err != nil {
		return err
	}
	return p.UpdateWithJSON(params)
}

func (p *NonMembershipParameters) UpdateWithJSON(params NonMembershipParametersJSON) error {
	var err error
	p.Pool = params.Pool
	p.Range = params.SnapshotRange
	p.Domain = HidingDomain{Pool: params.Pool, TargetID: params.TargetID}
	if params.TargetID == "" {
		p.Domain = DefaultHidingDomain(params.Pool)
	}
	if err = p.Domain.Validate(); err != nil {
		return err
	}

	if p.Root, err = common.ParseFieldElement(params.Root); err != nil {
		return fmt.Errorf("root: %w", err)
	}
	if p.HidingNullifier, err = common.ParseFieldElement(params.HidingNullifier); err != nil {
		return fmt.Errorf("hiddenNullifier: %w", err)
	}
	if p.Value, err = merkletree.NullifierFromHex(params.Nullifier); err != nil {
		return err
	}
	if p.Secret, err = NoteSecretFromHex(params.NoteSecret); err != nil {
		return err
	}

	p.LowIndex = params.LowIndex
	if p.Low, err = leafFromJSON(params.LowLeaf); err != nil {
		return fmt.Errorf("lowLeaf: %w", err)
	}
	if p.High, err = leafFromJSON(params.HighLeaf); err != nil {
		return fmt.Errorf("highLeaf: %w", err)
	}

	if p.LowPath, err = parsePath(params.LowPath); err != nil {
		return fmt.Errorf("lowPath: %w", err)
	}
	if p.HighPath, err = parsePath(params.HighPath); err != nil {
		return fmt.Errorf("highPath: %w", err)
	}
	if params.TreeDepth != 0 && int(params.TreeDepth) != len(p.LowPath) {
		return fmt.Errorf("treeDepth %d does not match path length %d", params.TreeDepth, len(p.LowPath))
	}
	return nil
}

func leafFromJSON(l LeafJSON) (merkletree.Leaf, error) {
	tag := merkletree.LeafTag(l.Tag)
	if tag > merkletree.MaxSentinel {
		return merkletree.Leaf{}, fmt.Errorf("unknown leaf tag %d", l.Tag)
	}
	leaf := merkletree.Leaf{Tag: tag}
	if l.Value == "" {
		return leaf, nil
	}
	value, err := merkletree.NullifierFromHex(l.Value)
	if err != nil {
		return merkletree.Leaf{}, err
	}
	leaf.Value = value
	return leaf, nil
}

func parsePath(hexes []string) ([]fr.Element, error) {
	path := make([]fr.Element, len(hexes))
	for i, h := range hexes {
		e, err := common.ParseFieldElement(h)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		path[i] = e
	}
	return path, nil
}
