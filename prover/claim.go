package prover

import (
	"encoding/json"
	"fmt"
	"os"

	"zair/zair-prover/prover/common"
)

type ClaimPublicInputs struct {
	Root            string `json:"root"`
	HidingNullifier string `json:"hidden_nullifier"`
}

// Claim is one non-membership proof and the metadata a verifier needs to
// pick the published root it was made against.
type Claim struct {
	Pool          common.Pool        `json:"pool"`
	SnapshotRange common.HeightRange `json:"snapshot_range"`
	PublicInputs  ClaimPublicInputs  `json:"public_inputs"`
	Proof         *common.Proof      `json:"proof"`
}

type ClaimSet struct {
	Claims []Claim `json:"claims"`
}

func NewClaim(params *NonMembershipParameters, proof *common.Proof) Claim {
	return Claim{
		Pool:          params.Pool,
		SnapshotRange: params.Range,
		PublicInputs: ClaimPublicInputs{
			Root:            common.ElementToHex(params.Root),
			HidingNullifier: common.ElementToHex(params.HidingNullifier),
		},
		Proof: proof,
	}
}

func WriteClaimSet(path string, set *ClaimSet) error {
	data, err := json.MarshalIndent(set, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func ReadClaimSet(path string) (*ClaimSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var set ClaimSet
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("parsing claim set %s: %w", path, err)
	}
	return &set, nil
}
