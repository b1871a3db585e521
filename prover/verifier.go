package prover

import (
	"errors"
	"fmt"

	"zair/zair-prover/logging"
	"zair/zair-prover/prover/common"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/backend/groth16"
)

// Verifier checks claims using only the verifying key and published values.
type Verifier struct {
	VerifyingKey groth16.VerifyingKey
	domains      map[common.Pool]HidingDomain
}

func NewVerifier(vk groth16.VerifyingKey, domains ...HidingDomain) *Verifier {
	v := &Verifier{VerifyingKey: vk, domains: make(map[common.Pool]HidingDomain)}
	for _, d := range domains {
		v.domains[d.Pool] = d
	}
	return v
}

// Verify checks the claim against the caller's root, hidden nullifier, pool
// and range. A rejection is (false, err) with err a *PublicInputMismatchError
// or *InvalidProofError; it never panics.
func (v *Verifier) Verify(claim *Claim, root fr.Element, hidingNullifier fr.Element, pool common.Pool, snapshotRange common.HeightRange) (bool, error) {
	domain, ok := v.domains[pool]
	if !ok {
		return false, fmt.Errorf("no hiding domain configured for pool %s", pool)
	}
	if claim == nil {
		return false, &InvalidProofError{Err: errors.New("missing claim")}
	}
	if claim.Pool != pool {
		return false, &PublicInputMismatchError{Field: "pool", Declared: claim.Pool.String(), Expected: pool.String()}
	}
	if claim.SnapshotRange != snapshotRange {
		return false, &PublicInputMismatchError{Field: "snapshot_range", Declared: claim.SnapshotRange.String(), Expected: snapshotRange.String()}
	}
	if err := compareDeclared("root", claim.PublicInputs.Root, root); err != nil {
		return false, err
	}
	if err := compareDeclared("hidden_nullifier", claim.PublicInputs.HidingNullifier, hidingNullifier); err != nil {
		return false, err
	}
	if claim.Proof == nil || claim.Proof.Proof == nil {
		return false, &InvalidProofError{Err: errors.New("missing proof")}
	}

	public := PublicInputs{
		Root:            root,
		HidingNullifier: hidingNullifier,
		Pool:            pool,
		Range:           snapshotRange,
		Domain:          domain.Element(),
	}
	if err := v.verifyProof(claim.Proof, public); err != nil {
		return false, &InvalidProofError{Err: err}
	}
	return true, nil
}

func compareDeclared(field string, declared string, expected fr.Element) error {
	value, err := common.ParseFieldElement(declared)
	if err != nil || !value.Equal(&expected) {
		return &PublicInputMismatchError{Field: field, Declared: declared, Expected: common.ElementToHex(expected)}
	}
	return nil
}

func (v *Verifier) verifyProof(proof *common.Proof, public PublicInputs) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("verifier panic: %v", r)
		}
	}()
	return VerifyNonMembership(v.VerifyingKey, *common.ElementToBigInt(public.Hash()), proof)
}

type VerificationResult struct {
	Index           int         `json:"index"`
	Pool            common.Pool `json:"pool"`
	HidingNullifier string      `json:"hidden_nullifier"`
	Valid           bool        `json:"valid"`
	Error           string      `json:"error,omitempty"`
	Err             error       `json:"-"`
}

// PublishedRoot is what the airdrop configuration publishes for one pool.
type PublishedRoot struct {
	Root  fr.Element
	Range common.HeightRange
}

// VerifyClaimSet checks every claim against the published root of its pool.
// Hidden nullifiers are taken from the claims; a hidden nullifier seen twice
// in the batch is rejected on its second occurrence.
func (v *Verifier) VerifyClaimSet(set *ClaimSet, published map[common.Pool]PublishedRoot) []VerificationResult {
	results := make([]VerificationResult, len(set.Claims))
	seen := make(map[fr.Element]int)

	for i := range set.Claims {
		claim := &set.Claims[i]
		result := VerificationResult{Index: i, Pool: claim.Pool, HidingNullifier: claim.PublicInputs.HidingNullifier}

		err := func() error {
			expected, ok := published[claim.Pool]
			if !ok {
				return fmt.Errorf("no published root for pool %s", claim.Pool)
			}
			hidden, err := common.ParseFieldElement(claim.PublicInputs.HidingNullifier)
			if err != nil {
				return &PublicInputMismatchError{Field: "hidden_nullifier", Declared: claim.PublicInputs.HidingNullifier, Expected: "a field element"}
			}
			if first, dup := seen[hidden]; dup {
				return fmt.Errorf("hidden nullifier already claimed by claim %d", first)
			}
			if _, err := v.Verify(claim, expected.Root, hidden, claim.Pool, expected.Range); err != nil {
				return err
			}
			seen[hidden] = i
			return nil
		}()

		result.Valid = err == nil
		if err != nil {
			result.Err = err
			result.Error = err.Error()
			logging.Logger().Warn().
				Int("index", i).
				Str("pool", claim.Pool.String()).
				Err(err).
				Msg("Claim rejected")
		}
		results[i] = result
	}
	return results
}
