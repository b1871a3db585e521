package prover

import (
	"fmt"
	"math/big"
	"time"

	"zair/zair-prover/logging"
	merkletree "zair/zair-prover/merkle-tree"
	"zair/zair-prover/prover/common"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
)

// PublicInputs are the values a verifier supplies. They reach the circuit
// through a single public hash.
type PublicInputs struct {
	Root            fr.Element
	HidingNullifier fr.Element
	Pool            common.Pool
	Range           common.HeightRange
	Domain          fr.Element
}

func (p PublicInputs) Hash() fr.Element {
	return merkletree.HashChain(
		p.Root,
		p.HidingNullifier,
		fr.NewElement(uint64(p.Pool)),
		fr.NewElement(p.Range.Start),
		fr.NewElement(p.Range.End),
		p.Domain,
	)
}

type NonMembershipParameters struct {
	Pool            common.Pool
	Range           common.HeightRange
	Domain          HidingDomain
	Root            fr.Element
	HidingNullifier fr.Element

	Value  merkletree.Nullifier
	Secret NoteSecret

	LowIndex uint64
	Low      merkletree.Leaf
	High     merkletree.Leaf
	LowPath  []fr.Element
	HighPath []fr.Element
}

// NewNonMembershipParameters assembles a witness from a bracket lookup on the raw nullifier.
func NewNonMembershipParameters(bracket *merkletree.Bracket, domain HidingDomain, snapshotRange common.HeightRange, secret NoteSecret) *NonMembershipParameters {
	return &NonMembershipParameters{
		Pool:            domain.Pool,
		Range:           snapshotRange,
		Domain:          domain,
		Root:            bracket.Root,
		HidingNullifier: DeriveHidingNullifier(domain, bracket.Value, secret),
		Value:           bracket.Value,
		Secret:          secret,
		LowIndex:        bracket.LowIndex,
		Low:             bracket.Low,
		High:            bracket.High,
		LowPath:         bracket.LowPath.Siblings,
		HighPath:        bracket.HighPath.Siblings,
	}
}

func (p *NonMembershipParameters) TreeDepth() uint32 {
	return uint32(len(p.LowPath))
}

func (p *NonMembershipParameters) PublicInputs() PublicInputs {
	return PublicInputs{
		Root:            p.Root,
		HidingNullifier: p.HidingNullifier,
		Pool:            p.Pool,
		Range:           p.Range,
		Domain:          p.Domain.Element(),
	}
}

func inconsistent(format string, args ...interface{}) error {
	return &WitnessInconsistentError{Reason: fmt.Sprintf(format, args...)}
}

// Validate checks natively every relation the circuit enforces.
func (p *NonMembershipParameters) Validate(treeDepth uint32) error {
	if len(p.LowPath) != int(treeDepth) || len(p.HighPath) != int(treeDepth) {
		return inconsistent("path lengths %d/%d do not match tree depth %d", len(p.LowPath), len(p.HighPath), treeDepth)
	}
	if err := p.Range.Validate(); err != nil {
		return inconsistent("%v", err)
	}
	if p.Domain.Pool != p.Pool {
		return inconsistent("hiding domain is for pool %s, witness is for %s", p.Domain.Pool, p.Pool)
	}
	expected := DeriveHidingNullifier(p.Domain, p.Value, p.Secret)
	if !expected.Equal(&p.HidingNullifier) {
		return inconsistent("hiding nullifier does not derive from the raw nullifier")
	}

	value := merkletree.Leaf{Tag: merkletree.RealLeaf, Value: p.Value}
	if p.Low.Compare(value) >= 0 {
		return inconsistent("low leaf %s is not below the nullifier", p.Low)
	}
	if p.High.Compare(value) <= 0 {
		return inconsistent("high leaf %s is not above the nullifier", p.High)
	}
	if p.LowIndex+1 >= uint64(1)<<treeDepth {
		return inconsistent("low index %d has no right neighbour at depth %d", p.LowIndex, treeDepth)
	}
	lowPath := merkletree.InclusionPath{LeafIndex: p.LowIndex, Siblings: p.LowPath}
	if !merkletree.VerifyPath(p.Root, p.Low, lowPath) {
		return inconsistent("low leaf is not included under the root")
	}
	highPath := merkletree.InclusionPath{LeafIndex: p.LowIndex + 1, Siblings: p.HighPath}
	if !merkletree.VerifyPath(p.Root, p.High, highPath) {
		return inconsistent("high leaf is not included at the adjacent index")
	}
	return nil
}

func (p *NonMembershipParameters) assignment() NonMembershipCircuit {
	public := p.PublicInputs()
	valueHi, valueLo := p.Value.Limbs()
	secretHi, secretLo := p.Secret.Limbs()
	lowHi, lowLo := p.Low.Value.Limbs()
	highHi, highLo := p.High.Value.Limbs()

	lowPath := make([]frontend.Variable, len(p.LowPath))
	highPath := make([]frontend.Variable, len(p.HighPath))
	for i := range p.LowPath {
		lowPath[i] = common.ElementToBigInt(p.LowPath[i])
		highPath[i] = common.ElementToBigInt(p.HighPath[i])
	}

	return NonMembershipCircuit{
		PublicInputHash: common.ElementToBigInt(public.Hash()),
		Root:            common.ElementToBigInt(p.Root),
		HidingNullifier: common.ElementToBigInt(p.HidingNullifier),
		Pool:            uint64(p.Pool),
		RangeStart:      p.Range.Start,
		RangeEnd:        p.Range.End,
		Domain:          common.ElementToBigInt(public.Domain),
		ValueHi:         common.ElementToBigInt(valueHi),
		ValueLo:         common.ElementToBigInt(valueLo),
		SecretHi:        common.ElementToBigInt(secretHi),
		SecretLo:        common.ElementToBigInt(secretLo),
		LowTag:          uint64(p.Low.Tag),
		LowHi:           common.ElementToBigInt(lowHi),
		LowLo:           common.ElementToBigInt(lowLo),
		HighTag:         uint64(p.High.Tag),
		HighHi:          common.ElementToBigInt(highHi),
		HighLo:          common.ElementToBigInt(highLo),
		LowIndex:        p.LowIndex,
		LowPath:         lowPath,
		HighPath:        highPath,
		Depth:           uint32(len(p.LowPath)),
	}
}

func emptyCircuit(treeDepth uint32) NonMembershipCircuit {
	return NonMembershipCircuit{
		PublicInputHash: frontend.Variable(0),
		LowPath:         make([]frontend.Variable, treeDepth),
		HighPath:        make([]frontend.Variable, treeDepth),
		Depth:           treeDepth,
	}
}

func R1CSNonMembership(treeDepth uint32) (constraint.ConstraintSystem, error) {
	if treeDepth < merkletree.MinDepth || treeDepth > merkletree.MaxDepth {
		return nil, fmt.Errorf("tree depth %d out of range [%d, %d]", treeDepth, merkletree.MinDepth, merkletree.MaxDepth)
	}
	circuit := emptyCircuit(treeDepth)
	return frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &circuit)
}

func SetupNonMembership(treeDepth uint32) (*common.ProvingSystem, error) {
	ccs, err := R1CSNonMembership(treeDepth)
	if err != nil {
		return nil, err
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, err
	}
	return &common.ProvingSystem{
		CircuitType:      common.NonMembershipCircuitType,
		TreeDepth:        treeDepth,
		ProvingKey:       pk,
		VerifyingKey:     vk,
		ConstraintSystem: ccs}, nil
}

func ProveNonMembership(ps *common.ProvingSystem, params *NonMembershipParameters) (*common.Proof, error) {
	if err := params.Validate(ps.TreeDepth); err != nil {
		return nil, err
	}

	assignment := params.assignment()
	witness, err := frontend.NewWitness(&assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, err
	}

	start := time.Now()
	proof, err := groth16.Prove(ps.ConstraintSystem, ps.ProvingKey, witness)
	if err != nil {
		logging.Logger().Error().Err(err).Msg("non-membership prove error")
		return nil, err
	}
	logging.Logger().Debug().
		Str("pool", params.Pool.String()).
		Uint32("depth", ps.TreeDepth).
		Dur("duration", time.Since(start)).
		Msg("Proof non-membership")

	return &common.Proof{Proof: proof}, nil
}

func VerifyNonMembership(vk groth16.VerifyingKey, publicInputHash big.Int, proof *common.Proof) error {
	publicAssignment := NonMembershipCircuit{
		PublicInputHash: publicInputHash,
	}
	witness, err := frontend.NewWitness(&publicAssignment, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return err
	}
	return groth16.Verify(proof.Proof, vk, witness)
}
