package prover

import (
	"encoding/binary"
	"encoding/json"
	"testing"

	merkletree "zair/zair-prover/merkle-tree"
	"zair/zair-prover/prover/common"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/backend"
	"github.com/consensys/gnark/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDepth = 4

var testRange = common.HeightRange{Start: 419200, End: 2500000}

func small(v uint64) merkletree.Nullifier {
	var n merkletree.Nullifier
	binary.BigEndian.PutUint64(n[24:], v)
	return n
}

func testSecret() NoteSecret {
	var s NoteSecret
	for i := range s {
		s[i] = byte(i + 1)
	}
	return s
}

func scenarioParams(t *testing.T, value merkletree.Nullifier) *NonMembershipParameters {
	t.Helper()
	tree, err := merkletree.Build([]merkletree.Nullifier{small(1), small(5), small(9)}, testDepth)
	require.NoError(t, err)
	bracket, err := tree.Bracket(value)
	require.NoError(t, err)
	return NewNonMembershipParameters(bracket, DefaultHidingDomain(common.Sapling), testRange, testSecret())
}

func proverOptions() []test.TestingOption {
	return []test.TestingOption{test.WithBackends(backend.GROTH16), test.WithCurves(ecc.BN254), test.NoSerializationChecks()}
}

func TestNonMembershipCircuit(t *testing.T) {
	assert := test.NewAssert(t)

	for _, value := range []merkletree.Nullifier{small(0), small(3), small(7), small(100)} {
		params := scenarioParams(t, value)
		require.NoError(t, params.Validate(testDepth))

		circuit := emptyCircuit(testDepth)
		assignment := params.assignment()
		assert.ProverSucceeded(&circuit, &assignment, proverOptions()...)
	}
}

func TestNonMembershipCircuitRejectsBadWitness(t *testing.T) {
	params := scenarioParams(t, small(3))

	mutations := map[string]func(c *NonMembershipCircuit){
		"value equals low leaf": func(c *NonMembershipCircuit) {
			hi, lo := small(1).Limbs()
			c.ValueHi, c.ValueLo = common.ElementToBigInt(hi), common.ElementToBigInt(lo)
		},
		"non-adjacent high leaf": func(c *NonMembershipCircuit) {
			hi, lo := small(9).Limbs()
			c.HighHi, c.HighLo = common.ElementToBigInt(hi), common.ElementToBigInt(lo)
		},
		"shifted low index": func(c *NonMembershipCircuit) {
			c.LowIndex = uint64(2)
		},
		"wrong public hash": func(c *NonMembershipCircuit) {
			c.PublicInputHash = 42
		},
		"wrong secret": func(c *NonMembershipCircuit) {
			c.SecretLo = 7
		},
		"wrong pool": func(c *NonMembershipCircuit) {
			c.Pool = uint64(common.Orchard)
		},
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			assert := test.NewAssert(t)
			circuit := emptyCircuit(testDepth)
			assignment := params.assignment()
			mutate(&assignment)
			assert.ProverFailed(&circuit, &assignment, proverOptions()...)
		})
	}
}

func TestValidateCatchesInconsistentWitness(t *testing.T) {
	params := scenarioParams(t, small(3))

	params.High = merkletree.Leaf{Tag: merkletree.RealLeaf, Value: small(9)}
	err := params.Validate(testDepth)
	var inconsistent *WitnessInconsistentError
	require.ErrorAs(t, err, &inconsistent)

	params = scenarioParams(t, small(3))
	params.Secret[0] ^= 0xff
	require.ErrorAs(t, params.Validate(testDepth), &inconsistent)

	params = scenarioParams(t, small(3))
	require.ErrorAs(t, params.Validate(testDepth+1), &inconsistent)
}

func TestHidingNullifier(t *testing.T) {
	sapling := DefaultHidingDomain(common.Sapling)
	orchard := DefaultHidingDomain(common.Orchard)
	require.NoError(t, sapling.Validate())
	require.NoError(t, orchard.Validate())

	a := DeriveHidingNullifier(sapling, small(3), testSecret())
	b := DeriveHidingNullifier(sapling, small(3), testSecret())
	assert.True(t, a.Equal(&b))

	// nothing binds the secret to the note, so one raw nullifier maps to many hidden values
	other := testSecret()
	other[31] ^= 1
	c := DeriveHidingNullifier(sapling, small(3), other)
	assert.False(t, a.Equal(&c))

	d := DeriveHidingNullifier(HidingDomain{Pool: common.Sapling, TargetID: "ZAIRPROD"}, small(3), testSecret())
	assert.False(t, a.Equal(&d))

	rawHi, rawLo := small(3).Limbs()
	assert.False(t, a.Equal(&rawLo))
	assert.False(t, a.Equal(&rawHi))

	assert.Error(t, HidingDomain{Pool: common.Sapling, TargetID: "SHORT"}.Validate())
	assert.Error(t, HidingDomain{Pool: common.Orchard}.Validate())
}

func TestParametersJSON(t *testing.T) {
	params := scenarioParams(t, small(3))
	data, err := json.Marshal(params)
	require.NoError(t, err)

	meta, err := common.ParseProofRequestMeta(data)
	require.NoError(t, err)
	assert.Equal(t, common.Sapling, meta.Pool)
	assert.Equal(t, uint32(testDepth), meta.TreeDepth)

	parsed, err := ParseNonMembership(string(data))
	require.NoError(t, err)
	require.NoError(t, parsed.Validate(testDepth))
	assert.Equal(t, params.Value, parsed.Value)
	assert.Equal(t, params.LowIndex, parsed.LowIndex)
	assert.True(t, params.HidingNullifier.Equal(&parsed.HidingNullifier))
}

func TestProveAndVerify(t *testing.T) {
	if testing.Short() {
		t.Skip("groth16 setup")
	}
	ps, err := SetupNonMembership(testDepth)
	require.NoError(t, err)

	params := scenarioParams(t, small(3))
	proof, err := ProveNonMembership(ps, params)
	require.NoError(t, err)

	claim := NewClaim(params, proof)
	data, err := json.Marshal(&ClaimSet{Claims: []Claim{claim}})
	require.NoError(t, err)
	var decoded ClaimSet
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded.Claims, 1)

	verifier := NewVerifier(ps.VerifyingKey, DefaultHidingDomain(common.Sapling), DefaultHidingDomain(common.Orchard))
	ok, err := verifier.Verify(&decoded.Claims[0], params.Root, params.HidingNullifier, common.Sapling, testRange)
	require.NoError(t, err)
	assert.True(t, ok)

	var mismatch *PublicInputMismatchError

	otherRoot := params.Root
	otherRoot.Add(&otherRoot, new(fr.Element).SetOne())
	ok, err = verifier.Verify(&decoded.Claims[0], otherRoot, params.HidingNullifier, common.Sapling, testRange)
	assert.False(t, ok)
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "root", mismatch.Field)

	otherHidden := DeriveHidingNullifier(DefaultHidingDomain(common.Sapling), small(4), testSecret())
	ok, err = verifier.Verify(&decoded.Claims[0], params.Root, otherHidden, common.Sapling, testRange)
	assert.False(t, ok)
	require.ErrorAs(t, err, &mismatch)

	ok, err = verifier.Verify(&decoded.Claims[0], params.Root, params.HidingNullifier, common.Orchard, testRange)
	assert.False(t, ok)
	require.ErrorAs(t, err, &mismatch)

	shifted := common.HeightRange{Start: testRange.Start, End: testRange.End + 1}
	ok, err = verifier.Verify(&decoded.Claims[0], params.Root, params.HidingNullifier, common.Sapling, shifted)
	assert.False(t, ok)
	require.ErrorAs(t, err, &mismatch)

	// declared fields rewritten to match the forged value: only the proof can reject
	forgeries := []struct {
		name   string
		forge  func(c *Claim)
		root   fr.Element
		hidden fr.Element
		pool   common.Pool
		rng    common.HeightRange
	}{
		{
			name:   "root",
			forge:  func(c *Claim) { c.PublicInputs.Root = common.ElementToHex(otherRoot) },
			root:   otherRoot,
			hidden: params.HidingNullifier,
			pool:   common.Sapling,
			rng:    testRange,
		},
		{
			name:   "hidden nullifier",
			forge:  func(c *Claim) { c.PublicInputs.HidingNullifier = common.ElementToHex(otherHidden) },
			root:   params.Root,
			hidden: otherHidden,
			pool:   common.Sapling,
			rng:    testRange,
		},
		{
			name:   "pool",
			forge:  func(c *Claim) { c.Pool = common.Orchard },
			root:   params.Root,
			hidden: params.HidingNullifier,
			pool:   common.Orchard,
			rng:    testRange,
		},
		{
			name:   "snapshot range",
			forge:  func(c *Claim) { c.SnapshotRange = shifted },
			root:   params.Root,
			hidden: params.HidingNullifier,
			pool:   common.Sapling,
			rng:    shifted,
		},
	}
	for _, tc := range forgeries {
		t.Run("forged "+tc.name, func(t *testing.T) {
			forged := decoded.Claims[0]
			tc.forge(&forged)
			ok, err := verifier.Verify(&forged, tc.root, tc.hidden, tc.pool, tc.rng)
			assert.False(t, ok)
			var invalid *InvalidProofError
			require.ErrorAs(t, err, &invalid)
		})
	}

	results := verifier.VerifyClaimSet(&ClaimSet{Claims: []Claim{claim, claim}}, map[common.Pool]PublishedRoot{
		common.Sapling: {Root: params.Root, Range: testRange},
	})
	require.Len(t, results, 2)
	assert.True(t, results[0].Valid)
	assert.False(t, results[1].Valid)
}

func TestProveRejectsInconsistentWitness(t *testing.T) {
	params := scenarioParams(t, small(3))
	params.LowIndex = 2
	_, err := ProveNonMembership(&common.ProvingSystem{TreeDepth: testDepth}, params)
	var inconsistent *WitnessInconsistentError
	require.ErrorAs(t, err, &inconsistent)
}
