package common

import (
	"testing"

	merkletree "zair/zair-prover/merkle-tree"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/test"
	"github.com/reilabs/gnark-lean-extractor/v3/abstractor"
)

type LeafHashGadgetCircuit struct {
	Tag          frontend.Variable `gnark:"private"`
	Hi           frontend.Variable `gnark:"private"`
	Lo           frontend.Variable `gnark:"private"`
	ExpectedHash frontend.Variable `gnark:"public"`
}

func (circuit *LeafHashGadgetCircuit) Define(api frontend.API) error {
	output := abstractor.Call(api, LeafHashGadget{Tag: circuit.Tag, Hi: circuit.Hi, Lo: circuit.Lo})
	api.AssertIsEqual(circuit.ExpectedHash, output)
	return nil
}

func TestLeafGadgetMatchesNativeHash(t *testing.T) {
	value, err := merkletree.NullifierFromHex("0x277f5629fdf020bb57ecbf7024ba4a9c26b9de1cda2ca25bfd3dc94275996e01")
	if err != nil {
		t.Fatal(err)
	}
	leaf := merkletree.Leaf{Tag: merkletree.RealLeaf, Value: value}
	hi, lo := value.Limbs()
	expected := ElementToBigInt(leaf.Hash())
	sentinel := ElementToBigInt(merkletree.Leaf{Tag: merkletree.MaxSentinel}.Hash())

	testCases := []struct {
		tag      int
		expected interface{}
		valid    bool
	}{
		{int(merkletree.RealLeaf), expected, true},
		{int(merkletree.MaxSentinel), expected, false},
		{int(merkletree.RealLeaf), sentinel, false},
	}

	for _, tc := range testCases {
		var circuit LeafHashGadgetCircuit
		assert := test.NewAssert(t)
		assignment := &LeafHashGadgetCircuit{
			Tag:          tc.tag,
			Hi:           ElementToBigInt(hi),
			Lo:           ElementToBigInt(lo),
			ExpectedHash: tc.expected,
		}
		if tc.valid {
			assert.ProverSucceeded(&circuit, assignment, test.WithBackends(backend.GROTH16), test.WithCurves(ecc.BN254), test.NoSerializationChecks())
		} else {
			assert.ProverFailed(&circuit, assignment, test.WithBackends(backend.GROTH16), test.WithCurves(ecc.BN254), test.NoSerializationChecks())
		}
	}
}

type MerkleRootCircuit struct {
	Root  frontend.Variable   `gnark:"public"`
	Leaf  frontend.Variable   `gnark:"private"`
	Index frontend.Variable   `gnark:"private"`
	Path  []frontend.Variable `gnark:"private"`
}

func (circuit *MerkleRootCircuit) Define(api frontend.API) error {
	abstractor.Call(api, InclusionProof{
		Root:   circuit.Root,
		Leaf:   circuit.Leaf,
		Index:  circuit.Index,
		Path:   circuit.Path,
		Height: len(circuit.Path),
	})
	return nil
}

func TestInclusionProofMatchesNativeTree(t *testing.T) {
	const depth = 4
	var a, b, c merkletree.Nullifier
	a[31], b[31], c[31] = 1, 5, 9
	tree, err := merkletree.Build([]merkletree.Nullifier{a, b, c}, depth)
	if err != nil {
		t.Fatal(err)
	}

	for index := uint64(0); index < 5; index++ {
		path, err := tree.PathFor(index)
		if err != nil {
			t.Fatal(err)
		}
		leaf, _ := tree.Leaf(index)
		siblings := make([]frontend.Variable, depth)
		for i := range path.Siblings {
			siblings[i] = ElementToBigInt(path.Siblings[i])
		}

		circuit := MerkleRootCircuit{Path: make([]frontend.Variable, depth)}
		assert := test.NewAssert(t)
		assert.ProverSucceeded(&circuit, &MerkleRootCircuit{
			Root:  ElementToBigInt(tree.Root()),
			Leaf:  ElementToBigInt(leaf.Hash()),
			Index: index,
			Path:  siblings,
		}, test.WithBackends(backend.GROTH16), test.WithCurves(ecc.BN254), test.NoSerializationChecks())

		// a correct path at the wrong index must not verify
		assert.ProverFailed(&circuit, &MerkleRootCircuit{
			Root:  ElementToBigInt(tree.Root()),
			Leaf:  ElementToBigInt(leaf.Hash()),
			Index: index + 1,
			Path:  siblings,
		}, test.WithBackends(backend.GROTH16), test.WithCurves(ecc.BN254), test.NoSerializationChecks())
	}
}
