package common

import (
	"math/big"

	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"

	"zair/zair-prover/prover/poseidon"

	"github.com/reilabs/gnark-lean-extractor/v3/abstractor"
)

// LimbBits is the width of one half of a 32-byte nullifier.
const LimbBits = 128

type Proof struct {
	Proof groth16.Proof
}

type ProvingSystem struct {
	CircuitType      CircuitType
	TreeDepth        uint32
	ProvingKey       groth16.ProvingKey
	VerifyingKey     groth16.VerifyingKey
	ConstraintSystem constraint.ConstraintSystem
}

// HashChain folds Inputs left to right with Poseidon2, matching
// merkle_tree.HashChain.
type HashChain struct {
	Inputs []frontend.Variable
}

func (gadget HashChain) DefineGadget(api frontend.API) interface{} {
	acc := gadget.Inputs[0]
	for _, in := range gadget.Inputs[1:] {
		acc = abstractor.Call(api, poseidon.Poseidon2{In1: acc, In2: in})
	}
	return acc
}

type ProveParentHash struct {
	Bit     frontend.Variable
	Hash    frontend.Variable
	Sibling frontend.Variable
}

func (gadget ProveParentHash) DefineGadget(api frontend.API) interface{} {
	api.AssertIsBoolean(gadget.Bit)
	d1 := api.Select(gadget.Bit, gadget.Sibling, gadget.Hash)
	d2 := api.Select(gadget.Bit, gadget.Hash, gadget.Sibling)
	hash := abstractor.Call(api, poseidon.Poseidon2{In1: d1, In2: d2})
	return hash
}

type MerkleRootGadget struct {
	Hash   frontend.Variable
	Index  []frontend.Variable
	Path   []frontend.Variable
	Height int
}

func (gadget MerkleRootGadget) DefineGadget(api frontend.API) interface{} {
	currentHash := gadget.Hash
	for i := 0; i < gadget.Height; i++ {
		currentHash = abstractor.Call(api, ProveParentHash{
			Bit:     gadget.Index[i],
			Hash:    currentHash,
			Sibling: gadget.Path[i],
		})
	}
	return currentHash
}

// InclusionProof asserts that Leaf sits at the position encoded by Index under Root.
type InclusionProof struct {
	Root   frontend.Variable
	Leaf   frontend.Variable
	Index  frontend.Variable
	Path   []frontend.Variable
	Height int
}

func (gadget InclusionProof) DefineGadget(api frontend.API) interface{} {
	currentPath := api.ToBinary(gadget.Index, gadget.Height)
	root := abstractor.Call(api, MerkleRootGadget{
		Hash:   gadget.Leaf,
		Index:  currentPath,
		Path:   gadget.Path,
		Height: gadget.Height,
	})
	api.AssertIsEqual(root, gadget.Root)
	return root
}

// LeafHashGadget hashes a leaf key (tag, hi, lo).
type LeafHashGadget struct {
	Tag frontend.Variable
	Hi  frontend.Variable
	Lo  frontend.Variable
}

func (gadget LeafHashGadget) DefineGadget(api frontend.API) interface{} {
	return abstractor.Call(api, poseidon.Poseidon3{In1: gadget.Tag, In2: gadget.Hi, In3: gadget.Lo})
}

// AssertBitLength constrains Value to N bits.
type AssertBitLength struct {
	Value frontend.Variable
	N     int
}

func (gadget AssertBitLength) DefineGadget(api frontend.API) interface{} {
	api.ToBinary(gadget.Value, gadget.N)
	return []frontend.Variable{}
}

// IsLess returns 1 if A < B, 0 otherwise. Both operands must already be
// constrained to N bits.
type IsLess struct {
	A frontend.Variable
	B frontend.Variable
	N int
}

func (gadget IsLess) DefineGadget(api frontend.API) interface{} {
	// A - B + 2^N has bit N set exactly when A >= B
	oneShifted := new(big.Int).Lsh(big.NewInt(1), uint(gadget.N))
	num := api.Add(api.Sub(gadget.A, gadget.B), oneShifted)
	bits := api.ToBinary(num, gadget.N+1)
	return api.Sub(1, bits[gadget.N])
}

// LexLess compares two values split into (hi, lo) limbs.
type LexLess struct {
	AHi frontend.Variable
	ALo frontend.Variable
	BHi frontend.Variable
	BLo frontend.Variable
}

func (gadget LexLess) DefineGadget(api frontend.API) interface{} {
	hiLess := abstractor.Call(api, IsLess{A: gadget.AHi, B: gadget.BHi, N: LimbBits})
	hiEqual := api.IsZero(api.Sub(gadget.AHi, gadget.BHi))
	loLess := abstractor.Call(api, IsLess{A: gadget.ALo, B: gadget.BLo, N: LimbBits})
	return api.Or(hiLess, api.And(hiEqual, loLess))
}

// AssertLeafBelow asserts leaf < value where value is a real nullifier.
// A minimum sentinel is below everything, a maximum sentinel below nothing.
type AssertLeafBelow struct {
	Tag     frontend.Variable
	LeafHi  frontend.Variable
	LeafLo  frontend.Variable
	ValueHi frontend.Variable
	ValueLo frontend.Variable
}

func (gadget AssertLeafBelow) DefineGadget(api frontend.API) interface{} {
	isMin := api.IsZero(gadget.Tag)
	isReal := api.IsZero(api.Sub(gadget.Tag, 1))
	less := abstractor.Call(api, LexLess{AHi: gadget.LeafHi, ALo: gadget.LeafLo, BHi: gadget.ValueHi, BLo: gadget.ValueLo})
	api.AssertIsEqual(api.Or(isMin, api.And(isReal, less)), 1)
	return []frontend.Variable{}
}

// AssertLeafAbove asserts value < leaf.
type AssertLeafAbove struct {
	Tag     frontend.Variable
	LeafHi  frontend.Variable
	LeafLo  frontend.Variable
	ValueHi frontend.Variable
	ValueLo frontend.Variable
}

func (gadget AssertLeafAbove) DefineGadget(api frontend.API) interface{} {
	isMax := api.IsZero(api.Sub(gadget.Tag, 2))
	isReal := api.IsZero(api.Sub(gadget.Tag, 1))
	less := abstractor.Call(api, LexLess{AHi: gadget.ValueHi, ALo: gadget.ValueLo, BHi: gadget.LeafHi, BLo: gadget.LeafLo})
	api.AssertIsEqual(api.Or(isMax, api.And(isReal, less)), 1)
	return []frontend.Variable{}
}
