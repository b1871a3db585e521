package prover

import (
	"zair/zair-prover/prover/common"
	"zair/zair-prover/prover/poseidon"

	"github.com/consensys/gnark/frontend"
	"github.com/reilabs/gnark-lean-extractor/v3/abstractor"
)

// NonMembershipCircuit proves that a hidden nullifier was derived from a raw
// value lying strictly between two adjacent leaves of the snapshot tree.
type NonMembershipCircuit struct {
	PublicInputHash frontend.Variable `gnark:",public"`

	// hashed public inputs (passed as private since they're verified via PublicInputHash)
	Root            frontend.Variable `gnark:",secret"`
	HidingNullifier frontend.Variable `gnark:",secret"`
	Pool            frontend.Variable `gnark:",secret"`
	RangeStart      frontend.Variable `gnark:",secret"`
	RangeEnd        frontend.Variable `gnark:",secret"`
	Domain          frontend.Variable `gnark:",secret"`

	// private inputs
	ValueHi  frontend.Variable `gnark:",secret"`
	ValueLo  frontend.Variable `gnark:",secret"`
	SecretHi frontend.Variable `gnark:",secret"`
	SecretLo frontend.Variable `gnark:",secret"`

	LowTag  frontend.Variable `gnark:",secret"`
	LowHi   frontend.Variable `gnark:",secret"`
	LowLo   frontend.Variable `gnark:",secret"`
	HighTag frontend.Variable `gnark:",secret"`
	HighHi  frontend.Variable `gnark:",secret"`
	HighLo  frontend.Variable `gnark:",secret"`

	LowIndex frontend.Variable   `gnark:",secret"`
	LowPath  []frontend.Variable `gnark:",secret"`
	HighPath []frontend.Variable `gnark:",secret"`

	Depth uint32
}

func (circuit *NonMembershipCircuit) Define(api frontend.API) error {
	publicInputHash := abstractor.Call(api, common.HashChain{Inputs: []frontend.Variable{
		circuit.Root,
		circuit.HidingNullifier,
		circuit.Pool,
		circuit.RangeStart,
		circuit.RangeEnd,
		circuit.Domain,
	}})
	api.AssertIsEqual(circuit.PublicInputHash, publicInputHash)

	noteKey := abstractor.Call(api, poseidon.Poseidon3{In1: circuit.Domain, In2: circuit.SecretHi, In3: circuit.SecretLo})
	hidingNullifier := abstractor.Call(api, poseidon.Poseidon3{In1: noteKey, In2: circuit.ValueHi, In3: circuit.ValueLo})
	api.AssertIsEqual(circuit.HidingNullifier, hidingNullifier)

	abstractor.CallVoid(api, NonMembershipProof{
		Root:     circuit.Root,
		ValueHi:  circuit.ValueHi,
		ValueLo:  circuit.ValueLo,
		LowTag:   circuit.LowTag,
		LowHi:    circuit.LowHi,
		LowLo:    circuit.LowLo,
		HighTag:  circuit.HighTag,
		HighHi:   circuit.HighHi,
		HighLo:   circuit.HighLo,
		LowIndex: circuit.LowIndex,
		LowPath:  circuit.LowPath,
		HighPath: circuit.HighPath,
		Depth:    int(circuit.Depth),
	})
	return nil
}

// NonMembershipProof checks ordering against both bracket leaves and their
// inclusion at adjacent indices.
type NonMembershipProof struct {
	Root frontend.Variable

	ValueHi frontend.Variable
	ValueLo frontend.Variable

	LowTag  frontend.Variable
	LowHi   frontend.Variable
	LowLo   frontend.Variable
	HighTag frontend.Variable
	HighHi  frontend.Variable
	HighLo  frontend.Variable

	LowIndex frontend.Variable
	LowPath  []frontend.Variable
	HighPath []frontend.Variable

	Depth int
}

func (gadget NonMembershipProof) DefineGadget(api frontend.API) interface{} {
	for _, limb := range []frontend.Variable{
		gadget.ValueHi, gadget.ValueLo,
		gadget.LowHi, gadget.LowLo,
		gadget.HighHi, gadget.HighLo,
	} {
		abstractor.CallVoid(api, common.AssertBitLength{Value: limb, N: common.LimbBits})
	}

	abstractor.CallVoid(api, common.AssertLeafBelow{
		Tag:     gadget.LowTag,
		LeafHi:  gadget.LowHi,
		LeafLo:  gadget.LowLo,
		ValueHi: gadget.ValueHi,
		ValueLo: gadget.ValueLo,
	})
	abstractor.CallVoid(api, common.AssertLeafAbove{
		Tag:     gadget.HighTag,
		LeafHi:  gadget.HighHi,
		LeafLo:  gadget.HighLo,
		ValueHi: gadget.ValueHi,
		ValueLo: gadget.ValueLo,
	})

	lowLeaf := abstractor.Call(api, common.LeafHashGadget{Tag: gadget.LowTag, Hi: gadget.LowHi, Lo: gadget.LowLo})
	abstractor.Call(api, common.InclusionProof{
		Root:   gadget.Root,
		Leaf:   lowLeaf,
		Index:  gadget.LowIndex,
		Path:   gadget.LowPath,
		Height: gadget.Depth,
	})

	highLeaf := abstractor.Call(api, common.LeafHashGadget{Tag: gadget.HighTag, Hi: gadget.HighHi, Lo: gadget.HighLo})
	abstractor.Call(api, common.InclusionProof{
		Root:   gadget.Root,
		Leaf:   highLeaf,
		Index:  api.Add(gadget.LowIndex, 1),
		Path:   gadget.HighPath,
		Height: gadget.Depth,
	})
	return []frontend.Variable{}
}
