package poseidon

import (
	"fmt"

	"github.com/consensys/gnark/frontend"
	"github.com/reilabs/gnark-lean-extractor/v3/abstractor"
)

// MaxInputs is the widest sponge with generated parameters.
const MaxInputs = 3

type params struct {
	fullRounds    int
	partialRounds int
	constants     [][]frontend.Variable
	mds           [][]frontend.Variable
}

var widths = map[int]*params{
	2: {fullRounds: 8, partialRounds: 56, constants: CONSTANTS_2, mds: MDS_2},
	3: {fullRounds: 8, partialRounds: 57, constants: CONSTANTS_3, mds: MDS_3},
	4: {fullRounds: 8, partialRounds: 56, constants: CONSTANTS_4, mds: MDS_4},
}

func paramsFor(width int) *params {
	p, ok := widths[width]
	if !ok {
		panic(fmt.Sprintf("poseidon: no parameters for width %d", width))
	}
	return p
}

type Poseidon1 struct {
	In frontend.Variable
}

func (g Poseidon1) DefineGadget(api frontend.API) interface{} {
	return Hash{Inputs: []frontend.Variable{g.In}}.DefineGadget(api)
}

type Poseidon2 struct {
	In1, In2 frontend.Variable
}

func (g Poseidon2) DefineGadget(api frontend.API) interface{} {
	return Hash{Inputs: []frontend.Variable{g.In1, g.In2}}.DefineGadget(api)
}

type Poseidon3 struct {
	In1, In2, In3 frontend.Variable
}

func (g Poseidon3) DefineGadget(api frontend.API) interface{} {
	return Hash{Inputs: []frontend.Variable{g.In1, g.In2, g.In3}}.DefineGadget(api)
}

// Hash is the circom-compatible sponge: capacity element 0 followed by the
// inputs, one permutation, first state element out. It matches iden3
// poseidon.Hash for 1 to MaxInputs inputs.
type Hash struct {
	Inputs []frontend.Variable
}

func (g Hash) DefineGadget(api frontend.API) interface{} {
	state := make([]frontend.Variable, len(g.Inputs)+1)
	state[0] = 0
	copy(state[1:], g.Inputs)
	return abstractor.Call1(api, permutation{State: state})[0]
}

type permutation struct {
	State []frontend.Variable
}

func (g permutation) DefineGadget(api frontend.API) interface{} {
	p := paramsFor(len(g.State))
	state := g.State
	round := 0
	for i := 0; i < p.fullRounds/2; i++ {
		state = fullRound{State: state, Constants: p.constants[round]}.DefineGadget(api).([]frontend.Variable)
		round++
	}
	for i := 0; i < p.partialRounds; i++ {
		state = partialRound{State: state, Constants: p.constants[round]}.DefineGadget(api).([]frontend.Variable)
		round++
	}
	for i := 0; i < p.fullRounds/2; i++ {
		state = fullRound{State: state, Constants: p.constants[round]}.DefineGadget(api).([]frontend.Variable)
		round++
	}
	return state
}

func sbox(api frontend.API, x frontend.Variable) frontend.Variable {
	x2 := api.Mul(x, x)
	x4 := api.Mul(x2, x2)
	return api.Mul(x, x4)
}

func mix(api frontend.API, state []frontend.Variable) []frontend.Variable {
	m := paramsFor(len(state)).mds
	out := make([]frontend.Variable, len(state))
	for i := range state {
		var sum frontend.Variable = 0
		for j := range state {
			sum = api.Add(sum, api.Mul(state[j], m[i][j]))
		}
		out[i] = sum
	}
	return out
}

type partialRound struct {
	State     []frontend.Variable
	Constants []frontend.Variable
}

func (r partialRound) DefineGadget(api frontend.API) interface{} {
	next := make([]frontend.Variable, len(r.State))
	for i := range r.State {
		next[i] = api.Add(r.State[i], r.Constants[i])
	}
	next[0] = sbox(api, next[0])
	return mix(api, next)
}

type fullRound struct {
	State     []frontend.Variable
	Constants []frontend.Variable
}

func (r fullRound) DefineGadget(api frontend.API) interface{} {
	next := make([]frontend.Variable, len(r.State))
	for i := range r.State {
		next[i] = sbox(api, api.Add(r.State[i], r.Constants[i]))
	}
	return mix(api, next)
}
