package common

import (
	"math/big"
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/test"
	"github.com/reilabs/gnark-lean-extractor/v3/abstractor"
)

type IsLessCircuit struct {
	A        frontend.Variable `gnark:"public"`
	B        frontend.Variable `gnark:"private"`
	Expected frontend.Variable `gnark:"public"`
}

func (circuit *IsLessCircuit) Define(api frontend.API) error {
	abstractor.CallVoid(api, AssertBitLength{Value: circuit.A, N: LimbBits})
	abstractor.CallVoid(api, AssertBitLength{Value: circuit.B, N: LimbBits})
	isLess := abstractor.Call(api, IsLess{A: circuit.A, B: circuit.B, N: LimbBits})
	api.AssertIsEqual(isLess, circuit.Expected)
	return nil
}

func TestIsLess(t *testing.T) {
	limbMax := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), LimbBits), big.NewInt(1))
	limbMaxSub1 := new(big.Int).Sub(limbMax, big.NewInt(1))
	limbOverflow := new(big.Int).Lsh(big.NewInt(1), LimbBits)

	testCases := []struct {
		a        *big.Int
		b        *big.Int
		expected int
		valid    bool
	}{
		{big.NewInt(2), big.NewInt(5), 1, true},        // 2 < 5
		{big.NewInt(5), big.NewInt(2), 0, true},        // 5 >= 2
		{big.NewInt(3), big.NewInt(3), 0, true},        // 3 == 3
		{big.NewInt(0), big.NewInt(0), 0, true},        // 0 == 0
		{big.NewInt(0), big.NewInt(1), 1, true},        // 0 < 1
		{limbMaxSub1, limbMax, 1, true},                // 2^128 - 2 < 2^128 - 1
		{limbMax, big.NewInt(0), 0, true},              // 2^128 - 1 >= 0
		{big.NewInt(0), limbMax, 1, true},              // 0 < 2^128 - 1
		{big.NewInt(2), big.NewInt(5), 0, false},       // wrong claim
		{big.NewInt(0), limbOverflow, 1, false},        // 2^128 does not fit a limb
		{limbOverflow, big.NewInt(1), 0, false},        // 2^128 does not fit a limb
	}

	for _, tc := range testCases {
		var circuit IsLessCircuit
		assert := test.NewAssert(t)
		assignment := &IsLessCircuit{
			A:        tc.a,
			B:        tc.b,
			Expected: tc.expected,
		}
		if tc.valid {
			assert.ProverSucceeded(&circuit, assignment, test.WithBackends(backend.GROTH16), test.WithCurves(ecc.BN254), test.NoSerializationChecks())
		} else {
			assert.ProverFailed(&circuit, assignment, test.WithBackends(backend.GROTH16), test.WithCurves(ecc.BN254), test.NoSerializationChecks())
		}
	}
}
