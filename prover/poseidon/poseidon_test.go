package poseidon

import (
	"math/big"
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/test"
	iden3 "github.com/iden3/go-iden3-crypto/poseidon"
	"github.com/reilabs/gnark-lean-extractor/v3/abstractor"
	"github.com/stretchr/testify/require"
)

type poseidon1Circuit struct {
	Input frontend.Variable
	Hash  frontend.Variable `gnark:",public"`
}

func (circuit *poseidon1Circuit) Define(api frontend.API) error {
	api.AssertIsEqual(circuit.Hash, abstractor.Call(api, Poseidon1{circuit.Input}))
	return nil
}

type poseidon2Circuit struct {
	Left  frontend.Variable
	Right frontend.Variable
	Hash  frontend.Variable `gnark:",public"`
}

func (circuit *poseidon2Circuit) Define(api frontend.API) error {
	api.AssertIsEqual(circuit.Hash, abstractor.Call(api, Poseidon2{circuit.Left, circuit.Right}))
	return nil
}

type poseidon3Circuit struct {
	First  frontend.Variable
	Second frontend.Variable
	Third  frontend.Variable
	Hash   frontend.Variable `gnark:",public"`
}

func (circuit *poseidon3Circuit) Define(api frontend.API) error {
	api.AssertIsEqual(circuit.Hash, abstractor.Call(api, Poseidon3{circuit.First, circuit.Second, circuit.Third}))
	return nil
}

func options() []test.TestingOption {
	return []test.TestingOption{test.WithBackends(backend.GROTH16), test.WithCurves(ecc.BN254), test.NoSerializationChecks()}
}

func TestPoseidonVectors(t *testing.T) {
	assert := test.NewAssert(t)

	var circuit1 poseidon1Circuit
	assert.ProverSucceeded(&circuit1, &poseidon1Circuit{
		Input: 0,
		Hash:  hex("0x2a09a9fd93c590c26b91effbb2499f07e8f7aa12e2b4940a3aed2411cb65e11c"),
	}, options()...)

	var circuit2 poseidon2Circuit
	assert.ProverSucceeded(&circuit2, &poseidon2Circuit{
		Left:  1,
		Right: 2,
		Hash:  hex("0x115cc0f5e7d690413df64c6b9662e9cf2a3617f2743245519e19607a4417189a"),
	}, options()...)
	assert.ProverSucceeded(&circuit2, &poseidon2Circuit{
		Left:  31213,
		Right: 132,
		Hash:  hex("0x303f59cd0831b5633bcda50514521b33776b5d4280eb5868ba1dbbe2e4d76ab5"),
	}, options()...)
	assert.ProverFailed(&circuit2, &poseidon2Circuit{
		Left:  2,
		Right: 1,
		Hash:  hex("0x115cc0f5e7d690413df64c6b9662e9cf2a3617f2743245519e19607a4417189a"),
	}, options()...)

	var circuit3 poseidon3Circuit
	assert.ProverSucceeded(&circuit3, &poseidon3Circuit{
		First:  1,
		Second: 2,
		Third:  3,
		Hash:   hex("0x0e7732d89e6939c0ff03d5e58dab6302f3230e269dc5b968f725df34ab36d732"),
	}, options()...)
}

func TestPoseidonMatchesNative(t *testing.T) {
	assert := test.NewAssert(t)

	a, _ := new(big.Int).SetString("277f5629fdf020bb57ecbf7024ba4a9c", 16)
	b, _ := new(big.Int).SetString("26b9de1cda2ca25bfd3dc94275996e01", 16)
	c := big.NewInt(1)

	native2, err := iden3.Hash([]*big.Int{a, b})
	require.NoError(t, err)
	var circuit2 poseidon2Circuit
	assert.ProverSucceeded(&circuit2, &poseidon2Circuit{Left: a, Right: b, Hash: native2}, options()...)

	native3, err := iden3.Hash([]*big.Int{c, a, b})
	require.NoError(t, err)
	var circuit3 poseidon3Circuit
	assert.ProverSucceeded(&circuit3, &poseidon3Circuit{First: c, Second: a, Third: b, Hash: native3}, options()...)
}
