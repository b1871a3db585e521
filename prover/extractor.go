package prover

import (
	"github.com/consensys/gnark-crypto/ecc"
	"github.com/reilabs/gnark-lean-extractor/v3/extractor"
)

// ExtractLean renders the non-membership circuit as a Lean module for formal review.
func ExtractLean(treeDepth uint32) (string, error) {
	circuit := emptyCircuit(treeDepth)
	return extractor.ExtractCircuits("ZairProver", ecc.BN254, &circuit)
}
