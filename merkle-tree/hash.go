package merkle_tree

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/iden3/go-iden3-crypto/poseidon"
)

// MaxHashInputs matches the widest in-circuit Poseidon gadget.
const MaxHashInputs = 3

// HashElements is the native counterpart of the in-circuit Poseidon gadget
// (circom parameters). It panics on more than MaxHashInputs elements, which
// only a programming error can produce.
func HashElements(elements ...fr.Element) fr.Element {
	if len(elements) == 0 || len(elements) > MaxHashInputs {
		panic(fmt.Sprintf("poseidon: %d inputs, want 1..%d", len(elements), MaxHashInputs))
	}
	inputs := make([]*big.Int, len(elements))
	for i := range elements {
		inputs[i] = elements[i].BigInt(new(big.Int))
	}
	// reduced field elements are always accepted
	h, err := poseidon.Hash(inputs)
	if err != nil {
		panic(err)
	}
	var out fr.Element
	out.SetBigInt(h)
	return out
}

func HashPair(left, right fr.Element) fr.Element {
	return HashElements(left, right)
}

// HashChain folds elements left to right with HashPair, starting from the
// first one. A single element is returned unchanged.
func HashChain(elements ...fr.Element) fr.Element {
	if len(elements) == 0 {
		panic("poseidon: empty hash chain")
	}
	acc := elements[0]
	for _, e := range elements[1:] {
		acc = HashPair(acc, e)
	}
	return acc
}

// EmptyRoots returns Z_0..Z_depth where Z_0 is the padding leaf (zero) and
// Z_{i+1} = H(Z_i, Z_i).
func EmptyRoots(depth int) []fr.Element {
	zeros := make([]fr.Element, depth+1)
	for i := 1; i <= depth; i++ {
		zeros[i] = HashPair(zeros[i-1], zeros[i-1])
	}
	return zeros
}
