package common

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/iden3/go-iden3-crypto/utils"
)

func ParseBigInt(input string) (*big.Int, error) {
	input = strings.TrimSpace(input)
	input = strings.TrimPrefix(input, "0x")
	if len(input)%2 == 1 {
		input = "0" + input
	}

	bytes, err := hex.DecodeString(input)
	if err != nil {
		return nil, fmt.Errorf("invalid hex string: %s", input)
	}

	bigInt := new(big.Int).SetBytes(bytes)
	return bigInt, nil
}

// ParseFieldElement parses a hex string that must already be reduced modulo the BN254 scalar field.
func ParseFieldElement(input string) (fr.Element, error) {
	var e fr.Element
	value, err := ParseBigInt(input)
	if err != nil {
		return e, err
	}
	if !utils.CheckBigIntInField(value) {
		return e, fmt.Errorf("value %s is not in the scalar field", input)
	}
	e.SetBigInt(value)
	return e, nil
}
