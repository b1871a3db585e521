package merkle_tree

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

const NullifierSize = 32

// Nullifier is a raw 32-byte spend nullifier. Ordering is lexicographic on bytes.
type Nullifier [NullifierSize]byte

func (n Nullifier) Compare(other Nullifier) int {
	return bytes.Compare(n[:], other[:])
}

// Limbs splits the value into two big-endian 128-bit halves. Comparing
// (hi, lo) lexicographically as integers is the same as comparing the bytes.
func (n Nullifier) Limbs() (hi, lo fr.Element) {
	hi.SetBytes(n[:16])
	lo.SetBytes(n[16:])
	return hi, lo
}

func (n Nullifier) Hex() string {
	return "0x" + hex.EncodeToString(n[:])
}

func (n Nullifier) String() string {
	return n.Hex()
}

func (n Nullifier) MarshalText() ([]byte, error) {
	return []byte(n.Hex()), nil
}

func (n *Nullifier) UnmarshalText(text []byte) error {
	parsed, err := NullifierFromHex(string(text))
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}

func NullifierFromHex(s string) (Nullifier, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return Nullifier{}, fmt.Errorf("invalid nullifier hex %q: %w", s, err)
	}
	return NullifierFromBytes(raw)
}

func NullifierFromBytes(b []byte) (Nullifier, error) {
	var n Nullifier
	if len(b) != NullifierSize {
		return n, fmt.Errorf("nullifier must be %d bytes, got %d", NullifierSize, len(b))
	}
	copy(n[:], b)
	return n, nil
}

type LeafTag uint8

const (
	MinSentinel LeafTag = 0
	RealLeaf    LeafTag = 1
	MaxSentinel LeafTag = 2
)

// Leaf is an accumulator leaf key. Keys order by tag first, then by value,
// so the sentinels bound every real nullifier.
type Leaf struct {
	Tag   LeafTag
	Value Nullifier
}

func (l Leaf) Hash() fr.Element {
	hi, lo := l.Value.Limbs()
	return HashElements(fr.NewElement(uint64(l.Tag)), hi, lo)
}

func (l Leaf) Compare(other Leaf) int {
	switch {
	case l.Tag < other.Tag:
		return -1
	case l.Tag > other.Tag:
		return 1
	}
	if l.Tag != RealLeaf {
		return 0
	}
	return l.Value.Compare(other.Value)
}

func (l Leaf) String() string {
	switch l.Tag {
	case MinSentinel:
		return "-inf"
	case MaxSentinel:
		return "+inf"
	default:
		return l.Value.Hex()
	}
}
