package merkle_tree

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"math/big"
	mathrand "math/rand"
	"slices"
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func small(v uint64) Nullifier {
	var n Nullifier
	binary.BigEndian.PutUint64(n[24:], v)
	return n
}

func randomSortedSet(t *testing.T, count int) []Nullifier {
	t.Helper()
	set := make([]Nullifier, 0, count)
	seen := make(map[Nullifier]struct{}, count)
	for len(set) < count {
		var n Nullifier
		_, err := rand.Read(n[:])
		require.NoError(t, err)
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		set = append(set, n)
	}
	slices.SortFunc(set, Nullifier.Compare)
	return set
}

func TestConcreteScenario(t *testing.T) {
	tree, err := Build([]Nullifier{small(1), small(5), small(9)}, 4)
	require.NoError(t, err)

	bracket, err := tree.Bracket(small(3))
	require.NoError(t, err)
	assert.Equal(t, Leaf{Tag: RealLeaf, Value: small(1)}, bracket.Low)
	assert.Equal(t, Leaf{Tag: RealLeaf, Value: small(5)}, bracket.High)
	assert.Equal(t, uint64(1), bracket.LowIndex)
	root := tree.Root()
	assert.True(t, VerifyPath(root, bracket.Low, bracket.LowPath))
	assert.True(t, VerifyPath(root, bracket.High, bracket.HighPath))

	_, err = tree.Bracket(small(5))
	var present *ValuePresentError
	require.ErrorAs(t, err, &present)
	assert.Equal(t, uint64(2), present.LeafIndex)
}

func TestBracketSentinels(t *testing.T) {
	tree, err := Build([]Nullifier{small(1), small(5), small(9)}, 4)
	require.NoError(t, err)

	bracket, err := tree.Bracket(small(0))
	require.NoError(t, err)
	assert.Equal(t, MinSentinel, bracket.Low.Tag)
	assert.Equal(t, small(1), bracket.High.Value)

	var top Nullifier
	for i := range top {
		top[i] = 0xff
	}
	bracket, err = tree.Bracket(top)
	require.NoError(t, err)
	assert.Equal(t, small(9), bracket.Low.Value)
	assert.Equal(t, MaxSentinel, bracket.High.Tag)
	assert.True(t, VerifyPath(tree.Root(), bracket.High, bracket.HighPath))
}

func TestEmptySetBracket(t *testing.T) {
	tree, err := Build(nil, 3)
	require.NoError(t, err)
	bracket, err := tree.Bracket(small(42))
	require.NoError(t, err)
	assert.Equal(t, MinSentinel, bracket.Low.Tag)
	assert.Equal(t, MaxSentinel, bracket.High.Tag)

	// two sentinel leaves, six padding leaves
	zeros := EmptyRoots(3)
	level1 := HashPair(Leaf{Tag: MinSentinel}.Hash(), Leaf{Tag: MaxSentinel}.Hash())
	level2 := HashPair(level1, zeros[1])
	expected := HashPair(level2, zeros[2])
	root := tree.Root()
	assert.True(t, expected.Equal(&root))
}

func TestBuildDeterministic(t *testing.T) {
	set := randomSortedSet(t, 300)
	first, err := Build(set, 10)
	require.NoError(t, err)
	second, err := Build(slices.Clone(set), 10)
	require.NoError(t, err)
	a, b := first.Root(), second.Root()
	assert.True(t, a.Equal(&b))
}

func TestParallelBuildMatchesSequential(t *testing.T) {
	set := randomSortedSet(t, parallelThreshold+100)
	sequential, err := BuildWithWorkers(set, 14, 1)
	require.NoError(t, err)
	parallel, err := BuildWithWorkers(set, 14, 8)
	require.NoError(t, err)
	a, b := sequential.Root(), parallel.Root()
	assert.True(t, a.Equal(&b))
}

func TestBuildRejectsUnsorted(t *testing.T) {
	_, err := Build([]Nullifier{small(1), small(9), small(5)}, 4)
	var unsorted *UnsortedInputError
	require.ErrorAs(t, err, &unsorted)
	assert.Equal(t, 2, unsorted.Index)
}

func TestBuildRejectsDuplicates(t *testing.T) {
	_, err := Build([]Nullifier{small(1), small(5), small(5)}, 4)
	var duplicate *DuplicateLeafError
	require.ErrorAs(t, err, &duplicate)
	assert.Equal(t, small(5), duplicate.Value)
}

func TestBuildCapacity(t *testing.T) {
	_, err := Build([]Nullifier{small(1), small(2), small(3)}, 2)
	var capacity *CapacityError
	require.ErrorAs(t, err, &capacity)

	_, err = Build([]Nullifier{small(1), small(2)}, 2)
	require.NoError(t, err)

	_, err = Build(nil, 1)
	require.Error(t, err)
}

func TestBracketProperty(t *testing.T) {
	set := randomSortedSet(t, 200)
	tree, err := Build(set, 9)
	require.NoError(t, err)
	root := tree.Root()

	for i := 0; i < 200; i++ {
		var v Nullifier
		_, err := rand.Read(v[:])
		require.NoError(t, err)
		if _, found := slices.BinarySearchFunc(set, v, Nullifier.Compare); found {
			continue
		}
		bracket, err := tree.Bracket(v)
		require.NoError(t, err)
		value := Leaf{Tag: RealLeaf, Value: v}
		assert.Equal(t, -1, bracket.Low.Compare(value))
		assert.Equal(t, 1, bracket.High.Compare(value))
		assert.Equal(t, bracket.LowIndex+1, bracket.HighPath.LeafIndex)
		assert.True(t, VerifyPath(root, bracket.Low, bracket.LowPath))
		assert.True(t, VerifyPath(root, bracket.High, bracket.HighPath))
	}

	for _, member := range set[:20] {
		_, err := tree.Bracket(member)
		var present *ValuePresentError
		assert.ErrorAs(t, err, &present)
	}
}

func TestPathForPadding(t *testing.T) {
	tree, err := Build([]Nullifier{small(7)}, 5)
	require.NoError(t, err)
	path, err := tree.PathFor(20)
	require.NoError(t, err)
	var padding fr.Element
	computed := ComputeRoot(padding, path)
	root := tree.Root()
	assert.True(t, computed.Equal(&root))

	_, err = tree.PathFor(32)
	require.Error(t, err)
	_, ok := tree.Leaf(3)
	assert.False(t, ok)
}

func TestLimbOrderMatchesByteOrder(t *testing.T) {
	rng := mathrand.New(mathrand.NewSource(7))
	for i := 0; i < 2000; i++ {
		var a, b Nullifier
		rng.Read(a[:])
		copy(b[:], a[:])
		// share a random-length prefix so the limb boundary is exercised
		cut := rng.Intn(NullifierSize)
		rng.Read(b[cut:])

		aHi, aLo := a.Limbs()
		bHi, bLo := b.Limbs()
		limbOrder := aHi.BigInt(new(big.Int)).Cmp(bHi.BigInt(new(big.Int)))
		if limbOrder == 0 {
			limbOrder = aLo.BigInt(new(big.Int)).Cmp(bLo.BigInt(new(big.Int)))
		}
		assert.Equal(t, a.Compare(b), limbOrder, "a=%s b=%s", a, b)
	}
}

func TestNullifierHex(t *testing.T) {
	n := small(0xabcdef)
	parsed, err := NullifierFromHex(n.Hex())
	require.NoError(t, err)
	assert.Equal(t, n, parsed)

	_, err = NullifierFromHex("0x1234")
	require.Error(t, err)
	_, err = NullifierFromHex("zz")
	require.Error(t, err)
}

func TestPoseidonHash(t *testing.T) {
	got := HashPair(fr.NewElement(1), fr.NewElement(2))
	assert.Equal(t, "115cc0f5e7d690413df64c6b9662e9cf2a3617f2743245519e19607a4417189a", hexElement(got))

	chain := HashChain(fr.NewElement(1), fr.NewElement(2), fr.NewElement(3))
	expected := HashPair(HashPair(fr.NewElement(1), fr.NewElement(2)), fr.NewElement(3))
	assert.True(t, chain.Equal(&expected))

	assert.Panics(t, func() { HashElements(make([]fr.Element, MaxHashInputs+1)...) })
}

func hexElement(e fr.Element) string {
	b := e.Bytes()
	return hex.EncodeToString(b[:])
}
