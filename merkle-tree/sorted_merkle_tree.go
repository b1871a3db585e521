package merkle_tree

import (
	"fmt"
	"runtime"
	"slices"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultDepth = 32
	MinDepth     = 2
	MaxDepth     = 40

	// levels narrower than this are hashed on the calling goroutine
	parallelThreshold = 1 << 12
)

// SortedMerkleTree is a binary Merkle tree over
// [-inf, n_1 .. n_k, +inf, padding...] with 2^depth leaves.
// Nodes are stored densely per level; anything past a level's width is an
// empty subtree. The tree is immutable after Build and safe to share.
type SortedMerkleTree struct {
	depth      int
	nullifiers []Nullifier
	levels     [][]fr.Element
	zeros      []fr.Element
}

type InclusionPath struct {
	LeafIndex uint64
	Siblings  []fr.Element
}

type Bracket struct {
	Value    Nullifier
	LowIndex uint64
	Low      Leaf
	High     Leaf
	LowPath  InclusionPath
	HighPath InclusionPath
	Root     fr.Element
}

// Build takes ownership of nullifiers, which must be strictly ascending.
// The input is never reordered.
func Build(nullifiers []Nullifier, depth int) (*SortedMerkleTree, error) {
	return BuildWithWorkers(nullifiers, depth, runtime.NumCPU())
}

func BuildWithWorkers(nullifiers []Nullifier, depth int, workers int) (*SortedMerkleTree, error) {
	if depth < MinDepth || depth > MaxDepth {
		return nil, fmt.Errorf("tree depth %d out of range [%d, %d]", depth, MinDepth, MaxDepth)
	}
	if uint64(len(nullifiers))+2 > uint64(1)<<depth {
		return nil, &CapacityError{Count: len(nullifiers), Depth: depth}
	}
	if err := CheckSorted(nullifiers); err != nil {
		return nil, err
	}
	if workers < 1 {
		workers = 1
	}

	tree := &SortedMerkleTree{
		depth:      depth,
		nullifiers: nullifiers,
		levels:     make([][]fr.Element, depth+1),
		zeros:      EmptyRoots(depth),
	}

	leaves := make([]fr.Element, len(nullifiers)+2)
	parallelFor(len(leaves), workers, func(from, to int) {
		for i := from; i < to; i++ {
			leaves[i] = tree.leafAt(uint64(i)).Hash()
		}
	})
	tree.levels[0] = leaves

	for level := 1; level <= depth; level++ {
		tree.levels[level] = hashLevel(tree.levels[level-1], tree.zeros[level-1], workers)
	}
	return tree, nil
}

// CheckSorted reports the first position breaking strict ascending order.
func CheckSorted(nullifiers []Nullifier) error {
	for i := 1; i < len(nullifiers); i++ {
		switch nullifiers[i-1].Compare(nullifiers[i]) {
		case 0:
			return &DuplicateLeafError{Index: i, Value: nullifiers[i]}
		case 1:
			return &UnsortedInputError{Index: i, Previous: nullifiers[i-1], Current: nullifiers[i]}
		}
	}
	return nil
}

func hashLevel(children []fr.Element, zero fr.Element, workers int) []fr.Element {
	parents := make([]fr.Element, (len(children)+1)/2)
	parallelFor(len(parents), workers, func(from, to int) {
		for j := from; j < to; j++ {
			right := zero
			if 2*j+1 < len(children) {
				right = children[2*j+1]
			}
			parents[j] = HashPair(children[2*j], right)
		}
	})
	return parents
}

func parallelFor(n int, workers int, fn func(from, to int)) {
	if n < parallelThreshold || workers == 1 {
		fn(0, n)
		return
	}
	chunk := (n + workers - 1) / workers
	var g errgroup.Group
	g.SetLimit(workers)
	for from := 0; from < n; from += chunk {
		to := min(from+chunk, n)
		g.Go(func() error {
			fn(from, to)
			return nil
		})
	}
	_ = g.Wait()
}

func (t *SortedMerkleTree) Depth() int {
	return t.depth
}

func (t *SortedMerkleTree) Root() fr.Element {
	return t.levels[t.depth][0]
}

// Len is the number of real nullifiers.
func (t *SortedMerkleTree) Len() int {
	return len(t.nullifiers)
}

func (t *SortedMerkleTree) Nullifiers() []Nullifier {
	return t.nullifiers
}

func (t *SortedMerkleTree) leafAt(index uint64) Leaf {
	switch {
	case index == 0:
		return Leaf{Tag: MinSentinel}
	case index <= uint64(len(t.nullifiers)):
		return Leaf{Tag: RealLeaf, Value: t.nullifiers[index-1]}
	default:
		return Leaf{Tag: MaxSentinel}
	}
}

// Leaf returns the key stored at index. Padding positions report false.
func (t *SortedMerkleTree) Leaf(index uint64) (Leaf, bool) {
	if index >= uint64(len(t.levels[0])) {
		return Leaf{}, false
	}
	return t.leafAt(index), true
}

func (t *SortedMerkleTree) node(level int, index uint64) fr.Element {
	if index < uint64(len(t.levels[level])) {
		return t.levels[level][index]
	}
	return t.zeros[level]
}

func (t *SortedMerkleTree) PathFor(index uint64) (InclusionPath, error) {
	if index >= uint64(1)<<t.depth {
		return InclusionPath{}, fmt.Errorf("leaf index %d out of range for depth %d", index, t.depth)
	}
	siblings := make([]fr.Element, t.depth)
	for level := 0; level < t.depth; level++ {
		siblings[level] = t.node(level, (index>>level)^1)
	}
	return InclusionPath{LeafIndex: index, Siblings: siblings}, nil
}

// Bracket finds the adjacent leaves strictly enclosing value.
func (t *SortedMerkleTree) Bracket(value Nullifier) (*Bracket, error) {
	pos, found := slices.BinarySearchFunc(t.nullifiers, value, Nullifier.Compare)
	if found {
		return nil, &ValuePresentError{Value: value, LeafIndex: uint64(pos) + 1}
	}

	// real leaf i sits at index i+1, so the predecessor of pos is at index pos
	lowIndex := uint64(pos)
	lowPath, err := t.PathFor(lowIndex)
	if err != nil {
		return nil, err
	}
	highPath, err := t.PathFor(lowIndex + 1)
	if err != nil {
		return nil, err
	}
	return &Bracket{
		Value:    value,
		LowIndex: lowIndex,
		Low:      t.leafAt(lowIndex),
		High:     t.leafAt(lowIndex + 1),
		LowPath:  lowPath,
		HighPath: highPath,
		Root:     t.Root(),
	}, nil
}

// ComputeRoot folds a leaf hash up an inclusion path.
func ComputeRoot(leafHash fr.Element, path InclusionPath) fr.Element {
	current := leafHash
	for level, sibling := range path.Siblings {
		if (path.LeafIndex>>level)&1 == 0 {
			current = HashPair(current, sibling)
		} else {
			current = HashPair(sibling, current)
		}
	}
	return current
}

func VerifyPath(root fr.Element, leaf Leaf, path InclusionPath) bool {
	computed := ComputeRoot(leaf.Hash(), path)
	return computed.Equal(&root)
}
