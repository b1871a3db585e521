package merkle_tree

import "fmt"

type UnsortedInputError struct {
	Index    int
	Previous Nullifier
	Current  Nullifier
}

func (e *UnsortedInputError) Error() string {
	return fmt.Sprintf("input not in ascending order at position %d: %s follows %s", e.Index, e.Current, e.Previous)
}

type DuplicateLeafError struct {
	Index int
	Value Nullifier
}

func (e *DuplicateLeafError) Error() string {
	return fmt.Sprintf("duplicate nullifier %s at position %d", e.Value, e.Index)
}

// ValuePresentError means the queried value is a leaf, so no bracket exists.
type ValuePresentError struct {
	Value     Nullifier
	LeafIndex uint64
}

func (e *ValuePresentError) Error() string {
	return fmt.Sprintf("nullifier %s is present at leaf %d", e.Value, e.LeafIndex)
}

type CapacityError struct {
	Count int
	Depth int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("%d nullifiers plus two sentinels do not fit a tree of depth %d", e.Count, e.Depth)
}
