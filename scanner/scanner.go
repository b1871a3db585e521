package scanner

import (
	"context"
	"iter"

	merkletree "zair/zair-prover/merkle-tree"
	"zair/zair-prover/prover"
	"zair/zair-prover/prover/common"
)

// NullifierSource yields the raw spend nullifiers revealed in a height range.
// Order and page boundaries are up to the source.
type NullifierSource interface {
	FetchNullifiers(ctx context.Context, pool common.Pool, heights common.HeightRange) iter.Seq2[merkletree.Nullifier, error]
}

// RangeScoped is implemented by sources whose data is already limited to one
// snapshot range and cannot be paged by height.
type RangeScoped interface {
	RangeScoped() bool
}

// Pageable reports whether a source can be queried in height pages.
func Pageable(source NullifierSource) bool {
	scoped, ok := source.(RangeScoped)
	return !ok || !scoped.RangeScoped()
}

// NoteScanner finds the notes owned by a set of viewing keys.
type NoteScanner interface {
	ScanNotes(ctx context.Context, keys *ViewingKeys, heights common.HeightRange) iter.Seq2[Note, error]
}

type Scope string

const (
	ExternalScope Scope = "external"
	InternalScope Scope = "internal"
)

type NoteMetadata struct {
	Height uint64 `json:"height"`
	TxID   string `json:"txid,omitempty"`
	Scope  Scope  `json:"scope,omitempty"`
	Value  uint64 `json:"value"`
}

// Note is a discovered note together with the raw nullifier its spend would
// reveal and the secret that keys its hidden nullifier.
type Note struct {
	Pool       common.Pool          `json:"pool"`
	Nullifier  merkletree.Nullifier `json:"nullifier"`
	NoteSecret prover.NoteSecret    `json:"note_secret"`
	Metadata   NoteMetadata         `json:"metadata"`
}
