package scanner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"

	merkletree "zair/zair-prover/merkle-tree"
	"zair/zair-prover/prover/common"
)

const readBufferNullifiers = 1024

// FileSource reads nullifiers from per-pool binary dumps of 32-byte values.
// A dump already covers exactly one snapshot range, so the requested range is ignored.
type FileSource struct {
	Paths map[common.Pool]string
}

func NewFileSource(saplingPath, orchardPath string) *FileSource {
	paths := make(map[common.Pool]string)
	if saplingPath != "" {
		paths[common.Sapling] = saplingPath
	}
	if orchardPath != "" {
		paths[common.Orchard] = orchardPath
	}
	return &FileSource{Paths: paths}
}

func (s *FileSource) RangeScoped() bool {
	return true
}

func (s *FileSource) FetchNullifiers(ctx context.Context, pool common.Pool, _ common.HeightRange) iter.Seq2[merkletree.Nullifier, error] {
	return func(yield func(merkletree.Nullifier, error) bool) {
		path, ok := s.Paths[pool]
		if !ok {
			yield(merkletree.Nullifier{}, &PermanentError{Err: fmt.Errorf("no nullifier file configured for pool %s", pool)})
			return
		}
		f, err := os.Open(path)
		if err != nil {
			yield(merkletree.Nullifier{}, &PermanentError{Err: err})
			return
		}
		defer f.Close()

		for n, err := range ReadNullifiers(bufio.NewReaderSize(f, readBufferNullifiers*merkletree.NullifierSize)) {
			if err == nil {
				err = ctx.Err()
			}
			if err != nil {
				yield(merkletree.Nullifier{}, fmt.Errorf("%s: %w", path, err))
				return
			}
			if !yield(n, nil) {
				return
			}
		}
	}
}

// ReadNullifiers splits a stream into 32-byte nullifiers. A trailing partial
// value is an error.
func ReadNullifiers(r io.Reader) iter.Seq2[merkletree.Nullifier, error] {
	return func(yield func(merkletree.Nullifier, error) bool) {
		var n merkletree.Nullifier
		for {
			read, err := io.ReadFull(r, n[:])
			switch {
			case errors.Is(err, io.EOF):
				return
			case errors.Is(err, io.ErrUnexpectedEOF):
				yield(merkletree.Nullifier{}, &PermanentError{Err: fmt.Errorf("truncated nullifier: %d trailing bytes", read)})
				return
			case err != nil:
				yield(merkletree.Nullifier{}, err)
				return
			}
			if !yield(n, nil) {
				return
			}
		}
	}
}
