package snapshot

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	merkletree "zair/zair-prover/merkle-tree"
	"zair/zair-prover/prover/common"
)

// FileName is the default snapshot file name for a pool.
func FileName(pool common.Pool) string {
	return fmt.Sprintf("%s-snapshot.bin", pool)
}

// WriteFile stores the nullifiers as a headerless concatenation of 32-byte
// values. The file appears under path only once fully written.
func WriteFile(path string, nullifiers []merkletree.Nullifier) error {
	var buf bytes.Buffer
	buf.Grow(len(nullifiers) * merkletree.NullifierSize)
	for i := range nullifiers {
		buf.Write(nullifiers[i][:])
	}
	return writeAtomic(path, buf.Bytes())
}

// ReadFile loads a snapshot file and checks size and strict ascending order.
func ReadFile(path string) ([]merkletree.Nullifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data)%merkletree.NullifierSize != 0 {
		return nil, &MalformedSnapshotError{
			Path:   path,
			Reason: fmt.Sprintf("size %d is not a multiple of %d", len(data), merkletree.NullifierSize),
		}
	}
	nullifiers := make([]merkletree.Nullifier, len(data)/merkletree.NullifierSize)
	for i := range nullifiers {
		copy(nullifiers[i][:], data[i*merkletree.NullifierSize:])
	}
	if err := merkletree.CheckSorted(nullifiers); err != nil {
		return nil, &MalformedSnapshotError{Path: path, Reason: "order", Err: err}
	}
	return nullifiers, nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
