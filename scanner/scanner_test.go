package scanner

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	merkletree "zair/zair-prover/merkle-tree"
	"zair/zair-prover/prover/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type iter2 = iter.Seq2[merkletree.Nullifier, error]

func small(v uint64) merkletree.Nullifier {
	var n merkletree.Nullifier
	binary.BigEndian.PutUint64(n[24:], v)
	return n
}

func fastRetry() RetryPolicy {
	return RetryPolicy{Attempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func testKeys() *ViewingKeys {
	return &ViewingKeys{Sapling: bytes.Repeat([]byte{1}, SaplingViewingKeySize)}
}

func TestRetry(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetry(), "flaky", func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = Retry(context.Background(), fastRetry(), "broken", func() error {
		calls++
		return errors.New("transient")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = Retry(context.Background(), fastRetry(), "permanent", func() error {
		calls++
		return &PermanentError{Err: errors.New("bad request")}
	})
	var permanent *PermanentError
	require.ErrorAs(t, err, &permanent)
	assert.Equal(t, 1, calls)
}

func TestReadNullifiers(t *testing.T) {
	var buf bytes.Buffer
	for _, v := range []uint64{1, 5, 9} {
		n := small(v)
		buf.Write(n[:])
	}

	var got []merkletree.Nullifier
	for n, err := range ReadNullifiers(bytes.NewReader(buf.Bytes())) {
		require.NoError(t, err)
		got = append(got, n)
	}
	assert.Equal(t, []merkletree.Nullifier{small(1), small(5), small(9)}, got)

	buf.Write([]byte{1, 2, 3})
	var lastErr error
	for _, err := range ReadNullifiers(bytes.NewReader(buf.Bytes())) {
		lastErr = err
	}
	require.Error(t, lastErr)
	assert.Contains(t, lastErr.Error(), "3 trailing bytes")
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sapling.bin")
	a, b := small(7), small(3)
	require.NoError(t, os.WriteFile(path, append(a[:], b[:]...), 0644))

	source := NewFileSource(path, "")
	assert.False(t, Pageable(source))

	got, err := Collect(context.Background(), fastRetry(), "read", func() iter2 {
		return source.FetchNullifiers(context.Background(), common.Sapling, common.HeightRange{})
	})
	require.NoError(t, err)
	assert.Equal(t, []merkletree.Nullifier{small(7), small(3)}, got)

	_, err = Collect(context.Background(), fastRetry(), "read", func() iter2 {
		return source.FetchNullifiers(context.Background(), common.Orchard, common.HeightRange{})
	})
	require.Error(t, err)
}

func TestNotesFileFiltersByRangeAndKeys(t *testing.T) {
	notes := []Note{
		{Pool: common.Sapling, Nullifier: small(1), Metadata: NoteMetadata{Height: 100}},
		{Pool: common.Sapling, Nullifier: small(2), Metadata: NoteMetadata{Height: 500}},
		{Pool: common.Orchard, Nullifier: small(3), Metadata: NoteMetadata{Height: 150}},
	}
	path := filepath.Join(t.TempDir(), "notes.json")
	require.NoError(t, WriteNotesFile(path, notes))

	file := &NotesFile{Path: path}
	var found []Note
	for note, err := range file.ScanNotes(context.Background(), testKeys(), common.HeightRange{Start: 50, End: 200}) {
		require.NoError(t, err)
		found = append(found, note)
	}
	require.Len(t, found, 1)
	assert.Equal(t, small(1), found[0].Nullifier)
}

func TestViewingKeys(t *testing.T) {
	keys, err := ParseViewingKeys(strings.Repeat("ab", SaplingViewingKeySize), "", 419200)
	require.NoError(t, err)
	assert.Equal(t, []common.Pool{common.Sapling}, keys.Pools())

	var invalid *InvalidViewingKeyError
	_, err = ParseViewingKeys("", strings.Repeat("ab", 10), 0)
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, common.Orchard, invalid.Pool)

	_, err = ParseViewingKeys("zz", "", 0)
	require.ErrorAs(t, err, &invalid)

	_, err = ParseViewingKeys("", "", 0)
	require.ErrorAs(t, err, &invalid)
}
