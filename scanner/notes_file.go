package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"os"

	"zair/zair-prover/prover/common"
)

type NotesDocument struct {
	Notes []Note `json:"notes"`
}

// NotesFile serves notes found by an external wallet scan. Notes outside the
// range or for pools without a viewing key are dropped.
type NotesFile struct {
	Path string
}

func (f *NotesFile) ScanNotes(ctx context.Context, keys *ViewingKeys, heights common.HeightRange) iter.Seq2[Note, error] {
	return func(yield func(Note, error) bool) {
		data, err := os.ReadFile(f.Path)
		if err != nil {
			yield(Note{}, &PermanentError{Err: err})
			return
		}
		var doc NotesDocument
		if err := json.Unmarshal(data, &doc); err != nil {
			yield(Note{}, &PermanentError{Err: fmt.Errorf("parsing notes file %s: %w", f.Path, err)})
			return
		}
		for _, note := range filterNotes(doc.Notes, keys, heights) {
			if err := ctx.Err(); err != nil {
				yield(Note{}, err)
				return
			}
			if !yield(note, nil) {
				return
			}
		}
	}
}

func filterNotes(notes []Note, keys *ViewingKeys, heights common.HeightRange) []Note {
	kept := notes[:0:0]
	for _, note := range notes {
		if keys.Has(note.Pool) && heights.Contains(note.Metadata.Height) {
			kept = append(kept, note)
		}
	}
	return kept
}

func WriteNotesFile(path string, notes []Note) error {
	data, err := json.MarshalIndent(NotesDocument{Notes: notes}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
