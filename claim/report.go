package claim

import (
	"encoding/json"
	"os"

	"zair/zair-prover/prover/common"
)

type Status string

const (
	StatusProved  Status = "proved"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

type NoteReport struct {
	Pool            common.Pool `json:"pool"`
	Height          uint64      `json:"height"`
	TxID            string      `json:"txid,omitempty"`
	Status          Status      `json:"status"`
	Reason          string      `json:"reason,omitempty"`
	HidingNullifier string      `json:"hidden_nullifier,omitempty"`
}

// Report lists every scanned note in discovery order.
type Report struct {
	Notes   []NoteReport `json:"notes"`
	Proved  int          `json:"proved"`
	Skipped int          `json:"skipped"`
	Failed  int          `json:"failed"`
}

func (r *Report) add(n NoteReport) {
	r.Notes = append(r.Notes, n)
	switch n.Status {
	case StatusProved:
		r.Proved++
	case StatusSkipped:
		r.Skipped++
	case StatusFailed:
		r.Failed++
	}
}

func (r *Report) Write(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
