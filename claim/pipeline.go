package claim

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"runtime"
	"sync"
	"time"

	"zair/zair-prover/logging"
	merkletree "zair/zair-prover/merkle-tree"
	"zair/zair-prover/prover"
	"zair/zair-prover/prover/common"
	"zair/zair-prover/scanner"
	"zair/zair-prover/snapshot"
)

// SystemProvider hands out the proving system for a tree depth.
type SystemProvider interface {
	GetSystem(depth uint32) (*common.ProvingSystem, error)
}

// Pipeline turns the unspent notes of a wallet into non-membership claims.
type Pipeline struct {
	Config  *snapshot.AirdropConfiguration
	Trees   map[common.Pool]*merkletree.SortedMerkleTree
	Systems SystemProvider
	Scanner scanner.NoteScanner
	Workers int
	Retry   scanner.RetryPolicy
}

func NewPipeline(config *snapshot.AirdropConfiguration, trees map[common.Pool]*merkletree.SortedMerkleTree, systems SystemProvider, noteScanner scanner.NoteScanner) *Pipeline {
	return &Pipeline{
		Config:  config,
		Trees:   trees,
		Systems: systems,
		Scanner: noteScanner,
		Workers: runtime.NumCPU(),
		Retry:   scanner.DefaultRetryPolicy(),
	}
}

// LoadTrees rebuilds the snapshot of every requested pool the configuration
// publishes a root for, rejecting any file whose root differs.
func LoadTrees(config *snapshot.AirdropConfiguration, dir string, pools []common.Pool, hashWorkers int) (map[common.Pool]*merkletree.SortedMerkleTree, error) {
	trees := make(map[common.Pool]*merkletree.SortedMerkleTree)
	for _, pool := range pools {
		if _, ok, err := config.Root(pool); err != nil {
			return nil, err
		} else if !ok {
			logging.Logger().Warn().Str("pool", pool.String()).Msg("Configuration has no root for pool")
			continue
		}
		tree, err := snapshot.LoadTree(config, dir, pool, hashWorkers)
		if err != nil {
			return nil, err
		}
		trees[pool] = tree
	}
	return trees, nil
}

// ScanRange narrows the snapshot range to heights after the wallet birthday.
func ScanRange(snapshotRange common.HeightRange, birthday uint64) (common.HeightRange, error) {
	if birthday > snapshotRange.End {
		return common.HeightRange{}, &BirthdayError{Birthday: birthday, SnapshotEnd: snapshotRange.End}
	}
	return common.HeightRange{Start: max(snapshotRange.Start, birthday), End: snapshotRange.End}, nil
}

type outcome struct {
	claim  *prover.Claim
	report NoteReport
}

// Run scans the wallet and proves every note. Per-note problems land in the
// report; only scanning, key or configuration failures return an error.
func (p *Pipeline) Run(ctx context.Context, keys *scanner.ViewingKeys) (*prover.ClaimSet, *Report, error) {
	if err := keys.Validate(); err != nil {
		return nil, nil, err
	}
	scanRange, err := ScanRange(p.Config.SnapshotRange, keys.Birthday)
	if err != nil {
		return nil, nil, err
	}

	notes, err := scanner.Collect(ctx, p.Retry, "scan notes", func() iter.Seq2[scanner.Note, error] {
		return p.Scanner.ScanNotes(ctx, keys, scanRange)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("scanning notes: %w", err)
	}
	logging.Logger().Info().
		Int("notes", len(notes)).
		Str("range", scanRange.String()).
		Msg("Notes discovered")

	var ps *common.ProvingSystem
	if len(notes) > 0 {
		if ps, err = p.Systems.GetSystem(p.Config.Depth()); err != nil {
			return nil, nil, fmt.Errorf("loading proving system: %w", err)
		}
	}

	outcomes := make([]outcome, len(notes))
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < max(p.Workers, 1); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				outcomes[i] = p.proveNote(ps, notes[i])
			}
		}()
	}

feed:
	for i := range notes {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	claims := &prover.ClaimSet{Claims: []prover.Claim{}}
	report := &Report{Notes: []NoteReport{}}
	for _, o := range outcomes {
		if o.claim != nil {
			claims.Claims = append(claims.Claims, *o.claim)
		}
		report.add(o.report)
	}
	logging.Logger().Info().
		Int("proved", report.Proved).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Msg("Claim generation finished")
	return claims, report, nil
}

func (p *Pipeline) proveNote(ps *common.ProvingSystem, note scanner.Note) (result outcome) {
	result.report = NoteReport{Pool: note.Pool, Height: note.Metadata.Height, TxID: note.Metadata.TxID}
	logger := logging.Component("claim").With().
		Str("pool", note.Pool.String()).
		Uint64("height", note.Metadata.Height).
		Logger()

	defer func() {
		if r := recover(); r != nil {
			result.claim = nil
			result.report.Status = StatusFailed
			result.report.Reason = fmt.Sprintf("prover panic: %v", r)
		}
		NotesProcessed.WithLabelValues(note.Pool.String(), string(result.report.Status)).Inc()
		if result.report.Status != StatusProved {
			logger.Warn().Str("status", string(result.report.Status)).Str("reason", result.report.Reason).Msg("Note not claimed")
		}
	}()

	fail := func(err error) outcome {
		result.report.Status = StatusFailed
		result.report.Reason = err.Error()
		return result
	}

	tree, ok := p.Trees[note.Pool]
	if !ok {
		return fail(fmt.Errorf("no %s snapshot in the airdrop configuration", note.Pool))
	}
	bracket, err := tree.Bracket(note.Nullifier)
	var present *merkletree.ValuePresentError
	if errors.As(err, &present) {
		result.report.Status = StatusSkipped
		result.report.Reason = "note was spent before the snapshot ended"
		return result
	}
	if err != nil {
		return fail(err)
	}

	params := prover.NewNonMembershipParameters(bracket, p.Config.HidingDomain(note.Pool), p.Config.SnapshotRange, note.NoteSecret)
	result.report.HidingNullifier = common.ElementToHex(params.HidingNullifier)

	start := time.Now()
	proof, err := func() (*common.Proof, error) {
		ActiveProvers.Inc()
		defer ActiveProvers.Dec()
		return prover.ProveNonMembership(ps, params)
	}()
	if err != nil {
		return fail(err)
	}
	ClaimProofDuration.WithLabelValues(note.Pool.String()).Observe(time.Since(start).Seconds())

	claim := prover.NewClaim(params, proof)
	result.claim = &claim
	result.report.Status = StatusProved
	logger.Info().Dur("duration", time.Since(start)).Msg("Note claimed")
	return result
}
