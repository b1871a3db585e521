package snapshot

import (
	"context"
	"fmt"
	"iter"
	"path/filepath"
	"runtime"
	"slices"
	"sync/atomic"
	"time"

	"zair/zair-prover/logging"
	merkletree "zair/zair-prover/merkle-tree"
	"zair/zair-prover/prover/common"
	"zair/zair-prover/scanner"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultPageSize     = 10_000
	DefaultFetchWorkers = 8
)

// Builder turns the nullifiers revealed in a height range into a snapshot tree.
type Builder struct {
	Source       scanner.NullifierSource
	Activation   ActivationTable
	Network      common.Network
	Depth        int
	PageSize     uint64
	FetchWorkers int
	HashWorkers  int
	Retry        scanner.RetryPolicy
}

func NewBuilder(source scanner.NullifierSource, network common.Network) *Builder {
	return &Builder{
		Source:       source,
		Activation:   DefaultActivationTable(),
		Network:      network,
		Depth:        merkletree.DefaultDepth,
		PageSize:     DefaultPageSize,
		FetchWorkers: DefaultFetchWorkers,
		HashWorkers:  runtime.NumCPU(),
		Retry:        scanner.DefaultRetryPolicy(),
	}
}

type Result struct {
	Pool  common.Pool
	Range common.HeightRange
	Tree  *merkletree.SortedMerkleTree
}

func (r *Result) Write(dir string) (string, error) {
	path := filepath.Join(dir, FileName(r.Pool))
	if err := WriteFile(path, r.Tree.Nullifiers()); err != nil {
		return "", err
	}
	return path, nil
}

// Fetch downloads every page of the range in parallel and returns the merged,
// sorted nullifiers. Duplicates are left in place for Build to reject.
func (b *Builder) Fetch(ctx context.Context, pool common.Pool, heights common.HeightRange) ([]merkletree.Nullifier, error) {
	pages := []common.HeightRange{heights}
	if scanner.Pageable(b.Source) {
		pages = heights.Split(b.PageSize)
	}
	logger := logging.Component("snapshot").With().Str("pool", pool.String()).Logger()

	buffers := make([][]merkletree.Nullifier, len(pages))
	step := max(len(pages)/10, 1)
	var done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(b.FetchWorkers, 1))
	for i, page := range pages {
		g.Go(func() error {
			buf, err := scanner.Collect(gctx, b.Retry, fmt.Sprintf("fetch %s %s", pool, page), func() iter.Seq2[merkletree.Nullifier, error] {
				return b.Source.FetchNullifiers(gctx, pool, page)
			})
			if err != nil {
				return fmt.Errorf("fetching %s nullifiers for %s: %w", pool, page, err)
			}
			buffers[i] = buf

			n := done.Add(1)
			if n%int64(step) == 0 || n == int64(len(pages)) {
				logger.Info().
					Int64("pages", n).
					Int("totalPages", len(pages)).
					Int64("percent", n*100/int64(len(pages))).
					Msg("Fetch progress")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := 0
	for _, buf := range buffers {
		total += len(buf)
	}
	nullifiers := make([]merkletree.Nullifier, 0, total)
	for _, buf := range buffers {
		nullifiers = append(nullifiers, buf...)
	}
	slices.SortFunc(nullifiers, merkletree.Nullifier.Compare)
	return nullifiers, nil
}

// Build checks pool activation, fetches the range and builds the tree.
// Nothing is written.
func (b *Builder) Build(ctx context.Context, pool common.Pool, heights common.HeightRange) (*Result, error) {
	if err := heights.Validate(); err != nil {
		return nil, err
	}
	if err := b.Activation.Check(b.Network, pool, heights.Start); err != nil {
		return nil, err
	}

	start := time.Now()
	nullifiers, err := b.Fetch(ctx, pool, heights)
	if err != nil {
		return nil, err
	}
	tree, err := merkletree.BuildWithWorkers(nullifiers, b.Depth, b.HashWorkers)
	if err != nil {
		return nil, fmt.Errorf("building %s snapshot: %w", pool, err)
	}

	logging.Logger().Info().
		Str("pool", pool.String()).
		Str("range", heights.String()).
		Int("nullifiers", tree.Len()).
		Str("root", common.ElementToHex(tree.Root())).
		Dur("duration", time.Since(start)).
		Msg("Snapshot built")
	return &Result{Pool: pool, Range: heights, Tree: tree}, nil
}

// PoolRange is the part of the snapshot range fetched for one pool.
type PoolRange struct {
	Pool  common.Pool
	Range common.HeightRange
}

// Plan checks activation for every selected pool before anything is fetched.
// With skipInactive, pools activating after the range are dropped and pools
// activating inside it are fetched from their activation height; nothing is
// spent in a pool before it exists, so the snapshot is unchanged. Without it,
// any pool not active at the range start is an error.
func (b *Builder) Plan(pools []common.Pool, skipInactive bool, heights common.HeightRange) ([]PoolRange, error) {
	if err := heights.Validate(); err != nil {
		return nil, err
	}
	var plan []PoolRange
	for _, pool := range pools {
		activation, ok := b.Activation.Height(b.Network, pool)
		if !ok {
			return nil, fmt.Errorf("no activation height for %s on %s", pool, b.Network)
		}
		switch {
		case activation <= heights.Start:
			plan = append(plan, PoolRange{Pool: pool, Range: heights})
		case !skipInactive:
			return nil, &PoolNotActiveError{Pool: pool, Network: b.Network, Height: heights.Start, Activation: activation}
		case activation > heights.End:
			logging.Logger().Warn().
				Str("pool", pool.String()).
				Uint64("activation", activation).
				Msg("Pool not active in snapshot range, skipping")
		default:
			logging.Logger().Info().
				Str("pool", pool.String()).
				Uint64("activation", activation).
				Msg("Pool activates inside snapshot range, fetching from activation")
			plan = append(plan, PoolRange{Pool: pool, Range: common.HeightRange{Start: activation, End: heights.End}})
		}
	}
	if len(plan) == 0 {
		return nil, fmt.Errorf("no pool is active in %s on %s", heights, b.Network)
	}
	return plan, nil
}

// BuildAirdrop builds every planned pool, then writes the snapshot files and
// the configuration artifact. The artifact always records the full range.
func (b *Builder) BuildAirdrop(ctx context.Context, pools []common.Pool, skipInactive bool, heights common.HeightRange, outputDir string, configPath string) (*AirdropConfiguration, error) {
	plan, err := b.Plan(pools, skipInactive, heights)
	if err != nil {
		return nil, err
	}
	config := NewAirdropConfiguration(b.Network, heights, uint32(b.Depth))

	results := make([]*Result, 0, len(plan))
	for _, p := range plan {
		result, err := b.Build(ctx, p.Pool, p.Range)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}

	for _, result := range results {
		path, err := result.Write(outputDir)
		if err != nil {
			return nil, err
		}
		config.SetRoot(result.Pool, result.Tree.Root())
		logging.Logger().Info().Str("pool", result.Pool.String()).Str("path", path).Msg("Snapshot written")
	}
	if err := config.Write(configPath); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadTree reads a pool's snapshot file, rebuilds the tree and checks its
// root against the configuration.
func LoadTree(config *AirdropConfiguration, dir string, pool common.Pool, hashWorkers int) (*merkletree.SortedMerkleTree, error) {
	nullifiers, err := ReadFile(filepath.Join(dir, FileName(pool)))
	if err != nil {
		return nil, err
	}
	tree, err := merkletree.BuildWithWorkers(nullifiers, int(config.Depth()), hashWorkers)
	if err != nil {
		return nil, err
	}
	if err := config.VerifyRoot(pool, tree.Root()); err != nil {
		return nil, err
	}
	return tree, nil
}

// VerifySnapshot rebuilds every pool the configuration publishes a root for.
func VerifySnapshot(config *AirdropConfiguration, dir string, hashWorkers int) error {
	verified := 0
	for _, pool := range common.AllPools {
		if _, ok, _ := config.Root(pool); !ok {
			continue
		}
		tree, err := LoadTree(config, dir, pool, hashWorkers)
		if err != nil {
			return err
		}
		verified++
		logging.Logger().Info().
			Str("pool", pool.String()).
			Int("nullifiers", tree.Len()).
			Msg("Snapshot root matches configuration")
	}
	if verified == 0 {
		return fmt.Errorf("configuration publishes no roots")
	}
	return nil
}
