package claim

import (
	"context"
	"encoding/binary"
	"iter"
	"path/filepath"
	"sync/atomic"
	"testing"

	merkletree "zair/zair-prover/merkle-tree"
	"zair/zair-prover/prover"
	"zair/zair-prover/prover/common"
	"zair/zair-prover/scanner"
	"zair/zair-prover/snapshot"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDepth = 4

func small(v uint64) merkletree.Nullifier {
	var n merkletree.Nullifier
	binary.BigEndian.PutUint64(n[24:], v)
	return n
}

type staticScanner struct {
	notes []scanner.Note
	calls atomic.Int32
}

func (s *staticScanner) ScanNotes(ctx context.Context, keys *scanner.ViewingKeys, heights common.HeightRange) iter.Seq2[scanner.Note, error] {
	s.calls.Add(1)
	return func(yield func(scanner.Note, error) bool) {
		for _, n := range s.notes {
			if heights.Contains(n.Metadata.Height) && !yield(n, nil) {
				return
			}
		}
	}
}

type staticSystems struct {
	system *common.ProvingSystem
}

func (s staticSystems) GetSystem(depth uint32) (*common.ProvingSystem, error) {
	return s.system, nil
}

func testKeys(birthday uint64) *scanner.ViewingKeys {
	return &scanner.ViewingKeys{Sapling: make([]byte, scanner.SaplingViewingKeySize), Birthday: birthday}
}

func testSetup(t *testing.T) (*snapshot.AirdropConfiguration, map[common.Pool]*merkletree.SortedMerkleTree) {
	t.Helper()
	tree, err := merkletree.Build([]merkletree.Nullifier{small(1), small(5), small(9)}, testDepth)
	require.NoError(t, err)
	config := snapshot.NewAirdropConfiguration(common.Mainnet, common.HeightRange{Start: 419200, End: 2000000}, testDepth)
	config.SetRoot(common.Sapling, tree.Root())
	return config, map[common.Pool]*merkletree.SortedMerkleTree{common.Sapling: tree}
}

func note(pool common.Pool, nullifier merkletree.Nullifier, height uint64) scanner.Note {
	var secret prover.NoteSecret
	secret[0] = byte(height)
	return scanner.Note{Pool: pool, Nullifier: nullifier, NoteSecret: secret, Metadata: scanner.NoteMetadata{Height: height}}
}

func TestScanRange(t *testing.T) {
	r := common.HeightRange{Start: 100, End: 200}
	got, err := ScanRange(r, 50)
	require.NoError(t, err)
	assert.Equal(t, r, got)

	got, err = ScanRange(r, 150)
	require.NoError(t, err)
	assert.Equal(t, common.HeightRange{Start: 150, End: 200}, got)

	var birthday *BirthdayError
	_, err = ScanRange(r, 201)
	require.ErrorAs(t, err, &birthday)
}

func TestPipelineSkipsSpentAndFailsUnknownPool(t *testing.T) {
	config, trees := testSetup(t)
	notes := &staticScanner{notes: []scanner.Note{
		note(common.Sapling, small(5), 500000),
		note(common.Orchard, small(3), 1700000),
		note(common.Sapling, small(9), 600000),
	}}
	p := NewPipeline(config, trees, staticSystems{system: &common.ProvingSystem{TreeDepth: testDepth}}, notes)
	p.Workers = 2

	claims, report, err := p.Run(context.Background(), testKeys(0))
	require.NoError(t, err)
	assert.Empty(t, claims.Claims)
	require.Len(t, report.Notes, 3)
	assert.Equal(t, StatusSkipped, report.Notes[0].Status)
	assert.Equal(t, StatusFailed, report.Notes[1].Status)
	assert.Contains(t, report.Notes[1].Reason, "orchard")
	assert.Equal(t, StatusSkipped, report.Notes[2].Status)
	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, 1, report.Failed)
}

func TestPipelineRejectsBadInputs(t *testing.T) {
	config, trees := testSetup(t)
	p := NewPipeline(config, trees, staticSystems{}, &staticScanner{})

	var invalid *scanner.InvalidViewingKeyError
	_, _, err := p.Run(context.Background(), &scanner.ViewingKeys{Orchard: []byte{1, 2}})
	require.ErrorAs(t, err, &invalid)

	var birthday *BirthdayError
	_, _, err = p.Run(context.Background(), testKeys(3000000))
	require.ErrorAs(t, err, &birthday)
}

func TestLoadTreesChecksRoots(t *testing.T) {
	dir := t.TempDir()
	config, trees := testSetup(t)
	require.NoError(t, snapshot.WriteFile(filepath.Join(dir, snapshot.FileName(common.Sapling)), trees[common.Sapling].Nullifiers()))

	loaded, err := LoadTrees(config, dir, common.AllPools, 1)
	require.NoError(t, err)
	require.Contains(t, loaded, common.Sapling)
	assert.NotContains(t, loaded, common.Orchard)
	assert.Equal(t, trees[common.Sapling].Root(), loaded[common.Sapling].Root())

	require.NoError(t, snapshot.WriteFile(filepath.Join(dir, snapshot.FileName(common.Sapling)), []merkletree.Nullifier{small(1)}))
	var mismatch *snapshot.RootMismatchError
	_, err = LoadTrees(config, dir, common.AllPools, 1)
	require.ErrorAs(t, err, &mismatch)
}

func TestPipelineProvesInDiscoveryOrder(t *testing.T) {
	if testing.Short() {
		t.Skip("groth16 setup")
	}
	config, trees := testSetup(t)
	ps, err := prover.SetupNonMembership(testDepth)
	require.NoError(t, err)

	notes := &staticScanner{notes: []scanner.Note{
		note(common.Sapling, small(3), 500000),
		note(common.Sapling, small(5), 500001),
		note(common.Sapling, small(100), 500002),
		note(common.Sapling, small(0), 400000),
	}}
	p := NewPipeline(config, trees, staticSystems{system: ps}, notes)
	p.Workers = 3

	claims, report, err := p.Run(context.Background(), testKeys(419200))
	require.NoError(t, err)
	require.Len(t, report.Notes, 3)
	assert.Equal(t, []Status{StatusProved, StatusSkipped, StatusProved},
		[]Status{report.Notes[0].Status, report.Notes[1].Status, report.Notes[2].Status})
	require.Len(t, claims.Claims, 2)
	assert.Equal(t, report.Notes[0].HidingNullifier, claims.Claims[0].PublicInputs.HidingNullifier)
	assert.Equal(t, report.Notes[2].HidingNullifier, claims.Claims[1].PublicInputs.HidingNullifier)

	published, err := config.Published()
	require.NoError(t, err)
	verifier := prover.NewVerifier(ps.VerifyingKey, config.HidingDomains()...)
	for _, result := range verifier.VerifyClaimSet(claims, published) {
		assert.True(t, result.Valid, result.Error)
	}
}
