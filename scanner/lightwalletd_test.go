package scanner

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"

	merkletree "zair/zair-prover/merkle-tree"
	"zair/zair-prover/prover/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zcash/lightwalletd/walletrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type fakeStreamer struct {
	walletrpc.UnimplementedCompactTxStreamerServer

	blocks   []*walletrpc.CompactBlock
	failures []codes.Code
	calls    atomic.Int32
	ranges   chan *walletrpc.BlockRange
}

func (s *fakeStreamer) GetBlockRangeNullifiers(r *walletrpc.BlockRange, stream walletrpc.CompactTxStreamer_GetBlockRangeNullifiersServer) error {
	call := int(s.calls.Add(1))
	select {
	case s.ranges <- r:
	default:
	}
	if call <= len(s.failures) {
		return status.Error(s.failures[call-1], "injected")
	}
	for _, b := range s.blocks {
		if b.Height < r.Start.Height || b.Height > r.End.Height {
			continue
		}
		if err := stream.Send(b); err != nil {
			return err
		}
	}
	return nil
}

func startStreamer(t *testing.T, s *fakeStreamer) *LightwalletdClient {
	t.Helper()
	s.ranges = make(chan *walletrpc.BlockRange, 16)
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	walletrpc.RegisterCompactTxStreamerServer(srv, s)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewLightwalletdClient(conn)
}

func compactBlock(height uint64, sapling []merkletree.Nullifier, orchard []merkletree.Nullifier) *walletrpc.CompactBlock {
	tx := &walletrpc.CompactTx{}
	for _, n := range sapling {
		tx.Spends = append(tx.Spends, &walletrpc.CompactSaplingSpend{Nf: append([]byte(nil), n[:]...)})
	}
	for _, n := range orchard {
		tx.Actions = append(tx.Actions, &walletrpc.CompactOrchardAction{Nullifier: append([]byte(nil), n[:]...)})
	}
	return &walletrpc.CompactBlock{Height: height, Vtx: []*walletrpc.CompactTx{tx}}
}

func TestLightwalletdFetchNullifiers(t *testing.T) {
	s := &fakeStreamer{
		blocks: []*walletrpc.CompactBlock{
			compactBlock(10, []merkletree.Nullifier{small(3)}, []merkletree.Nullifier{small(30)}),
			compactBlock(11, []merkletree.Nullifier{small(1), small(2)}, nil),
			compactBlock(25, []merkletree.Nullifier{small(9)}, []merkletree.Nullifier{small(90)}),
		},
		failures: []codes.Code{codes.Unavailable},
	}
	client := startStreamer(t, s)
	assert.True(t, Pageable(client))

	heights := common.HeightRange{Start: 10, End: 20}
	got, err := Collect(context.Background(), fastRetry(), "sapling", func() iter2 {
		return client.FetchNullifiers(context.Background(), common.Sapling, heights)
	})
	require.NoError(t, err)
	assert.Equal(t, []merkletree.Nullifier{small(3), small(1), small(2)}, got)
	assert.Equal(t, int32(2), s.calls.Load())

	r := <-s.ranges
	assert.Equal(t, uint64(10), r.Start.Height)
	assert.Equal(t, uint64(20), r.End.Height)

	got, err = Collect(context.Background(), fastRetry(), "orchard", func() iter2 {
		return client.FetchNullifiers(context.Background(), common.Orchard, common.HeightRange{Start: 0, End: 100})
	})
	require.NoError(t, err)
	assert.Equal(t, []merkletree.Nullifier{small(30), small(90)}, got)
}

func TestLightwalletdErrors(t *testing.T) {
	var permanent *PermanentError

	t.Run("invalid argument is not retried", func(t *testing.T) {
		s := &fakeStreamer{failures: []codes.Code{codes.InvalidArgument, codes.InvalidArgument, codes.InvalidArgument}}
		client := startStreamer(t, s)
		_, err := Collect(context.Background(), fastRetry(), "fetch", func() iter2 {
			return client.FetchNullifiers(context.Background(), common.Sapling, common.HeightRange{End: 5})
		})
		require.ErrorAs(t, err, &permanent)
		assert.Equal(t, codes.InvalidArgument, status.Code(err))
		assert.Equal(t, int32(1), s.calls.Load())
	})

	t.Run("unavailable exhausts attempts", func(t *testing.T) {
		s := &fakeStreamer{failures: []codes.Code{codes.Unavailable, codes.Unavailable, codes.Unavailable}}
		client := startStreamer(t, s)
		_, err := Collect(context.Background(), fastRetry(), "fetch", func() iter2 {
			return client.FetchNullifiers(context.Background(), common.Sapling, common.HeightRange{End: 5})
		})
		require.Error(t, err)
		assert.False(t, errors.As(err, &permanent))
		assert.Equal(t, codes.Unavailable, status.Code(err))
		assert.Equal(t, int32(3), s.calls.Load())
	})

	t.Run("short nullifier", func(t *testing.T) {
		bad := &walletrpc.CompactBlock{Height: 4, Vtx: []*walletrpc.CompactTx{{
			Spends: []*walletrpc.CompactSaplingSpend{{Nf: []byte{1, 2, 3}}},
		}}}
		s := &fakeStreamer{blocks: []*walletrpc.CompactBlock{bad}}
		client := startStreamer(t, s)
		_, err := Collect(context.Background(), fastRetry(), "fetch", func() iter2 {
			return client.FetchNullifiers(context.Background(), common.Sapling, common.HeightRange{End: 5})
		})
		require.ErrorAs(t, err, &permanent)
		assert.Contains(t, err.Error(), "block 4")
		assert.Equal(t, int32(1), s.calls.Load())
	})
}
