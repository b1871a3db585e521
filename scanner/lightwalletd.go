package scanner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"

	merkletree "zair/zair-prover/merkle-tree"
	"zair/zair-prover/prover/common"

	"github.com/zcash/lightwalletd/walletrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// maxBlockMessageSize bounds a single compact block on the wire.
const maxBlockMessageSize = 32 << 20

// LightwalletdClient reads spend nullifiers from a lightwalletd CompactTxStreamer.
// Only nullifiers leave the server; viewing keys are never sent.
type LightwalletdClient struct {
	client walletrpc.CompactTxStreamerClient
	conn   *grpc.ClientConn
}

// DialLightwalletd opens a client connection to target (host:port). TLS with
// the system roots is used unless plaintext is set.
func DialLightwalletd(target string, plaintext bool) (*LightwalletdClient, error) {
	creds := credentials.NewClientTLSFromCert(nil, "")
	if plaintext {
		creds = insecure.NewCredentials()
	}
	conn, err := grpc.NewClient(target,
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(maxBlockMessageSize)),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to lightwalletd %s: %w", target, err)
	}
	return &LightwalletdClient{client: walletrpc.NewCompactTxStreamerClient(conn), conn: conn}, nil
}

// NewLightwalletdClient wraps an existing connection. Close leaves it open.
func NewLightwalletdClient(conn grpc.ClientConnInterface) *LightwalletdClient {
	return &LightwalletdClient{client: walletrpc.NewCompactTxStreamerClient(conn)}
}

func (c *LightwalletdClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// FetchNullifiers streams GetBlockRangeNullifiers over heights and yields the
// pool's nullifiers: Sapling spends or Orchard actions.
func (c *LightwalletdClient) FetchNullifiers(ctx context.Context, pool common.Pool, heights common.HeightRange) iter.Seq2[merkletree.Nullifier, error] {
	return func(yield func(merkletree.Nullifier, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stream, err := c.client.GetBlockRangeNullifiers(ctx, &walletrpc.BlockRange{
			Start: &walletrpc.BlockID{Height: heights.Start},
			End:   &walletrpc.BlockID{Height: heights.End},
		})
		if err != nil {
			yield(merkletree.Nullifier{}, classifyRPCError(err))
			return
		}

		for {
			block, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(merkletree.Nullifier{}, classifyRPCError(err))
				return
			}
			for _, raw := range blockNullifiers(block, pool) {
				n, err := merkletree.NullifierFromBytes(raw)
				if err != nil {
					yield(merkletree.Nullifier{}, &PermanentError{Err: fmt.Errorf("block %d: %w", block.Height, err)})
					return
				}
				if !yield(n, nil) {
					return
				}
			}
		}
	}
}

func blockNullifiers(block *walletrpc.CompactBlock, pool common.Pool) [][]byte {
	var out [][]byte
	for _, tx := range block.Vtx {
		switch pool {
		case common.Sapling:
			for _, spend := range tx.Spends {
				out = append(out, spend.Nf)
			}
		case common.Orchard:
			for _, action := range tx.Actions {
				out = append(out, action.Nullifier)
			}
		}
	}
	return out
}

// classifyRPCError leaves transient gRPC failures retryable and marks the rest permanent.
func classifyRPCError(err error) error {
	code := status.Code(err)
	err = fmt.Errorf("lightwalletd: %w", err)
	switch code {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted, codes.Internal, codes.Unknown, codes.Canceled:
		return err
	default:
		return &PermanentError{Err: err}
	}
}
