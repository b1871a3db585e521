package snapshot

import (
	"fmt"

	"zair/zair-prover/prover/common"
)

type MalformedSnapshotError struct {
	Path   string
	Reason string
	Err    error
}

func (e *MalformedSnapshotError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed snapshot %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed snapshot %s: %s", e.Path, e.Reason)
}

func (e *MalformedSnapshotError) Unwrap() error {
	return e.Err
}

type PoolNotActiveError struct {
	Pool       common.Pool
	Network    common.Network
	Height     uint64
	Activation uint64
}

func (e *PoolNotActiveError) Error() string {
	return fmt.Sprintf("%s is not active on %s at height %d (activation height %d)", e.Pool, e.Network, e.Height, e.Activation)
}

type RootMismatchError struct {
	Pool     common.Pool
	Expected string
	Actual   string
}

func (e *RootMismatchError) Error() string {
	return fmt.Sprintf("%s snapshot root %s does not match configured root %s", e.Pool, e.Actual, e.Expected)
}
