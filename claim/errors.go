package claim

import "fmt"

// BirthdayError means the wallet was created after the snapshot ends, so it
// cannot hold any note the snapshot could cover.
type BirthdayError struct {
	Birthday    uint64
	SnapshotEnd uint64
}

func (e *BirthdayError) Error() string {
	return fmt.Sprintf("wallet birthday %d is after snapshot end %d", e.Birthday, e.SnapshotEnd)
}
