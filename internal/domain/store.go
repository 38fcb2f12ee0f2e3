package domain

import "time"

// ListOpts provides pagination and filtering for event queries. Results are
// ordered by ascending sequence number.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
	// AfterSeq skips events with Seq <= AfterSeq.
	AfterSeq uint64
	// Name restricts results to a single event name when non-empty.
	Name EventName
}
