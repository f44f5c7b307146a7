package service

import (
	"time"

	"github.com/google/uuid"

	"trailing-return-alerts/internal/ingest"
	"trailing-return-alerts/internal/market"
)

// State is a stage of one run.
type State int

// Run stages in order. Failed is reachable from Fetching through Notifying.
const (
	Idle State = iota
	Fetching
	Merging
	Evaluating
	Notifying
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Fetching:
		return "Fetching"
	case Merging:
		return "Merging"
	case Evaluating:
		return "Evaluating"
	case Notifying:
		return "Notifying"
	case Done:
		return "Done"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Outcome is the result of one run. Fault is set only when State is Failed.
type Outcome struct {
	RunID     uuid.UUID
	State     State
	FailedIn  State
	Fault     *market.Fault
	Changed   bool
	Notified  bool
	Merge     ingest.MergeResult
	Snapshots market.SnapshotSet
	AsOf      time.Time
}

func (o Outcome) label() string {
	switch {
	case o.State == Failed:
		return "failed"
	case o.Notified:
		return "notified"
	default:
		return "unchanged"
	}
}
