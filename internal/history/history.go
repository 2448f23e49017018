// Package history defines the records an acquisition cycle leaves behind.
// It has no storage of its own; the journal persists these records and the
// control loop produces them.
package history

import (
	"time"

	"github.com/picron-io/picron-agent/internal/sampling"
)

// Outcome is how a cycle or reset ended.
type Outcome string

const (
	OutcomeSubmitted    Outcome = "submitted"
	OutcomeSubmitFailed Outcome = "submit_failed"
	OutcomeAborted      Outcome = "aborted"
	OutcomeFailed       Outcome = "failed"
)

// Reset outcomes.
const (
	ResetDone      Outcome = "reset"
	ResetAborted   Outcome = "reset_aborted"
	ResetFailed    Outcome = "reset_failed"
	ResetCancelled Outcome = "reset_cancelled"
)

// Cycle is one acquisition attempt. Sample is nil when no sample completed.
type Cycle struct {
	ID       string           `json:"cycle_id"`
	Subject  string           `json:"subject"`
	Status   int              `json:"status"`
	Outcome  Outcome          `json:"outcome"`
	Started  time.Time        `json:"started_at"`
	Finished time.Time        `json:"finished_at"`
	Sample   *sampling.Sample `json:"sample,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// Reset is one countdown-reset attempt following a cycle.
type Reset struct {
	CycleID string    `json:"cycle_id"`
	Subject string    `json:"subject"`
	Outcome Outcome   `json:"outcome"`
	At      time.Time `json:"at"`
}
