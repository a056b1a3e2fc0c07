// Package control implements cooperative pause, resume, and cancel for
// run workflows. Signals flip flags in workflow state; the run only acts
// on them at declared checkpoints between steps, so an in-flight agent
// execution is never cut off mid-generation.
package control

import "time"

// Signal names for run control
const (
	SignalPause       = "pause_v1"
	SignalResume      = "resume_v1"
	SignalCancel      = "cancel_v1"
	QueryControlState = "control_state_v1"
)

// PauseRequest is sent when pausing a run
type PauseRequest struct {
	Reason      string `json:"reason"`
	RequestedBy string `json:"requested_by"`
}

// ResumeRequest is sent when resuming a paused run
type ResumeRequest struct {
	Reason      string `json:"reason"`
	RequestedBy string `json:"requested_by"`
}

// CancelRequest is sent when gracefully cancelling a run
type CancelRequest struct {
	Reason      string `json:"reason"`
	RequestedBy string `json:"requested_by"`
}

// State tracks pause/cancel status for query handlers
type State struct {
	IsPaused     bool      `json:"is_paused"`
	IsCancelled  bool      `json:"is_cancelled"`
	PausedAt     time.Time `json:"paused_at,omitempty"`
	PauseReason  string    `json:"pause_reason,omitempty"`
	PausedBy     string    `json:"paused_by,omitempty"`
	CancelReason string    `json:"cancel_reason,omitempty"`
	CancelledBy  string    `json:"cancelled_by,omitempty"`
}
