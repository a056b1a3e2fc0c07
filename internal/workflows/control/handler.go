package control

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/log"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/troupehq/troupe/internal/activities"
	"github.com/troupehq/troupe/internal/constants"
	"github.com/troupehq/troupe/internal/events"
	"github.com/troupehq/troupe/internal/workflows/opts"
)

// SignalHandler manages pause/resume/cancel for one run workflow
type SignalHandler struct {
	State  *State
	RunID  string
	Logger log.Logger

	// SkipEmit suppresses resume event emissions. Used for pattern child
	// workflows where the parent handler already announces the transition.
	SkipEmit bool

	emitCtx workflow.Context

	// Child workflow management. A plain slice is safe because workflow
	// goroutines are cooperatively scheduled, never truly concurrent.
	childWorkflowIDs []string
}

// Setup registers the control-state query handler and starts the signal
// pump. Call it once, before the run's first checkpoint.
func (h *SignalHandler) Setup(ctx workflow.Context) {
	h.State = &State{}
	h.childWorkflowIDs = []string{}
	h.emitCtx = opts.WithBestEffortOptions(ctx)

	_ = workflow.SetQueryHandler(ctx, QueryControlState, func() (State, error) {
		return *h.State, nil
	})

	pauseCh := workflow.GetSignalChannel(ctx, SignalPause)
	resumeCh := workflow.GetSignalChannel(ctx, SignalResume)
	cancelCh := workflow.GetSignalChannel(ctx, SignalCancel)

	workflow.Go(ctx, func(gctx workflow.Context) {
		for {
			sel := workflow.NewSelector(gctx)

			sel.AddReceive(pauseCh, func(c workflow.ReceiveChannel, more bool) {
				var req PauseRequest
				c.Receive(gctx, &req)
				h.handlePause(gctx, req)
			})

			sel.AddReceive(resumeCh, func(c workflow.ReceiveChannel, more bool) {
				var req ResumeRequest
				c.Receive(gctx, &req)
				h.handleResume(gctx, req)
			})

			sel.AddReceive(cancelCh, func(c workflow.ReceiveChannel, more bool) {
				var req CancelRequest
				c.Receive(gctx, &req)
				h.handleCancel(gctx, req)
			})

			sel.Select(gctx)
		}
	})
}

// RegisterChildWorkflow adds a child workflow ID for signal propagation
func (h *SignalHandler) RegisterChildWorkflow(childID string) {
	h.childWorkflowIDs = append(h.childWorkflowIDs, childID)
}

// UnregisterChildWorkflow removes a completed child workflow
func (h *SignalHandler) UnregisterChildWorkflow(childID string) {
	for i, id := range h.childWorkflowIDs {
		if id == childID {
			h.childWorkflowIDs = append(h.childWorkflowIDs[:i], h.childWorkflowIDs[i+1:]...)
			return
		}
	}
}

func (h *SignalHandler) handlePause(ctx workflow.Context, req PauseRequest) {
	if h.State.IsPaused {
		h.Logger.Debug("Already paused, ignoring")
		return
	}

	h.State.IsPaused = true
	h.State.PausedAt = workflow.Now(ctx)
	h.State.PauseReason = req.Reason
	h.State.PausedBy = req.RequestedBy

	// The paused event is emitted by the checkpoint that actually blocks,
	// not here; a pause received mid-step takes effect only at the next
	// step boundary.
	h.propagate(ctx, SignalPause, req)
}

func (h *SignalHandler) handleResume(ctx workflow.Context, req ResumeRequest) {
	if !h.State.IsPaused {
		h.Logger.Debug("Not paused, ignoring resume")
		return
	}

	h.State.IsPaused = false
	h.State.PausedAt = time.Time{}
	h.State.PauseReason = ""
	h.State.PausedBy = ""

	if !h.SkipEmit {
		h.emit(ctx, events.Event{
			RunID:   h.RunID,
			Type:    events.TypeRunResumed,
			Message: req.Reason,
		})
	}

	h.propagate(ctx, SignalResume, req)
}

func (h *SignalHandler) handleCancel(ctx workflow.Context, req CancelRequest) {
	h.State.IsCancelled = true
	h.State.CancelReason = req.Reason
	h.State.CancelledBy = req.RequestedBy

	// The cancelled event is emitted by the checkpoint that stops the run.
	h.propagate(ctx, SignalCancel, req)
}

// propagate forwards a control signal to every registered child workflow,
// in parallel. Errors are ignored, the child may already be done.
func (h *SignalHandler) propagate(ctx workflow.Context, signalName string, payload interface{}) {
	if len(h.childWorkflowIDs) == 0 {
		return
	}

	children := make([]string, len(h.childWorkflowIDs))
	copy(children, h.childWorkflowIDs)

	futures := make([]workflow.Future, 0, len(children))
	for _, childID := range children {
		futures = append(futures, workflow.SignalExternalWorkflow(ctx, childID, "", signalName, payload))
	}
	for _, f := range futures {
		_ = f.Get(ctx, nil)
	}
}

// CheckPausePoint blocks while the run is paused and returns a canceled
// error if it was cancelled. Call it at step boundaries; control signals
// only take effect here.
func (h *SignalHandler) CheckPausePoint(ctx workflow.Context, checkpoint string) error {
	if h.State == nil {
		return nil
	}

	// Yield so signals already delivered are processed before the check.
	_ = workflow.Sleep(ctx, 0)

	if h.State.IsCancelled {
		h.emit(ctx, events.Event{
			RunID:   h.RunID,
			Type:    events.TypeRunCancelled,
			Message: h.State.CancelReason,
			Payload: map[string]interface{}{"checkpoint": checkpoint},
		})
		return temporal.NewCanceledError(fmt.Sprintf("run cancelled: %s", h.State.CancelReason))
	}

	if h.State.IsPaused {
		// Emitted here even for child workflows: the parent cannot know
		// when a child actually blocks at a checkpoint.
		h.emit(ctx, events.Event{
			RunID:   h.RunID,
			Type:    events.TypeRunPaused,
			Message: h.State.PauseReason,
			Payload: map[string]interface{}{"checkpoint": checkpoint},
		})

		// Await keeps this to a single history event, no polling timers.
		_ = workflow.Await(ctx, func() bool {
			return !h.State.IsPaused || h.State.IsCancelled
		})

		if h.State.IsCancelled {
			h.emit(ctx, events.Event{
				RunID:   h.RunID,
				Type:    events.TypeRunCancelled,
				Message: h.State.CancelReason,
				Payload: map[string]interface{}{"checkpoint": checkpoint, "was_paused": true},
			})
			return temporal.NewCanceledError(fmt.Sprintf("run cancelled while paused: %s", h.State.CancelReason))
		}
	}

	return nil
}

// IsCancelled reports whether a cancel signal has been received
func (h *SignalHandler) IsCancelled() bool {
	return h.State != nil && h.State.IsCancelled
}

// IsPaused reports whether the run is currently paused
func (h *SignalHandler) IsPaused() bool {
	return h.State != nil && h.State.IsPaused
}

func (h *SignalHandler) emit(ctx workflow.Context, ev events.Event) {
	_ = workflow.ExecuteActivity(h.emitCtx, constants.PublishRunEventActivity,
		activities.PublishRunEventInput{Event: ev}).Get(ctx, nil)
}
