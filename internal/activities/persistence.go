package activities

import (
	"context"

	"go.uber.org/zap"
)

// PersistRunRecord archives the finished run for fast retrieval. With no
// archive configured the step is skipped, not failed.
func (a *Activities) PersistRunRecord(ctx context.Context, in PersistRunRecordInput) error {
	if a.archive == nil {
		a.logger.Warn("Archive not configured, skipping run record",
			zap.String("run_id", in.Record.RunID))
		return nil
	}
	return a.archive.Save(ctx, &in.Record)
}

// JournalRun writes the terminal run row and its agent steps to the
// database. Safe to retry; the run row upserts and steps keep their ids.
func (a *Activities) JournalRun(ctx context.Context, in JournalRunInput) error {
	if a.journal == nil {
		a.logger.Warn("Journal not configured, skipping run journaling",
			zap.String("run_id", in.Run.RunID))
		return nil
	}
	if err := a.journal.RecordRun(ctx, &in.Run); err != nil {
		return err
	}
	for i := range in.Steps {
		if err := a.journal.RecordStep(ctx, &in.Steps[i]); err != nil {
			return err
		}
	}
	return nil
}

// JournalStep writes one agent step row as it completes. Fired from
// workflows without awaiting; a lost row costs analytics, not the run.
func (a *Activities) JournalStep(ctx context.Context, in JournalStepInput) error {
	if a.journal == nil {
		return nil
	}
	return a.journal.RecordStep(ctx, &in.Step)
}

// PublishRunEvent emits one progress event on the run's stream. Event
// delivery is best effort from the workflow's point of view; failures
// surface to the activity retry policy, not to the run outcome.
func (a *Activities) PublishRunEvent(ctx context.Context, in PublishRunEventInput) error {
	if a.events == nil {
		a.logger.Debug("Event publisher not configured, dropping event",
			zap.String("run_id", in.Event.RunID),
			zap.String("type", in.Event.Type))
		return nil
	}
	return a.events.Publish(ctx, in.Event)
}
