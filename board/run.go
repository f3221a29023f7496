package board

import (
	"context"

	"github.com/eishaa-e/flowboard/domain"
)

// Input is an event consumed by Run.
type Input interface {
	handle(ctx context.Context, e *Engine) error
}

// StartInput begins a drag.
type StartInput struct{ TaskID string }

// OverInput reports the pointer position.
type OverInput struct{ Over DragOver }

// NudgeInput is a keyboard move of the dragged task.
type NudgeInput struct{ Dir Direction }

// DropInput ends the drag. A nil Over drops at the last target.
type DropInput struct {
	Over *DragOver
	// Done, when set, receives the outcome.
	Done chan<- Outcome
}

// CancelInput aborts the drag.
type CancelInput struct{}

// InsertInput adds a created task.
type InsertInput struct{ Task domain.Task }

// UpdateInput replaces a task's content.
type UpdateInput struct{ Task domain.Task }

// RemoveInput drops a deleted task.
type RemoveInput struct{ TaskID string }

// ReloadInput replaces the board contents.
type ReloadInput struct{ Tasks []domain.Task }

func (in StartInput) handle(_ context.Context, e *Engine) error {
	return e.DragStart(in.TaskID)
}

func (in OverInput) handle(_ context.Context, e *Engine) error {
	return e.DragOver(in.Over)
}

func (in NudgeInput) handle(_ context.Context, e *Engine) error {
	return e.Nudge(in.Dir)
}

func (CancelInput) handle(_ context.Context, e *Engine) error {
	e.Cancel()
	return nil
}

func (in InsertInput) handle(_ context.Context, e *Engine) error {
	e.Insert(in.Task)
	return nil
}

func (in UpdateInput) handle(_ context.Context, e *Engine) error {
	return e.Update(in.Task)
}

func (in RemoveInput) handle(_ context.Context, e *Engine) error {
	e.Remove(in.TaskID)
	return nil
}

func (in ReloadInput) handle(_ context.Context, e *Engine) error {
	e.Reload(in.Tasks)
	return nil
}

func (in DropInput) handle(ctx context.Context, e *Engine) error {
	outcome, err := e.Drop(ctx, in.Over)
	if in.Done != nil {
		select {
		case in.Done <- outcome:
		case <-ctx.Done():
		}
	}
	return err
}

// Run serialises input events and commit results on the calling goroutine
// until ctx is done or inputs is closed. Errors are passed to the handler
// set with WithErrorHandler, or logged. Commits dispatched by Run use ctx.
func (e *Engine) Run(ctx context.Context, inputs <-chan Input) error {
	for {
		select {
		case <-ctx.Done():
			e.Cancel()
			return ctx.Err()
		case in, ok := <-inputs:
			if !ok {
				return nil
			}
			if err := in.handle(ctx, e); err != nil {
				e.report(err)
			}
		case res := <-e.results:
			if err := e.Settle(res); err != nil {
				e.report(err)
			}
		}
	}
}

func (e *Engine) report(err error) {
	if e.onError != nil {
		e.onError(err)
		return
	}
	e.logger.WithError(err).WithField("board", e.boardID).Error("board event failed")
}
