package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/eishaa-e/flowboard/board"
	"github.com/eishaa-e/flowboard/client"
	"github.com/eishaa-e/flowboard/domain"
)

var (
	moveLane  string
	moveIndex int
)

var moveCmd = &cobra.Command{
	Use:   "move BOARD_ID TASK_ID",
	Short: "Move a task to a lane and slot",
	Long: `Move a task to a lane and slot.

The move goes through the drag reconciliation engine: the task is dragged
over the target slot and dropped, and the resulting change set is sent as
one atomic reorder. --index counts the other tasks of the target lane; a
negative or too large index appends to the lane.

Examples:
  # Move a task to the top of In Progress
  boardctl move b1 t1 --lane inProgress --index 0

  # Append a task to Done
  boardctl move b1 t1 --lane done`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		lane := domain.Lane(moveLane)
		if !lane.Valid() {
			return fmt.Errorf("%w: %q", domain.ErrInvalidLane, moveLane)
		}
		return drive(cmd, args[0], args[1], func(e *board.Engine, taskID string) (*board.DragOver, error) {
			index := moveIndex
			if index < 0 {
				index = len(e.Working().ItemsInLane(lane))
			}
			target := board.TargetAt(e.Working(), taskID, lane, index)
			return &target, nil
		})
	},
}

var nudgeCmd = &cobra.Command{
	Use:   "nudge BOARD_ID TASK_ID DIRECTION...",
	Short: "Move a task with keyboard style steps",
	Long: `Move a task with keyboard style steps.

Each DIRECTION (up, down, left, right, or k, j, h, l) moves the dragged task
one slot inside its lane or into the neighbouring lane. The task is dropped
where the last step left it.

Examples:
  # Move a task two lanes to the right and one slot up
  boardctl nudge b1 t1 right right up`,
	Args: cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		dirs := make([]board.Direction, 0, len(args)-2)
		for _, raw := range args[2:] {
			d, err := board.ParseDirection(raw)
			if err != nil {
				return err
			}
			dirs = append(dirs, d)
		}
		return drive(cmd, args[0], args[1], func(e *board.Engine, _ string) (*board.DragOver, error) {
			for _, d := range dirs {
				if err := e.Nudge(d); err != nil {
					return nil, err
				}
			}
			return nil, nil
		})
	},
}

// drive loads the board into an engine, drags taskID, lets steer pick the
// drop target and waits for the commit to settle. steer returning a nil
// target drops where the drag currently is.
func drive(cmd *cobra.Command, boardID, taskID string, steer func(*board.Engine, string) (*board.DragOver, error)) error {
	c, err := session()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(cmd)
	defer cancel()

	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
	e, err := openEngine(ctx, c, boardID, errOut)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.DragStart(taskID); err != nil {
		return err
	}
	target, err := steer(e, taskID)
	if err != nil {
		e.Cancel()
		return err
	}
	outcome, err := e.Drop(ctx, target)
	if err != nil {
		return err
	}
	switch outcome {
	case board.Cancelled:
		warning(out, "Move cancelled, nothing changed")
		return nil
	case board.Unchanged:
		success(out, "Task already in place, nothing sent")
		printBoard(out, e.Confirmed().Items())
		return nil
	}

	if err := settle(ctx, e); err != nil {
		warning(errOut, "Board restored to the last confirmed state")
		printBoard(out, e.Working().Items())
		return err
	}
	success(out, "Moved task %s", taskID)
	printBoard(out, e.Confirmed().Items())
	return nil
}

// openEngine loads boardID into an engine that rolls the working state back
// when a commit fails.
func openEngine(ctx context.Context, c *client.Client, boardID string, notice io.Writer) (*board.Engine, error) {
	e := board.NewEngine(boardID, nil, c,
		board.WithRollback(true),
		board.WithLogger(engineLogger(notice)),
		board.WithResultBuffer(1),
	)
	if err := e.Load(ctx); err != nil {
		e.Close()
		return nil, err
	}
	warning(notice, "Rollback enabled: a rejected move restores the last confirmed board")
	return e, nil
}

func settle(ctx context.Context, e *board.Engine) error {
	for e.Pending() > 0 {
		select {
		case res := <-e.Results():
			if err := e.Settle(res); err != nil {
				return err
			}
		case <-ctx.Done():
			return fmt.Errorf("waiting for reorder: %w", ctx.Err())
		}
	}
	return nil
}

func init() {
	moveCmd.Flags().StringVarP(&moveLane, "lane", "l", "", "Target lane: todo, inProgress or done")
	moveCmd.Flags().IntVarP(&moveIndex, "index", "i", -1, "Target slot in the lane (default: end of lane)")
	_ = moveCmd.MarkFlagRequired("lane")
	rootCmd.AddCommand(moveCmd, nudgeCmd)
}
