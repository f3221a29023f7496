package commands

import (
	"github.com/spf13/cobra"

	"github.com/eishaa-e/flowboard/domain"
)

var taskLane string

var tasksCmd = &cobra.Command{
	Use:   "tasks BOARD_ID",
	Short: "Show a board's tasks by lane",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := session()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()
		tasks, err := c.ListTasks(ctx, args[0])
		if err != nil {
			return err
		}
		printBoard(cmd.OutOrStdout(), tasks)
		return nil
	},
}

var taskAddCmd = &cobra.Command{
	Use:   "add BOARD_ID TITLE",
	Short: "Append a task to the end of a lane",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		lane, err := domain.ParseLane(taskLane)
		if err != nil {
			return err
		}
		c, err := session()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()
		t, err := c.CreateTask(ctx, args[0], args[1], lane)
		if err != nil {
			return err
		}
		success(cmd.OutOrStdout(), "Added %q to %s at %d (%s)", t.Title, t.Status.Title(), t.Position, t.ID)
		return nil
	},
}

var taskRemoveCmd = &cobra.Command{
	Use:     "rm TASK_ID",
	Aliases: []string{"delete"},
	Short:   "Delete a task",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := session()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()
		if err := c.DeleteTask(ctx, args[0]); err != nil {
			return err
		}
		success(cmd.OutOrStdout(), "Deleted task %s", args[0])
		return nil
	},
}

func init() {
	taskAddCmd.Flags().StringVarP(&taskLane, "lane", "l", string(domain.LaneTodo), "Lane: todo, inProgress or done")
	tasksCmd.AddCommand(taskAddCmd, taskRemoveCmd)
	rootCmd.AddCommand(tasksCmd)
}
