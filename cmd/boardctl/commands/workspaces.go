package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var workspaceDescription string

var workspacesCmd = &cobra.Command{
	Use:     "workspaces",
	Aliases: []string{"ws"},
	Short:   "List your workspaces",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := session()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()
		list, err := c.Workspaces(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tCREATED")
		for _, ws := range list {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", ws.ID, ws.Name, ws.CreatedAt.Local().Format("2006-01-02 15:04"))
		}
		return tw.Flush()
	},
}

var workspaceCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a workspace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := session()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()
		ws, err := c.CreateWorkspace(ctx, args[0], workspaceDescription)
		if err != nil {
			return err
		}
		success(cmd.OutOrStdout(), "Created workspace %s (%s)", ws.Name, ws.ID)
		return nil
	},
}

var workspaceDeleteCmd = &cobra.Command{
	Use:   "delete WORKSPACE_ID",
	Short: "Delete a workspace with its boards and tasks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := session()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()
		if err := c.DeleteWorkspace(ctx, args[0]); err != nil {
			return err
		}
		success(cmd.OutOrStdout(), "Deleted workspace %s", args[0])
		return nil
	},
}

var boardsCmd = &cobra.Command{
	Use:   "boards WORKSPACE_ID",
	Short: "List the boards of a workspace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := session()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()
		list, err := c.Boards(ctx, args[0])
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "POS\tID\tTITLE")
		for _, b := range list {
			fmt.Fprintf(tw, "%d\t%s\t%s\n", b.Position, b.ID, b.Title)
		}
		return tw.Flush()
	},
}

var boardCreateCmd = &cobra.Command{
	Use:   "create WORKSPACE_ID TITLE",
	Short: "Create a board at the end of a workspace",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := session()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()
		b, err := c.CreateBoard(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		success(cmd.OutOrStdout(), "Created board %s (%s)", b.Title, b.ID)
		return nil
	},
}

func init() {
	workspaceCreateCmd.Flags().StringVarP(&workspaceDescription, "description", "d", "", "Workspace description")
	workspacesCmd.AddCommand(workspaceCreateCmd, workspaceDeleteCmd)
	boardsCmd.AddCommand(boardCreateCmd)
	rootCmd.AddCommand(workspacesCmd, boardsCmd)
}
