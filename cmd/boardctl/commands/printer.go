package commands

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/eishaa-e/flowboard/domain"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan, color.Bold)
	faint  = color.New(color.Faint)
)

func success(w io.Writer, format string, a ...any) {
	green.Fprintf(w, "✓ "+format+"\n", a...)
}

func warning(w io.Writer, format string, a ...any) {
	yellow.Fprintf(w, "! "+format+"\n", a...)
}

func printError(w io.Writer, err error, hint string) {
	red.Fprintf(w, "Error: %v\n", err)
	if hint != "" {
		fmt.Fprintf(w, "\n%s\n", hint)
	}
}

// printBoard writes tasks as one block per lane in display order.
func printBoard(w io.Writer, tasks []domain.Task) {
	byLane := make(map[domain.Lane][]domain.Task, len(domain.Lanes))
	for _, t := range tasks {
		byLane[t.Status] = append(byLane[t.Status], t)
	}
	for i, lane := range domain.Lanes {
		if i > 0 {
			fmt.Fprintln(w)
		}
		cyan.Fprintf(w, "%s (%d)\n", lane.Title(), len(byLane[lane]))
		for _, t := range byLane[lane] {
			fmt.Fprintf(w, "  %3d  %s  ", t.Position, t.Title)
			faint.Fprintf(w, "%s\n", t.ID)
		}
	}
}
