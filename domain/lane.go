package domain

import "fmt"

// Lane names one of the fixed workflow stages a task can sit in.
type Lane string

const (
	LaneTodo       Lane = "todo"
	LaneInProgress Lane = "inProgress"
	LaneDone       Lane = "done"
)

// Lanes lists every lane in display order.
var Lanes = []Lane{LaneTodo, LaneInProgress, LaneDone}

var laneTitles = map[Lane]string{
	LaneTodo:       "To Do",
	LaneInProgress: "In Progress",
	LaneDone:       "Done",
}

// Valid reports whether l is one of the fixed lanes.
func (l Lane) Valid() bool {
	_, ok := laneTitles[l]
	return ok
}

// Title returns the human readable column title.
func (l Lane) Title() string {
	if t, ok := laneTitles[l]; ok {
		return t
	}
	return string(l)
}

// Index returns the display offset of l, or -1 for unknown lanes.
func (l Lane) Index() int {
	for i, lane := range Lanes {
		if lane == l {
			return i
		}
	}
	return -1
}

// ParseLane validates raw and returns it as a Lane. An empty string maps to
// LaneTodo, matching how new tasks default.
func ParseLane(raw string) (Lane, error) {
	if raw == "" {
		return LaneTodo, nil
	}
	l := Lane(raw)
	if !l.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidLane, raw)
	}
	return l, nil
}
