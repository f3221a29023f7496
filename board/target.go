package board

import (
	"fmt"

	"github.com/eishaa-e/flowboard/domain"
)

// DragOver describes what the pointer is over during a drag.
type DragOver struct {
	// Lane under the pointer. Empty when the pointer is outside every lane.
	Lane domain.Lane `json:"lane,omitempty"`
	// OverID is the sibling under the pointer. Empty when the pointer is over
	// the lane body rather than a task.
	OverID string `json:"overId,omitempty"`
	// Below is set when the pointer is past the sibling's vertical midpoint.
	Below bool `json:"below,omitempty"`
}

// Direction is a keyboard nudge.
type Direction int

const (
	Up Direction = iota
	Down
	Left
	Right
)

func (d Direction) String() string {
	switch d {
	case Up:
		return "up"
	case Down:
		return "down"
	case Left:
		return "left"
	case Right:
		return "right"
	}
	return fmt.Sprintf("direction(%d)", int(d))
}

// ParseDirection maps "up", "down", "left" and "right" to a Direction.
func ParseDirection(raw string) (Direction, error) {
	switch raw {
	case "up", "k":
		return Up, nil
	case "down", "j":
		return Down, nil
	case "left", "h":
		return Left, nil
	case "right", "l":
		return Right, nil
	}
	return 0, fmt.Errorf("unknown direction %q", raw)
}

// TargetAt builds the DragOver a pointer would report when hovering the slot
// index of lane while dragging the given task. Indexes past the end hover the
// lane body.
func TargetAt(s *Snapshot, dragged string, lane domain.Lane, index int) DragOver {
	members := s.laneIDs(lane, dragged)
	if index < 0 {
		index = 0
	}
	if index < len(members) {
		return DragOver{Lane: lane, OverID: members[index]}
	}
	return DragOver{Lane: lane}
}

// resolve turns a DragOver into a lane and index for Move. ok is false when
// the pointer is outside every lane.
func resolve(s *Snapshot, dragged string, over DragOver) (lane domain.Lane, index int, ok bool, err error) {
	if over.Lane == "" {
		return "", 0, false, nil
	}
	if over.OverID == dragged {
		lane, err = s.LaneOf(dragged)
		if err != nil {
			return "", 0, false, err
		}
		index, err = s.IndexOf(dragged)
		return lane, index, err == nil, err
	}
	if over.OverID == "" {
		if !over.Lane.Valid() {
			return "", 0, false, fmt.Errorf("lane %q: %w", over.Lane, domain.ErrNotFound)
		}
		return over.Lane, len(s.laneIDs(over.Lane, dragged)), true, nil
	}

	// The sibling decides the lane; a stale pointer lane must not split it
	// from its neighbours.
	lane, err = s.LaneOf(over.OverID)
	if err != nil {
		return "", 0, false, err
	}
	for i, id := range s.laneIDs(lane, dragged) {
		if id == over.OverID {
			if over.Below {
				i++
			}
			return lane, i, true, nil
		}
	}
	return "", 0, false, fmt.Errorf("task %s: %w", over.OverID, domain.ErrNotFound)
}
