package domain

import "time"

// Task is a single board item. Status is the lane it belongs to and
// Position its ordering key within that lane.
type Task struct {
	ID          string    `json:"id"`
	BoardID     string    `json:"boardId"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Status      Lane      `json:"status"`
	Position    int       `json:"position"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Less orders tasks by position and breaks ties by identifier.
func (t Task) Less(o Task) bool {
	if t.Position != o.Position {
		return t.Position < o.Position
	}
	return t.ID < o.ID
}

// Change is one entry of a change set: the lane and position an item must
// end up at.
type Change struct {
	ID       string `json:"id"`
	Status   Lane   `json:"status"`
	Position int    `json:"position"`
}
