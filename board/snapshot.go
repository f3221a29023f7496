// Package board models the tasks of one board as lanes of strictly ordered
// items and reconciles drag-and-drop reordering with the persistence layer.
package board

import (
	"fmt"
	"sort"

	"github.com/eishaa-e/flowboard/domain"
)

// Snapshot is the full set of tasks of a board at a point in time. Tasks are
// kept in an arena with a secondary index from id to arena offset; lane
// membership and order are derived from each task's Status and Position.
//
// A Snapshot is not safe for concurrent use.
type Snapshot struct {
	items []domain.Task
	index map[string]int
}

// NewSnapshot builds a snapshot from tasks. Later duplicates of an id
// replace earlier ones.
func NewSnapshot(tasks []domain.Task) *Snapshot {
	s := &Snapshot{
		items: make([]domain.Task, 0, len(tasks)),
		index: make(map[string]int, len(tasks)),
	}
	for _, t := range tasks {
		s.put(t)
	}
	return s
}

func (s *Snapshot) put(t domain.Task) {
	if i, ok := s.index[t.ID]; ok {
		s.items[i] = t
		return
	}
	s.index[t.ID] = len(s.items)
	s.items = append(s.items, t)
}

// Len returns the number of tasks in the snapshot.
func (s *Snapshot) Len() int { return len(s.items) }

// Get returns the task with the given id.
func (s *Snapshot) Get(id string) (domain.Task, bool) {
	i, ok := s.index[id]
	if !ok {
		return domain.Task{}, false
	}
	return s.items[i], true
}

// LaneOf returns the lane the task currently belongs to.
func (s *Snapshot) LaneOf(id string) (domain.Lane, error) {
	i, ok := s.index[id]
	if !ok {
		return "", fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	return s.items[i].Status, nil
}

// ItemsInLane returns the lane's tasks ordered by position, ties broken by id.
func (s *Snapshot) ItemsInLane(lane domain.Lane) []domain.Task {
	out := make([]domain.Task, 0)
	for _, t := range s.items {
		if t.Status == lane {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Items returns every task grouped by lane in display order, each lane
// ordered as ItemsInLane. Tasks in unknown lanes come last.
func (s *Snapshot) Items() []domain.Task {
	out := make([]domain.Task, len(s.items))
	copy(out, s.items)
	sort.Slice(out, func(i, j int) bool {
		li, lj := laneRank(out[i].Status), laneRank(out[j].Status)
		if li != lj {
			return li < lj
		}
		if out[i].Status != out[j].Status {
			return out[i].Status < out[j].Status
		}
		return out[i].Less(out[j])
	})
	return out
}

func laneRank(l domain.Lane) int {
	if i := l.Index(); i >= 0 {
		return i
	}
	return len(domain.Lanes)
}

// laneIDs returns the ordered ids of the lane's members, skipping exclude.
func (s *Snapshot) laneIDs(lane domain.Lane, exclude string) []string {
	members := s.ItemsInLane(lane)
	ids := make([]string, 0, len(members))
	for _, t := range members {
		if t.ID == exclude {
			continue
		}
		ids = append(ids, t.ID)
	}
	return ids
}

// IndexOf returns the task's 0-based offset inside its lane.
func (s *Snapshot) IndexOf(id string) (int, error) {
	lane, err := s.LaneOf(id)
	if err != nil {
		return 0, err
	}
	for i, other := range s.laneIDs(lane, "") {
		if other == id {
			return i, nil
		}
	}
	return 0, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
}

// Move relocates the task to lane at index among the lane's current members,
// not counting the task itself. The source and target lanes are renumbered
// densely afterwards, so a repeated identical Move changes nothing.
func (s *Snapshot) Move(id string, lane domain.Lane, index int) error {
	i, ok := s.index[id]
	if !ok {
		return fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	if !lane.Valid() {
		return fmt.Errorf("lane %q: %w", lane, domain.ErrNotFound)
	}
	members := s.laneIDs(lane, id)
	if index < 0 || index > len(members) {
		return fmt.Errorf("index %d outside lane %s of size %d: %w", index, lane, len(members), domain.ErrInvalidIndex)
	}

	order := make([]string, 0, len(members)+1)
	order = append(order, members[:index]...)
	order = append(order, id)
	order = append(order, members[index:]...)

	source := s.items[i].Status
	s.items[i].Status = lane
	s.assign(order)
	if source != lane {
		s.Renumber(source)
	}
	return nil
}

// Renumber assigns dense positions 0..n-1 to the given lanes in their current
// order. With no arguments every lane is renumbered.
func (s *Snapshot) Renumber(lanes ...domain.Lane) {
	if len(lanes) == 0 {
		lanes = domain.Lanes
	}
	for _, lane := range lanes {
		s.assign(s.laneIDs(lane, ""))
	}
}

func (s *Snapshot) assign(order []string) {
	for pos, id := range order {
		s.items[s.index[id]].Position = pos
	}
}

// Apply sets the lane and position of every task named in changes. Changes
// for tasks missing from the snapshot are skipped; the number of applied
// changes is returned.
func (s *Snapshot) Apply(changes []domain.Change) int {
	applied := 0
	for _, c := range changes {
		i, ok := s.index[c.ID]
		if !ok {
			continue
		}
		s.items[i].Status = c.Status
		s.items[i].Position = c.Position
		applied++
	}
	return applied
}

// Insert adds a task, replacing any task with the same id.
func (s *Snapshot) Insert(t domain.Task) { s.put(t) }

// Update replaces the stored task with t.
func (s *Snapshot) Update(t domain.Task) error {
	i, ok := s.index[t.ID]
	if !ok {
		return fmt.Errorf("task %s: %w", t.ID, domain.ErrNotFound)
	}
	s.items[i] = t
	return nil
}

// Remove deletes the task. Positions of the remaining tasks are left as is.
func (s *Snapshot) Remove(id string) bool {
	i, ok := s.index[id]
	if !ok {
		return false
	}
	last := len(s.items) - 1
	if i != last {
		s.items[i] = s.items[last]
		s.index[s.items[i].ID] = i
	}
	s.items = s.items[:last]
	delete(s.index, id)
	return true
}

// Clone returns a deep copy.
func (s *Snapshot) Clone() *Snapshot {
	c := &Snapshot{
		items: make([]domain.Task, len(s.items)),
		index: make(map[string]int, len(s.index)),
	}
	copy(c.items, s.items)
	for id, i := range s.index {
		c.index[id] = i
	}
	return c
}

// Equal reports whether both snapshots hold the same tasks at the same lanes
// and positions.
func (s *Snapshot) Equal(o *Snapshot) bool {
	if s.Len() != o.Len() {
		return false
	}
	for _, t := range s.items {
		ot, ok := o.Get(t.ID)
		if !ok || ot.Status != t.Status || ot.Position != t.Position {
			return false
		}
	}
	return true
}

// Diff returns the change set that turns confirmed into working: one entry
// for every task of working whose lane or position differs from confirmed,
// or which confirmed does not know. Entries are sorted by id so the same
// pair of snapshots always yields the same request.
func Diff(confirmed, working *Snapshot) []domain.Change {
	changes := make([]domain.Change, 0)
	for _, w := range working.items {
		c, ok := confirmed.Get(w.ID)
		if ok && c.Status == w.Status && c.Position == w.Position {
			continue
		}
		changes = append(changes, domain.Change{ID: w.ID, Status: w.Status, Position: w.Position})
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].ID < changes[j].ID })
	return changes
}
