package board

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/eishaa-e/flowboard/domain"
	log "github.com/sirupsen/logrus"
)

// ErrNotDragging is returned by operations that need an active drag.
var ErrNotDragging = errors.New("no drag in progress")

// Collaborator persists board tasks. BulkReposition must apply all changes
// or none.
type Collaborator interface {
	ListTasks(ctx context.Context, boardID string) ([]domain.Task, error)
	BulkReposition(ctx context.Context, boardID string, changes []domain.Change) error
	CreateTask(ctx context.Context, boardID, title string, lane domain.Lane) (domain.Task, error)
}

// State is the engine's drag state.
type State int

const (
	StateIdle State = iota
	StateDragging
)

func (s State) String() string {
	if s == StateDragging {
		return "dragging"
	}
	return "idle"
}

// Outcome reports how a drop ended.
type Outcome int

const (
	// Cancelled means the drag ended without a valid target and the working
	// snapshot was restored.
	Cancelled Outcome = iota
	// Unchanged means the drop landed where the confirmed state already
	// has the item; nothing was sent.
	Unchanged
	// Submitted means a bulk reposition request was dispatched.
	Submitted
)

func (o Outcome) String() string {
	switch o {
	case Unchanged:
		return "unchanged"
	case Submitted:
		return "submitted"
	}
	return "cancelled"
}

// CommitResult is the resolution of one bulk reposition request.
type CommitResult struct {
	Seq     uint64
	Changes []domain.Change
	Err     error
}

type drag struct {
	taskID string
	origin *Snapshot
	target *DragOver
}

// Engine applies drag input to a working snapshot and submits the
// difference against the confirmed snapshot when a drag is dropped.
//
// Engine methods must be called from a single goroutine, either by the
// caller directly or through Run. Commit requests run on their own
// goroutines, one at a time in dispatch order, and report on Results.
type Engine struct {
	boardID  string
	store    Collaborator
	logger   *log.Logger
	rollback bool
	onError  func(error)

	confirmed *Snapshot
	working   *Snapshot
	drag      *drag

	seq      uint64
	inflight int
	failures int
	tail     chan struct{}
	results  chan CommitResult
	closed   chan struct{}
	once     sync.Once
	wg       sync.WaitGroup

	// rolledBack is the last seq dispatched when the working snapshot was
	// last rolled back. Commits up to it were diffed before the rollback.
	rolledBack uint64
}

// Option configures an Engine.
type Option func(*Engine)

// WithRollback restores the working snapshot to the confirmed one when a
// commit fails. Without it the optimistic state is kept.
func WithRollback(enabled bool) Option {
	return func(e *Engine) { e.rollback = enabled }
}

// WithLogger sets the logger used for commit diagnostics.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithErrorHandler receives errors raised while Run processes input and
// commit results.
func WithErrorHandler(fn func(error)) Option {
	return func(e *Engine) { e.onError = fn }
}

// WithResultBuffer sets the capacity of the Results channel.
func WithResultBuffer(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.results = make(chan CommitResult, n)
		}
	}
}

// NewEngine creates an engine for the board with tasks as the confirmed
// state.
func NewEngine(boardID string, tasks []domain.Task, store Collaborator, opts ...Option) *Engine {
	e := &Engine{
		boardID: boardID,
		store:   store,
		logger:  log.StandardLogger(),
		results: make(chan CommitResult, 16),
		closed:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.confirmed = NewSnapshot(tasks)
	e.working = e.confirmed.Clone()
	return e
}

// BoardID returns the board the engine reconciles.
func (e *Engine) BoardID() string { return e.boardID }

// State returns the current drag state.
func (e *Engine) State() State {
	if e.drag != nil {
		return StateDragging
	}
	return StateIdle
}

// Dragging returns the id of the dragged task.
func (e *Engine) Dragging() (string, bool) {
	if e.drag == nil {
		return "", false
	}
	return e.drag.taskID, true
}

// Working returns a copy of the working snapshot.
func (e *Engine) Working() *Snapshot { return e.working.Clone() }

// Confirmed returns a copy of the confirmed snapshot.
func (e *Engine) Confirmed() *Snapshot { return e.confirmed.Clone() }

// Pending returns the number of dispatched commits not yet settled.
func (e *Engine) Pending() int { return e.inflight }

// Failures returns the number of failed commits settled so far.
func (e *Engine) Failures() int { return e.failures }

// DragStart begins dragging the task. An active drag is cancelled first.
func (e *Engine) DragStart(id string) error {
	if _, ok := e.working.Get(id); !ok {
		return fmt.Errorf("drag start %s: %w", id, domain.ErrNotFound)
	}
	if e.drag != nil {
		e.Cancel()
	}
	e.drag = &drag{taskID: id, origin: e.working.Clone()}
	return nil
}

// DragOver moves the dragged task to the slot under the pointer. A pointer
// outside every lane leaves the working snapshot as is and clears the drop
// target.
func (e *Engine) DragOver(over DragOver) error {
	if e.drag == nil {
		return ErrNotDragging
	}
	lane, index, ok, err := resolve(e.working, e.drag.taskID, over)
	if err != nil {
		return err
	}
	if !ok {
		e.drag.target = nil
		return nil
	}
	if err := e.working.Move(e.drag.taskID, lane, index); err != nil {
		return err
	}
	e.drag.target = &over
	return nil
}

// Nudge moves the dragged task one slot up or down inside its lane, or into
// the neighbouring lane keeping its index where the lane allows it. Moves
// past a boundary are clamped.
func (e *Engine) Nudge(dir Direction) error {
	if e.drag == nil {
		return ErrNotDragging
	}
	id := e.drag.taskID
	lane, err := e.working.LaneOf(id)
	if err != nil {
		return err
	}
	idx, err := e.working.IndexOf(id)
	if err != nil {
		return err
	}

	switch dir {
	case Up:
		if idx > 0 {
			idx--
		}
	case Down:
		if idx < len(e.working.laneIDs(lane, id)) {
			idx++
		}
	case Left, Right:
		li := lane.Index()
		if dir == Left {
			li--
		} else {
			li++
		}
		if li >= 0 && li < len(domain.Lanes) {
			lane = domain.Lanes[li]
			if n := len(e.working.laneIDs(lane, id)); idx > n {
				idx = n
			}
		}
	default:
		return fmt.Errorf("nudge: unknown %s", dir)
	}

	if err := e.working.Move(id, lane, idx); err != nil {
		return err
	}
	target := TargetAt(e.working, id, lane, idx)
	e.drag.target = &target
	return nil
}

// Cancel restores the working snapshot to the drag-start copy. It is a
// no-op when no drag is active.
func (e *Engine) Cancel() {
	if e.drag == nil {
		return
	}
	e.working = e.drag.origin
	e.drag = nil
}

// Drop ends the drag at over, or at the last target seen when over is nil.
// Without a target inside a lane the drag is cancelled. Otherwise the
// difference between the confirmed and working snapshots is submitted as a
// single bulk reposition request on ctx and Drop returns without waiting.
func (e *Engine) Drop(ctx context.Context, over *DragOver) (Outcome, error) {
	if e.drag == nil {
		return Cancelled, ErrNotDragging
	}
	target := over
	if target == nil {
		target = e.drag.target
	}
	if target == nil || target.Lane == "" {
		e.Cancel()
		return Cancelled, nil
	}

	id := e.drag.taskID
	lane, index, _, err := resolve(e.working, id, *target)
	if err == nil {
		err = e.working.Move(id, lane, index)
	}
	if err != nil {
		e.Cancel()
		return Cancelled, err
	}
	e.drag = nil

	changes := Diff(e.confirmed, e.working)
	if len(changes) == 0 {
		return Unchanged, nil
	}
	e.dispatch(ctx, changes)
	return Submitted, nil
}

func (e *Engine) dispatch(ctx context.Context, changes []domain.Change) {
	e.seq++
	seq := e.seq
	prev := e.tail
	done := make(chan struct{})
	e.tail = done
	e.inflight++

	e.logger.WithFields(log.Fields{
		"board":   e.boardID,
		"seq":     seq,
		"changes": len(changes),
	}).Debug("submitting bulk reposition")

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer close(done)
		if prev != nil {
			select {
			case <-prev:
			case <-e.closed:
				return
			}
		}
		err := e.store.BulkReposition(ctx, e.boardID, changes)
		select {
		case e.results <- CommitResult{Seq: seq, Changes: changes, Err: err}:
		case <-e.closed:
		}
	}()
}

// Results delivers commit resolutions in dispatch order. Each value must be
// passed to Settle on the engine's goroutine.
func (e *Engine) Results() <-chan CommitResult { return e.results }

// Settle applies a commit resolution. On success the committed changes
// become part of the confirmed snapshot. On failure the error is logged and
// returned wrapped in domain.ErrPersistence; with rollback enabled the
// working snapshot is restored to the confirmed one, cancelling any active
// drag.
func (e *Engine) Settle(res CommitResult) error {
	if e.inflight > 0 {
		e.inflight--
	}
	entry := e.logger.WithFields(log.Fields{
		"board":   e.boardID,
		"seq":     res.Seq,
		"changes": len(res.Changes),
	})
	if res.Err == nil {
		e.confirmed.Apply(res.Changes)
		if res.Seq <= e.rolledBack {
			e.restoreCommitted(res.Changes)
		}
		entry.Debug("bulk reposition committed")
		return nil
	}

	e.failures++
	if e.rollback {
		e.Cancel()
		e.working = e.confirmed.Clone()
		e.rolledBack = e.seq
		entry.WithError(res.Err).Warn("bulk reposition failed, working state rolled back")
	} else {
		entry.WithError(res.Err).Warn("bulk reposition failed, keeping optimistic state")
	}
	if errors.Is(res.Err, domain.ErrPersistence) {
		return fmt.Errorf("bulk reposition: %w", res.Err)
	}
	return fmt.Errorf("bulk reposition: %w: %w", domain.ErrPersistence, res.Err)
}

// restoreCommitted brings back changes the store accepted after a rollback
// had already discarded them locally.
func (e *Engine) restoreCommitted(changes []domain.Change) {
	if e.drag == nil && e.seq == e.rolledBack {
		e.working = e.confirmed.Clone()
		return
	}
	for _, s := range e.snapshots() {
		s.Apply(changes)
		s.Renumber(domain.Lanes...)
	}
}

// Insert adds a newly created task. The confirmed snapshot takes it as
// returned by the store; in the working snapshot it is appended to the end
// of its lane.
func (e *Engine) Insert(t domain.Task) {
	e.confirmed.Insert(t)
	for _, s := range e.snapshots() {
		s.Insert(t)
		if lane := t.Status; lane.Valid() {
			_ = s.Move(t.ID, lane, len(s.laneIDs(lane, t.ID)))
		}
	}
}

// Update replaces a task's content. Its lane and position in the working
// snapshot are kept.
func (e *Engine) Update(t domain.Task) error {
	if err := e.confirmed.Update(t); err != nil {
		return err
	}
	for _, s := range e.snapshots() {
		if cur, ok := s.Get(t.ID); ok {
			next := t
			next.Status, next.Position = cur.Status, cur.Position
			_ = s.Update(next)
		}
	}
	return nil
}

// Remove drops a deleted task. Dragging it cancels the drag.
func (e *Engine) Remove(id string) {
	if e.drag != nil && e.drag.taskID == id {
		e.Cancel()
	}
	e.confirmed.Remove(id)
	for _, s := range e.snapshots() {
		s.Remove(id)
	}
}

// Reload replaces both snapshots with tasks, cancelling any active drag.
func (e *Engine) Reload(tasks []domain.Task) {
	e.Cancel()
	e.confirmed = NewSnapshot(tasks)
	e.working = e.confirmed.Clone()
}

// Load fetches the board's tasks from the store and reloads.
func (e *Engine) Load(ctx context.Context) error {
	tasks, err := e.store.ListTasks(ctx, e.boardID)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	e.Reload(tasks)
	return nil
}

// Create stores a new task in lane and inserts it.
func (e *Engine) Create(ctx context.Context, title string, lane domain.Lane) (domain.Task, error) {
	t, err := e.store.CreateTask(ctx, e.boardID, title, lane)
	if err != nil {
		return domain.Task{}, fmt.Errorf("create task: %w", err)
	}
	e.Insert(t)
	return t, nil
}

func (e *Engine) snapshots() []*Snapshot {
	if e.drag != nil {
		return []*Snapshot{e.working, e.drag.origin}
	}
	return []*Snapshot{e.working}
}

// Close stops result delivery and waits for in-flight commits to return.
// Results not yet received are discarded.
func (e *Engine) Close() {
	e.once.Do(func() { close(e.closed) })
	e.wg.Wait()
}
