package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/eishaa-e/flowboard/domain"
)

// Fanout publishes every event to each publisher in turn.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, events ...domain.Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, events...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SenderConfig sizes the event sender's worker pool.
type SenderConfig struct {
	Workers        int
	Buffer         int
	Timeout        time.Duration
	HandoffTimeout time.Duration
}

// EventSender publishes events on a pool of workers. When the buffer stays
// full past the hand-off timeout the batch is published inline.
type EventSender struct {
	pub            Publisher
	log            *log.Logger
	jobs           chan []domain.Event
	timeout        time.Duration
	handoffTimeout time.Duration
	wg             sync.WaitGroup
	closeOnce      sync.Once
}

// NewEventSender starts cfg.Workers workers publishing to pub.
func NewEventSender(pub Publisher, logger *log.Logger, cfg SenderConfig) *EventSender {
	if logger == nil {
		panic("Logger is not initialized")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Buffer < 0 {
		cfg.Buffer = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	s := &EventSender{
		pub:            pub,
		log:            logger,
		jobs:           make(chan []domain.Event, cfg.Buffer),
		timeout:        cfg.Timeout,
		handoffTimeout: cfg.HandoffTimeout,
	}
	for i := 0; i < cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	logger.Infof("event sender started, workers: %d, buffer: %d, timeout: %v, handoff: %v", cfg.Workers, cfg.Buffer, cfg.Timeout, cfg.HandoffTimeout)
	return s
}

func (s *EventSender) worker(id int) {
	defer s.wg.Done()
	for batch := range s.jobs {
		if err := s.publish(batch); err != nil {
			s.log.Errorf("publish failed, err: %v, count: %d, worker: %d", err, len(batch), id)
		}
	}
}

func (s *EventSender) publish(batch []domain.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.pub.Publish(ctx, batch...)
}

// Send hands the events to a worker, falling back to publishing inline.
func (s *EventSender) Send(events ...domain.Event) {
	if len(events) == 0 {
		return
	}
	if s.tryEnqueue(events) {
		return
	}
	s.log.Warn("event buffer saturated; publishing inline")
	if err := s.publish(events); err != nil {
		s.log.Errorf("publish inline failed, err: %v, count: %d", err, len(events))
	}
}

func (s *EventSender) tryEnqueue(batch []domain.Event) bool {
	if ok, closed := trySendNonBlocking(s.jobs, batch); closed {
		return false
	} else if ok {
		return true
	}

	if s.handoffTimeout <= 0 {
		return false
	}

	timer := time.NewTimer(s.handoffTimeout)
	defer timer.Stop()

	ok, _ := sendWithTimer(s.jobs, batch, timer.C)
	return ok
}

// Close stops accepting work and waits for queued batches to drain.
func (s *EventSender) Close() {
	s.closeOnce.Do(func() { close(s.jobs) })
	s.wg.Wait()
}

func trySendNonBlocking(ch chan []domain.Event, batch []domain.Event) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- batch:
		return true, false
	default:
		return false, false
	}
}

func sendWithTimer(ch chan []domain.Event, batch []domain.Event, timer <-chan time.Time) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- batch:
		return true, false
	case <-timer:
		return false, false
	}
}

func newEvent(typ, entityType, entityID, boardID, userID string, data any) domain.Event {
	ev := domain.Event{
		ID:         uuid.NewString(),
		Type:       typ,
		EntityType: entityType,
		EntityID:   entityID,
		BoardID:    boardID,
		UserID:     userID,
		Time:       time.Now().UnixMilli(),
	}
	if data != nil {
		if raw, err := sonic.Marshal(data); err == nil {
			ev.Data = raw
		}
	}
	return ev
}
