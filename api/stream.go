package api

import (
	"context"
	"net/http"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"

	"github.com/eishaa-e/flowboard/domain"
	"github.com/eishaa-e/flowboard/storage"
)

// Broker fans board change notifications out to open streams.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[chan struct{}]struct{})}
}

func (b *Broker) subscribe(boardID string) chan struct{} {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	if b.subs[boardID] == nil {
		b.subs[boardID] = make(map[chan struct{}]struct{})
	}
	b.subs[boardID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) unsubscribe(boardID string, ch chan struct{}) {
	b.mu.Lock()
	delete(b.subs[boardID], ch)
	if len(b.subs[boardID]) == 0 {
		delete(b.subs, boardID)
	}
	b.mu.Unlock()
}

// Notify wakes every stream of the board. Pending wake-ups coalesce.
func (b *Broker) Notify(boardID string) {
	b.mu.Lock()
	for ch := range b.subs[boardID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	b.mu.Unlock()
}

// HandleUpdate adapts Notify to storage.SubscribeUpdates.
func (b *Broker) HandleUpdate(u storage.BoardUpdate) {
	b.Notify(u.BoardID)
}

// Publish notifies local streams directly, for deployments without Redis.
func (b *Broker) Publish(_ context.Context, events ...domain.Event) error {
	for _, ev := range events {
		if ev.BoardID != "" {
			b.Notify(ev.BoardID)
		}
	}
	return nil
}

func (s *server) streamTasks(c echo.Context) error {
	header := authHeader(c.Request())
	if token := c.QueryParam("token"); header == "" && token != "" {
		header = "Bearer " + token
	}
	userID, err := s.auth.UserIDFromAuthHeader(header)
	if err != nil {
		metricsFrom(c).SetErrorStage("auth")
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
	}
	ctx := c.Request().Context()
	boardID := c.Param("boardId")
	if _, err := s.ownedBoard(ctx, userID, boardID); err != nil {
		return s.fail(c, err)
	}

	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
	c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return c.String(http.StatusInternalServerError, "stream unsupported")
	}
	ch := s.broker.subscribe(boardID)
	defer s.broker.unsubscribe(boardID, ch)
	for {
		tasks, err := s.store.ListTasks(ctx, boardID)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.WithError(err).WithField("board", boardID).Error("stream fetch failed")
			return err
		}
		data, err := sonic.Marshal(tasks)
		if err != nil {
			return err
		}
		if _, err := c.Response().Write([]byte("data: ")); err != nil {
			return nil
		}
		if _, err := c.Response().Write(data); err != nil {
			return nil
		}
		if _, err := c.Response().Write([]byte("\n\n")); err != nil {
			return nil
		}
		flusher.Flush()
		select {
		case <-ctx.Done():
			return nil
		case <-ch:
		}
	}
}
