package api

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/eishaa-e/flowboard/domain"
	"github.com/eishaa-e/flowboard/storage"
)

func readSnapshot(t *testing.T, r *bufio.Reader) []domain.Task {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		if data, ok := strings.CutPrefix(strings.TrimSpace(line), "data: "); ok {
			var tasks []domain.Task
			if err := sonic.UnmarshalString(data, &tasks); err != nil {
				t.Fatalf("decode snapshot %q: %v", data, err)
			}
			return tasks
		}
	}
}

func TestStreamTasksPushesSnapshots(t *testing.T) {
	store, err := storage.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	logger, _ := test.NewNullLogger()
	broker := NewBroker()
	sender := NewEventSender(broker, logger, SenderConfig{Workers: 1, Buffer: 4})
	t.Cleanup(sender.Close)

	a := &testAPI{e: echo.New(), store: store, sink: &recordingSink{}, auth: NewAuth(AuthConfig{Secret: []byte("test-secret")}), logger: logger}
	Register(a.e, Config{Store: store, Auth: a.auth, Events: sender, Broker: broker, Logger: logger})
	token := a.session(t, "ada@example.com")
	b := a.seedBoard(t, token)

	srv := httptest.NewServer(a.e)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/api/boards/missing/stream?token=" + token)
	if err != nil {
		t.Fatalf("get stream: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown board, got %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/boards/"+b.ID+"/stream?token="+token, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get(echo.HeaderContentType); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	r := bufio.NewReader(resp.Body)
	if tasks := readSnapshot(t, r); len(tasks) != 0 {
		t.Fatalf("expected empty board, got %+v", tasks)
	}

	created := a.createTask(t, token, b.ID, "Streamed", domain.LaneInProgress)
	tasks := readSnapshot(t, r)
	if len(tasks) != 1 || tasks[0].ID != created.ID || tasks[0].Status != domain.LaneInProgress {
		t.Fatalf("unexpected snapshot %+v", tasks)
	}

	cancel()
	deadline := time.Now().Add(time.Second)
	for {
		broker.mu.Lock()
		open := len(broker.subs)
		broker.mu.Unlock()
		if open == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("stream subscription not released after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestBrokerCoalescesNotifications(t *testing.T) {
	b := NewBroker()
	ch := b.subscribe("b1")
	b.Notify("b1")
	b.Notify("b1")
	if err := b.Publish(context.Background(), domain.Event{BoardID: "b1"}, domain.Event{}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	b.HandleUpdate(storage.BoardUpdate{BoardID: "b1"})
	if len(ch) != 1 {
		t.Fatalf("expected a single pending wake-up, got %d", len(ch))
	}
	b.unsubscribe("b1", ch)
	b.Notify("b1")
	if _, ok := b.subs["b1"]; ok {
		t.Fatal("expected board to be removed after last unsubscribe")
	}
}
