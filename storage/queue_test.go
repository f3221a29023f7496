package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"

	"github.com/eishaa-e/flowboard/domain"
)

type fakeQueue struct {
	mu       sync.Mutex
	inFlight int
	max      int
	count    int
	failAt   int
	sleep    time.Duration
	messages []string
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{failAt: -1, sleep: 1 * time.Millisecond}
}

func (f *fakeQueue) EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error) {
	f.mu.Lock()
	idx := f.count
	f.count++
	f.inFlight++
	if f.inFlight > f.max {
		f.max = f.inFlight
	}
	f.mu.Unlock()

	if f.sleep > 0 {
		select {
		case <-time.After(f.sleep):
		case <-ctx.Done():
			f.mu.Lock()
			f.inFlight--
			f.mu.Unlock()
			return azqueue.EnqueueMessagesResponse{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight--
	if f.failAt >= 0 && idx == f.failAt {
		return azqueue.EnqueueMessagesResponse{}, errors.New("enqueue failure")
	}
	f.messages = append(f.messages, content)
	return azqueue.EnqueueMessagesResponse{}, nil
}

func testEvents(n int) []domain.Event {
	events := make([]domain.Event, n)
	for i := range events {
		events[i] = domain.Event{ID: fmt.Sprintf("ev-%d", i), Type: domain.TaskCreated, EntityType: "task", BoardID: "b1"}
	}
	return events
}

func TestQueuePublishUsesConcurrency(t *testing.T) {
	fq := newFakeQueue()
	q := newQueue(fq, 4)
	events := testEvents(8)

	if err := q.Publish(context.Background(), events...); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if fq.max < 2 {
		t.Fatalf("expected concurrent sends, max in flight: %d", fq.max)
	}
	if fq.count != len(events) {
		t.Fatalf("expected %d sends, got %d", len(events), fq.count)
	}

	var ev domain.Event
	if err := sonic.UnmarshalString(fq.messages[0], &ev); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if ev.Type != domain.TaskCreated || ev.BoardID != "b1" {
		t.Fatalf("unexpected message %+v", ev)
	}
}

func TestQueuePublishPropagatesErrors(t *testing.T) {
	fq := newFakeQueue()
	fq.failAt = 2
	q := newQueue(fq, 3)

	if err := q.Publish(context.Background(), testEvents(6)...); err == nil {
		t.Fatal("expected error")
	}
}

func TestQueuePublishSequentialWhenConfigured(t *testing.T) {
	fq := newFakeQueue()
	q := newQueue(fq, 0)

	if err := q.Publish(context.Background(), testEvents(5)...); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if fq.max != 1 {
		t.Fatalf("expected sequential sends, observed max in flight: %d", fq.max)
	}
}
