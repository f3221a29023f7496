package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	"golang.org/x/sync/errgroup"

	"github.com/eishaa-e/flowboard/domain"
)

type queueClient interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// Queue publishes domain events to an Azure Storage queue.
type Queue struct {
	client      queueClient
	concurrency int
}

// NewQueue creates a Queue publisher from a storage connection string.
func NewQueue(connStr, queueName string, concurrency int) (*Queue, error) {
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	client, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, &opts)
	if err != nil {
		return nil, err
	}
	return newQueue(client, concurrency), nil
}

func newQueue(client queueClient, concurrency int) *Queue {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Queue{client: client, concurrency: concurrency}
}

// Publish enqueues one message per event, at most concurrency at a time.
// The first failure cancels the remaining sends.
func (q *Queue) Publish(ctx context.Context, events ...domain.Event) error {
	payloads := make([]string, len(events))
	for i, ev := range events {
		data, err := sonic.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", ev.ID, err)
		}
		payloads[i] = string(data)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(q.concurrency)
	for i, payload := range payloads {
		id := events[i].ID
		g.Go(func() error {
			if _, err := q.client.EnqueueMessage(ctx, payload, nil); err != nil {
				return fmt.Errorf("enqueue event %s: %w", id, err)
			}
			return nil
		})
	}
	return g.Wait()
}
