package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PassTopic is the queue scheduling-pass requests travel on.
const PassTopic = "campaign_schedule"

// DefaultMaxRetries bounds redelivery of a failing pass request.
const DefaultMaxRetries = 3

// PassRequest asks a worker to run a scheduling pass. A nil CampaignID
// means a sweep over every campaign active on Date.
type PassRequest struct {
	CampaignID *uuid.UUID `json:"campaign_id,omitempty"`
	Date       string     `json:"date"`
}

func (r PassRequest) String() string {
	if r.CampaignID == nil {
		return "sweep@" + r.Date
	}
	return r.CampaignID.String() + "@" + r.Date
}

func encodePass(r PassRequest) ([]byte, error) {
	return json.Marshal(r)
}

func decodePass(body []byte) (PassRequest, error) {
	var r PassRequest
	if err := json.Unmarshal(body, &r); err != nil {
		return r, fmt.Errorf("decode pass request: %w", err)
	}
	return r, nil
}

// PassHandler runs one pass request. A returned error triggers a retry.
type PassHandler func(ctx context.Context, req PassRequest) error

// PassQueue carries scheduling-pass requests from producers (API, beat)
// to workers.
type PassQueue interface {
	Publish(ctx context.Context, req PassRequest) error
	// Consume blocks, feeding requests to handler until ctx is done.
	Consume(ctx context.Context, handler PassHandler) error
}

// passJob wraps a request with retry info.
type passJob struct {
	req        PassRequest
	retryCount int
}

// InMemoryPassQueue is an in-process PassQueue with retry.
type InMemoryPassQueue struct {
	jobs       chan passJob
	log        *zap.Logger
	maxRetries int
	backoff    time.Duration

	wg sync.WaitGroup
}

func NewInMemoryPassQueue(log *zap.Logger, buffer int) *InMemoryPassQueue {
	if buffer <= 0 {
		buffer = 64
	}
	return &InMemoryPassQueue{
		jobs:       make(chan passJob, buffer),
		log:        log,
		maxRetries: DefaultMaxRetries,
		backoff:    500 * time.Millisecond,
	}
}

// WithBackoff sets the base delay between retries.
func (q *InMemoryPassQueue) WithBackoff(d time.Duration) *InMemoryPassQueue {
	q.backoff = d
	return q
}

func (q *InMemoryPassQueue) Publish(ctx context.Context, req PassRequest) error {
	select {
	case q.jobs <- passJob{req: req}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *InMemoryPassQueue) Consume(ctx context.Context, handler PassHandler) error {
	defer q.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-q.jobs:
			q.wg.Add(1)
			go func() {
				defer q.wg.Done()
				q.processJob(ctx, handler, job)
			}()
		}
	}
}

// processJob handles retries with linear backoff between attempts.
func (q *InMemoryPassQueue) processJob(ctx context.Context, handler PassHandler, job passJob) {
	for {
		err := handler(ctx, job.req)
		if err == nil {
			q.log.Debug("pass request processed", zap.Stringer("request", job.req))
			return
		}

		job.retryCount++
		if job.retryCount > q.maxRetries {
			q.log.Error("pass request permanently failed",
				zap.Stringer("request", job.req), zap.Int("attempts", job.retryCount), zap.Error(err))
			return
		}
		q.log.Warn("pass request failed, retrying",
			zap.Stringer("request", job.req), zap.Int("attempt", job.retryCount), zap.Error(err))

		select {
		case <-time.After(time.Duration(job.retryCount) * q.backoff):
		case <-ctx.Done():
			return
		}
	}
}

var _ PassQueue = (*InMemoryPassQueue)(nil)
