package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestInMemoryPassQueueRetriesThenSucceeds(t *testing.T) {
	q := NewInMemoryPassQueue(zap.NewNop(), 4).WithBackoff(time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	id := uuid.New()
	var calls atomic.Int32
	done := make(chan PassRequest, 1)

	consumed := make(chan error, 1)
	go func() {
		consumed <- q.Consume(ctx, func(_ context.Context, req PassRequest) error {
			if calls.Add(1) < 3 {
				return errors.New("db down")
			}
			done <- req
			return nil
		})
	}()

	require.NoError(t, q.Publish(ctx, PassRequest{CampaignID: &id, Date: "2025-03-18"}))

	select {
	case req := <-done:
		assert.Equal(t, id, *req.CampaignID)
	case <-time.After(2 * time.Second):
		t.Fatal("request was not processed")
	}
	assert.Equal(t, int32(3), calls.Load())

	cancel()
	require.NoError(t, <-consumed)
}

func TestInMemoryPassQueueGivesUp(t *testing.T) {
	q := NewInMemoryPassQueue(zap.NewNop(), 1).WithBackoff(time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	var calls atomic.Int32
	consumed := make(chan error, 1)
	go func() {
		consumed <- q.Consume(ctx, func(context.Context, PassRequest) error {
			calls.Add(1)
			return errors.New("always")
		})
	}()

	require.NoError(t, q.Publish(ctx, PassRequest{Date: "2025-03-18"}))
	assert.Eventually(t, func() bool { return calls.Load() == DefaultMaxRetries+1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-consumed)
	assert.Equal(t, int32(DefaultMaxRetries+1), calls.Load())
}

func TestPassRequestCodec(t *testing.T) {
	id := uuid.New()
	body, err := encodePass(PassRequest{CampaignID: &id, Date: "2025-03-18"})
	require.NoError(t, err)

	req, err := decodePass(body)
	require.NoError(t, err)
	assert.Equal(t, id.String()+"@2025-03-18", req.String())

	sweep, err := decodePass([]byte(`{"date":"2025-03-18"}`))
	require.NoError(t, err)
	assert.Equal(t, "sweep@2025-03-18", sweep.String())

	_, err = decodePass([]byte("nope"))
	assert.Error(t, err)
}

func TestRetriesOf(t *testing.T) {
	assert.Equal(t, int32(0), retriesOf(nil))
	assert.Equal(t, int32(2), retriesOf(amqp.Table{retryHeader: int32(2)}))
	assert.Equal(t, int32(3), retriesOf(amqp.Table{retryHeader: int64(3)}))
	assert.Equal(t, int32(0), retriesOf(amqp.Table{retryHeader: "x"}))
}

func TestRetryPublishingWaitsLonger(t *testing.T) {
	req := PassRequest{Date: "2025-03-18"}

	first, err := passPublishing(req, 0, retryDelay(0, 10*time.Second))
	require.NoError(t, err)
	assert.Empty(t, first.Expiration, "a fresh request is delivered at once")

	var expirations []string
	for n := int32(1); n <= DefaultMaxRetries; n++ {
		msg, err := passPublishing(req, n, retryDelay(n, 10*time.Second))
		require.NoError(t, err)
		assert.Equal(t, n, retriesOf(msg.Headers))
		expirations = append(expirations, msg.Expiration)
	}
	assert.Equal(t, []string{"10000", "20000", "30000"}, expirations)
}
