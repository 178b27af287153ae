package queue

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

const retryHeader = "x-retry-count"

// DefaultRetryDelay is the base wait before a failed pass request is
// redelivered. The nth retry waits n times as long.
const DefaultRetryDelay = 10 * time.Second

// AMQPPassQueue carries pass requests over a durable RabbitMQ queue with
// manual acks. Failed requests wait out their delay in a retry queue whose
// expired messages dead-letter back onto the main queue.
type AMQPPassQueue struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	name       string
	retryName  string
	retryDelay time.Duration
	log        *zap.Logger

	// amqp channels are not safe for concurrent publishing
	pubMu sync.Mutex
}

func DialAMQPPassQueue(url string, log *zap.Logger) (*AMQPPassQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	q, err := ch.QueueDeclare(
		PassTopic, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	retry, err := ch.QueueDeclare(
		PassTopic+".retry",
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": q.Name,
		},
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare retry queue: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}

	return &AMQPPassQueue{
		conn:       conn,
		ch:         ch,
		name:       q.Name,
		retryName:  retry.Name,
		retryDelay: DefaultRetryDelay,
		log:        log,
	}, nil
}

// WithRetryDelay sets the base redelivery delay.
func (q *AMQPPassQueue) WithRetryDelay(d time.Duration) *AMQPPassQueue {
	q.retryDelay = d
	return q
}

func (q *AMQPPassQueue) Publish(_ context.Context, req PassRequest) error {
	msg, err := passPublishing(req, 0, 0)
	if err != nil {
		return err
	}
	return q.publish(q.name, msg)
}

// requeue parks req on the retry queue until its delay has passed.
func (q *AMQPPassQueue) requeue(req PassRequest, retryCount int32) error {
	msg, err := passPublishing(req, retryCount, retryDelay(retryCount, q.retryDelay))
	if err != nil {
		return err
	}
	return q.publish(q.retryName, msg)
}

func (q *AMQPPassQueue) publish(queue string, msg amqp.Publishing) error {
	q.pubMu.Lock()
	defer q.pubMu.Unlock()
	return q.ch.Publish("", queue, false, false, msg)
}

func passPublishing(req PassRequest, retryCount int32, delay time.Duration) (amqp.Publishing, error) {
	body, err := encodePass(req)
	if err != nil {
		return amqp.Publishing{}, err
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Headers:      amqp.Table{retryHeader: retryCount},
		Body:         body,
	}
	if delay > 0 {
		msg.Expiration = strconv.FormatInt(delay.Milliseconds(), 10)
	}
	return msg, nil
}

// retryDelay grows linearly with the retry number.
func retryDelay(retryCount int32, base time.Duration) time.Duration {
	if retryCount < 1 {
		return 0
	}
	return time.Duration(retryCount) * base
}

func (q *AMQPPassQueue) Consume(ctx context.Context, handler PassHandler) error {
	msgs, err := q.ch.Consume(
		q.name,
		"",
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			q.handle(ctx, d, handler)
		}
	}
}

func (q *AMQPPassQueue) handle(ctx context.Context, d amqp.Delivery, handler PassHandler) {
	req, err := decodePass(d.Body)
	if err != nil {
		q.log.Warn("dropping invalid pass request", zap.Error(err))
		d.Ack(false)
		return
	}

	if err := handler(ctx, req); err != nil {
		retryCount := retriesOf(d.Headers)
		if retryCount < DefaultMaxRetries {
			q.log.Warn("pass request failed, requeueing",
				zap.Stringer("request", req), zap.Int32("retry", retryCount+1), zap.Error(err))
			// Republish with a bumped counter; a plain Nack would loop forever.
			if perr := q.requeue(req, retryCount+1); perr != nil {
				q.log.Error("requeue failed", zap.Error(perr))
				d.Nack(false, true)
				return
			}
		} else {
			q.log.Error("pass request permanently failed", zap.Stringer("request", req), zap.Error(err))
		}
	}
	d.Ack(false)
}

func retriesOf(h amqp.Table) int32 {
	switch v := h[retryHeader].(type) {
	case int32:
		return v
	case int64:
		return int32(v)
	case int:
		return int32(v)
	case int16:
		return int32(v)
	case int8:
		return int32(v)
	}
	return 0
}

func (q *AMQPPassQueue) Close() error {
	if err := q.ch.Close(); err != nil {
		q.conn.Close()
		return err
	}
	return q.conn.Close()
}

var _ PassQueue = (*AMQPPassQueue)(nil)
