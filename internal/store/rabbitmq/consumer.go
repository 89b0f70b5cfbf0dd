package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/suPer8Hu/echoroom/internal/chat"
)

const (
	attemptHeader = "x-attempt"
	maxAttempts   = 3
	retryDelay    = 2 * time.Second
)

var errBadMessage = errors.New("bad message")

// Handler processes one decoded event.
type Handler func(ctx context.Context, ev chat.MessageCreated) error

// retrier schedules a failed delivery for another attempt.
type retrier interface {
	retry(ctx context.Context, d amqp.Delivery, attempt int) error
}

type Consumer struct {
	conn        *amqp.Connection
	ch          *amqp.Channel
	queue       string
	concurrency int
	handle      Handler
	logger      zerolog.Logger
}

func NewConsumer(url, queue string, concurrency int, handle Handler, logger zerolog.Logger) (*Consumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbit dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbit channel: %w", err)
	}
	if err := declareTopology(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	// prefetch bounds in-flight deliveries to the pool size
	if err := ch.Qos(concurrency, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("qos: %w", err)
	}
	return &Consumer{
		conn:        conn,
		ch:          ch,
		queue:       queue,
		concurrency: concurrency,
		handle:      handle,
		logger:      logger,
	}, nil
}

func (c *Consumer) Close() error {
	_ = c.ch.Close()
	return c.conn.Close()
}

// Run dispatches deliveries to a fixed pool of workers until ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	msgs, err := c.ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	c.logger.Info().Str("queue", c.queue).Int("concurrency", c.concurrency).Msg("worker started")

	jobs := make(chan amqp.Delivery, c.concurrency*2)
	var wg sync.WaitGroup
	wg.Add(c.concurrency)
	for i := 0; i < c.concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			log := c.logger.With().Int("worker", workerID).Logger()
			for d := range jobs {
				process(ctx, d, c.handle, c, log)
			}
		}(i)
	}

	defer func() {
		close(jobs)
		wg.Wait()
	}()
	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("worker shutting down")
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("delivery channel closed")
			}
			jobs <- d
		}
	}
}

func (c *Consumer) retry(ctx context.Context, d amqp.Delivery, attempt int) error {
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.ch.PublishWithContext(cctx, "", c.queue+".retry", false, false, amqp.Publishing{
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    d.MessageId,
		Type:         d.Type,
		Headers:      amqp.Table{attemptHeader: int32(attempt)},
		Expiration:   fmt.Sprintf("%d", retryDelay.Milliseconds()),
		Body:         d.Body,
		Timestamp:    time.Now(),
	})
}

func decode(body []byte) (chat.MessageCreated, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return chat.MessageCreated{}, fmt.Errorf("%w: %v", errBadMessage, err)
	}
	if env.Type != EventMessageCreated || env.Payload.RoomID == "" || env.Payload.MessageID == "" {
		return chat.MessageCreated{}, fmt.Errorf("%w: type=%q", errBadMessage, env.Type)
	}
	return env.Payload, nil
}

func attemptOf(d amqp.Delivery) int {
	switch v := d.Headers[attemptHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// process acks a handled delivery, sends undecodable ones to the DLQ and
// schedules failed ones for a retry until maxAttempts is reached.
func process(ctx context.Context, d amqp.Delivery, handle Handler, r retrier, log zerolog.Logger) {
	ev, err := decode(d.Body)
	if err != nil {
		log.Warn().Err(err).Str("message_id", d.MessageId).Msg("dropping delivery")
		_ = d.Nack(false, false)
		return
	}

	start := time.Now()
	if err := handle(ctx, ev); err != nil {
		attempt := attemptOf(d) + 1
		log.Warn().Err(err).
			Str("message_id", ev.MessageID).
			Int("attempt", attempt).
			Dur("cost", time.Since(start)).
			Msg("handle failed")
		if attempt < maxAttempts {
			if rerr := r.retry(ctx, d, attempt); rerr == nil {
				_ = d.Ack(false)
				return
			}
		}
		_ = d.Nack(false, false)
		return
	}

	if err := d.Ack(false); err != nil {
		log.Error().Err(err).Str("message_id", ev.MessageID).Msg("ack failed")
	}
}
