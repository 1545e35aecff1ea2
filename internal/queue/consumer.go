package queue

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/signalrun/internal/errs"
	"github.com/sawpanic/signalrun/internal/models"
	"github.com/sawpanic/signalrun/internal/telemetry"
)

// Handler processes one dequeued message.
type Handler func(ctx context.Context, msg models.ProcessedMessage) error

// Consumer failure thresholds.
const (
	backoffAfter = 10 // consecutive failures before backoff kicks in
	fatalAfter   = 20 // consecutive failures before requesting shutdown

	consumerBaseBackoff = time.Second
	consumerMaxBackoff  = 60 * time.Second
)

// Consumer drains the queue into a handler. Transient handler errors are
// counted; sustained failure escalates to backoff and finally to a fatal
// callback that requests shutdown.
type Consumer struct {
	queue       *Queue
	handler     Handler
	metrics     *telemetry.Metrics
	onFatal     func(error)
	baseBackoff time.Duration
}

// NewConsumer builds a consumer. onFatal may be nil.
func NewConsumer(q *Queue, handler Handler, metrics *telemetry.Metrics, onFatal func(error)) *Consumer {
	if metrics == nil {
		metrics = telemetry.Nop()
	}
	return &Consumer{
		queue:       q,
		handler:     handler,
		metrics:     metrics,
		onFatal:     onFatal,
		baseBackoff: consumerBaseBackoff,
	}
}

// Run consumes until cancellation or fatal failure. On cancellation the
// queue stops accepting enqueues and remaining items are drained
// best-effort before Run returns nil.
func (c *Consumer) Run(ctx context.Context) error {
	consecutive := 0

	for {
		msg, err := c.queue.Get(ctx)
		if err != nil {
			if errs.IsCancelled(err) || errors.Is(err, errs.ErrShuttingDown) {
				c.shutdownDrain()
				return nil
			}
			return err
		}

		if err := c.handler(ctx, msg); err != nil {
			if errs.IsCancelled(err) {
				c.shutdownDrain()
				return nil
			}

			consecutive++
			c.metrics.ConsumerFailures.Inc()
			log.Error().Err(err).
				Int64("message_id", msg.Event.MessageID).
				Int("consecutive", consecutive).
				Msg("consumer callback failed")

			if consecutive >= fatalAfter {
				fatal := errs.E(errs.KindFatal, "queue.Consumer", err)
				if c.onFatal != nil {
					c.onFatal(fatal)
				}
				return fatal
			}
			if consecutive >= backoffAfter {
				if !c.backoff(ctx, consecutive-backoffAfter) {
					c.shutdownDrain()
					return nil
				}
			}
			continue
		}
		consecutive = 0
	}
}

// backoff sleeps exponentially, capped. Returns false if ctx was cancelled
// during the sleep.
func (c *Consumer) backoff(ctx context.Context, exp int) bool {
	d := c.baseBackoff << exp
	if d > consumerMaxBackoff || d <= 0 {
		d = consumerMaxBackoff
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// shutdownDrain closes the queue and processes what is already buffered.
// Errors here are logged only; shutdown never re-queues.
func (c *Consumer) shutdownDrain() {
	c.queue.Close()
	drained := 0
	for {
		msg, ok := c.queue.TryGet()
		if !ok {
			break
		}
		if err := c.handler(context.Background(), msg); err != nil {
			log.Warn().Err(err).Int64("message_id", msg.Event.MessageID).Msg("drain callback failed")
		}
		drained++
	}
	if drained > 0 {
		log.Info().Int("drained", drained).Msg("queue drained on shutdown")
	}
}
