// Package consumer applies events from other services, committing each message only after it
// was handled or found unprocessable.
package consumer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/md-rashed-zaman/spabook/libs/kafkax"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/apperr"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Handler func(ctx context.Context, meta kafkax.EventMeta, msg kafka.Message) error

// MessageReader is the part of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	reader   MessageReader
	logger   *slog.Logger
	handlers map[string]Handler
	maxRetry time.Duration
}

func New(reader MessageReader, logger *slog.Logger) *Consumer {
	return &Consumer{
		reader:   reader,
		logger:   logger,
		handlers: make(map[string]Handler),
		maxRetry: 30 * time.Second,
	}
}

// Handle routes messages whose event type (or topic) equals eventType to h.
func (c *Consumer) Handle(eventType string, h Handler) {
	c.handlers[eventType] = h
}

func (c *Consumer) Run(ctx context.Context) {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka read error", "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		if err := c.process(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("event dropped after retries", "topic", msg.Topic, "offset", msg.Offset, "err", err)
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("kafka commit failed", "topic", msg.Topic, "offset", msg.Offset, "err", err)
		}
	}
}

// process runs the handler, retrying infrastructure failures and busy signals with backoff.
// Business rejections are logged and not retried.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) error {
	ctxMsg := kafkax.ExtractTraceContext(ctx, msg)
	ctxSpan, span := otel.Tracer("kafka").Start(ctxMsg, "kafka.consume",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
		),
	)
	defer span.End()

	meta := kafkax.ExtractEventMeta(msg)
	h, ok := c.handlers[meta.EventType]
	if !ok {
		c.logger.Warn("no handler for event", "event_type", meta.EventType, "event_id", meta.EventID)
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second

	_, err := backoff.Retry(ctxSpan, func() (struct{}, error) {
		err := h(ctxSpan, meta, msg)
		if err == nil {
			return struct{}{}, nil
		}
		if apperr.KindOf(err) != "" && !apperr.Retryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		c.logger.Warn("event handler failed, retrying", "event_id", meta.EventID, "err", err)
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(c.maxRetry))

	var rejected *apperr.Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &rejected) && !apperr.Retryable(err):
		c.logger.Info("event rejected", "event_id", meta.EventID, "event_type", meta.EventType, "kind", rejected.Kind, "err", err)
		return nil
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
}
