package messaging

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

var consumerTracer = otel.Tracer("messaging/consumer")

// Message is what handlers receive: the raw payload plus the event type
// header set by Producer.
type Message struct {
	Topic     string
	Key       string
	EventType string
	Payload   []byte
}

type HandlerFunc func(ctx context.Context, msg Message) error

// Skip marks a handler error as not worth retrying. The message is logged and
// committed.
func Skip(err error) error {
	return backoff.Permanent(err)
}

func IsSkip(err error) bool {
	var permanent *backoff.PermanentError
	return errors.As(err, &permanent)
}

type Consumer struct {
	reader        *kafka.Reader
	groupID       string
	logger        *slog.Logger
	retryInterval time.Duration
	retryElapsed  time.Duration
}

type ConsumerOption func(*Consumer, *kafka.ReaderConfig)

func WithStartOffset(offset int64) ConsumerOption {
	return func(_ *Consumer, cfg *kafka.ReaderConfig) {
		cfg.StartOffset = offset
	}
}

// WithRetry sets the backoff applied to a failing handler before Consume gives
// up and returns the error.
func WithRetry(initial, maxElapsed time.Duration) ConsumerOption {
	return func(c *Consumer, _ *kafka.ReaderConfig) {
		c.retryInterval = initial
		c.retryElapsed = maxElapsed
	}
}

func WithLogger(logger *slog.Logger) ConsumerOption {
	return func(c *Consumer, _ *kafka.ReaderConfig) {
		c.logger = logger
	}
}

func NewConsumer(brokers []string, topic, groupID string, opts ...ConsumerOption) *Consumer {
	return newConsumer(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: groupID,
	}, opts)
}

// NewGroupConsumer reads several topics through one group membership, so a
// single reader joins and rebalances for all of them.
func NewGroupConsumer(brokers, topics []string, groupID string, opts ...ConsumerOption) *Consumer {
	return newConsumer(kafka.ReaderConfig{
		Brokers:     brokers,
		GroupTopics: topics,
		GroupID:     groupID,
	}, opts)
}

func newConsumer(cfg kafka.ReaderConfig, opts []ConsumerOption) *Consumer {
	c := &Consumer{
		groupID:       cfg.GroupID,
		logger:        slog.Default(),
		retryInterval: 500 * time.Millisecond,
		retryElapsed:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(c, &cfg)
	}

	c.reader = kafka.NewReader(cfg)
	return c
}

func (c *Consumer) Consume(ctx context.Context, handler HandlerFunc) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			return err
		}

		if err := c.processMessage(ctx, msg, handler); err != nil {
			return err
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			return err
		}
	}
}

func (c *Consumer) processMessage(ctx context.Context, msg kafka.Message, handler HandlerFunc) error {
	parentCtx := otel.GetTextMapPropagator().Extract(ctx, carrierFor(&msg))

	spanCtx, span := consumerTracer.Start(parentCtx, "process "+msg.Topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingOperationName("process"),
			semconv.MessagingOperationTypeDeliver,
			semconv.MessagingDestinationName(msg.Topic),
			semconv.MessagingKafkaConsumerGroup(c.groupID),
			semconv.MessagingKafkaMessageOffset(int(msg.Offset)),
			semconv.MessagingDestinationPartitionID(strconv.Itoa(msg.Partition)),
			semconv.MessagingKafkaMessageKey(string(msg.Key)),
		),
	)
	defer span.End()

	m := Message{
		Topic:     msg.Topic,
		Key:       string(msg.Key),
		EventType: carrierFor(&msg).Get(EventTypeHeader),
		Payload:   msg.Value,
	}

	err := runWithRetry(spanCtx, c.retryInterval, c.retryElapsed, func() error {
		return handler(spanCtx, m)
	})
	if err == nil {
		return nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		c.logger.Error("skipping message", "error", permanent.Err, "topic", msg.Topic,
			"offset", msg.Offset, "key", string(msg.Key))
		return nil
	}

	return err
}

func runWithRetry(ctx context.Context, initial, maxElapsed time.Duration, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxElapsedTime = maxElapsed

	var permanent *backoff.PermanentError
	err := backoff.Retry(func() error {
		err := op()
		if errors.As(err, &permanent) {
			// Retry unwraps Permanent; keep the marker so the caller can tell.
			return backoff.Permanent(permanent)
		}
		return err
	}, backoff.WithContext(b, ctx))
	return err
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
