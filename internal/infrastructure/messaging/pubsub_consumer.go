// Package messaging feeds batches delivered over Google Cloud Pub/Sub to
// the ingestion service.
package messaging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"
	"unicode/utf8"

	"cloud.google.com/go/pubsub"
	"github.com/erp/costalloc/internal/domain/ingest"
	"github.com/erp/costalloc/internal/domain/shared"
	"github.com/erp/costalloc/internal/infrastructure/config"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// Attributes set on quarantined messages
const (
	AttrError             = "error"
	AttrErrorCode         = "error_code"
	AttrOriginalMessageID = "original_message_id"
)

// MaxAttrValueBytes bounds attribute values below the 1024-byte Pub/Sub limit
const MaxAttrValueBytes = 1000

// SourcePubSub tags batches received from the subscription
const SourcePubSub = "pubsub"

// BatchHandler applies one raw batch payload
type BatchHandler interface {
	HandleBatch(ctx context.Context, r io.Reader, source string) (*ingest.BatchSummary, error)
}

// DeliveryLog remembers the ids of applied messages
type DeliveryLog interface {
	Seen(ctx context.Context, id string) (bool, error)
	Record(ctx context.Context, id string, ttl time.Duration) error
}

// Outcome is what happens to a delivered message
type Outcome int

const (
	// OutcomeAck acknowledges an applied batch
	OutcomeAck Outcome = iota
	// OutcomeQuarantine moves a batch that can never apply to the quarantine topic
	OutcomeQuarantine
	// OutcomeNack asks for redelivery after a transient failure
	OutcomeNack
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAck:
		return "ack"
	case OutcomeQuarantine:
		return "quarantine"
	case OutcomeNack:
		return "nack"
	}
	return "unknown"
}

// Classify maps a handler result to the fate of its message
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeAck
	case shared.IsPermanent(err):
		return OutcomeQuarantine
	default:
		return OutcomeNack
	}
}

// NewClient opens a Pub/Sub client for the configured project.
// A credentials file, when set, overrides Application Default Credentials.
func NewClient(ctx context.Context, cfg config.PubSubConfig, opts ...option.ClientOption) (*pubsub.Client, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("pubsub project id is required")
	}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}
	return client, nil
}

// Consumer receives batches from a subscription
type Consumer struct {
	client     *pubsub.Client
	cfg        config.PubSubConfig
	handler    BatchHandler
	logger     *zap.Logger
	quarantine *pubsub.Topic
	deliveries DeliveryLog
}

// NewConsumer creates a consumer over client
func NewConsumer(client *pubsub.Client, cfg config.PubSubConfig, handler BatchHandler, logger *zap.Logger) *Consumer {
	return &Consumer{
		client:     client,
		cfg:        cfg,
		handler:    handler,
		logger:     logger,
		quarantine: client.Topic(cfg.QuarantineTopic),
	}
}

// SetDeliveryLog makes the consumer skip messages already applied.
// Ids are remembered for cfg.DedupTTL.
func (c *Consumer) SetDeliveryLog(deliveries DeliveryLog) {
	c.deliveries = deliveries
}

// EnsureSubscription creates the batch topic, the quarantine topic and the
// subscription when they are missing
func (c *Consumer) EnsureSubscription(ctx context.Context) (*pubsub.Subscription, error) {
	topic, err := c.ensureTopic(ctx, c.cfg.Topic)
	if err != nil {
		return nil, err
	}
	if _, err := c.ensureTopic(ctx, c.cfg.QuarantineTopic); err != nil {
		return nil, err
	}

	sub := c.client.Subscription(c.cfg.Subscription)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check subscription %q exists: %w", c.cfg.Subscription, err)
	}
	if exists {
		return sub, nil
	}

	ackDeadline := c.cfg.AckDeadline
	if ackDeadline < 10*time.Second {
		ackDeadline = 10 * time.Second
	}
	if ackDeadline > 10*time.Minute {
		ackDeadline = 10 * time.Minute
	}
	sub, err = c.client.CreateSubscription(ctx, c.cfg.Subscription, pubsub.SubscriptionConfig{
		Topic:       topic,
		AckDeadline: ackDeadline,
	})
	if err != nil {
		return nil, fmt.Errorf("create subscription %q: %w", c.cfg.Subscription, err)
	}
	c.logger.Info("Created subscription",
		zap.String("subscription", c.cfg.Subscription),
		zap.String("topic", c.cfg.Topic),
	)
	return sub, nil
}

func (c *Consumer) ensureTopic(ctx context.Context, name string) (*pubsub.Topic, error) {
	topic := c.client.Topic(name)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check topic %q exists: %w", name, err)
	}
	if exists {
		return topic, nil
	}
	topic, err = c.client.CreateTopic(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("create topic %q: %w", name, err)
	}
	return topic, nil
}

// Run receives messages until ctx is cancelled
func (c *Consumer) Run(ctx context.Context) error {
	sub, err := c.EnsureSubscription(ctx)
	if err != nil {
		return err
	}
	if c.cfg.MaxOutstanding > 0 {
		sub.ReceiveSettings.MaxOutstandingMessages = c.cfg.MaxOutstanding
	}

	c.logger.Info("Waiting for batches", zap.String("subscription", c.cfg.Subscription))
	if err := sub.Receive(ctx, c.receive); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("receive from %q: %w", c.cfg.Subscription, err)
	}
	return nil
}

// Close flushes pending quarantine publishes
func (c *Consumer) Close() {
	c.quarantine.Stop()
}

func (c *Consumer) receive(ctx context.Context, msg *pubsub.Message) {
	log := c.logger.With(zap.String("message_id", msg.ID))
	log.Debug("Processing message", zap.Int("bytes", len(msg.Data)))

	if c.alreadyApplied(ctx, msg.ID, log) {
		log.Info("Skipping batch applied by an earlier delivery")
		msg.Ack()
		return
	}

	summary, err := c.handler.HandleBatch(ctx, bytes.NewReader(msg.Data), SourcePubSub)
	switch Classify(err) {
	case OutcomeAck:
		log.Info("Batch applied", zap.Int("rows", summary.Rows))
		if c.deliveries != nil {
			if err := c.deliveries.Record(ctx, msg.ID, c.cfg.DedupTTL); err != nil {
				log.Warn("Failed to record delivery", zap.Error(err))
			}
		}
		msg.Ack()
	case OutcomeQuarantine:
		if qerr := c.publishQuarantine(ctx, msg, err); qerr != nil {
			log.Error("Failed to quarantine batch", zap.Error(qerr))
			msg.Nack()
			return
		}
		log.Warn("Batch quarantined", zap.Error(err))
		msg.Ack()
	default:
		log.Error("Batch failed, requesting redelivery", zap.Error(err))
		msg.Nack()
	}
}

// alreadyApplied consults the delivery log. A log failure lets the message through.
func (c *Consumer) alreadyApplied(ctx context.Context, id string, log *zap.Logger) bool {
	if c.deliveries == nil {
		return false
	}
	seen, err := c.deliveries.Seen(ctx, id)
	if err != nil {
		log.Warn("Delivery log unavailable", zap.Error(err))
		return false
	}
	return seen
}

func (c *Consumer) publishQuarantine(ctx context.Context, msg *pubsub.Message, cause error) error {
	attrs := map[string]string{
		AttrError:             truncateAttr(cause.Error(), MaxAttrValueBytes),
		AttrOriginalMessageID: msg.ID,
	}
	var de *shared.DomainError
	if errors.As(cause, &de) {
		attrs[AttrErrorCode] = de.Code
	}
	_, err := c.quarantine.Publish(ctx, &pubsub.Message{Data: msg.Data, Attributes: attrs}).Get(ctx)
	return err
}

// truncateAttr cuts s to at most limit bytes without splitting a rune
func truncateAttr(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
