// Package events publishes crawl lifecycle events through the
// transactional outbox so downstream consumers (order fulfillment,
// operator alerting) see exactly the state the database committed.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sellerworks/band-crawler/internal/database"
	"github.com/sellerworks/band-crawler/internal/models"
)

// EventType identifies a crawl lifecycle event.
type EventType string

const (
	EventCrawlStarted       EventType = "crawl.started"
	EventPostExtracted      EventType = "post.extracted"
	EventOrdersExtracted    EventType = "orders.extracted"
	EventCrawlFinished      EventType = "crawl.finished"
	EventCrawlFailed        EventType = "crawl.failed"
	EventAutomationDisabled EventType = "account.automation_disabled"
)

// Meta is the envelope every payload carries.
type Meta struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	AccountID string    `json:"account_id"`
	RunID     string    `json:"run_id,omitempty"`
}

type CrawlStartedPayload struct {
	Meta
	TargetPosts int    `json:"target_posts"`
	Trigger     string `json:"trigger"`
}

type PostExtractedPayload struct {
	Meta
	PostID       string `json:"post_id"`
	CommentCount int    `json:"comment_count"`
	ImageCount   int    `json:"image_count"`
}

type OrdersExtractedPayload struct {
	Meta
	PostID      string                  `json:"post_id"`
	Orders      []models.ExtractedOrder `json:"orders"`
	NeedsReview int                     `json:"needs_review"`
}

type CrawlFinishedPayload struct {
	Meta
	Posts      int           `json:"posts"`
	Comments   int           `json:"comments"`
	Orders     int           `json:"orders"`
	Duration   time.Duration `json:"duration_ns"`
	TargetMet  bool          `json:"target_met"`
}

type CrawlFailedPayload struct {
	Meta
	Stage string `json:"stage"`
	Error string `json:"error"`
}

type AutomationDisabledPayload struct {
	Meta
	Reason string `json:"reason"`
}

// Publisher writes events into the outbox inside a database
// transaction; the relay moves them to Redis.
type Publisher struct {
	db     *database.DB
	outbox *database.OutboxRepository
	logger *slog.Logger
}

func NewPublisher(db *database.DB, logger *slog.Logger) *Publisher {
	return &Publisher{
		db:     db,
		outbox: database.NewOutboxRepository(db),
		logger: logger.With("component", "event_publisher"),
	}
}

func (p *Publisher) CrawlStarted(ctx context.Context, payload *CrawlStartedPayload) error {
	payload.Meta = stamp(payload.Meta, EventCrawlStarted)
	return p.publish(ctx, "crawl", payload.AccountID, payload.Meta, payload)
}

func (p *Publisher) PostExtracted(ctx context.Context, payload *PostExtractedPayload) error {
	payload.Meta = stamp(payload.Meta, EventPostExtracted)
	return p.publish(ctx, "post", payload.PostID, payload.Meta, payload)
}

func (p *Publisher) OrdersExtracted(ctx context.Context, payload *OrdersExtractedPayload) error {
	payload.Meta = stamp(payload.Meta, EventOrdersExtracted)
	return p.publish(ctx, "order", payload.PostID, payload.Meta, payload)
}

func (p *Publisher) CrawlFinished(ctx context.Context, payload *CrawlFinishedPayload) error {
	payload.Meta = stamp(payload.Meta, EventCrawlFinished)
	return p.publish(ctx, "crawl", payload.AccountID, payload.Meta, payload)
}

func (p *Publisher) CrawlFailed(ctx context.Context, payload *CrawlFailedPayload) error {
	payload.Meta = stamp(payload.Meta, EventCrawlFailed)
	return p.publish(ctx, "crawl", payload.AccountID, payload.Meta, payload)
}

func (p *Publisher) AutomationDisabled(ctx context.Context, payload *AutomationDisabledPayload) error {
	payload.Meta = stamp(payload.Meta, EventAutomationDisabled)
	return p.publish(ctx, "account", payload.AccountID, payload.Meta, payload)
}

func (p *Publisher) publish(ctx context.Context, aggregateType, aggregateID string, meta Meta, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	outboxEvent := &database.OutboxEvent{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     meta.EventType,
		Payload:       data,
	}

	err = p.db.Transaction(ctx, func(tx pgx.Tx) error {
		if err := p.outbox.InsertWithTx(ctx, tx, outboxEvent); err != nil {
			return fmt.Errorf("failed to insert outbox event: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Info("event published to outbox",
		"type", meta.EventType,
		"event_id", meta.EventID,
		"aggregate_id", aggregateID,
		"outbox_id", outboxEvent.ID)
	return nil
}

func stamp(meta Meta, eventType EventType) Meta {
	if meta.EventID == "" {
		meta.EventID = uuid.New().String()
	}
	meta.EventType = string(eventType)
	if meta.Timestamp.IsZero() {
		meta.Timestamp = time.Now()
	}
	return meta
}
