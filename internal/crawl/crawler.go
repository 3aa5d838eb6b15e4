// Package crawl runs the full per-account pipeline: session, feed
// loading, post and comment extraction, order derivation, persistence,
// and event publishing.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"

	"github.com/sellerworks/band-crawler/internal/browser"
	"github.com/sellerworks/band-crawler/internal/events"
	"github.com/sellerworks/band-crawler/internal/extract"
	"github.com/sellerworks/band-crawler/internal/models"
	"github.com/sellerworks/band-crawler/internal/order"
	"github.com/sellerworks/band-crawler/internal/session"
)

// Trigger values recorded on crawl.started events.
const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
)

// CatalogSource resolves the item catalog attached to a post.
type CatalogSource interface {
	GetCatalog(ctx context.Context, postID string) (models.Catalog, error)
}

// ResultSink persists what a run produced.
type ResultSink interface {
	UpsertPost(ctx context.Context, post *models.Post) error
	InsertComments(ctx context.Context, comments []models.Comment) error
	UpsertOrders(ctx context.Context, orders []models.ExtractedOrder) error
}

// EventPublisher emits crawl lifecycle events.
type EventPublisher interface {
	CrawlStarted(ctx context.Context, payload *events.CrawlStartedPayload) error
	PostExtracted(ctx context.Context, payload *events.PostExtractedPayload) error
	OrdersExtracted(ctx context.Context, payload *events.OrdersExtractedPayload) error
	CrawlFinished(ctx context.Context, payload *events.CrawlFinishedPayload) error
	CrawlFailed(ctx context.Context, payload *events.CrawlFailedPayload) error
}

// Config tunes one crawler instance.
type Config struct {
	FeedURL     string
	TargetPosts int
	NavRetries  int
}

// Crawler owns one account run at a time. A fresh browser context is
// launched per run and torn down with it, so a failed run never leaks
// state into the next.
type Crawler struct {
	cfg         Config
	browserOpts *browser.Options
	sessions    *session.Manager
	pipeline    *extract.Pipeline
	catalogs    CatalogSource
	sink        ResultSink
	events      EventPublisher
	logger      *slog.Logger
}

func New(cfg Config, browserOpts *browser.Options, sessions *session.Manager, pipeline *extract.Pipeline,
	catalogs CatalogSource, sink ResultSink, publisher EventPublisher, logger *slog.Logger) *Crawler {
	if cfg.NavRetries < 1 {
		cfg.NavRetries = 3
	}
	return &Crawler{
		cfg:         cfg,
		browserOpts: browserOpts,
		sessions:    sessions,
		pipeline:    pipeline,
		catalogs:    catalogs,
		sink:        sink,
		events:      publisher,
		logger:      logger.With("component", "crawler"),
	}
}

// Run executes a scheduled crawl for the account.
func (c *Crawler) Run(ctx context.Context, account models.Account) error {
	return c.RunWith(ctx, account, uuid.New().String(), c.cfg.TargetPosts, TriggerScheduled)
}

// RunWith executes one crawl with an explicit correlation id, post
// target, and trigger label.
func (c *Crawler) RunWith(ctx context.Context, account models.Account, runID string, targetPosts int, trigger string) error {
	if targetPosts < 1 {
		targetPosts = c.cfg.TargetPosts
	}
	logger := c.logger.With("account_id", account.AccountID, "run_id", runID)
	started := time.Now()

	err := c.events.CrawlStarted(ctx, &events.CrawlStartedPayload{
		Meta:        events.Meta{AccountID: account.AccountID, RunID: runID},
		TargetPosts: targetPosts,
		Trigger:     trigger,
	})
	if err != nil {
		return fmt.Errorf("failed to publish start event: %w", err)
	}

	stats, runErr := c.run(ctx, logger, account, runID, targetPosts)
	if runErr != nil {
		c.publishFailure(account.AccountID, runID, stats.stage, runErr)
		return runErr
	}

	err = c.events.CrawlFinished(ctx, &events.CrawlFinishedPayload{
		Meta:      events.Meta{AccountID: account.AccountID, RunID: runID},
		Posts:     stats.posts,
		Comments:  stats.comments,
		Orders:    stats.orders,
		Duration:  time.Since(started),
		TargetMet: stats.posts >= targetPosts,
	})
	if err != nil {
		logger.Error("failed to publish finish event", "error", err)
	}

	logger.Info("crawl finished",
		"posts", stats.posts,
		"comments", stats.comments,
		"orders", stats.orders,
		"duration", time.Since(started))
	return nil
}

type runStats struct {
	stage    string
	posts    int
	comments int
	orders   int
}

func (c *Crawler) run(ctx context.Context, logger *slog.Logger, account models.Account, runID string, targetPosts int) (runStats, error) {
	stats := runStats{stage: "browser"}

	b, err := browser.New(c.browserOpts)
	if err != nil {
		return stats, fmt.Errorf("failed to launch browser: %w", err)
	}
	defer b.Close()

	stats.stage = "session"
	if err := c.sessions.Ensure(ctx, session.NewBrowserDriver(b), account); err != nil {
		return stats, err
	}

	stats.stage = "feed"
	page, err := b.NewPage()
	if err != nil {
		return stats, fmt.Errorf("failed to open feed page: %w", err)
	}
	defer page.Close()

	if err := b.NavigateWithRetry(page, c.cfg.FeedURL, c.cfg.NavRetries); err != nil {
		return stats, fmt.Errorf("failed to reach feed: %w", err)
	}

	achieved, err := c.pipeline.LoadPosts(ctx, page, targetPosts)
	if err != nil {
		return stats, err
	}
	logger.Info("feed loaded", "posts_materialized", achieved, "target", targetPosts)

	refs, err := c.pipeline.ListPostRefs(ctx, page)
	if err != nil {
		return stats, err
	}

	stats.stage = "posts"
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := c.processPost(ctx, logger, page, b, account, runID, ref, &stats); err != nil {
			// One broken post must not end the run; page-level
			// failures already ended it above.
			logger.Warn("post processing failed", "post_id", ref.PostID, "error", err)
		}
	}
	return stats, nil
}

func (c *Crawler) processPost(ctx context.Context, logger *slog.Logger, page playwright.Page, b *browser.Browser,
	account models.Account, runID string, ref extract.PostRef, stats *runStats) error {
	if ref.URL != "" && page.URL() != ref.URL {
		if err := b.NavigateWithRetry(page, ref.URL, c.cfg.NavRetries); err != nil {
			return fmt.Errorf("failed to open post detail: %w", err)
		}
	}

	post, err := c.pipeline.ExtractPostDetail(ctx, page, ref, account.AccountID)
	if err != nil {
		return err
	}

	if err := c.pipeline.LoadAllComments(ctx, page, post.CommentCount); err != nil {
		return err
	}
	comments, err := c.pipeline.ExtractComments(ctx, page, post.PostID, post.CommentCount)
	if err != nil {
		return err
	}

	if err := c.sink.UpsertPost(ctx, &post); err != nil {
		return err
	}
	if err := c.sink.InsertComments(ctx, comments); err != nil {
		return err
	}
	stats.posts++
	stats.comments += len(comments)

	if err := c.events.PostExtracted(ctx, &events.PostExtractedPayload{
		Meta:         events.Meta{AccountID: account.AccountID, RunID: runID},
		PostID:       post.PostID,
		CommentCount: len(comments),
		ImageCount:   len(post.ImageURLs),
	}); err != nil {
		logger.Error("failed to publish post event", "error", err)
	}

	catalog, err := c.catalogs.GetCatalog(ctx, post.PostID)
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}
	if len(catalog) == 0 {
		// Not a sales post. Content is stored, no orders to derive.
		return nil
	}

	orders, closed := DeriveOrders(post.PostID, comments, catalog, time.Now())
	if len(orders) == 0 {
		return nil
	}
	if err := c.sink.UpsertOrders(ctx, orders); err != nil {
		return err
	}
	stats.orders += len(orders)

	needsReview := 0
	for _, o := range orders {
		if o.Status == models.OrderStatusNeedsReview {
			needsReview++
		}
	}
	if err := c.events.OrdersExtracted(ctx, &events.OrdersExtractedPayload{
		Meta:        events.Meta{AccountID: account.AccountID, RunID: runID},
		PostID:      post.PostID,
		Orders:      orders,
		NeedsReview: needsReview,
	}); err != nil {
		logger.Error("failed to publish orders event", "error", err)
	}
	if closed {
		logger.Info("post closed during comment walk", "post_id", post.PostID, "orders", len(orders))
	}
	return nil
}

// DeriveOrders runs the order engine over a post's comments in thread
// order. A closing comment ends eligibility for every comment after it
// on this post, not just its own.
func DeriveOrders(postID string, comments []models.Comment, catalog models.Catalog, extractedAt time.Time) ([]models.ExtractedOrder, bool) {
	var orders []models.ExtractedOrder
	closed := false
	for _, comment := range comments {
		if closed {
			continue
		}
		extracted, closing := order.Extract(comment, catalog)
		if closing {
			closed = true
			continue
		}
		for i := range extracted {
			extracted[i].PostID = postID
			extracted[i].ExtractedAt = extractedAt
		}
		orders = append(orders, extracted...)
	}
	return orders, closed
}

func (c *Crawler) publishFailure(accountID, runID, stage string, runErr error) {
	// The run context may already be dead; give the failure event its
	// own short deadline so it still lands in the outbox.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if errors.Is(runErr, context.DeadlineExceeded) {
		stage = stage + " (timeout)"
	}
	if err := c.events.CrawlFailed(ctx, &events.CrawlFailedPayload{
		Meta:  events.Meta{AccountID: accountID, RunID: runID},
		Stage: stage,
		Error: runErr.Error(),
	}); err != nil {
		c.logger.Error("failed to publish failure event", "error", err)
	}
}
