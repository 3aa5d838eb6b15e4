package models

import (
	"time"
)

// Cookie is a single persisted browser cookie.
type Cookie struct {
	Name    string    `json:"name"`
	Value   string    `json:"value"`
	Domain  string    `json:"domain"`
	Path    string    `json:"path"`
	Expires time.Time `json:"expires,omitempty"`
}

// Session is the persisted login state for one platform account.
type Session struct {
	AccountID  string    `json:"account_id"`
	Cookies    []Cookie  `json:"cookies"`
	CapturedAt time.Time `json:"captured_at"`
	Valid      bool      `json:"valid"`
}

// Stale reports whether the session is older than ttl.
func (s *Session) Stale(ttl time.Duration) bool {
	return time.Since(s.CapturedAt) > ttl
}

// Post is an immutable snapshot of a platform post. Re-extraction
// overwrites by PostID.
type Post struct {
	PostID       string    `json:"post_id"`
	AccountID    string    `json:"account_id"`
	AuthorName   string    `json:"author_name"`
	Body         string    `json:"body"`
	PostedAt     time.Time `json:"posted_at"`
	CommentCount int       `json:"comment_count"`
	ImageURLs    []string  `json:"image_urls"`
}

// Comment belongs to one post. Bodies are sanitized of platform
// mention markup before leaving the extraction pipeline.
type Comment struct {
	CommentID string    `json:"comment_id"`
	PostID    string    `json:"post_id"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	PostedAt  time.Time `json:"posted_at"`
}

// PriceOption is a (quantity, price) bundle for a catalog item.
// Multiple bundles per item are considered jointly when pricing.
type PriceOption struct {
	Quantity    int     `json:"quantity"`
	Price       float64 `json:"price"`
	Description string  `json:"description,omitempty"`
}

// CatalogEntry maps an in-post item number to a seller product.
type CatalogEntry struct {
	ItemNumber   int           `json:"item_number"`
	ProductID    string        `json:"product_id"`
	BasePrice    float64       `json:"base_price"`
	PriceOptions []PriceOption `json:"price_options,omitempty"`
}

// Catalog indexes a post's catalog entries by item number.
type Catalog = map[int]CatalogEntry

// Order status values.
const (
	OrderStatusConfirmed   = "confirmed"
	OrderStatusNeedsReview = "needs_review"
)

// ExtractedOrder is derived from one comment against one post's
// catalog. Regenerating from the same inputs is deterministic.
type ExtractedOrder struct {
	OrderID        string    `json:"order_id"`
	PostID         string    `json:"post_id"`
	CommentID      string    `json:"comment_id"`
	ItemNumber     int       `json:"item_number"`
	ProductID      string    `json:"product_id"`
	Quantity       int       `json:"quantity"`
	UnitPriceBasis float64   `json:"unit_price_basis"`
	TotalAmount    int64     `json:"total_amount"`
	Status         string    `json:"status"`
	Reason         string    `json:"reason,omitempty"`
	ExtractedAt    time.Time `json:"extracted_at"`
}

// Job status values.
const (
	JobStatusIdle    = "idle"
	JobStatusRunning = "running"
	JobStatusStopped = "stopped"
	JobStatusFailed  = "failed"
)

// ScheduledJob describes one account's recurring crawl registration.
// At most one non-stopped job exists per account.
type ScheduledJob struct {
	JobID     string     `json:"job_id"`
	AccountID string     `json:"account_id"`
	CronExpr  string     `json:"cron_expr"`
	Status    string     `json:"status"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	NextRun   *time.Time `json:"next_run,omitempty"`
}

// Account is one storefront account in the target registry.
type Account struct {
	AccountID         string `json:"account_id"`
	LoginID           string `json:"login_id"`
	Password          string `json:"-"`
	AutomationEnabled bool   `json:"automation_enabled"`
	IntervalMinutes   int    `json:"interval_minutes"`
}

// CrawlResult is everything one run produced for one post.
type CrawlResult struct {
	Post     Post             `json:"post"`
	Comments []Comment        `json:"comments"`
	Orders   []ExtractedOrder `json:"orders"`
}
