// Package extract walks rendered platform pages and turns them into
// domain records. Every operation is best-effort: partial or empty
// results are valid outputs, and only page-level failures surface as
// errors.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sellerworks/band-crawler/internal/models"
	"github.com/sellerworks/band-crawler/internal/ratelimit"
)

const (
	// Feed lazy-load bounds.
	postPlateauLimit = 5
	postAttemptCap   = 20

	// Comment pagination bounds.
	commentIterationCap   = 10
	commentSkipThreshold  = 20
	commentNoGrowthLimit  = 2
	paginationAttempts    = 3
	paginationInitialWait = 500 * time.Millisecond
)

// Page is the single capability the pipeline needs from the browser.
// Extraction runs as in-page JavaScript and comes back as plain data,
// which keeps this interface trivially fakeable.
type Page interface {
	Evaluate(expression string, arg ...interface{}) (interface{}, error)
}

// PostRef identifies one post discovered on the feed.
type PostRef struct {
	PostID string
	URL    string
}

// Pipeline drives feed scrolling, detail extraction, and comment
// pagination over a live page.
type Pipeline struct {
	selectors Selectors
	limiter   ratelimit.Limiter
	logger    *slog.Logger
}

func NewPipeline(limiter ratelimit.Limiter, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		selectors: DefaultSelectors(),
		limiter:   limiter,
		logger:    logger.With("component", "extract_pipeline"),
	}
}

// LoadPosts triggers lazy-loading until at least target posts are
// materialized, the count plateaus, or the attempt cap is hit. It
// returns the count actually achieved; callers must not assume target
// was met.
func (p *Pipeline) LoadPosts(ctx context.Context, page Page, target int) (int, error) {
	count, err := p.countMatches(page, p.selectors.PostContainer)
	if err != nil {
		return 0, fmt.Errorf("failed to count posts: %w", err)
	}

	plateau := 0
	for attempt := 0; count < target && attempt < postAttemptCap; attempt++ {
		if err := p.limiter.Wait(ctx); err != nil {
			return count, err
		}
		if _, err := page.Evaluate(`() => { window.scrollTo(0, document.body.scrollHeight); }`); err != nil {
			return count, fmt.Errorf("failed to trigger lazy load: %w", err)
		}

		next, err := p.countMatches(page, p.selectors.PostContainer)
		if err != nil {
			return count, fmt.Errorf("failed to count posts: %w", err)
		}
		if next <= count {
			plateau++
			if plateau >= postPlateauLimit {
				p.logger.Info("post count plateaued",
					"count", count, "target", target, "attempts", attempt+1)
				break
			}
		} else {
			plateau = 0
			count = next
		}
	}

	p.logger.Info("feed loading finished", "count", count, "target", target)
	return count, nil
}

// ListPostRefs collects ids and detail URLs for every materialized post.
func (p *Pipeline) ListPostRefs(ctx context.Context, page Page) ([]PostRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	result, err := page.Evaluate(`(sels) => {
		for (const sel of sels) {
			const els = document.querySelectorAll(sel);
			if (els.length === 0) continue;
			return Array.from(els).map(el => {
				const link = el.querySelector('a.time, a.postTime, a.date');
				return {
					postId: el.getAttribute('data-post-no') || el.getAttribute('data-post-id') || '',
					url: link ? link.href : ''
				};
			});
		}
		return [];
	}`, p.selectors.PostContainer)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}

	items, ok := result.([]interface{})
	if !ok {
		return nil, nil
	}
	var refs []PostRef
	for _, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		id, _ := m["postId"].(string)
		if id == "" {
			continue
		}
		url, _ := m["url"].(string)
		refs = append(refs, PostRef{PostID: id, URL: url})
	}
	return refs, nil
}

// ExtractPostDetail reads author, body, timestamp, image URLs, and the
// displayed comment count from the currently open detail view. Fields a
// strategy misses come back as zero values, never as errors.
func (p *Pipeline) ExtractPostDetail(ctx context.Context, page Page, ref PostRef, accountID string) (models.Post, error) {
	post := models.Post{PostID: ref.PostID, AccountID: accountID}
	if err := ctx.Err(); err != nil {
		return post, err
	}

	result, err := page.Evaluate(`(s) => {
		const firstText = (sels) => {
			for (const sel of sels) {
				const el = document.querySelector(sel);
				if (el && el.textContent.trim()) return el.textContent.trim();
			}
			return '';
		};
		const firstHTML = (sels) => {
			for (const sel of sels) {
				const el = document.querySelector(sel);
				if (el) return el.innerHTML;
			}
			return '';
		};
		const timestamp = (sels) => {
			for (const sel of sels) {
				const el = document.querySelector(sel);
				if (!el) continue;
				return el.getAttribute('datetime') || el.textContent.trim();
			}
			return '';
		};
		const images = [];
		for (const sel of s.images) {
			const els = document.querySelectorAll(sel);
			if (els.length === 0) continue;
			els.forEach(el => { if (el.src) images.push(el.src); });
			break;
		}
		const countText = firstText(s.count);
		const countMatch = countText.match(/\d+/);
		return {
			author: firstText(s.author),
			body: firstHTML(s.body),
			postedAt: timestamp(s.time),
			commentCount: countMatch ? parseInt(countMatch[0], 10) : 0,
			images: images
		};
	}`, map[string]interface{}{
		"author": p.selectors.PostAuthor,
		"body":   p.selectors.PostBody,
		"time":   p.selectors.PostTime,
		"count":  p.selectors.CommentCount,
		"images": p.selectors.PostImages,
	})
	if err != nil {
		return post, fmt.Errorf("failed to extract post detail: %w", err)
	}

	m, ok := result.(map[string]interface{})
	if !ok {
		return post, nil
	}
	post.AuthorName, _ = m["author"].(string)
	if body, ok := m["body"].(string); ok {
		post.Body = CleanBody(body)
	}
	if raw, ok := m["postedAt"].(string); ok {
		post.PostedAt = parseTimestamp(raw)
	}
	post.CommentCount = toInt(m["commentCount"])
	if imgs, ok := m["images"].([]interface{}); ok {
		for _, img := range imgs {
			if url, ok := img.(string); ok && url != "" {
				post.ImageURLs = append(post.ImageURLs, url)
			}
		}
	}
	return post, nil
}

// LoadAllComments pages backwards through the comment thread until no
// prior comments remain. Threads below the pagination threshold have no
// control and are skipped outright.
func (p *Pipeline) LoadAllComments(ctx context.Context, page Page, displayedCount int) error {
	if displayedCount < commentSkipThreshold {
		return nil
	}

	count, err := p.countMatches(page, p.selectors.CommentContainer)
	if err != nil {
		return fmt.Errorf("failed to count comments: %w", err)
	}

	noGrowth := 0
	for iteration := 0; iteration < commentIterationCap; iteration++ {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}

		var clicked bool
		err := withRetry(ctx, paginationAttempts, paginationInitialWait, func() error {
			result, err := page.Evaluate(`(sels) => {
				for (const sel of sels) {
					const el = document.querySelector(sel);
					if (el) { el.click(); return true; }
				}
				return false;
			}`, p.selectors.LoadPreviousControl)
			if err != nil {
				return err
			}
			clicked, _ = result.(bool)
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to trigger comment pagination: %w", err)
		}
		if !clicked {
			// Control gone: the full thread is loaded.
			return nil
		}

		next, err := p.countMatches(page, p.selectors.CommentContainer)
		if err != nil {
			return fmt.Errorf("failed to count comments: %w", err)
		}
		if next <= count {
			noGrowth++
			if noGrowth >= commentNoGrowthLimit {
				return nil
			}
		} else {
			noGrowth = 0
			count = next
		}
	}

	p.logger.Warn("comment pagination hit iteration cap", "loaded", count)
	return nil
}

// ExtractComments maps every materialized comment element to a record,
// sanitizing mention markup out of bodies. A mismatch against the
// displayed count is logged, not failed.
func (p *Pipeline) ExtractComments(ctx context.Context, page Page, postID string, displayedCount int) ([]models.Comment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	result, err := page.Evaluate(`(s) => {
		const firstIn = (root, sels) => {
			for (const sel of sels) {
				const el = root.querySelector(sel);
				if (el) return el;
			}
			return null;
		};
		for (const sel of s.container) {
			const els = document.querySelectorAll(sel);
			if (els.length === 0) continue;
			return Array.from(els).map((el, i) => {
				const author = firstIn(el, s.author);
				const body = firstIn(el, s.body);
				const time = firstIn(el, s.time);
				return {
					commentId: el.getAttribute('data-comment-id') || '',
					author: author ? author.textContent.trim() : '',
					body: body ? body.innerHTML : '',
					postedAt: time ? (time.getAttribute('datetime') || time.textContent.trim()) : ''
				};
			});
		}
		return [];
	}`, map[string]interface{}{
		"container": p.selectors.CommentContainer,
		"author":    p.selectors.CommentAuthor,
		"body":      p.selectors.CommentBody,
		"time":      p.selectors.CommentTime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to extract comments: %w", err)
	}

	items, ok := result.([]interface{})
	if !ok {
		return nil, nil
	}
	var comments []models.Comment
	for i, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		id, _ := m["commentId"].(string)
		if id == "" {
			// Markup without an id falls back to the element's
			// position, scoped to the post so fallback ids from
			// different posts never collide downstream.
			id = fmt.Sprintf("%s-c%d", postID, i+1)
		}
		author, _ := m["author"].(string)
		body, _ := m["body"].(string)
		rawTime, _ := m["postedAt"].(string)
		comments = append(comments, models.Comment{
			CommentID: id,
			PostID:    postID,
			Author:    author,
			Body:      CleanBody(body),
			PostedAt:  parseTimestamp(rawTime),
		})
	}

	if displayedCount > 0 && len(comments) != displayedCount {
		p.logger.Warn("comment count discrepancy",
			"post_id", postID,
			"displayed", displayedCount,
			"extracted", len(comments))
	}
	return comments, nil
}

func (p *Pipeline) countMatches(page Page, selectors []string) (int, error) {
	result, err := page.Evaluate(`(sels) => {
		for (const sel of sels) {
			const n = document.querySelectorAll(sel).length;
			if (n > 0) return n;
		}
		return 0;
	}`, selectors)
	if err != nil {
		return 0, err
	}
	return toInt(result), nil
}

// timestampLayouts covers the datetime attribute plus the visible
// Korean and dotted formats the platform renders.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05-0700",
	"2006년 1월 2일 3:04",
	"2006년 1월 2일 15:04",
	"2006.01.02 15:04",
	"2006.01.02",
}

func parseTimestamp(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}

	// The visible Korean format carries a 오전/오후 meridiem marker that
	// time.Parse has no verb for; strip it and shift afternoon hours.
	pm := strings.Contains(raw, "오후")
	am := strings.Contains(raw, "오전")
	if pm || am {
		raw = strings.ReplaceAll(raw, "오전 ", "")
		raw = strings.ReplaceAll(raw, "오후 ", "")
	}

	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, raw)
		if err != nil {
			continue
		}
		if pm && t.Hour() < 12 {
			t = t.Add(12 * time.Hour)
		} else if am && t.Hour() == 12 {
			t = t.Add(-12 * time.Hour)
		}
		return t
	}
	return time.Time{}
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
