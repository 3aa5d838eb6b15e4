// Package order turns free-text purchase comments into priced orders
// against a post's catalog of quantity bundles. Everything here is pure:
// the same comment and catalog always produce the same orders.
package order

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/sellerworks/band-crawler/internal/models"
)

// closingKeywords end order eligibility for a post. A comment containing
// one produces no orders, and the caller must treat all subsequent
// comments on that post as ineligible for the rest of the run.
var closingKeywords = []string{
	"마감",
	"판매완료",
	"판매 완료",
	"품절",
	"완판",
	"sold out",
	"soldout",
	"closed",
}

// explicitPattern matches "<item>번 ... <quantity>": an item-number token
// followed, possibly with intervening non-digit text, by a quantity token.
var explicitPattern = regexp.MustCompile(`(\d+)\s*번\D*?(\d+)`)

// barePattern finds a bare integer for the single-item fallback.
var barePattern = regexp.MustCompile(`\d+`)

const itemMarker = "번"

// candidate is a parsed (item, quantity) pair before catalog resolution.
type candidate struct {
	itemNumber int
	quantity   int
	ambiguous  bool
}

// IsClosing reports whether the comment text declares the post closed
// or sold out.
func IsClosing(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range closingKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// parseCandidates extracts raw (item, quantity) candidates from comment
// text. When the text carries no item marker at all, any bare positive
// integer is read as a quantity for item 1. That heuristic can misfire
// on unrelated numbers, so the result is always flagged ambiguous.
func parseCandidates(text string) []candidate {
	var out []candidate

	for _, m := range explicitPattern.FindAllStringSubmatch(text, -1) {
		item, err1 := strconv.Atoi(m[1])
		qty, err2 := strconv.Atoi(m[2])
		if err1 != nil || err2 != nil || item <= 0 || qty <= 0 {
			continue
		}
		out = append(out, candidate{itemNumber: item, quantity: qty})
	}

	if len(out) == 0 && !strings.Contains(text, itemMarker) {
		for _, m := range barePattern.FindAllString(text, -1) {
			qty, err := strconv.Atoi(m)
			if err != nil || qty <= 0 {
				continue
			}
			out = append(out, candidate{itemNumber: 1, quantity: qty, ambiguous: true})
			break
		}
	}

	return out
}

// resolve maps a candidate's item number onto the catalog. An unknown
// item falls back to item 1 if present, else to the catalog's single
// entry if only one exists; otherwise the candidate is dropped. Any
// substitution marks the candidate ambiguous.
func resolve(c candidate, catalog models.Catalog) (candidate, models.CatalogEntry, bool) {
	if entry, ok := catalog[c.itemNumber]; ok {
		return c, entry, true
	}

	if entry, ok := catalog[1]; ok {
		c.itemNumber = 1
		c.ambiguous = true
		return c, entry, true
	}

	if len(catalog) == 1 {
		for num, entry := range catalog {
			c.itemNumber = num
			c.ambiguous = true
			return c, entry, true
		}
	}

	return c, models.CatalogEntry{}, false
}

// Extract derives at most one order from one comment. The second return
// value reports a closing comment; callers own the per-post stickiness
// of that signal. Order ids are derived from the comment identity so
// repeated extraction upserts rather than duplicates.
func Extract(comment models.Comment, catalog models.Catalog) ([]models.ExtractedOrder, bool) {
	if IsClosing(comment.Body) {
		return nil, true
	}

	if len(catalog) == 0 {
		return nil, false
	}

	for _, c := range parseCandidates(comment.Body) {
		resolved, entry, ok := resolve(c, catalog)
		if !ok {
			continue
		}

		total := CalculateOptimalPrice(resolved.quantity, entry.PriceOptions, entry.BasePrice)

		ord := models.ExtractedOrder{
			OrderID:        orderID(comment.PostID, comment.CommentID),
			PostID:         comment.PostID,
			CommentID:      comment.CommentID,
			ItemNumber:     resolved.itemNumber,
			ProductID:      entry.ProductID,
			Quantity:       resolved.quantity,
			UnitPriceBasis: entry.BasePrice,
			TotalAmount:    total,
			Status:         models.OrderStatusConfirmed,
		}
		if resolved.ambiguous {
			ord.Status = models.OrderStatusNeedsReview
			ord.Reason = "item or quantity inferred from ambiguous text"
		}

		// One order per comment: the first resolvable candidate wins.
		return []models.ExtractedOrder{ord}, false
	}

	return nil, false
}

// orderID is deterministic for a given comment so re-extraction is an
// upsert, not a duplicate.
func orderID(postID, commentID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, fmt.Appendf(nil, "order/%s/%s", postID, commentID)).String()
}
