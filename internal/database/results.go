package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sellerworks/band-crawler/internal/models"
)

// ResultRepository is the crawl result sink: idempotent upserts of
// posts, comments and extracted orders keyed by their natural ids.
type ResultRepository struct {
	db *DB
}

func NewResultRepository(db *DB) *ResultRepository {
	return &ResultRepository{db: db}
}

// UpsertPost overwrites the snapshot for a post id.
func (r *ResultRepository) UpsertPost(ctx context.Context, post *models.Post) error {
	images, err := json.Marshal(post.ImageURLs)
	if err != nil {
		return fmt.Errorf("failed to encode image urls: %w", err)
	}

	query := `
		INSERT INTO crawled_posts (
			post_id, account_id, author_name, body, posted_at,
			comment_count, image_urls, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (post_id) DO UPDATE SET
			author_name = EXCLUDED.author_name,
			body = EXCLUDED.body,
			posted_at = EXCLUDED.posted_at,
			comment_count = EXCLUDED.comment_count,
			image_urls = EXCLUDED.image_urls,
			updated_at = NOW()`

	_, err = r.db.Exec(ctx, query,
		post.PostID, post.AccountID, post.AuthorName, post.Body,
		post.PostedAt, post.CommentCount, images)
	if err != nil {
		return fmt.Errorf("failed to upsert post: %w", err)
	}

	return nil
}

// InsertComments appends comments. Comments are never mutated after
// extraction, so replays are dropped rather than updated.
func (r *ResultRepository) InsertComments(ctx context.Context, comments []models.Comment) error {
	query := `
		INSERT INTO crawled_comments (comment_id, post_id, author, body, posted_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (post_id, comment_id) DO NOTHING`

	for _, c := range comments {
		if _, err := r.db.Exec(ctx, query, c.CommentID, c.PostID, c.Author, c.Body, c.PostedAt); err != nil {
			return fmt.Errorf("failed to insert comment %s: %w", c.CommentID, err)
		}
	}

	return nil
}

// UpsertOrders stores extracted orders. Order ids are deterministic per
// (post, comment), so re-extraction replaces rather than duplicates.
func (r *ResultRepository) UpsertOrders(ctx context.Context, orders []models.ExtractedOrder) error {
	query := `
		INSERT INTO extracted_orders (
			order_id, post_id, comment_id, item_number, product_id,
			quantity, unit_price_basis, total_amount, status, reason, extracted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (order_id) DO UPDATE SET
			item_number = EXCLUDED.item_number,
			product_id = EXCLUDED.product_id,
			quantity = EXCLUDED.quantity,
			unit_price_basis = EXCLUDED.unit_price_basis,
			total_amount = EXCLUDED.total_amount,
			status = EXCLUDED.status,
			reason = EXCLUDED.reason,
			extracted_at = EXCLUDED.extracted_at`

	for _, o := range orders {
		if _, err := r.db.Exec(ctx, query,
			o.OrderID, o.PostID, o.CommentID, o.ItemNumber, o.ProductID,
			o.Quantity, o.UnitPriceBasis, o.TotalAmount, o.Status, o.Reason, o.ExtractedAt,
		); err != nil {
			return fmt.Errorf("failed to upsert order %s: %w", o.OrderID, err)
		}
	}

	return nil
}

// CatalogRepository resolves a post to its seller-defined catalog of
// quantity bundles.
type CatalogRepository struct {
	db *DB
}

func NewCatalogRepository(db *DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// GetCatalog returns the catalog entries for a post keyed by item
// number. A post with no catalog is not a product post; the empty map
// is a valid result.
func (r *CatalogRepository) GetCatalog(ctx context.Context, postID string) (models.Catalog, error) {
	query := `
		SELECT ce.item_number, ce.product_id, ce.base_price,
		       po.quantity, po.price, po.description
		FROM catalog_entries ce
		LEFT JOIN price_options po ON po.catalog_entry_id = ce.id
		WHERE ce.post_id = $1
		ORDER BY ce.item_number, po.quantity`

	rows, err := r.db.Query(ctx, query, postID)
	if err != nil {
		return nil, fmt.Errorf("failed to get catalog: %w", err)
	}
	defer rows.Close()

	catalog := models.Catalog{}
	for rows.Next() {
		var (
			entry models.CatalogEntry
			qty   *int
			price *float64
			desc  *string
		)
		if err := rows.Scan(&entry.ItemNumber, &entry.ProductID, &entry.BasePrice, &qty, &price, &desc); err != nil {
			return nil, fmt.Errorf("failed to scan catalog entry: %w", err)
		}

		existing, ok := catalog[entry.ItemNumber]
		if !ok {
			existing = entry
		}
		if qty != nil && price != nil {
			opt := models.PriceOption{Quantity: *qty, Price: *price}
			if desc != nil {
				opt.Description = *desc
			}
			existing.PriceOptions = append(existing.PriceOptions, opt)
		}
		catalog[entry.ItemNumber] = existing
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating catalog: %w", err)
	}

	return catalog, nil
}
