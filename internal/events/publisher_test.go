package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sellerworks/band-crawler/internal/models"
)

func TestStampFillsMissingMetadata(t *testing.T) {
	meta := stamp(Meta{AccountID: "acct-1"}, EventCrawlStarted)

	assert.NotEmpty(t, meta.EventID)
	assert.Equal(t, "crawl.started", meta.EventType)
	assert.False(t, meta.Timestamp.IsZero())
}

func TestStampPreservesCallerMetadata(t *testing.T) {
	at := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	meta := stamp(Meta{EventID: "fixed", Timestamp: at}, EventCrawlFailed)

	assert.Equal(t, "fixed", meta.EventID)
	assert.Equal(t, at, meta.Timestamp)
	assert.Equal(t, "crawl.failed", meta.EventType)
}

func TestOrdersExtractedPayloadContract(t *testing.T) {
	payload := &OrdersExtractedPayload{
		Meta:   stamp(Meta{AccountID: "acct-1", RunID: "run-7"}, EventOrdersExtracted),
		PostID: "post-9",
		Orders: []models.ExtractedOrder{{
			OrderID:     "o-1",
			PostID:      "post-9",
			CommentID:   "c-101",
			ItemNumber:  2,
			Quantity:    3,
			TotalAmount: 15000,
			Status:      models.OrderStatusConfirmed,
		}},
		NeedsReview: 0,
	}

	data, err := json.Marshal(payload)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))

	// Field names downstream consumers key on.
	assert.Equal(t, "orders.extracted", decoded["event_type"])
	assert.Equal(t, "acct-1", decoded["account_id"])
	assert.Equal(t, "run-7", decoded["run_id"])
	assert.Equal(t, "post-9", decoded["post_id"])
	orders := decoded["orders"].([]interface{})
	require.Len(t, orders, 1)
	order := orders[0].(map[string]interface{})
	assert.Equal(t, "confirmed", order["status"])
	assert.EqualValues(t, 15000, order["total_amount"])
}
