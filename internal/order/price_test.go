package order

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sellerworks/band-crawler/internal/models"
)

func TestCalculateOptimalPrice(t *testing.T) {
	twoBundles := []models.PriceOption{
		{Quantity: 1, Price: 5000},
		{Quantity: 3, Price: 13000},
	}
	threeOnly := []models.PriceOption{
		{Quantity: 3, Price: 13000},
	}

	tests := []struct {
		name     string
		quantity int
		options  []models.PriceOption
		fallback float64
		want     int64
	}{
		{"single unit", 1, twoBundles, 0, 5000},
		{"bundle plus remainder", 4, twoBundles, 0, 18000},
		{"two whole bundles", 6, twoBundles, 0, 26000},
		{"exact bundle multiple has no remainder pricing", 9, twoBundles, 0, 39000},
		{"remainder priced at smallest bundle unit", 2, threeOnly, 0, 8667},
		{"no bundles falls back to unit price", 3, nil, 4500, 13500},
		{"zero quantity", 0, twoBundles, 0, 0},
		{"negative quantity", -2, twoBundles, 0, 0},
		{"invalid bundles ignored", 2, []models.PriceOption{{Quantity: 0, Price: 100}}, 700, 1400},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateOptimalPrice(tt.quantity, tt.options, tt.fallback)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCalculateOptimalPriceNeverNegative(t *testing.T) {
	bundles := []models.PriceOption{
		{Quantity: 2, Price: 900},
		{Quantity: 5, Price: 2000},
	}

	for q := 1; q <= 40; q++ {
		assert.GreaterOrEqual(t, CalculateOptimalPrice(q, bundles, 500), int64(0), "quantity %d", q)
	}
}
