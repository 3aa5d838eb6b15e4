package order

import (
	"math"
	"sort"

	"github.com/sellerworks/band-crawler/internal/models"
)

// CalculateOptimalPrice prices a requested quantity against an item's
// bundle options. Bundles are consumed greedily, largest first, as many
// whole times as fit; the remainder is priced at the smallest bundle's
// unit price, or fallbackUnitPrice when the item has no bundles at all.
// The result is rounded to the nearest integer currency unit and is
// never negative.
func CalculateOptimalPrice(quantity int, options []models.PriceOption, fallbackUnitPrice float64) int64 {
	if quantity <= 0 {
		return 0
	}

	bundles := make([]models.PriceOption, 0, len(options))
	for _, opt := range options {
		if opt.Quantity > 0 && opt.Price >= 0 {
			bundles = append(bundles, opt)
		}
	}
	sort.Slice(bundles, func(i, j int) bool {
		return bundles[i].Quantity > bundles[j].Quantity
	})

	total := 0.0
	remaining := quantity

	for _, b := range bundles {
		if b.Quantity > remaining {
			continue
		}
		n := remaining / b.Quantity
		total += float64(n) * b.Price
		remaining -= n * b.Quantity
	}

	if remaining > 0 {
		unit := fallbackUnitPrice
		if len(bundles) > 0 {
			smallest := bundles[len(bundles)-1]
			unit = smallest.Price / float64(smallest.Quantity)
		}
		total += float64(remaining) * unit
	}

	rounded := int64(math.Round(total))
	if rounded < 0 {
		rounded = 0
	}
	return rounded
}
