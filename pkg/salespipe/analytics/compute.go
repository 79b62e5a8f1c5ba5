package analytics

import (
	"cmp"
	"slices"

	"github.com/randalmurphal/salespipe/pkg/salespipe/ingest"
)

// DefaultTopN is the length of the top-products ranking.
const DefaultTopN = 5

// ComputeDaily folds the records belonging to the (storeID, date) scope
// into the full set of daily aggregates. Records outside the scope are
// skipped. The fold is pure and deterministic: identical input yields
// identical aggregates, including float results, because summation
// follows record order.
//
// Aggregates are returned in a fixed metric order: revenue, units,
// receipts, avg_basket, top_products, hourly.
func ComputeDaily(storeID int64, date Date, records []ingest.Record) []Aggregate {
	return computeDaily(storeID, date, records, DefaultTopN)
}

func computeDaily(storeID int64, date Date, records []ingest.Record, topN int) []Aggregate {
	if topN <= 0 {
		topN = DefaultTopN
	}

	var (
		revenue     float64
		units       int64
		receipts    = make(map[string]struct{})
		productRev  = make(map[string]float64)
		productSeen []string
		hourRev     [24]float64
		hourUnits   [24]int64
		hourSeen    [24]bool
	)

	for _, rec := range records {
		if rec.StoreID != storeID || DateOf(rec.Timestamp) != date {
			continue
		}

		lineRev := rec.Revenue()
		revenue += lineRev
		units += rec.Quantity
		receipts[rec.TransactionID] = struct{}{}

		if _, ok := productRev[rec.ProductID]; !ok {
			productSeen = append(productSeen, rec.ProductID)
		}
		productRev[rec.ProductID] += lineRev

		h := rec.Timestamp.Hour()
		hourRev[h] += lineRev
		hourUnits[h] += rec.Quantity
		hourSeen[h] = true
	}

	avgBasket := 0.0
	if len(receipts) > 0 {
		avgBasket = revenue / float64(len(receipts))
	}

	key := func(metric MetricKind) Key {
		return Key{StoreID: storeID, Date: date, Metric: metric}
	}

	return []Aggregate{
		{Key: key(MetricRevenue), Value: revenue},
		{Key: key(MetricUnits), Value: float64(units)},
		{Key: key(MetricReceipts), Value: float64(len(receipts))},
		{Key: key(MetricAvgBasket), Value: avgBasket},
		{Key: key(MetricTopProducts), Products: rankProducts(productSeen, productRev, topN)},
		{Key: key(MetricHourly), Hours: hourBuckets(hourSeen, hourRev, hourUnits)},
	}
}

// rankProducts orders products by revenue descending, ties broken by
// product id ascending, and keeps the top n.
func rankProducts(ids []string, revenue map[string]float64, n int) []ProductRank {
	ranked := make([]ProductRank, 0, len(ids))
	for _, id := range ids {
		ranked = append(ranked, ProductRank{ProductID: id, Revenue: revenue[id]})
	}
	slices.SortFunc(ranked, func(a, b ProductRank) int {
		if c := cmp.Compare(b.Revenue, a.Revenue); c != 0 {
			return c
		}
		return cmp.Compare(a.ProductID, b.ProductID)
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// hourBuckets returns the non-empty hours in ascending order.
func hourBuckets(seen [24]bool, revenue [24]float64, units [24]int64) []HourBucket {
	var buckets []HourBucket
	for h := 0; h < 24; h++ {
		if !seen[h] {
			continue
		}
		buckets = append(buckets, HourBucket{Hour: h, Revenue: revenue[h], Units: units[h]})
	}
	return buckets
}
