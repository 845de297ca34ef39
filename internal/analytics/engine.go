// Package analytics answers the read-side report queries over the canonical
// store. All queries are pure functions of the store's current contents;
// empty results are empty slices, and a storage outage surfaces as
// storage.ErrUnavailable so callers can tell the two apart.
package analytics

import (
	"context"
	"fmt"
	"sort"

	"github.com/xaenox/telepharm/internal/models"
	"github.com/xaenox/telepharm/internal/storage"
)

const searchLimit = 50

type Engine struct {
	store    storage.Storage
	products []string
}

// New builds the engine over a store and the product candidate vocabulary
// used for text-mention counting.
func New(store storage.Storage, products []string) *Engine {
	return &Engine{store: store, products: products}
}

// TopProducts merges text-mention counts and image-label counts by full
// outer join on product name, sums them, and returns the top limit rows.
// A product seen by only one source still appears, with the other source's
// count treated as zero. Ties order by product name so results are
// deterministic for a fixed store.
func (e *Engine) TopProducts(ctx context.Context, limit int) ([]models.ProductMention, error) {
	if limit <= 0 {
		return []models.ProductMention{}, nil
	}

	text, err := e.store.TextMentionCounts(ctx, e.products)
	if err != nil {
		return nil, fmt.Errorf("text mentions: %w", err)
	}

	image, err := e.store.ImageLabelCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("image mentions: %w", err)
	}

	totals := make(map[string]int64, len(text)+len(image))
	for product, n := range text {
		totals[product] += n
	}
	for product, n := range image {
		totals[product] += n
	}

	mentions := make([]models.ProductMention, 0, len(totals))
	for product, n := range totals {
		if n == 0 {
			continue
		}
		mentions = append(mentions, models.ProductMention{Product: product, MentionCount: n})
	}

	sort.Slice(mentions, func(i, j int) bool {
		if mentions[i].MentionCount != mentions[j].MentionCount {
			return mentions[i].MentionCount > mentions[j].MentionCount
		}
		return mentions[i].Product < mentions[j].Product
	})

	if len(mentions) > limit {
		mentions = mentions[:limit]
	}

	return mentions, nil
}

// ChannelActivity reports the named channel's per-date message and image
// counts with object-detection aggregates, most recent date first. Dates
// without classifications carry an empty detection list, never nil.
func (e *Engine) ChannelActivity(ctx context.Context, channelName string) ([]models.ChannelActivityDay, error) {
	counts, err := e.store.DailyCounts(ctx, channelName)
	if err != nil {
		return nil, fmt.Errorf("daily counts: %w", err)
	}

	detections, err := e.store.DailyDetections(ctx, channelName)
	if err != nil {
		return nil, fmt.Errorf("daily detections: %w", err)
	}

	days := make([]models.ChannelActivityDay, 0, len(counts))
	for _, dc := range counts {
		stats := detections[dc.Date]
		if stats == nil {
			stats = []models.ObjectDetectionStat{}
		}
		days = append(days, models.ChannelActivityDay{
			Date:             dc.Date,
			MessageCount:     dc.MessageCount,
			ImageCount:       dc.ImageCount,
			ObjectDetections: stats,
		})
	}

	sort.Slice(days, func(i, j int) bool { return days[i].Date > days[j].Date })

	return days, nil
}

// SearchMessages matches message text case-insensitively, newest post first,
// capped at 50 rows. An empty query matches everything.
func (e *Engine) SearchMessages(ctx context.Context, query string) ([]models.SearchHit, error) {
	hits, err := e.store.SearchMessages(ctx, query, searchLimit)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	if hits == nil {
		hits = []models.SearchHit{}
	}
	return hits, nil
}
