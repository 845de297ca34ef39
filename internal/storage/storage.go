package storage

import (
	"context"
	"errors"

	"github.com/xaenox/telepharm/internal/models"
)

// ErrUnavailable marks failures caused by the backend being unreachable, as
// opposed to a query that legitimately matched nothing. Callers use
// errors.Is to tell an empty report from a failed one.
var ErrUnavailable = errors.New("storage unavailable")

// Storage is the canonical store shared by the loader, the enricher and the
// analytics engine. Writers commit one logical unit of work (one artifact,
// one image's detections) per call so a mid-unit failure leaves no partial
// rows.
type Storage interface {
	// InsertMessages loads one artifact's messages in a single transaction
	// with upsert-ignore semantics on the message id. It returns how many
	// rows were inserted and how many were skipped as duplicates.
	InsertMessages(ctx context.Context, msgs []models.Message) (inserted, skipped int, err error)

	// ImageMessages lists stored messages that carry an image. With
	// onlyUnclassified set, messages that already have classification rows
	// are excluded.
	ImageMessages(ctx context.Context, onlyUnclassified bool) ([]models.ImageRef, error)

	// SaveClassifications writes all of one image's classification rows in a
	// single transaction. With replace set, prior rows for the message are
	// deleted in the same transaction.
	SaveClassifications(ctx context.Context, messageID int64, rows []models.Classification, replace bool) error

	// TextMentionCounts counts, per product, the messages whose text contains
	// the product name case-insensitively. Products with zero matches are
	// omitted.
	TextMentionCounts(ctx context.Context, products []string) (map[string]int64, error)

	// ImageLabelCounts counts classification rows per object class.
	ImageLabelCounts(ctx context.Context) (map[string]int64, error)

	// DailyCounts returns per-date message and image totals for one channel.
	DailyCounts(ctx context.Context, channel string) ([]DailyCount, error)

	// DailyDetections returns per-date object-class aggregates for one
	// channel, keyed by fetch date.
	DailyDetections(ctx context.Context, channel string) (map[string][]models.ObjectDetectionStat, error)

	// SearchMessages matches message text case-insensitively, newest post
	// first, capped at limit. An empty query matches everything.
	SearchMessages(ctx context.Context, query string, limit int) ([]models.SearchHit, error)

	Close() error
}

// DailyCount is one channel day's message and image totals.
type DailyCount struct {
	Date         string
	MessageCount int64
	ImageCount   int64
}
