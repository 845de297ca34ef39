package feed

import (
	"context"
	"errors"
	"time"
)

// ErrRateLimited signals the feed source is throttling us. The fetcher
// abandons the current channel for this run and moves on.
var ErrRateLimited = errors.New("feed: rate limited")

// Item is one message pulled from a channel feed, before it is persisted.
type Item struct {
	ID       int64
	Channel  string
	Posted   time.Time
	SenderID int64
	Text     string
	HasImage bool
	ImageURL string
}

// Channel is a resolved feed channel handle.
type Channel struct {
	Name  string
	Title string
}

// Source reads public channel feeds. Implementations must return
// ErrRateLimited (possibly wrapped) when the upstream throttles.
type Source interface {
	// Resolve maps a configured channel name to a stable handle.
	Resolve(ctx context.Context, name string) (Channel, error)

	// Recent returns up to limit of the channel's most recent items,
	// oldest first.
	Recent(ctx context.Context, ch Channel, limit int) ([]Item, error)

	// DownloadImage stores the item's attached image at dest.
	DownloadImage(ctx context.Context, item Item, dest string) error
}
