package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xaenox/telepharm/internal/feed"
	"github.com/xaenox/telepharm/internal/models"
)

type fakeSource struct {
	items     map[string][]feed.Item
	throttled map[string]bool
	broken    map[string]bool
}

func (f *fakeSource) Resolve(ctx context.Context, name string) (feed.Channel, error) {
	if f.throttled[name] {
		return feed.Channel{}, fmt.Errorf("resolve %s: %w", name, feed.ErrRateLimited)
	}
	if f.broken[name] {
		return feed.Channel{}, fmt.Errorf("resolve %s: boom", name)
	}
	return feed.Channel{Name: name, Title: name}, nil
}

func (f *fakeSource) Recent(ctx context.Context, ch feed.Channel, limit int) ([]feed.Item, error) {
	items := f.items[ch.Name]
	if len(items) > limit {
		items = items[len(items)-limit:]
	}
	return items, nil
}

func (f *fakeSource) DownloadImage(ctx context.Context, item feed.Item, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dest, []byte("jpeg-bytes"), 0o644)
}

func fixedClock() time.Time {
	return time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
}

func TestFetcherWritesArtifact(t *testing.T) {
	t.Parallel()

	posted := time.Date(2026, 8, 29, 18, 0, 0, 0, time.UTC)
	source := &fakeSource{
		items: map[string][]feed.Item{
			"chemed": {
				{ID: 101, Channel: "chemed", Posted: posted, Text: "Paracetamol in stock"},
				{ID: 102, Channel: "chemed", Posted: posted.Add(time.Hour), HasImage: true, ImageURL: "http://img"},
			},
		},
	}

	dataDir := t.TempDir()
	f := New(source, []string{"chemed"}, 50, dataDir, zap.NewNop())
	f.now = fixedClock

	res, err := f.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Channels)
	require.Equal(t, 2, res.Messages)
	require.Equal(t, 1, res.Images)

	artifact := filepath.Join(dataDir, "2026-08-30", "chemed", "chemed.json")
	data, err := os.ReadFile(artifact)
	require.NoError(t, err)

	var batch []models.Message
	require.NoError(t, json.Unmarshal(data, &batch))
	require.Len(t, batch, 2)

	require.Equal(t, int64(101), batch[0].MessageID)
	require.Equal(t, "chemed", batch[0].Channel)
	require.Equal(t, "2026-08-30", batch[0].ScrapeDate)
	require.Equal(t, "Paracetamol in stock", batch[0].Text)
	require.False(t, batch[0].HasImage)
	require.Nil(t, batch[0].ImageFile)

	require.True(t, batch[1].HasImage)
	require.NotNil(t, batch[1].ImageFile)
	require.Equal(t, filepath.Join(dataDir, "2026-08-30", "chemed", "chemed_102.jpg"), *batch[1].ImageFile)

	image, err := os.ReadFile(*batch[1].ImageFile)
	require.NoError(t, err)
	require.Equal(t, "jpeg-bytes", string(image))
}

func TestFetcherRateLimitAbandonsOnlyThatChannel(t *testing.T) {
	t.Parallel()

	source := &fakeSource{
		items: map[string][]feed.Item{
			"chemed": {{ID: 1, Channel: "chemed", Text: "hello"}},
		},
		throttled: map[string]bool{"tikvah": true},
	}

	dataDir := t.TempDir()
	f := New(source, []string{"tikvah", "chemed"}, 50, dataDir, zap.NewNop())
	f.now = fixedClock

	res, err := f.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Channels)
	require.Equal(t, 1, res.RateLimited)
	require.Equal(t, 0, res.Failed)

	// Partial progress on the healthy channel is preserved.
	require.FileExists(t, filepath.Join(dataDir, "2026-08-30", "chemed", "chemed.json"))
	require.NoDirExists(t, filepath.Join(dataDir, "2026-08-30", "tikvah"))
}

func TestFetcherChannelErrorDoesNotAbortRun(t *testing.T) {
	t.Parallel()

	source := &fakeSource{
		items: map[string][]feed.Item{
			"chemed": {{ID: 1, Channel: "chemed", Text: "hello"}},
		},
		broken: map[string]bool{"lobelia": true},
	}

	dataDir := t.TempDir()
	f := New(source, []string{"lobelia", "chemed"}, 50, dataDir, zap.NewNop())
	f.now = fixedClock

	res, err := f.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Channels)
	require.Equal(t, 1, res.Failed)
	require.FileExists(t, filepath.Join(dataDir, "2026-08-30", "chemed", "chemed.json"))
}

func TestFetcherHonorsCancellation(t *testing.T) {
	t.Parallel()

	source := &fakeSource{items: map[string][]feed.Item{}}
	f := New(source, []string{"chemed"}, 50, t.TempDir(), zap.NewNop())
	f.now = fixedClock

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
