package loader

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xaenox/telepharm/internal/models"
	"github.com/xaenox/telepharm/internal/storage"
)

const chemedArtifact = `[
  {
    "message_id": 101,
    "channel": "chemed",
    "scrape_date": "2026-08-30",
    "message_date": "2026-08-29T18:00:00Z",
    "sender_id": 0,
    "text": "Paracetamol in stock",
    "has_image": false,
    "image_file": null
  },
  {
    "message_id": 102,
    "channel": "chemed",
    "scrape_date": "2026-08-30",
    "message_date": "2026-08-29T19:00:00Z",
    "sender_id": 0,
    "text": "",
    "has_image": true,
    "image_file": "data/2026-08-30/chemed/chemed_102.jpg"
  }
]`

const lobeliaArtifact = `[
  {
    "message_id": 201,
    "channel": "lobelia",
    "scrape_date": "2026-08-30",
    "message_date": "2026-08-30T08:00:00Z",
    "sender_id": 0,
    "text": "New cream arrivals",
    "has_image": false,
    "image_file": null
  }
]`

func writeArtifact(t *testing.T, dataDir, date, channel, content string) {
	t.Helper()
	dir := filepath.Join(dataDir, date, channel)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, channel+".json"), []byte(content), 0o644))
}

func TestLoaderLoadsAllArtifacts(t *testing.T) {
	t.Parallel()

	dataDir := t.TempDir()
	writeArtifact(t, dataDir, "2026-08-30", "chemed", chemedArtifact)
	writeArtifact(t, dataDir, "2026-08-30", "lobelia", lobeliaArtifact)

	store := storage.NewMemoryStorage()
	l := New(store, dataDir, zap.NewNop())

	res, err := l.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, res.Artifacts)
	require.Equal(t, 3, res.Inserted)
	require.Equal(t, 0, res.Skipped)
	require.Equal(t, 0, res.Failed)

	hits, err := store.SearchMessages(context.Background(), "paracetamol", 50)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, int64(101), hits[0].MessageID)
}

func TestLoaderIsIdempotent(t *testing.T) {
	t.Parallel()

	dataDir := t.TempDir()
	writeArtifact(t, dataDir, "2026-08-30", "chemed", chemedArtifact)

	store := storage.NewMemoryStorage()
	l := New(store, dataDir, zap.NewNop())

	first, err := l.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, first.Inserted)
	require.Equal(t, 0, first.Skipped)

	second, err := l.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, second.Inserted)
	require.Equal(t, 2, second.Skipped)
}

func TestLoaderMalformedArtifactDoesNotStopRun(t *testing.T) {
	t.Parallel()

	dataDir := t.TempDir()
	writeArtifact(t, dataDir, "2026-08-30", "broken", `{"not": "an array"`)
	writeArtifact(t, dataDir, "2026-08-30", "chemed", chemedArtifact)

	store := storage.NewMemoryStorage()
	l := New(store, dataDir, zap.NewNop())

	res, err := l.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Artifacts)
	require.Equal(t, 2, res.Inserted)
	require.Equal(t, 1, res.Failed)
}

type spyStore struct {
	storage.Storage
	inserted []models.Message
}

func (s *spyStore) InsertMessages(ctx context.Context, msgs []models.Message) (int, int, error) {
	s.inserted = append(s.inserted, msgs...)
	return s.Storage.InsertMessages(ctx, msgs)
}

func TestLoaderDerivesMessageLength(t *testing.T) {
	t.Parallel()

	dataDir := t.TempDir()
	writeArtifact(t, dataDir, "2026-08-30", "chemed", chemedArtifact)

	store := &spyStore{Storage: storage.NewMemoryStorage()}
	_, err := New(store, dataDir, zap.NewNop()).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, store.inserted, 2)
	require.Equal(t, len("Paracetamol in stock"), store.inserted[0].MessageLength)
	require.Zero(t, store.inserted[1].MessageLength)
}

func TestLoaderEmptyDataDir(t *testing.T) {
	t.Parallel()

	l := New(storage.NewMemoryStorage(), t.TempDir(), zap.NewNop())
	res, err := l.Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, res.Artifacts)
}
