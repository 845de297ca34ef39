package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xaenox/telepharm/internal/models"
)

var (
	pgOnce    sync.Once
	pgConfig  DatabaseConfig
	pgInitErr error
)

// setupPostgres starts one PostgreSQL container for the whole test run and
// hands out a fresh PostgresStorage per test. Tables are truncated on cleanup,
// so these tests must not run in parallel with each other.
func setupPostgres(t *testing.T) *PostgresStorage {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed storage tests in short mode")
	}

	pgOnce.Do(func() {
		pgConfig, pgInitErr = startPostgresContainer()
	})
	if pgInitErr != nil {
		t.Fatalf("setup test database: %v", pgInitErr)
	}

	store, err := NewPostgresStorage(pgConfig)
	require.NoError(t, err)

	t.Cleanup(func() {
		_, err := store.db.Exec(`TRUNCATE classifications, messages`)
		require.NoError(t, err)
		require.NoError(t, store.Close())
	})

	return store
}

func startPostgresContainer() (DatabaseConfig, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpass",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return DatabaseConfig{}, fmt.Errorf("start container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return DatabaseConfig{}, fmt.Errorf("get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return DatabaseConfig{}, fmt.Errorf("get mapped port: %w", err)
	}

	return DatabaseConfig{
		Host:     host,
		Port:     port.Int(),
		User:     "testuser",
		Password: "testpass",
		DBName:   "testdb",
		SSLMode:  "disable",
	}, nil
}

func allMessageIDs(t *testing.T, store *PostgresStorage) []int64 {
	t.Helper()

	hits, err := store.SearchMessages(context.Background(), "", 100)
	require.NoError(t, err)

	ids := make([]int64, 0, len(hits))
	for _, hit := range hits {
		ids = append(ids, hit.MessageID)
	}
	return ids
}

func TestPostgresInsertMessagesRollsBackFailedBatch(t *testing.T) {
	store := setupPostgres(t)
	ctx := context.Background()

	posted := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	earlier := []models.Message{
		{MessageID: 1, Channel: "chemed", ScrapeDate: "2026-08-29", MessageDate: posted, Text: "paracetamol restock"},
		{MessageID: 2, Channel: "chemed", ScrapeDate: "2026-08-29", MessageDate: posted, Text: "cream arrivals"},
	}
	inserted, skipped, err := store.InsertMessages(ctx, earlier)
	require.NoError(t, err)
	require.Equal(t, 2, inserted)
	require.Zero(t, skipped)

	// The middle item carries an unparseable date, so the batch fails after
	// the first item already executed inside the transaction.
	bad := []models.Message{
		{MessageID: 10, Channel: "chemed", ScrapeDate: "2026-08-30", MessageDate: posted, Text: "valid before failure"},
		{MessageID: 11, Channel: "chemed", ScrapeDate: "not-a-date", MessageDate: posted, Text: "broken"},
		{MessageID: 12, Channel: "chemed", ScrapeDate: "2026-08-30", MessageDate: posted, Text: "valid after failure"},
	}
	_, _, err = store.InsertMessages(ctx, bad)
	require.Error(t, err)

	// No partial rows from the failed batch; the earlier batch is intact.
	require.ElementsMatch(t, []int64{1, 2}, allMessageIDs(t, store))

	// The rolled-back items were never committed, so a repaired batch
	// inserts all of them.
	for i := range bad {
		bad[i].ScrapeDate = "2026-08-30"
	}
	inserted, skipped, err = store.InsertMessages(ctx, bad)
	require.NoError(t, err)
	require.Equal(t, 3, inserted)
	require.Zero(t, skipped)
}

func TestPostgresInsertMessagesIdempotent(t *testing.T) {
	store := setupPostgres(t)
	ctx := context.Background()

	batch := []models.Message{
		{MessageID: 1, Channel: "chemed", ScrapeDate: "2026-08-30", Text: "original text"},
	}
	inserted, skipped, err := store.InsertMessages(ctx, batch)
	require.NoError(t, err)
	require.Equal(t, 1, inserted)
	require.Zero(t, skipped)

	// Re-fetching the same item is a no-op, never an update.
	batch[0].Text = "rewritten text"
	inserted, skipped, err = store.InsertMessages(ctx, batch)
	require.NoError(t, err)
	require.Zero(t, inserted)
	require.Equal(t, 1, skipped)

	hits, err := store.SearchMessages(ctx, "original", 50)
	require.NoError(t, err)
	require.Len(t, hits, 1)
}

func TestPostgresSaveClassificationsReplace(t *testing.T) {
	store := setupPostgres(t)
	ctx := context.Background()

	image := "chemed_1.jpg"
	_, _, err := store.InsertMessages(ctx, []models.Message{
		{MessageID: 1, Channel: "chemed", ScrapeDate: "2026-08-30", HasImage: true, ImageFile: &image},
	})
	require.NoError(t, err)

	require.NoError(t, store.SaveClassifications(ctx, 1, []models.Classification{
		{ImageFile: image, ObjectClass: "pill", Confidence: 0.9},
		{ImageFile: image, ObjectClass: "pill", Confidence: 0.8},
	}, false))
	require.NoError(t, store.SaveClassifications(ctx, 1, []models.Classification{
		{ImageFile: image, ObjectClass: "cream", Confidence: 0.7},
	}, true))

	counts, err := store.ImageLabelCounts(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]int64{"cream": 1}, counts)

	// Classifications require their message row.
	err = store.SaveClassifications(ctx, 999, []models.Classification{
		{ImageFile: image, ObjectClass: "pill", Confidence: 0.9},
	}, false)
	require.Error(t, err)
}
