// Package loader moves fetched batch artifacts into the canonical store.
// Each artifact is loaded in one transaction with upsert-ignore on the
// message id, so running the loader twice over the same artifact set is a
// no-op on the second run.
package loader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/xaenox/telepharm/internal/models"
	"github.com/xaenox/telepharm/internal/storage"
)

type Loader struct {
	store   storage.Storage
	dataDir string
	logger  *zap.Logger
}

// Result summarizes one load run across all discovered artifacts.
type Result struct {
	Artifacts int
	Inserted  int
	Skipped   int
	Failed    int
}

func New(store storage.Storage, dataDir string, logger *zap.Logger) *Loader {
	return &Loader{store: store, dataDir: dataDir, logger: logger}
}

// Run discovers artifacts under <dataDir>/<date>/<channel>/ and loads each
// one. A malformed artifact rolls back, is logged, and does not prevent the
// remaining artifacts from loading. A storage outage aborts the stage.
func (l *Loader) Run(ctx context.Context) (Result, error) {
	files, err := filepath.Glob(filepath.Join(l.dataDir, "*", "*", "*.json"))
	if err != nil {
		return Result{}, fmt.Errorf("discover artifacts: %w", err)
	}
	sort.Strings(files)

	var res Result
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		inserted, skipped, err := l.loadArtifact(ctx, file)
		if errors.Is(err, storage.ErrUnavailable) {
			return res, fmt.Errorf("load %s: %w", file, err)
		}
		if err != nil {
			l.logger.Error("Failed to load artifact",
				zap.String("artifact", file), zap.Error(err))
			res.Failed++
			continue
		}

		res.Artifacts++
		res.Inserted += inserted
		res.Skipped += skipped
		l.logger.Info("Loaded artifact",
			zap.String("artifact", file),
			zap.Int("inserted", inserted),
			zap.Int("skipped", skipped))
	}

	return res, nil
}

func (l *Loader) loadArtifact(ctx context.Context, file string) (int, int, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return 0, 0, fmt.Errorf("read artifact: %w", err)
	}

	var msgs []models.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return 0, 0, fmt.Errorf("parse artifact: %w", err)
	}

	for i := range msgs {
		msgs[i].MessageLength = utf8.RuneCountInString(msgs[i].Text)
	}

	inserted, skipped, err := l.store.InsertMessages(ctx, msgs)
	if err != nil {
		return 0, 0, fmt.Errorf("insert messages: %w", err)
	}

	return inserted, skipped, nil
}
