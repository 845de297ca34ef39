// Package enricher attaches object-classification rows to stored messages
// that carry an image. One image's detections are written in a single
// transaction; a failure on one image rolls back only that image's rows.
package enricher

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/xaenox/telepharm/internal/models"
	"github.com/xaenox/telepharm/internal/storage"
	"github.com/xaenox/telepharm/internal/vision"
)

// Mode controls what happens when a message already has classification rows.
type Mode string

const (
	// ModeAppend re-runs detection and appends new rows alongside the old
	// ones, duplicating labels across runs.
	ModeAppend Mode = "append"
	// ModeSkip leaves already-classified messages untouched.
	ModeSkip Mode = "skip"
	// ModeReplace deletes a message's prior rows in the same transaction
	// that writes the new ones.
	ModeReplace Mode = "replace"
)

// ParseMode validates a configured mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeAppend, ModeSkip, ModeReplace:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown enrichment mode %q", s)
	}
}

type Enricher struct {
	store    storage.Storage
	detector vision.Detector
	mapping  vision.Mapping
	mode     Mode
	logger   *zap.Logger
}

// Result summarizes one enrichment run.
type Result struct {
	Images     int
	Detections int
	Missing    int
	Failed     int
}

func New(store storage.Storage, detector vision.Detector, mapping vision.Mapping, mode Mode, logger *zap.Logger) *Enricher {
	if mapping == nil {
		mapping = vision.DefaultMapping()
	}
	return &Enricher{
		store:    store,
		detector: detector,
		mapping:  mapping,
		mode:     mode,
		logger:   logger,
	}
}

// Run classifies every image-bearing message whose file exists on disk.
// Messages with a missing file are logged and skipped; they are not retried
// here. A storage outage aborts the stage.
func (e *Enricher) Run(ctx context.Context) (Result, error) {
	refs, err := e.store.ImageMessages(ctx, e.mode == ModeSkip)
	if err != nil {
		return Result{}, fmt.Errorf("list image messages: %w", err)
	}

	var res Result
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		if _, err := os.Stat(ref.ImageFile); err != nil {
			e.logger.Warn("Image not found",
				zap.Int64("message_id", ref.MessageID),
				zap.String("image_file", ref.ImageFile))
			res.Missing++
			continue
		}

		detections, err := e.processImage(ctx, ref)
		if errors.Is(err, storage.ErrUnavailable) {
			return res, fmt.Errorf("enrich message %d: %w", ref.MessageID, err)
		}
		if err != nil {
			e.logger.Error("Failed to process image",
				zap.Int64("message_id", ref.MessageID),
				zap.String("image_file", ref.ImageFile),
				zap.Error(err))
			res.Failed++
			continue
		}

		res.Images++
		res.Detections += detections
		e.logger.Info("Processed image",
			zap.Int64("message_id", ref.MessageID),
			zap.Int("detections", detections))
	}

	return res, nil
}

func (e *Enricher) processImage(ctx context.Context, ref models.ImageRef) (int, error) {
	detections, err := e.detector.Detect(ctx, ref.ImageFile)
	if err != nil {
		return 0, fmt.Errorf("detect objects: %w", err)
	}

	rows := make([]models.Classification, 0, len(detections))
	for _, d := range detections {
		rows = append(rows, models.Classification{
			MessageID:   ref.MessageID,
			ImageFile:   ref.ImageFile,
			ObjectClass: e.mapping.Reduce(d.Label),
			Confidence:  d.Confidence,
		})
	}

	if len(rows) == 0 && e.mode != ModeReplace {
		return 0, nil
	}

	if err := e.store.SaveClassifications(ctx, ref.MessageID, rows, e.mode == ModeReplace); err != nil {
		return 0, fmt.Errorf("save classifications: %w", err)
	}

	return len(rows), nil
}
