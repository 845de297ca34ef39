// Package fetcher pulls a bounded window of recent items per channel and
// writes one JSON batch artifact per channel per run. Artifacts are consumed
// by the loader; repeated runs are replayable thanks to the loader's
// de-duplication.
package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/telepharm/internal/feed"
	"github.com/xaenox/telepharm/internal/models"
)

type Fetcher struct {
	source   feed.Source
	channels []string
	limit    int
	dataDir  string
	logger   *zap.Logger
	now      func() time.Time
}

// Result summarizes one fetch run across all configured channels.
type Result struct {
	Channels    int
	Messages    int
	Images      int
	RateLimited int
	Failed      int
}

func New(source feed.Source, channels []string, limit int, dataDir string, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		source:   source,
		channels: channels,
		limit:    limit,
		dataDir:  dataDir,
		logger:   logger,
		now:      time.Now,
	}
}

// Run scrapes every configured channel. A rate-limit signal abandons that
// channel for this run; any other per-channel error is logged and the run
// continues, so partial progress on other channels is preserved.
func (f *Fetcher) Run(ctx context.Context) (Result, error) {
	var res Result

	for _, name := range f.channels {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		messages, images, err := f.scrapeChannel(ctx, name)
		switch {
		case errors.Is(err, feed.ErrRateLimited):
			f.logger.Error("Rate limit hit, abandoning channel for this run",
				zap.String("channel", name), zap.Error(err))
			res.RateLimited++
		case err != nil:
			f.logger.Error("Failed to scrape channel",
				zap.String("channel", name), zap.Error(err))
			res.Failed++
		default:
			res.Channels++
			res.Messages += messages
			res.Images += images
		}
	}

	return res, nil
}

func (f *Fetcher) scrapeChannel(ctx context.Context, name string) (int, int, error) {
	ch, err := f.source.Resolve(ctx, name)
	if err != nil {
		return 0, 0, fmt.Errorf("resolve channel: %w", err)
	}

	items, err := f.source.Recent(ctx, ch, f.limit)
	if err != nil {
		return 0, 0, fmt.Errorf("fetch recent items: %w", err)
	}

	date := f.now().Format("2006-01-02")
	outDir := filepath.Join(f.dataDir, date, ch.Name)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return 0, 0, fmt.Errorf("create output directory: %w", err)
	}

	images := 0
	batch := make([]models.Message, 0, len(items))
	for _, item := range items {
		msg := models.Message{
			MessageID:   item.ID,
			Channel:     ch.Name,
			ScrapeDate:  date,
			MessageDate: item.Posted,
			SenderID:    item.SenderID,
			Text:        item.Text,
			HasImage:    item.HasImage,
		}

		if item.HasImage {
			imagePath := filepath.Join(outDir, fmt.Sprintf("%s_%d.jpg", ch.Name, item.ID))
			if err := f.source.DownloadImage(ctx, item, imagePath); err != nil {
				return 0, 0, fmt.Errorf("download image for message %d: %w", item.ID, err)
			}
			msg.ImageFile = &imagePath
			images++
			f.logger.Info("Downloaded image",
				zap.String("channel", ch.Name), zap.String("path", imagePath))
		}

		batch = append(batch, msg)
	}

	if err := f.writeArtifact(outDir, ch.Name, batch); err != nil {
		return 0, 0, err
	}

	f.logger.Info("Saved channel batch",
		zap.String("channel", ch.Name),
		zap.String("date", date),
		zap.Int("messages", len(batch)),
		zap.Int("images", images))

	return len(batch), images, nil
}

func (f *Fetcher) writeArtifact(dir, channel string, batch []models.Message) error {
	data, err := json.MarshalIndent(batch, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal artifact: %w", err)
	}

	path := filepath.Join(dir, channel+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write artifact %s: %w", path, err)
	}

	return nil
}
