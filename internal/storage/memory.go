package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xaenox/telepharm/internal/models"
)

// MemoryStorage keeps the canonical store in process memory. It backs local
// runs without Postgres and the package tests.
type MemoryStorage struct {
	mu              sync.RWMutex
	messages        map[int64]models.Message
	classifications []models.Classification
	nextClassID     int64
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		messages:    make(map[int64]models.Message),
		nextClassID: 1,
	}
}

func (s *MemoryStorage) InsertMessages(ctx context.Context, msgs []models.Message) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inserted, skipped := 0, 0
	for _, msg := range msgs {
		if _, exists := s.messages[msg.MessageID]; exists {
			skipped++
			continue
		}
		msg.LoadedAt = time.Now()
		s.messages[msg.MessageID] = msg
		inserted++
	}

	return inserted, skipped, nil
}

func (s *MemoryStorage) ImageMessages(ctx context.Context, onlyUnclassified bool) ([]models.ImageRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	classified := make(map[int64]bool)
	if onlyUnclassified {
		for _, c := range s.classifications {
			classified[c.MessageID] = true
		}
	}

	var refs []models.ImageRef
	for _, msg := range s.messages {
		if !msg.HasImage || msg.ImagePath() == "" {
			continue
		}
		if classified[msg.MessageID] {
			continue
		}
		refs = append(refs, models.ImageRef{MessageID: msg.MessageID, ImageFile: msg.ImagePath()})
	}

	sort.Slice(refs, func(i, j int) bool { return refs[i].MessageID < refs[j].MessageID })
	return refs, nil
}

func (s *MemoryStorage) SaveClassifications(ctx context.Context, messageID int64, rows []models.Classification, replace bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.messages[messageID]; !exists {
		return fmt.Errorf("message %d not found", messageID)
	}

	if replace {
		kept := s.classifications[:0]
		for _, c := range s.classifications {
			if c.MessageID != messageID {
				kept = append(kept, c)
			}
		}
		s.classifications = kept
	}

	for _, row := range rows {
		row.ID = s.nextClassID
		row.MessageID = messageID
		row.LoadedAt = time.Now()
		s.nextClassID++
		s.classifications = append(s.classifications, row)
	}

	return nil
}

func (s *MemoryStorage) TextMentionCounts(ctx context.Context, products []string) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int64, len(products))
	for _, product := range products {
		needle := strings.ToLower(product)
		var n int64
		for _, msg := range s.messages {
			if strings.Contains(strings.ToLower(msg.Text), needle) {
				n++
			}
		}
		if n > 0 {
			counts[product] = n
		}
	}

	return counts, nil
}

func (s *MemoryStorage) ImageLabelCounts(ctx context.Context) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int64)
	for _, c := range s.classifications {
		counts[c.ObjectClass]++
	}

	return counts, nil
}

func (s *MemoryStorage) DailyCounts(ctx context.Context, channel string) ([]DailyCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byDate := make(map[string]*DailyCount)
	for _, msg := range s.messages {
		if msg.Channel != channel {
			continue
		}
		dc, ok := byDate[msg.ScrapeDate]
		if !ok {
			dc = &DailyCount{Date: msg.ScrapeDate}
			byDate[msg.ScrapeDate] = dc
		}
		dc.MessageCount++
		if msg.HasImage {
			dc.ImageCount++
		}
	}

	var counts []DailyCount
	for _, dc := range byDate {
		counts = append(counts, *dc)
	}
	sort.Slice(counts, func(i, j int) bool { return counts[i].Date > counts[j].Date })

	return counts, nil
}

func (s *MemoryStorage) DailyDetections(ctx context.Context, channel string) (map[string][]models.ObjectDetectionStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type agg struct {
		count int64
		sum   float64
	}
	byDateClass := make(map[string]map[string]*agg)
	for _, c := range s.classifications {
		msg, ok := s.messages[c.MessageID]
		if !ok || msg.Channel != channel {
			continue
		}
		classes, ok := byDateClass[msg.ScrapeDate]
		if !ok {
			classes = make(map[string]*agg)
			byDateClass[msg.ScrapeDate] = classes
		}
		a, ok := classes[c.ObjectClass]
		if !ok {
			a = &agg{}
			classes[c.ObjectClass] = a
		}
		a.count++
		a.sum += c.Confidence
	}

	detections := make(map[string][]models.ObjectDetectionStat, len(byDateClass))
	for date, classes := range byDateClass {
		var stats []models.ObjectDetectionStat
		for class, a := range classes {
			stats = append(stats, models.ObjectDetectionStat{
				ObjectClass:    class,
				DetectionCount: a.count,
				AvgConfidence:  a.sum / float64(a.count),
			})
		}
		sort.Slice(stats, func(i, j int) bool { return stats[i].ObjectClass < stats[j].ObjectClass })
		detections[date] = stats
	}

	return detections, nil
}

func (s *MemoryStorage) SearchMessages(ctx context.Context, query string, limit int) ([]models.SearchHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(query)
	var hits []models.SearchHit
	for _, msg := range s.messages {
		if !strings.Contains(strings.ToLower(msg.Text), needle) {
			continue
		}
		hits = append(hits, models.SearchHit{
			MessageID:   msg.MessageID,
			ChannelName: msg.Channel,
			MessageDate: msg.MessageDate,
			Text:        msg.Text,
		})
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].MessageDate.After(hits[j].MessageDate) })
	if len(hits) > limit {
		hits = hits[:limit]
	}

	return hits, nil
}

func (s *MemoryStorage) Close() error {
	return nil
}
