package models

import "time"

// Message is one posted item scraped from a channel feed. The JSON tags
// describe the batch artifact format written by the fetcher; MessageLength
// and LoadedAt are derived at load time and never appear in artifacts.
type Message struct {
	MessageID   int64     `json:"message_id"`
	Channel     string    `json:"channel"`
	ScrapeDate  string    `json:"scrape_date"`
	MessageDate time.Time `json:"message_date"`
	SenderID    int64     `json:"sender_id"`
	Text        string    `json:"text"`
	HasImage    bool      `json:"has_image"`
	ImageFile   *string   `json:"image_file"`

	MessageLength int       `json:"-"`
	LoadedAt      time.Time `json:"-"`
}

// ImagePath returns the stored image path or "" when the message has none.
func (m Message) ImagePath() string {
	if m.ImageFile == nil {
		return ""
	}
	return *m.ImageFile
}

// Classification is one detected-object observation on a message's image.
// A message may have zero, one, or many classifications.
type Classification struct {
	ID          int64
	MessageID   int64
	ImageFile   string
	ObjectClass string
	Confidence  float64
	LoadedAt    time.Time
}

// ImageRef identifies a stored message whose image awaits enrichment.
type ImageRef struct {
	MessageID int64
	ImageFile string
}

// ProductMention is one row of the ranked product report: text mentions and
// image detections summed per product.
type ProductMention struct {
	Product      string `json:"product"`
	MentionCount int64  `json:"mention_count"`
}

// ObjectDetectionStat aggregates the classifications of one object class
// across one channel day.
type ObjectDetectionStat struct {
	ObjectClass    string  `json:"object_class"`
	DetectionCount int64   `json:"detection_count"`
	AvgConfidence  float64 `json:"avg_confidence"`
}

// ChannelActivityDay summarizes one channel's posting activity on one fetch
// date. ObjectDetections is empty, never nil, for dates without detections.
type ChannelActivityDay struct {
	Date             string                `json:"date"`
	MessageCount     int64                 `json:"message_count"`
	ImageCount       int64                 `json:"image_count"`
	ObjectDetections []ObjectDetectionStat `json:"object_detections"`
}

// SearchHit is one full-text search result.
type SearchHit struct {
	MessageID   int64     `json:"message_id"`
	ChannelName string    `json:"channel_name"`
	MessageDate time.Time `json:"message_date"`
	Text        string    `json:"text"`
}
