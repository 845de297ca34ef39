package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const defaultBaseURL = "https://t.me"

var backgroundImageExpr = regexp.MustCompile(`background-image:\s*url\('([^']+)'\)`)

// WebSource reads public channels through the t.me/s/<channel> preview pages.
// The preview serves roughly twenty posts per page; older pages are reached
// with the before=<id> cursor.
type WebSource struct {
	baseURL string
	client  *http.Client
}

var _ Source = (*WebSource)(nil)

// NewWebSource wires an HTTP client; baseURL defaults to https://t.me.
func NewWebSource(baseURL string, client *http.Client) *WebSource {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &WebSource{baseURL: strings.TrimSuffix(baseURL, "/"), client: client}
}

func (s *WebSource) Resolve(ctx context.Context, name string) (Channel, error) {
	doc, err := s.fetchDocument(ctx, s.previewURL(name, 0))
	if err != nil {
		return Channel{}, err
	}

	title := strings.TrimSpace(doc.Find(".tgme_channel_info_header_title").First().Text())
	if title == "" {
		return Channel{}, fmt.Errorf("channel %s has no public preview", name)
	}

	return Channel{Name: name, Title: title}, nil
}

func (s *WebSource) Recent(ctx context.Context, ch Channel, limit int) ([]Item, error) {
	var items []Item
	seen := make(map[int64]bool)
	before := int64(0)

	for len(items) < limit {
		doc, err := s.fetchDocument(ctx, s.previewURL(ch.Name, before))
		if err != nil {
			return nil, err
		}

		var page []Item
		for _, item := range s.parsePage(doc, ch.Name) {
			if seen[item.ID] {
				continue
			}
			seen[item.ID] = true
			page = append(page, item)
		}
		// A page of only already-seen posts means the server stopped honoring
		// the cursor; return what we have instead of looping on replays.
		if len(page) == 0 {
			break
		}

		// Pages list oldest first; prepend older pages before newer ones.
		items = append(page, items...)
		before = page[0].ID
	}

	if len(items) > limit {
		items = items[len(items)-limit:]
	}

	return items, nil
}

func (s *WebSource) DownloadImage(ctx context.Context, item Item, dest string) error {
	if item.ImageURL == "" {
		return fmt.Errorf("item %d has no image", item.ID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, item.ImageURL, nil)
	if err != nil {
		return fmt.Errorf("build image request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("request image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("download image %d: %w", item.ID, ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download image %d: unexpected status %s", item.ID, resp.Status)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create image directory: %w", err)
	}

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create image file: %w", err)
	}

	if _, err := io.Copy(out, resp.Body); err != nil {
		_ = out.Close()
		return fmt.Errorf("write image file: %w", err)
	}

	return out.Close()
}

func (s *WebSource) previewURL(name string, before int64) string {
	u := fmt.Sprintf("%s/s/%s", s.baseURL, name)
	if before > 0 {
		u += "?before=" + strconv.FormatInt(before, 10)
	}
	return u
}

func (s *WebSource) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "telepharm/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request preview page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("fetch %s: %w", pageURL, ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %s", pageURL, resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse preview page: %w", err)
	}

	return doc, nil
}

func (s *WebSource) parsePage(doc *goquery.Document, channel string) []Item {
	var items []Item

	doc.Find(".tgme_widget_message").Each(func(i int, sel *goquery.Selection) {
		item, ok := parseMessage(sel, channel)
		if !ok {
			return
		}
		items = append(items, item)
	})

	return items
}

func parseMessage(sel *goquery.Selection, channel string) (Item, bool) {
	post, exists := sel.Attr("data-post")
	if !exists {
		return Item{}, false
	}

	idText := post
	if idx := strings.LastIndex(post, "/"); idx >= 0 {
		idText = post[idx+1:]
	}
	id, err := strconv.ParseInt(idText, 10, 64)
	if err != nil {
		return Item{}, false
	}

	item := Item{
		ID:      id,
		Channel: channel,
		Text:    strings.TrimSpace(sel.Find(".tgme_widget_message_text").First().Text()),
	}

	if datetime, ok := sel.Find(".tgme_widget_message_date time").First().Attr("datetime"); ok {
		if posted, err := time.Parse(time.RFC3339, datetime); err == nil {
			item.Posted = posted.UTC()
		}
	}

	photo := sel.Find(".tgme_widget_message_photo_wrap").First()
	if style, ok := photo.Attr("style"); ok {
		if match := backgroundImageExpr.FindStringSubmatch(style); match != nil {
			item.HasImage = true
			item.ImageURL = match[1]
		}
	}

	return item, true
}
