package listing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// HTTPChannelEnumerator implements ChannelEnumerator by fetching a channel's
// published-video listing page over plain HTTP and decoding it as JSON. No
// channel-listing/scraping library appears anywhere in the example pack, so
// this stays on net/http + encoding/json rather than reaching for an
// unfamiliar one (see DESIGN.md).
type HTTPChannelEnumerator struct {
	client      *http.Client
	urlTemplate string
}

// HTTPOption configures an HTTPChannelEnumerator.
type HTTPOption func(*HTTPChannelEnumerator)

// WithHTTPClient overrides the enumerator's http.Client, primarily for tests
// and for attaching custom transports (proxies, auth headers).
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(e *HTTPChannelEnumerator) {
		if c != nil {
			e.client = c
		}
	}
}

// WithListingURLTemplate overrides the URL template used to resolve a
// channel handle to a listing endpoint. Must contain exactly one "%s"
// placeholder for the URL-escaped handle.
func WithListingURLTemplate(tmpl string) HTTPOption {
	return func(e *HTTPChannelEnumerator) { e.urlTemplate = tmpl }
}

// NewHTTPChannelEnumerator constructs an HTTPChannelEnumerator with a
// 30-second request timeout by default.
func NewHTTPChannelEnumerator(opts ...HTTPOption) *HTTPChannelEnumerator {
	e := &HTTPChannelEnumerator{
		client:      &http.Client{Timeout: 30 * time.Second},
		urlTemplate: "https://www.youtube.com/%s/videos?sort=dd",
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// channelListingPage is the JSON shape expected back from the configured
// listing endpoint: a pre-rendered feed, not scraped HTML. Deployments that
// front a real video host typically sit this enumerator behind a small
// proxy that normalizes the host's feed into this shape.
type channelListingPage struct {
	Channel string               `json:"channel"`
	Videos  []channelListingItem `json:"videos"`
}

type channelListingItem struct {
	SourceID        string    `json:"source_id"`
	Title           string    `json:"title"`
	PublishedAt     time.Time `json:"published_at"`
	DurationSeconds float64   `json:"duration_seconds"`
}

// ListChannel implements ChannelEnumerator.
func (e *HTTPChannelEnumerator) ListChannel(ctx context.Context, handle string) ([]Candidate, error) {
	endpoint := fmt.Sprintf(e.urlTemplate, url.PathEscape(handle))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch channel listing: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("channel listing returned status %d", resp.StatusCode)
	}

	var page channelListingPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode channel listing: %w", err)
	}

	candidates := make([]Candidate, 0, len(page.Videos))
	for _, v := range page.Videos {
		candidates = append(candidates, Candidate{
			SourceID:        v.SourceID,
			Title:           v.Title,
			PublishedAt:     v.PublishedAt,
			DurationSeconds: v.DurationSeconds,
			Channel:         page.Channel,
		})
	}
	return candidates, nil
}
