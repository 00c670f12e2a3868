package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"smartdeals/internal/model"
	"smartdeals/internal/snapshot"
)

const maxBody = 32 << 20

// HTTPFeed fetches a JSON snapshot from a URL. The body may be an array of
// records, {"products": [...]}, or an object keyed by document id.
type HTTPFeed struct {
	url    string
	client *http.Client
	ready  *Readiness
}

func NewHTTPFeed(url string, client *http.Client) *HTTPFeed {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPFeed{url: url, client: client, ready: Resolved()}
}

func (h *HTTPFeed) Ready() <-chan struct{} { return h.ready.Done() }

func (h *HTTPFeed) Fetch(ctx context.Context) ([]model.RawProduct, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %w", ErrUnavailable, h.url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned %d", ErrUnavailable, h.url, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrUnavailable, err)
	}
	records, _, err := snapshot.DecodeRecords(body)
	if err != nil {
		return nil, fmt.Errorf("%w: decode body: %w", ErrUnavailable, err)
	}
	return records, nil
}
