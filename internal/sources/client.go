package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/JakeFAU/chapter-archiver/internal/backoff"
)

// DefaultUserAgent is sent when a source config leaves UserAgent empty.
const DefaultUserAgent = "Mozilla/5.0 (compatible; chapter-archiver/1.0)"

const maxMetadataBody = 8 << 20

// httpClient performs metadata requests shared by every source.
type httpClient struct {
	client    *http.Client
	userAgent string
	now       func() time.Time
}

func newHTTPClient(client *http.Client, userAgent string) httpClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return httpClient{client: client, userAgent: userAgent, now: time.Now}
}

// get issues a GET and returns the body of a 2xx response. Non-2xx responses
// are classified by backoff.CheckResponse.
func (c httpClient) get(ctx context.Context, rawURL, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if err := backoff.CheckResponse(resp, c.now()); err != nil {
		return nil, fmt.Errorf("get %s: %w", rawURL, err)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMetadataBody))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rawURL, err)
	}
	return body, nil
}

func (c httpClient) getJSON(ctx context.Context, rawURL string, v any) error {
	body, err := c.get(ctx, rawURL, "application/json")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode %s: %w", rawURL, err)
	}
	return nil
}
