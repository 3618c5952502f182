package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

var (
	// ErrServiceUnavailable covers transport failures and non-2xx replies.
	ErrServiceUnavailable = errors.New("catalog service unavailable")
	// ErrMalformedResponse is returned when a reply cannot be parsed.
	ErrMalformedResponse = errors.New("malformed catalog response")
)

const (
	DefaultURL     = "http://gsss.stsci.edu/webservices/vo/CatalogSearch.aspx"
	DefaultCatalog = "GSC241"
	DefaultRadius  = 0.5
	DefaultTimeout = 30 * time.Second
)

// Query is a cone search around RA/Dec (degrees) of the given radius.
type Query struct {
	RA, Dec float64
	Radius  float64
	Catalog string
}

// Client queries the Guide Star Catalog web service.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for baseURL; an empty URL selects DefaultURL and
// a zero timeout DefaultTimeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{baseURL: baseURL, http: &http.Client{Timeout: timeout}}
}

// QueryURL returns the request URL of q.
func (c *Client) QueryURL(q Query) string {
	cat := q.Catalog
	if cat == "" {
		cat = DefaultCatalog
	}
	radius := q.Radius
	if radius <= 0 {
		radius = DefaultRadius
	}
	return c.baseURL + "?RA=" + formatDegrees(q.RA) +
		"&DEC=" + formatDegrees(q.Dec) +
		"&DSN=+&FORMAT=CSV&CAT=" + cat +
		"&SR=" + formatDegrees(radius) + "&"
}

func formatDegrees(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Fetch runs q and returns the raw CSV reply.
func (c *Client) Fetch(ctx context.Context, q Query) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.QueryURL(q), nil)
	if err != nil {
		return nil, fmt.Errorf("build catalog request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %s", ErrServiceUnavailable, resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrServiceUnavailable, err)
	}
	return body, nil
}

// Entries runs q and parses the reply for the given band, keeping entries
// with 0 < mag < maxMag.
func (c *Client) Entries(ctx context.Context, q Query, band string, maxMag float64) ([]Entry, []byte, error) {
	body, err := c.Fetch(ctx, q)
	if err != nil {
		return nil, nil, err
	}
	entries, err := ParseEntries(body, band, maxMag)
	if err != nil {
		return nil, body, err
	}
	return entries, body, nil
}
