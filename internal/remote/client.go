// Package remote is the read-only client for the campaign API: it fetches
// the content manifest, the changelog signal, and the device registration
// document.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/adloop/signage-agent-go/internal/models"
	"github.com/adloop/signage-agent-go/internal/parser"
	"github.com/adloop/signage-agent-go/internal/retry"
	"github.com/adloop/signage-agent-go/pkg/logger"
)

// TransportError reports a fetch that failed at the network or HTTP level.
// Status is zero when no response was received at all.
type TransportError struct {
	URL    string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransport returns true if the error is a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// HTTPClient defines the interface for making HTTP requests.
// This allows for easy mocking in tests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds the campaign API endpoints and fetch policy.
type Config struct {
	BaseURL       string
	ManifestPath  string
	ChangelogPath string
	DevicePath    string
	Token         string
	Timeout       time.Duration
	Retry         retry.Config
}

// Client fetches campaign documents. Manifest and device fetches retry with
// backoff; the changelog fetch does not, because the poll cadence already is
// the retry loop.
type Client struct {
	client HTTPClient
	cfg    Config
}

// NewClient creates a Client. A nil httpClient gets a default with the
// configured per-request timeout.
func NewClient(httpClient HTTPClient, cfg Config) *Client {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{client: httpClient, cfg: cfg}
}

// FetchManifest retrieves and parses the content manifest.
func (c *Client) FetchManifest(ctx context.Context) ([]models.Playlist, []models.Video, error) {
	var playlists []models.Playlist
	var videos []models.Video

	err := retry.Do(ctx, c.cfg.Retry, Retryable, func(ctx context.Context) error {
		body, err := c.get(ctx, c.cfg.ManifestPath)
		if err != nil {
			return err
		}
		playlists, videos, err = parser.ParseManifest(body)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return playlists, videos, nil
}

// FetchChangelog retrieves the newest changelog entry. It is called once per
// poll tick and never retried within a tick.
func (c *Client) FetchChangelog(ctx context.Context) (models.ChangelogMarker, error) {
	body, err := c.get(ctx, c.cfg.ChangelogPath)
	if err != nil {
		return models.ChangelogMarker{}, err
	}
	return parser.ParseChangelog(body)
}

// FetchDevice retrieves the registration document for one device.
func (c *Client) FetchDevice(ctx context.Context, deviceID string) (models.DeviceInfo, error) {
	var device models.DeviceInfo

	err := retry.Do(ctx, c.cfg.Retry, Retryable, func(ctx context.Context) error {
		body, err := c.get(ctx, joinPath(c.cfg.DevicePath, deviceID))
		if err != nil {
			return err
		}
		device, err = parser.ParseDevice(body)
		return err
	})
	if err != nil {
		return models.DeviceInfo{}, err
	}
	return device, nil
}

// Retryable classifies fetch errors: connection failures, per-request
// timeouts, and server-side statuses are worth another attempt; client errors
// and malformed documents are not. Caller cancellation is handled by the
// retry loop itself.
func Retryable(err error) bool {
	var te *TransportError
	if !errors.As(err, &te) {
		return false
	}
	if te.Status == 0 {
		return true
	}
	return te.Status >= 500 || te.Status == http.StatusTooManyRequests
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	url := joinPath(c.cfg.BaseURL, path)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &TransportError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{URL: url, Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		logger.Log.Debug("Remote fetch returned non-OK status",
			zap.String("url", url),
			zap.Int("status", resp.StatusCode))
		return nil, &TransportError{
			URL:    url,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("unexpected status"),
		}
	}

	return body, nil
}

// joinPath joins two URL fragments with exactly one slash.
func joinPath(base, path string) string {
	if path == "" {
		return base
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
