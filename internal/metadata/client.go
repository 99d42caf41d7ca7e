package metadata

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// DefaultBaseURL is the link-local instance metadata service.
const DefaultBaseURL = "http://169.254.169.254/latest"

// Client fetches facts about the running instance from the cloud provider's
// metadata endpoint. Requests are plain GETs with no retries; the caller
// decides whether a failure is fatal.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(baseURL string, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: http.DefaultClient,
		logger:     logger.With(slog.String("component", "metadata")),
	}
}

// Get fetches <base>/<path>/ and returns the body as text.
func (c *Client) Get(ctx context.Context, path string) (string, error) {
	url := fmt.Sprintf("%s/%s/", c.baseURL, strings.Trim(path, "/"))
	c.logger.Debug("fetching instance metadata", slog.String("url", url))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build metadata request for %s: %w", path, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch metadata %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read metadata response for %s: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("metadata request %s returned status %d", path, resp.StatusCode)
	}

	return string(body), nil
}

// LocalIPv4 returns the instance's private IP address.
func (c *Client) LocalIPv4(ctx context.Context) (string, error) {
	body, err := c.Get(ctx, "meta-data/local-ipv4")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(body), nil
}

// UserData returns the raw operator-supplied launch data.
func (c *Client) UserData(ctx context.Context) (string, error) {
	return c.Get(ctx, "user-data")
}
