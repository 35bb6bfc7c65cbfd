package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

const DefaultEndpoint = "http://api.scraperapi.com"

// ErrMissingAPIKey is returned for every fetch when no proxy credential was
// configured at startup.
var ErrMissingAPIKey = errors.New("scraping proxy API key not configured")

// maxBodySize caps how much of a proxied page is read into memory.
const maxBodySize = 16 << 20

type Options struct {
	APIKey   string
	Endpoint string
	Timeout  time.Duration
}

// ProxyClient fetches raw HTML through a ScraperAPI-style proxy, which takes
// the credential and the target URL as query parameters.
type ProxyClient struct {
	apiKey   string
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

func NewProxyClient(opts Options, logger *slog.Logger) *ProxyClient {
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultEndpoint
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	return &ProxyClient{
		apiKey:   opts.APIKey,
		endpoint: opts.Endpoint,
		client:   &http.Client{Timeout: opts.Timeout},
		logger:   logger.With("component", "proxy_client"),
	}
}

// Configured reports whether a credential is present.
func (c *ProxyClient) Configured() bool {
	return c.apiKey != ""
}

// FetchHTML returns the body served by the proxy for target.
func (c *ProxyClient) FetchHTML(ctx context.Context, target string) (string, error) {
	if !c.Configured() {
		return "", ErrMissingAPIKey
	}

	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid proxy endpoint: %w", err)
	}
	q := u.Query()
	q.Set("api_key", c.apiKey)
	q.Set("url", target)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to build proxy request: %w", err)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		// the url carries the credential, keep it out of the error text
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return "", fmt.Errorf("proxy request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return "", fmt.Errorf("failed to read proxy response: %w", err)
	}

	c.logger.Debug("proxy fetch finished",
		"target", target,
		"status", resp.StatusCode,
		"bytes", len(body),
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("proxy returned status %d", resp.StatusCode)
	}

	return string(body), nil
}
