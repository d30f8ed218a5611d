package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/lysyi3m/news-comb/app/feed"
)

// maxBodySize bounds how much of a feed response is read.
const maxBodySize = 10 << 20

// Fetcher retrieves and parses a single feed URL with progressive timeouts
// and jittered backoff. It is stateless: health tracking is the caller's
// responsibility.
type Fetcher struct {
	client    *http.Client
	parser    *feed.Parser
	userAgent string
}

func NewFetcher(client *http.Client, parser *feed.Parser, userAgent string) *Fetcher {
	return &Fetcher{
		client:    client,
		parser:    parser,
		userAgent: userAgent,
	}
}

// NewHTTPClient builds the shared client for feed fetching. Per-attempt
// timeouts come from the policy, so the client itself has none.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        20,
			IdleConnTimeout:     30 * time.Second,
			MaxIdleConnsPerHost: 5,
		},
	}
}

// Run fetches and parses the feed at url, retrying transient failures per
// the policy. Permanent failures (not found, invalid URL, unsupported
// protocol, DNS resolution failure) abort immediately.
func (f *Fetcher) Run(ctx context.Context, url string, policy Policy) (*feed.Result, error) {
	var result *feed.Result
	attempts := 0

	operation := func() error {
		timeout := policy.timeoutFor(attempts)
		attempts++

		res, err := f.fetchOnce(ctx, url, timeout)
		if err != nil {
			if isPermanent(err) {
				return backoff.Permanent(err)
			}
			slog.Debug("Transient fetch failure, will retry",
				"url", url, "attempt", attempts, "policy", policy.Name, "error", err)
			return err
		}

		result = res
		return nil
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(&scheduleBackOff{policy: policy}, uint64(policy.MaxRetries)),
		ctx)

	if err := backoff.Retry(operation, b); err != nil {
		return nil, &Error{
			Kind:     classify(err),
			URL:      url,
			Attempts: attempts,
			Err:      err,
		}
	}

	return result, nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, url string, timeout time.Duration) (*feed.Result, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}

	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to parsing
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, fmt.Errorf("feed not found: HTTP %d", resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("HTTP error: 429 Too Many Requests")
	default:
		return nil, fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty response body")
	}

	result, err := f.parser.Run(data)
	if err != nil {
		// Malformed body; could be a transient origin glitch, so retried
		return nil, err
	}

	return result, nil
}
