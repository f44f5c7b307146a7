package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"trailing-return-alerts/internal/market"
)

const maxBodyBytes = 8 << 20

// ClientOptions parameterise the shared upstream HTTP client.
type ClientOptions struct {
	Timeout       time.Duration
	UserAgent     string
	RatePerSecond float64
	Burst         int
}

// Client performs throttled GET requests against the market data upstream.
type Client struct {
	http      *http.Client
	limiter   *rate.Limiter
	userAgent string
	logger    zerolog.Logger
}

// NewClient builds a Client. A non-positive rate disables throttling.
func NewClient(opts ClientOptions, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RatePerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}

	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = "hotpotato/1.0"
	}

	return &Client{
		http:      &http.Client{Timeout: timeout},
		limiter:   limiter,
		userAgent: ua,
		logger:    logger.With().Str("component", "source_client").Logger(),
	}
}

// Get fetches url and returns the body. Transport failures, timeouts and
// non-2xx statuses are reported as market.ErrSourceUnavailable.
func (c *Client) Get(ctx context.Context, op, ticker, url, accept string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, market.NewFault(market.ErrSourceUnavailable, op, ticker, fmt.Errorf("rate limiter: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, market.NewFault(market.ErrSourceUnavailable, op, ticker, err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, market.NewFault(market.ErrSourceUnavailable, op, ticker, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, market.NewFault(market.ErrSourceUnavailable, op, ticker, fmt.Errorf("read body: %w", err))
	}

	c.logger.Debug().
		Str("op", op).
		Str("ticker", ticker).
		Int("status", resp.StatusCode).
		Int("bytes", len(body)).
		Dur("elapsed", time.Since(start)).
		Msg("upstream response")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, market.NewFault(market.ErrSourceUnavailable, op, ticker, parseHTTPError(resp.StatusCode, body))
	}
	return body, nil
}

func parseHTTPError(status int, payload []byte) error {
	text := strings.TrimSpace(string(payload))
	if len(text) > 256 {
		text = text[:256]
	}
	if text == "" {
		return fmt.Errorf("upstream status %d", status)
	}
	return fmt.Errorf("upstream status %d: %s", status, text)
}
