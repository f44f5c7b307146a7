package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"trailing-return-alerts/internal/market"
)

const (
	performanceOp = "fetcher.performance"
	trailingKey   = `"trailingReturns"`
	returnPlaces  = 8
)

var hundred = decimal.NewFromInt(100)

// PerformanceOptions parameterise the performance page scraper.
type PerformanceOptions struct {
	BaseURL string
	Now     func() time.Time
}

// Performance scrapes the one-year trailing return published on a ticker's
// performance page.
type Performance struct {
	client  *Client
	logger  zerolog.Logger
	baseURL string
	now     func() time.Time
}

// NewPerformance constructs a performance page scraper.
func NewPerformance(opts PerformanceOptions, client *Client, logger zerolog.Logger) *Performance {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://finance.yahoo.com"
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Performance{
		client:  client,
		logger:  logger.With().Str("component", "performance_fetcher").Logger(),
		baseURL: baseURL,
		now:     now,
	}
}

// FetchSnapshot returns the one-year trailing return as a percentage, dated today.
func (p *Performance) FetchSnapshot(ctx context.Context, ticker string) (market.Snapshot, error) {
	endpoint := fmt.Sprintf("%s/quote/%s/performance?p=%s", p.baseURL, url.PathEscape(ticker), url.QueryEscape(ticker))

	body, err := p.client.Get(ctx, performanceOp, ticker, endpoint, "text/html")
	if err != nil {
		return market.Snapshot{}, err
	}

	fraction, err := extractOneYear(ticker, body)
	if err != nil {
		return market.Snapshot{}, err
	}

	snap := market.Snapshot{
		Ticker: ticker,
		AsOf:   market.Day(p.now()),
		Return: fraction.Mul(hundred).Round(returnPlaces),
	}
	p.logger.Debug().Str("ticker", ticker).Str("return_pct", snap.Return.String()).Msg("performance scraped")
	return snap, nil
}

// extractOneYear finds the trailingReturns object embedded in the page's
// script blocks and returns oneYear.raw as a fraction.
func extractOneYear(ticker string, page []byte) (decimal.Decimal, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return decimal.Zero, market.NewFault(market.ErrSourceUnavailable, performanceOp, ticker, fmt.Errorf("parse html: %w", err))
	}

	var found gjson.Result
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		for _, text := range scriptCandidates(s.Text()) {
			if obj, ok := trailingReturns(text); ok {
				found = obj
				return false
			}
		}
		return true
	})

	if !found.Exists() {
		return decimal.Zero, market.Faultf(market.ErrSourceFormatChanged, performanceOp, ticker, "trailingReturns not found")
	}

	raw := found.Get("oneYear.raw")
	if raw.Type != gjson.Number {
		return decimal.Zero, market.Faultf(market.ErrSourceFormatChanged, performanceOp, ticker, "trailingReturns.oneYear.raw missing")
	}
	value, err := decimal.NewFromString(raw.Raw)
	if err != nil {
		return decimal.Zero, market.NewFault(market.ErrSourceFormatChanged, performanceOp, ticker, err)
	}
	return value, nil
}

// scriptCandidates yields the script text and, for cached API responses, the
// JSON document carried in their string-encoded body.
func scriptCandidates(text string) []string {
	if !strings.Contains(text, "trailingReturns") {
		return nil
	}
	out := []string{text}
	if gjson.Valid(text) {
		if body := gjson.Get(text, "body"); body.Type == gjson.String {
			out = append(out, body.String())
		}
	}
	return out
}

func trailingReturns(text string) (gjson.Result, bool) {
	idx := strings.Index(text, trailingKey)
	if idx < 0 {
		return gjson.Result{}, false
	}
	rest := strings.TrimLeft(text[idx+len(trailingKey):], " \t\r\n")
	if !strings.HasPrefix(rest, ":") {
		return gjson.Result{}, false
	}
	obj := gjson.Parse(strings.TrimLeft(rest[1:], " \t\r\n"))
	if !obj.IsObject() {
		return gjson.Result{}, false
	}
	return obj, true
}

var _ SnapshotFetcher = (*Performance)(nil)
