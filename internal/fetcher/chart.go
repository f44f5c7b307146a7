package fetcher

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"trailing-return-alerts/internal/market"
)

const chartOp = "fetcher.chart"

// ChartOptions parameterise the chart API fetcher.
type ChartOptions struct {
	BaseURL string
}

// Chart fetches daily bars and dividend events from the Yahoo chart API.
type Chart struct {
	client  *Client
	logger  zerolog.Logger
	baseURL string
}

// NewChart constructs a chart fetcher.
func NewChart(opts ChartOptions, client *Client, logger zerolog.Logger) *Chart {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://query1.finance.yahoo.com"
	}
	return &Chart{
		client:  client,
		logger:  logger.With().Str("component", "chart_fetcher").Logger(),
		baseURL: baseURL,
	}
}

// FetchSeries returns the bars and dividends dated inside window.
func (c *Chart) FetchSeries(ctx context.Context, ticker string, window market.Window) (market.Series, error) {
	from := market.Day(window.From)
	// period2 is exclusive upstream.
	to := market.Day(window.To).AddDate(0, 0, 1)

	q := url.Values{}
	q.Set("period1", strconv.FormatInt(from.Unix(), 10))
	q.Set("period2", strconv.FormatInt(to.Unix(), 10))
	q.Set("interval", "1d")
	q.Set("events", "div")
	q.Set("includeAdjustedClose", "true")
	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?%s", c.baseURL, url.PathEscape(ticker), q.Encode())

	body, err := c.client.Get(ctx, chartOp, ticker, endpoint, "application/json")
	if err != nil {
		return market.Series{}, err
	}

	series, err := parseChart(ticker, body)
	if err != nil {
		return market.Series{}, err
	}
	series = clip(series, window)

	c.logger.Debug().
		Str("ticker", ticker).
		Time("from", from).
		Time("to", window.To).
		Int("bars", len(series.Bars)).
		Int("dividends", len(series.Dividends)).
		Msg("chart fetched")
	return series, nil
}

func parseChart(ticker string, body []byte) (market.Series, error) {
	if !gjson.ValidBytes(body) {
		return market.Series{}, market.Faultf(market.ErrSourceUnavailable, chartOp, ticker, "unparseable chart payload")
	}
	doc := gjson.ParseBytes(body)

	if apiErr := doc.Get("chart.error"); apiErr.Exists() && apiErr.Type != gjson.Null {
		return market.Series{}, market.Faultf(market.ErrSourceUnavailable, chartOp, ticker,
			"chart error %s: %s", apiErr.Get("code").String(), apiErr.Get("description").String())
	}

	result := doc.Get("chart.result.0")
	if !result.IsObject() {
		return market.Series{}, market.Faultf(market.ErrSourceFormatChanged, chartOp, ticker, "chart.result missing")
	}

	offset := time.Duration(result.Get("meta.gmtoffset").Int()) * time.Second
	dayOf := func(ts int64) time.Time {
		return market.Day(time.Unix(ts, 0).UTC().Add(offset))
	}

	series := market.Series{Ticker: ticker}

	stamps := result.Get("timestamp")
	if stamps.Exists() && len(stamps.Array()) > 0 {
		quote := result.Get("indicators.quote.0")
		if !quote.IsObject() {
			return market.Series{}, market.Faultf(market.ErrSourceFormatChanged, chartOp, ticker, "indicators.quote missing")
		}
		columns := map[string][]gjson.Result{}
		for _, name := range []string{"open", "high", "low", "close", "volume"} {
			col := quote.Get(name)
			if !col.IsArray() {
				return market.Series{}, market.Faultf(market.ErrSourceFormatChanged, chartOp, ticker, "quote.%s missing", name)
			}
			columns[name] = col.Array()
		}
		adj := result.Get("indicators.adjclose.0.adjclose").Array()

		for i, ts := range stamps.Array() {
			closeV, ok := decimalAt(columns["close"], i)
			if !ok {
				// Halted sessions are reported with null prices.
				continue
			}
			bar := market.PriceBar{
				Ticker:   ticker,
				Date:     dayOf(ts.Int()),
				Close:    closeV,
				AdjClose: closeV,
			}
			bar.Open, _ = decimalAt(columns["open"], i)
			bar.High, _ = decimalAt(columns["high"], i)
			bar.Low, _ = decimalAt(columns["low"], i)
			if v, ok := decimalAt(adj, i); ok {
				bar.AdjClose = v
			}
			if i < len(columns["volume"]) {
				bar.Volume = columns["volume"][i].Int()
			}
			series.Bars = append(series.Bars, bar)
		}
	}

	var parseErr error
	result.Get("events.dividends").ForEach(func(_, ev gjson.Result) bool {
		amount, err := decimal.NewFromString(ev.Get("amount").Raw)
		if err != nil {
			parseErr = fmt.Errorf("dividend amount %q: %w", ev.Get("amount").Raw, err)
			return false
		}
		series.Dividends = append(series.Dividends, market.Dividend{
			Ticker: ticker,
			Date:   dayOf(ev.Get("date").Int()),
			Amount: amount,
		})
		return true
	})
	if parseErr != nil {
		return market.Series{}, market.NewFault(market.ErrSourceFormatChanged, chartOp, ticker, parseErr)
	}
	sort.Slice(series.Dividends, func(i, j int) bool { return series.Dividends[i].Date.Before(series.Dividends[j].Date) })

	return series, nil
}

func decimalAt(col []gjson.Result, i int) (decimal.Decimal, bool) {
	if i >= len(col) || col[i].Type != gjson.Number {
		return decimal.Zero, false
	}
	v, err := decimal.NewFromString(col[i].Raw)
	if err != nil {
		return decimal.Zero, false
	}
	return v, true
}

func clip(series market.Series, window market.Window) market.Series {
	out := market.Series{Ticker: series.Ticker}
	for _, bar := range series.Bars {
		if window.Contains(bar.Date) {
			out.Bars = append(out.Bars, bar)
		}
	}
	for _, div := range series.Dividends {
		if window.Contains(div.Date) {
			out.Dividends = append(out.Dividends, div)
		}
	}
	return out
}

var _ SeriesFetcher = (*Chart)(nil)
