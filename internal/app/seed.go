package app

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"trailing-return-alerts/internal/market"
)

const (
	pricesSuffix    = ".prices.csv"
	dividendsSuffix = ".dividends.csv"
)

// LoadSeedDir reads <TICKER>.prices.csv and <TICKER>.dividends.csv files from
// dir. Columns are matched by header name; adj_close and volume are optional.
func LoadSeedDir(dir string) ([]market.Series, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read seed dir: %w", err)
	}

	byTicker := make(map[string]*market.Series)
	get := func(ticker string) *market.Series {
		s, ok := byTicker[ticker]
		if !ok {
			s = &market.Series{Ticker: ticker}
			byTicker[ticker] = s
		}
		return s
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		path := filepath.Join(dir, name)
		switch {
		case strings.HasSuffix(name, pricesSuffix):
			ticker := strings.TrimSuffix(name, pricesSuffix)
			bars, err := readPrices(path, ticker)
			if err != nil {
				return nil, err
			}
			get(ticker).Bars = bars
		case strings.HasSuffix(name, dividendsSuffix):
			ticker := strings.TrimSuffix(name, dividendsSuffix)
			divs, err := readDividends(path, ticker)
			if err != nil {
				return nil, err
			}
			get(ticker).Dividends = divs
		}
	}

	if len(byTicker) == 0 {
		return nil, fmt.Errorf("no seed files found in %s", dir)
	}

	tickers := make([]string, 0, len(byTicker))
	for ticker := range byTicker {
		tickers = append(tickers, ticker)
	}
	sort.Strings(tickers)

	batch := make([]market.Series, 0, len(tickers))
	for _, ticker := range tickers {
		batch = append(batch, *byTicker[ticker])
	}
	return batch, nil
}

type csvTable struct {
	path   string
	header map[string]int
	rows   [][]string
}

func readCSV(path string, required ...string) (*csvTable, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true
	head, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%s: empty file", path)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	table := &csvTable{path: path, header: make(map[string]int, len(head))}
	for i, col := range head {
		table.header[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, col := range required {
		if _, ok := table.header[col]; !ok {
			return nil, fmt.Errorf("%s: missing column %q", path, col)
		}
	}

	table.rows, err = reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return table, nil
}

func (t *csvTable) field(row []string, col string) (string, bool) {
	i, ok := t.header[col]
	if !ok || i >= len(row) {
		return "", false
	}
	v := strings.TrimSpace(row[i])
	return v, v != ""
}

func (t *csvTable) decimal(row []string, line int, col string) (decimal.Decimal, error) {
	v, _ := t.field(row, col)
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%s:%d: %s: %w", t.path, line, col, err)
	}
	return d, nil
}

func (t *csvTable) date(row []string, line int) (time.Time, error) {
	v, _ := t.field(row, "date")
	d, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s:%d: date: %w", t.path, line, err)
	}
	return d, nil
}

func readPrices(path, ticker string) ([]market.PriceBar, error) {
	table, err := readCSV(path, "date", "open", "high", "low", "close")
	if err != nil {
		return nil, err
	}

	bars := make([]market.PriceBar, 0, len(table.rows))
	for i, row := range table.rows {
		line := i + 2
		bar := market.PriceBar{Ticker: ticker}
		if bar.Date, err = table.date(row, line); err != nil {
			return nil, err
		}
		for _, col := range []struct {
			name string
			dst  *decimal.Decimal
		}{
			{"open", &bar.Open},
			{"high", &bar.High},
			{"low", &bar.Low},
			{"close", &bar.Close},
		} {
			if *col.dst, err = table.decimal(row, line, col.name); err != nil {
				return nil, err
			}
		}
		bar.AdjClose = bar.Close
		if _, ok := table.field(row, "adj_close"); ok {
			if bar.AdjClose, err = table.decimal(row, line, "adj_close"); err != nil {
				return nil, err
			}
		}
		if v, ok := table.field(row, "volume"); ok {
			if bar.Volume, err = strconv.ParseInt(v, 10, 64); err != nil {
				return nil, fmt.Errorf("%s:%d: volume: %w", path, line, err)
			}
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

func readDividends(path, ticker string) ([]market.Dividend, error) {
	table, err := readCSV(path, "date", "amount")
	if err != nil {
		return nil, err
	}

	divs := make([]market.Dividend, 0, len(table.rows))
	for i, row := range table.rows {
		line := i + 2
		div := market.Dividend{Ticker: ticker}
		if div.Date, err = table.date(row, line); err != nil {
			return nil, err
		}
		if div.Amount, err = table.decimal(row, line, "amount"); err != nil {
			return nil, err
		}
		divs = append(divs, div)
	}
	return divs, nil
}
