package returns

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trailing-return-alerts/internal/market"
)

func day(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

func bar(ticker, date string, close float64) market.PriceBar {
	c := decimal.NewFromFloat(close)
	return market.PriceBar{Ticker: ticker, Date: day(date), Open: c, High: c, Low: c, Close: c, AdjClose: c}
}

func TestTrailingReturnWithDividends(t *testing.T) {
	series := market.Series{
		Ticker: "VFV.TO",
		Bars: []market.PriceBar{
			bar("VFV.TO", "2023-06-01", 100),
			bar("VFV.TO", "2024-06-03", 120),
		},
		Dividends: []market.Dividend{
			{Ticker: "VFV.TO", Date: day("2023-09-15"), Amount: decimal.NewFromInt(2)},
			{Ticker: "VFV.TO", Date: day("2024-03-15"), Amount: decimal.NewFromInt(3)},
			{Ticker: "VFV.TO", Date: day("2022-12-15"), Amount: decimal.NewFromInt(50)},
		},
	}

	snap, err := TrailingReturn(series, day("2024-06-03"), OneYear)
	require.NoError(t, err)
	assert.Equal(t, "26.32", snap.Return.StringFixed(2))
	assert.Equal(t, day("2024-06-03"), snap.AsOf)
}

func TestTrailingReturnUsesLastKnownClose(t *testing.T) {
	// 2024-06-01 is a Saturday; the start boundary 2023-06-01 has no bar either.
	series := market.Series{
		Ticker: "VCN.TO",
		Bars: []market.PriceBar{
			bar("VCN.TO", "2023-05-30", 50),
			bar("VCN.TO", "2023-05-31", 40),
			bar("VCN.TO", "2024-05-31", 44),
			bar("VCN.TO", "2024-06-03", 99),
		},
	}

	snap, err := TrailingReturn(series, day("2024-06-01"), OneYear)
	require.NoError(t, err)
	assert.True(t, snap.Return.Equal(decimal.NewFromInt(10)), "got %s", snap.Return)
}

func TestTrailingReturnInsufficientHistory(t *testing.T) {
	series := market.Series{
		Ticker: "VIU.TO",
		Bars:   []market.PriceBar{bar("VIU.TO", "2024-01-02", 30)},
	}

	_, err := TrailingReturn(series, day("2024-06-03"), OneYear)
	assert.ErrorIs(t, err, market.ErrInsufficientHistory)

	_, err = TrailingReturn(series, day("2023-12-01"), OneYear)
	assert.ErrorIs(t, err, market.ErrInsufficientHistory)
}

func TestTrailingReturnDegenerate(t *testing.T) {
	series := market.Series{
		Ticker: "VLB.TO",
		Bars: []market.PriceBar{
			bar("VLB.TO", "2023-06-01", 10),
			bar("VLB.TO", "2024-06-03", 12),
		},
		Dividends: []market.Dividend{
			{Ticker: "VLB.TO", Date: day("2024-01-10"), Amount: decimal.NewFromInt(10)},
		},
	}

	_, err := TrailingReturn(series, day("2024-06-03"), OneYear)
	require.Error(t, err)
	assert.ErrorIs(t, err, market.ErrDegenerateReturn)
}

func TestSumDividendsInclusive(t *testing.T) {
	divs := []market.Dividend{
		{Date: day("2024-01-01"), Amount: decimal.NewFromInt(1)},
		{Date: day("2024-01-31"), Amount: decimal.NewFromInt(2)},
		{Date: day("2024-02-01"), Amount: decimal.NewFromInt(4)},
	}
	got := SumDividends(divs, day("2024-01-01"), day("2024-01-31"))
	assert.True(t, got.Equal(decimal.NewFromInt(3)))
}

func TestPeriodBeforeClampsMonthEnd(t *testing.T) {
	tests := []struct {
		p    Period
		in   string
		want string
	}{
		{OneYear, "2024-02-29", "2023-02-28"},
		{OneYear, "2024-06-03", "2023-06-03"},
		{Period{Months: 1}, "2024-03-31", "2024-02-29"},
		{Period{Months: 1}, "2024-01-15", "2023-12-15"},
		{Period{Years: 1, Days: 1}, "2024-02-29", "2023-02-27"},
	}
	for _, tt := range tests {
		assert.Equal(t, day(tt.want), tt.p.Before(day(tt.in)), "%+v before %s", tt.p, tt.in)
	}
}

func TestTrailingReturnOnLeapDay(t *testing.T) {
	series := market.Series{
		Ticker: "A",
		Bars: []market.PriceBar{
			bar("A", "2023-02-28", 100),
			bar("A", "2023-03-01", 200),
			bar("A", "2024-02-29", 120),
		},
	}

	snap, err := TrailingReturn(series, day("2024-02-29"), OneYear)
	require.NoError(t, err)
	assert.True(t, snap.Return.Equal(decimal.NewFromInt(20)), "got %s", snap.Return)
}

type fakeReader struct {
	bars []market.PriceBar
	divs []market.Dividend
	err  error

	from, to time.Time
}

func (f *fakeReader) PricesBetween(_ context.Context, _ string, from, to time.Time) ([]market.PriceBar, error) {
	f.from, f.to = from, to
	var out []market.PriceBar
	for _, b := range f.bars {
		if !b.Date.Before(from) && !b.Date.After(to) {
			out = append(out, b)
		}
	}
	return out, f.err
}

func (f *fakeReader) DividendsBetween(context.Context, string, time.Time, time.Time) ([]market.Dividend, error) {
	return f.divs, nil
}

func (f *fakeReader) LastPriceOnOrBefore(_ context.Context, _ string, target time.Time) (market.PriceBar, bool, error) {
	if f.err != nil {
		return market.PriceBar{}, false, f.err
	}
	b, ok := LastBarOnOrBefore(f.bars, target)
	return b, ok, nil
}

func TestCalculatorReadsWindowFromStore(t *testing.T) {
	reader := &fakeReader{
		bars: []market.PriceBar{bar("A", "2023-06-01", 100), bar("A", "2024-06-03", 120)},
		divs: []market.Dividend{{Ticker: "A", Date: day("2023-12-01"), Amount: decimal.NewFromInt(5)}},
	}
	calc := NewCalculator(reader, OneYear)

	snap, err := calc.Compute(context.Background(), "A", day("2024-06-03"))
	require.NoError(t, err)
	assert.Equal(t, "26.32", snap.Return.StringFixed(2))
	assert.Equal(t, day("2023-06-01"), reader.from)
	assert.Equal(t, day("2024-06-03"), reader.to)
}

func TestCalculatorUsesOldStartClose(t *testing.T) {
	// The nearest close before the boundary is two months old.
	reader := &fakeReader{
		bars: []market.PriceBar{bar("A", "2023-04-03", 100), bar("A", "2024-06-03", 110)},
	}
	calc := NewCalculator(reader, OneYear)

	snap, err := calc.Compute(context.Background(), "A", day("2024-06-03"))
	require.NoError(t, err)
	assert.True(t, snap.Return.Equal(decimal.NewFromInt(10)), "got %s", snap.Return)
	assert.Equal(t, day("2023-04-03"), reader.from)
}

func TestCalculatorInsufficientHistory(t *testing.T) {
	reader := &fakeReader{bars: []market.PriceBar{bar("A", "2024-01-02", 100)}}
	_, err := NewCalculator(reader, OneYear).Compute(context.Background(), "A", day("2024-06-03"))
	assert.ErrorIs(t, err, market.ErrInsufficientHistory)
}

func TestCalculatorPropagatesReadError(t *testing.T) {
	boom := errors.New("boom")
	calc := NewCalculator(&fakeReader{err: boom}, OneYear)
	_, err := calc.Compute(context.Background(), "A", day("2024-06-03"))
	assert.ErrorIs(t, err, boom)
}
