package service

import (
	"time"

	"trailing-return-alerts/internal/config"
	"trailing-return-alerts/internal/market"
)

// PullWindow spans from overlapDays before the oldest per-ticker latest date up to
// today. When any ticker has no stored history the window reaches back
// bootstrapDays instead.
func PullWindow(latest map[string]time.Time, tickers []string, today time.Time, overlapDays, bootstrapDays int) market.Window {
	to := market.Day(today)

	var base time.Time
	for _, ticker := range tickers {
		d, ok := latest[ticker]
		if !ok {
			return market.Window{From: to.AddDate(0, 0, -bootstrapDays), To: to}
		}
		if base.IsZero() || d.Before(base) {
			base = d
		}
	}
	if base.IsZero() {
		return market.Window{From: to.AddDate(0, 0, -bootstrapDays), To: to}
	}
	return market.Window{From: market.Day(base).AddDate(0, 0, -overlapDays), To: to}
}

// CommonLatest returns the oldest of the per-ticker latest dates, and the first
// ticker without any history when one exists.
func CommonLatest(latest map[string]time.Time, tickers []string) (time.Time, string) {
	var common time.Time
	for _, ticker := range tickers {
		d, ok := latest[ticker]
		if !ok {
			return time.Time{}, ticker
		}
		if common.IsZero() || d.Before(common) {
			common = d
		}
	}
	return market.Day(common), ""
}

// EvaluationDate anchors returns to the first of the month for the monthly
// period, or to the latest common date itself for the daily period.
func EvaluationDate(latestCommon time.Time, period string) time.Time {
	d := market.Day(latestCommon)
	if period == config.PeriodDaily {
		return d
	}
	return time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC)
}
