package alerting

import (
	"bytes"
	"fmt"

	"github.com/wcharczuk/go-chart/v2"
)

// RenderReturnsChart draws ranked returns as a PNG bar chart.
func RenderReturnsChart(rows []Ranked) ([]byte, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("no rows to chart")
	}

	bars := make([]chart.Value, 0, len(rows))
	lo, hi := 0.0, 0.0
	for _, row := range rows {
		v := row.Return.InexactFloat64()
		lo, hi = min(lo, v), max(hi, v)
		bars = append(bars, chart.Value{Label: row.Display, Value: v})
	}
	pad := (hi - lo) * 0.1
	if pad == 0 {
		pad = 1
	}

	graph := chart.BarChart{
		Title: "1Y trailing return (%)",
		Background: chart.Style{
			Padding: chart.Box{Top: 40},
		},
		Height:       512,
		Width:        160 + 80*len(bars),
		BarWidth:     50,
		UseBaseValue: true,
		BaseValue:    0,
		YAxis: chart.YAxis{
			Range: &chart.ContinuousRange{Min: lo - pad, Max: hi + pad},
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.1f")
			},
		},
		Bars: bars,
	}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("render chart: %w", err)
	}
	return buf.Bytes(), nil
}

// AttachReturnsChart renders rows and appends the PNG to msg.
func AttachReturnsChart(msg *Message, rows []Ranked) error {
	png, err := RenderReturnsChart(rows)
	if err != nil {
		return err
	}
	msg.Attachments = append(msg.Attachments, Attachment{
		Filename:    "returns.png",
		ContentType: "image/png",
		Content:     png,
	})
	return nil
}
