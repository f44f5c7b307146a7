package alerting

import (
	"bytes"
	"fmt"
	"html/template"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"trailing-return-alerts/internal/market"
	"trailing-return-alerts/internal/tickers"
)

// FailureSubject is the subject of every failure notification.
const FailureSubject = "There was an error with the hot potatoes run"

// Attachment is a file carried by a Message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Message is a rendered notification. The recipient is configuration.
type Message struct {
	Subject     string
	HTMLBody    string
	Attachments []Attachment
}

// Namer resolves a ticker to a human readable description.
type Namer interface {
	DisplayName(ticker string) string
}

// Ranked is one row of the summary table.
type Ranked struct {
	Rank    int
	Ticker  string
	Display string
	Name    string
	Return  decimal.Decimal
}

// Pct formats the return for display.
func (r Ranked) Pct() string {
	return r.Return.StringFixed(2) + "%"
}

// Rank orders metrics by descending return, ties broken by ascending ticker.
func Rank(metrics map[string]decimal.Decimal, names Namer) []Ranked {
	out := make([]Ranked, 0, len(metrics))
	for ticker, ret := range metrics {
		name := ticker
		if names != nil {
			name = names.DisplayName(ticker)
		}
		out = append(out, Ranked{
			Ticker:  ticker,
			Display: tickers.DisplaySymbol(ticker),
			Name:    name,
			Return:  ret,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Return.Cmp(out[j].Return); c != 0 {
			return c > 0
		}
		return out[i].Ticker < out[j].Ticker
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

var summaryTmpl = template.Must(template.New("summary").Parse(`<h3>Today's leader is {{.Leader.Display}} at {{.Leader.Pct}}.</h3>
<br />Summary:<br />
<table border="1" cellpadding="4" cellspacing="0">
<thead><tr><th>#</th><th>Ticker</th><th>Description</th><th>1Y return</th></tr></thead>
<tbody>
{{- range .Rows}}
<tr><td>{{.Rank}}</td><td>{{.Display}}</td><td>{{.Name}}</td><td align="right">{{.Pct}}</td></tr>
{{- end}}
</tbody>
</table>
`))

// ComposeSummary renders the ranked returns email. The subject names the leader.
func ComposeSummary(metrics map[string]decimal.Decimal, names Namer) (Message, error) {
	if len(metrics) == 0 {
		return Message{}, market.Faultf(market.ErrEmptyMetricSet, "alerting.compose_summary", "", "no metrics to summarise")
	}

	rows := Rank(metrics, names)
	leader := rows[0]

	var body bytes.Buffer
	if err := summaryTmpl.Execute(&body, struct {
		Leader Ranked
		Rows   []Ranked
	}{leader, rows}); err != nil {
		return Message{}, fmt.Errorf("render summary: %w", err)
	}

	return Message{
		Subject:  fmt.Sprintf("%s has the highest returns at %s", leader.Display, leader.Pct()),
		HTMLBody: body.String(),
	}, nil
}

var failureTmpl = template.Must(template.New("failure").Parse(`<h3>The hot potatoes run failed.</h3>
<p><b>Kind:</b> {{.Kind}}</p>
<p><b>Operation:</b> {{.Op}}</p>
{{- if .Ticker}}
<p><b>Ticker:</b> {{.Ticker}}</p>
{{- end}}
<p><b>Message:</b> {{.Message}}</p>
<pre>{{.Stack}}</pre>
`))

// ComposeFailure renders the failure email for a fault.
func ComposeFailure(fault *market.Fault) Message {
	if fault == nil {
		fault = market.NewFault(market.ErrUnclassified, "unknown", "", nil)
	}

	var body bytes.Buffer
	err := failureTmpl.Execute(&body, struct {
		Kind, Op, Ticker, Message, Stack string
	}{
		Kind:    fault.KindName(),
		Op:      fault.Op,
		Ticker:  fault.Ticker,
		Message: fault.Error(),
		Stack:   strings.TrimSpace(string(fault.Stack)),
	})
	if err != nil {
		body.Reset()
		body.WriteString(template.HTMLEscapeString(fault.KindName() + ": " + fault.Error()))
	}

	return Message{Subject: FailureSubject, HTMLBody: body.String()}
}
