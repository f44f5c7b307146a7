package alerting

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"trailing-return-alerts/internal/market"
)

const dispatchOp = "alerting.dispatch"

// Dispatcher delivers a message to the configured recipient.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg Message) error
}

// MailjetOptions configure the Mailjet v3.1 send API client.
type MailjetOptions struct {
	BaseURL        string
	APIKey         string
	APISecret      string
	RecipientEmail string
	RecipientName  string
	SenderEmail    string
	SenderName     string
	Timeout        time.Duration
}

// Mailjet sends email through the Mailjet send API.
type Mailjet struct {
	opts    MailjetOptions
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

// NewMailjet constructs a Mailjet dispatcher. The sender defaults to the recipient.
func NewMailjet(opts MailjetOptions, logger zerolog.Logger) *Mailjet {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.mailjet.com"
	}
	if opts.SenderEmail == "" {
		opts.SenderEmail = opts.RecipientEmail
	}
	if opts.SenderName == "" {
		opts.SenderName = opts.RecipientName
	}

	return &Mailjet{
		opts:    opts,
		baseURL: baseURL,
		client:  &http.Client{Timeout: opts.Timeout},
		logger:  logger.With().Str("component", "mailjet").Logger(),
	}
}

type mailjetAddress struct {
	Email string `json:"Email"`
	Name  string `json:"Name,omitempty"`
}

type mailjetAttachment struct {
	ContentType   string `json:"ContentType"`
	Filename      string `json:"Filename"`
	Base64Content string `json:"Base64Content"`
}

type mailjetMessage struct {
	From        mailjetAddress      `json:"From"`
	To          []mailjetAddress    `json:"To"`
	Subject     string              `json:"Subject"`
	HTMLPart    string              `json:"HTMLPart"`
	Attachments []mailjetAttachment `json:"Attachments,omitempty"`
}

type mailjetRequest struct {
	Messages []mailjetMessage `json:"Messages"`
}

type mailjetResponse struct {
	Messages []struct {
		Status string `json:"Status"`
		Errors []struct {
			ErrorMessage string `json:"ErrorMessage"`
		} `json:"Errors"`
	} `json:"Messages"`
}

// Dispatch posts msg to Mailjet. Every failure is reported as market.ErrDeliveryFailed.
func (m *Mailjet) Dispatch(ctx context.Context, msg Message) error {
	payload := mailjetRequest{Messages: []mailjetMessage{{
		From:     mailjetAddress{Email: m.opts.SenderEmail, Name: m.opts.SenderName},
		To:       []mailjetAddress{{Email: m.opts.RecipientEmail, Name: m.opts.RecipientName}},
		Subject:  msg.Subject,
		HTMLPart: msg.HTMLBody,
	}}}
	for _, att := range msg.Attachments {
		payload.Messages[0].Attachments = append(payload.Messages[0].Attachments, mailjetAttachment{
			ContentType:   att.ContentType,
			Filename:      att.Filename,
			Base64Content: base64.StdEncoding.EncodeToString(att.Content),
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return market.NewFault(market.ErrDeliveryFailed, dispatchOp, "", fmt.Errorf("marshal mailjet payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/v3.1/send", bytes.NewReader(body))
	if err != nil {
		return market.NewFault(market.ErrDeliveryFailed, dispatchOp, "", fmt.Errorf("create mailjet request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(m.opts.APIKey, m.opts.APISecret)

	resp, err := m.client.Do(req)
	if err != nil {
		return market.NewFault(market.ErrDeliveryFailed, dispatchOp, "", fmt.Errorf("send mailjet request: %w", err))
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return market.Faultf(market.ErrDeliveryFailed, dispatchOp, "", "mailjet status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var result mailjetResponse
	if err := json.Unmarshal(raw, &result); err == nil {
		for _, res := range result.Messages {
			if !strings.EqualFold(res.Status, "success") {
				detail := res.Status
				if len(res.Errors) > 0 {
					detail = res.Errors[0].ErrorMessage
				}
				return market.Faultf(market.ErrDeliveryFailed, dispatchOp, "", "mailjet rejected message: %s", detail)
			}
		}
	}

	m.logger.Info().
		Str("subject", msg.Subject).
		Int("attachments", len(msg.Attachments)).
		Msg("email dispatched")
	return nil
}

// LogDispatcher only logs messages. It stands in for Mailjet when notify is disabled.
type LogDispatcher struct {
	Logger zerolog.Logger
}

// Dispatch logs the subject.
func (d LogDispatcher) Dispatch(_ context.Context, msg Message) error {
	d.Logger.Info().Str("subject", msg.Subject).Int("attachments", len(msg.Attachments)).Msg("notify disabled; message not sent")
	return nil
}

var (
	_ Dispatcher = (*Mailjet)(nil)
	_ Dispatcher = LogDispatcher{}
)
