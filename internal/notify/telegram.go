// Package notify delivers restock alerts through the Telegram Bot API.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/httptrace"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"

	"github.com/coachpo/stockwatch/errs"
)

const component = "notify"

// Message is one outbound alert. ImageURL selects sendPhoto with Text as caption.
type Message struct {
	Text     string
	ImageURL string
}

// TelegramOptions configures one bot/chat destination.
type TelegramOptions struct {
	Name         string
	APIBaseURL   string
	BotToken     string
	ChatID       string
	Timeout      time.Duration
	CaptionLimit int
	Attempts     uint
	// RetryDelay is the pause after a transport failure or a non-429 error status.
	RetryDelay time.Duration
	// DefaultRetryAfter is used on 429 when the response carries no hint.
	DefaultRetryAfter time.Duration
	HTTPClient        *http.Client
	Logger            *log.Logger
}

// Telegram sends messages to a single chat.
type Telegram struct {
	name              string
	apiBase           string
	token             string
	chatID            string
	captionLimit      int
	attempts          uint
	retryDelay        time.Duration
	defaultRetryAfter time.Duration
	client            *http.Client
	logger            *log.Logger
}

// NewTelegram builds a destination. Missing credentials are allowed; Send then reports false.
func NewTelegram(opts TelegramOptions) *Telegram {
	if opts.APIBaseURL == "" {
		opts.APIBaseURL = "https://api.telegram.org"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.CaptionLimit <= 0 {
		opts.CaptionLimit = 1024
	}
	if opts.Attempts == 0 {
		opts.Attempts = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 2 * time.Second
	}
	if opts.DefaultRetryAfter <= 0 {
		opts.DefaultRetryAfter = 5 * time.Second
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Telegram{
		name:              opts.Name,
		apiBase:           strings.TrimRight(opts.APIBaseURL, "/"),
		token:             opts.BotToken,
		chatID:            opts.ChatID,
		captionLimit:      opts.CaptionLimit,
		attempts:          opts.Attempts,
		retryDelay:        opts.RetryDelay,
		defaultRetryAfter: opts.DefaultRetryAfter,
		client:            client,
		logger:            opts.Logger,
	}
}

// Name returns the destination label.
func (t *Telegram) Name() string { return t.name }

// Configured reports whether bot token and chat id are both set.
func (t *Telegram) Configured() bool { return t.token != "" && t.chatID != "" }

type payload struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text,omitempty"`
	Caption               string `json:"caption,omitempty"`
	Photo                 string `json:"photo,omitempty"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type apiError struct {
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// errFallbackToText ends a photo send so the message is re-sent as text.
var errFallbackToText = errors.New("photo rejected, falling back to text")

// Send delivers msg and reports whether it was delivered or presumed delivered.
func (t *Telegram) Send(ctx context.Context, msg Message) bool {
	if !t.Configured() {
		t.logger.Printf("notify: %s destination not configured, dropping message", t.name)
		return false
	}
	delivered, err := t.send(ctx, msg)
	if errors.Is(err, errFallbackToText) {
		t.logger.Printf("notify: %s retrying as text-only", t.name)
		delivered, err = t.send(ctx, Message{Text: msg.Text})
	}
	if err != nil {
		t.logger.Printf("notify: %s delivery failed: %v", t.name, err)
	}
	return delivered
}

func (t *Telegram) send(ctx context.Context, msg Message) (bool, error) {
	method, body := t.build(msg)
	endpoint := fmt.Sprintf("%s/bot%s/%s", t.apiBase, t.token, method)

	attempt := uint(0)
	return backoff.Retry(ctx, func() (bool, error) {
		attempt++
		status, header, respBody, presumed, err := t.post(ctx, endpoint, body)
		if err != nil {
			if presumed {
				t.logger.Printf("notify: %s read timeout (attempt %d/%d), assuming delivered", t.name, attempt, t.attempts)
				return true, nil
			}
			t.logger.Printf("notify: %s send failed (attempt %d/%d): %v", t.name, attempt, t.attempts, err)
			return false, err
		}
		switch status {
		case http.StatusOK:
			return true, nil
		case http.StatusTooManyRequests:
			wait := t.retryAfter(header, respBody)
			t.logger.Printf("notify: %s rate limited, waiting %s", t.name, wait)
			return false, &backoff.RetryAfterError{Duration: wait}
		default:
			t.logger.Printf("notify: %s failed (%d): %s", t.name, status, snippet(respBody))
			if msg.ImageURL != "" && attempt == 1 {
				return false, backoff.Permanent(errFallbackToText)
			}
			return false, errs.New(component, errs.CodeUpstream, errs.WithHTTP(status))
		}
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(t.retryDelay)),
		backoff.WithMaxTries(t.attempts),
		backoff.WithMaxElapsedTime(0),
	)
}

func (t *Telegram) build(msg Message) (string, payload) {
	if msg.ImageURL != "" {
		return "sendPhoto", payload{
			ChatID:    t.chatID,
			Photo:     msg.ImageURL,
			Caption:   truncateRunes(msg.Text, t.captionLimit),
			ParseMode: "HTML",
		}
	}
	return "sendMessage", payload{
		ChatID:                t.chatID,
		Text:                  msg.Text,
		ParseMode:             "HTML",
		DisableWebPagePreview: false,
	}
}

// post sends body to endpoint. presumed is true when the request was fully written
// and the failure is a timeout waiting for the response.
func (t *Telegram) post(ctx context.Context, endpoint string, body payload) (int, http.Header, []byte, bool, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, nil, nil, false, errs.New(component, errs.CodeInvalid, errs.WithMessage("encode payload"), errs.WithCause(err))
	}

	var wrote atomic.Bool
	trace := &httptrace.ClientTrace{
		WroteRequest: func(info httptrace.WroteRequestInfo) {
			if info.Err == nil {
				wrote.Store(true)
			}
		},
	}
	req, err := http.NewRequestWithContext(httptrace.WithClientTrace(ctx, trace), http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return 0, nil, nil, false, errs.New(component, errs.CodeInvalid, errs.WithMessage("build request"), errs.WithCause(err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, nil, nil, wrote.Load() && isTimeout(err), errs.New(component, errs.CodeNetwork, errs.WithCause(redact(err, t.token)))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return 0, nil, nil, isTimeout(err), errs.New(component, errs.CodeNetwork, errs.WithHTTP(resp.StatusCode), errs.WithCause(err))
	}
	return resp.StatusCode, resp.Header, respBody, false, nil
}

func (t *Telegram) retryAfter(header http.Header, body []byte) time.Duration {
	if v := strings.TrimSpace(header.Get("Retry-After")); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Parameters.RetryAfter > 0 {
		return time.Duration(apiErr.Parameters.RetryAfter) * time.Second
	}
	return t.defaultRetryAfter
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// redact strips the bot token from transport errors, which embed the request URL.
func redact(err error, token string) error {
	if token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), token, "<redacted>"))
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

func snippet(body []byte) string {
	s := string(body)
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
