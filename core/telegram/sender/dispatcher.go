// Package sender delivers echo replies through the Bot API sendMessage method.
package sender

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/m3rciful/tgrelay/core/logger"
	"github.com/m3rciful/tgrelay/core/telegram/netutil"
	"github.com/m3rciful/tgrelay/core/telegram/update"

	tele "gopkg.in/telebot.v4"
)

const (
	methodSendMessage = "sendMessage"
	component         = "tg.sender"
)

var (
	// ErrUnexpectedResponse is returned when the Bot API answers with a body
	// that is not a JSON envelope.
	ErrUnexpectedResponse = errors.New("telegram sender: unexpected response")

	tokenRe = regexp.MustCompile(`bot[0-9]+:[A-Za-z0-9_-]+`)
)

// Options controls how outbound requests are built.
type Options struct {
	Token string
	// APIURL is the Bot API base, without a trailing slash.
	APIURL string
	// Timeout bounds a single outbound call when Client is nil.
	Timeout time.Duration
	// Prefix is prepended to the inbound text by Reply.
	Prefix string
	// Client overrides the HTTP client, mainly in tests.
	Client *http.Client
}

// Dispatcher sends one sendMessage request per relayed update. It never
// retries: a failure is logged and reported to the caller, which is free to
// ignore it.
type Dispatcher struct {
	bot    *tele.Bot
	prefix string
	sent   atomic.Uint64
	errs   atomic.Uint64
}

type outboundMessage struct {
	ChatID update.ChatID `json:"chat_id"`
	Text   string        `json:"text"`
}

type apiEnvelope struct {
	OK *bool `json:"ok"`
}

// New builds a Dispatcher backed by an offline telebot client; no getMe call is
// made, so construction never touches the network.
func New(opts Options) (*Dispatcher, error) {
	if strings.TrimSpace(opts.Token) == "" {
		return nil, errors.New("telegram sender: empty token")
	}
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	bot, err := tele.NewBot(tele.Settings{
		URL:     strings.TrimRight(opts.APIURL, "/"),
		Token:   opts.Token,
		Client:  client,
		Offline: true,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram sender: %w", err)
	}
	return &Dispatcher{bot: bot, prefix: opts.Prefix}, nil
}

// Bot exposes the underlying telebot client for webhook management commands.
func (d *Dispatcher) Bot() *tele.Bot {
	return d.bot
}

// ComposeReply builds the echo text. An empty inbound text yields the bare prefix.
func ComposeReply(prefix, text string) string {
	return prefix + text
}

// Reply echoes text back to chatID using the configured prefix.
func (d *Dispatcher) Reply(ctx context.Context, chatID update.ChatID, text string) error {
	return d.Dispatch(ctx, chatID, ComposeReply(d.prefix, text))
}

// Dispatch performs exactly one sendMessage request carrying text verbatim.
//
// ctx is checked once before sending and carries log and trace fields. It does
// not cancel the request in flight: telebot's Raw takes no context, so the
// call is bounded only by the HTTP client timeout (Options.Timeout or the
// Client's own).
func (d *Dispatcher) Dispatch(ctx context.Context, chatID update.ChatID, text string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if chatID.IsZero() {
		return update.ErrMissingChatID
	}
	if err := ctx.Err(); err != nil {
		d.errs.Add(1)
		logSendFailure(ctx, err, 0)
		return err
	}

	start := time.Now()
	logger.Debug(ctx, component, "send.start",
		slog.String("action", methodSendMessage),
		slog.Int("text_len", len([]rune(text))),
	)

	data, err := d.bot.Raw(methodSendMessage, outboundMessage{ChatID: chatID, Text: text})
	if err == nil {
		err = checkEnvelope(data)
	}
	elapsed := time.Since(start)
	if err != nil {
		d.errs.Add(1)
		logSendFailure(ctx, err, elapsed)
		return err
	}

	d.sent.Add(1)
	logger.Debug(ctx, component, "send.ok",
		slog.String("action", methodSendMessage),
		slog.Duration("duration", logger.RoundMS(elapsed)),
	)
	return nil
}

// Sent returns the number of successful sends.
func (d *Dispatcher) Sent() uint64 {
	return d.sent.Load()
}

// ErrorCount returns the number of failed sends.
func (d *Dispatcher) ErrorCount() uint64 {
	return d.errs.Load()
}

// telebot treats a non-JSON body as success, so the envelope is checked again.
func checkEnvelope(data []byte) error {
	var env apiEnvelope
	if err := json.Unmarshal(data, &env); err != nil || env.OK == nil {
		return ErrUnexpectedResponse
	}
	if !*env.OK {
		return fmt.Errorf("%w: ok=false", ErrUnexpectedResponse)
	}
	return nil
}

func logSendFailure(ctx context.Context, err error, elapsed time.Duration) {
	attrs := []slog.Attr{
		slog.String("action", methodSendMessage),
		slog.String("status", logger.Status(err)),
		slog.String("err", RedactError(err)),
		slog.String("err_kind", ErrorKind(err)),
		slog.Bool("retryable", netutil.IsTransient(err)),
	}
	if code := HTTPStatus(err); code != 0 {
		attrs = append(attrs, slog.Int("err_code", code))
	}
	if elapsed > 0 {
		attrs = append(attrs, slog.Duration("duration", logger.RoundMS(elapsed)))
	}
	logger.Error(ctx, component, "send.fail", attrs...)
}

// ErrorKind classifies a send failure for logs and the delivery journal.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrUnexpectedResponse) {
		return "bad_response"
	}
	if kind := netutil.Classify(err); kind != netutil.KindUnknown {
		return kind
	}
	status := HTTPStatus(err)
	switch {
	case status == http.StatusTooManyRequests:
		return "flood"
	case status >= 500:
		return "http_5xx"
	case status >= 400:
		return "http_4xx"
	}
	return netutil.KindUnknown
}

// RedactError renders err with any bot token replaced, since transport errors
// embed the request URL.
func RedactError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if msg == "" {
		return ""
	}
	return tokenRe.ReplaceAllString(msg, "bot<redacted>")
}

// HTTPStatus extracts the Bot API error_code carried by err, or 0.
func HTTPStatus(err error) int {
	if err == nil {
		return 0
	}

	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}

	var floodErr tele.FloodError
	if errors.As(err, &floodErr) {
		return http.StatusTooManyRequests
	}

	var groupErr tele.GroupError
	if errors.As(err, &groupErr) {
		return http.StatusBadRequest
	}

	// Generic API errors are formatted as "telegram: <description> (<code>)".
	msg := err.Error()
	if !strings.HasPrefix(msg, "telegram:") {
		return 0
	}
	lastOpen := strings.LastIndex(msg, "(")
	lastClose := strings.LastIndex(msg, ")")
	if lastOpen >= 0 && lastClose > lastOpen+1 {
		codeStr := strings.TrimSpace(msg[lastOpen+1 : lastClose])
		if code, convErr := strconv.Atoi(codeStr); convErr == nil {
			return code
		}
	}
	return 0
}
