// Package webhook serves the inbound HTTP surface: a liveness probe and the
// token-addressed endpoint Telegram posts updates to.
package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/m3rciful/tgrelay/core/journal"
	"github.com/m3rciful/tgrelay/core/logger"
	"github.com/m3rciful/tgrelay/core/telegram/sender"
	"github.com/m3rciful/tgrelay/core/telegram/update"
	"github.com/m3rciful/tgrelay/core/tracing"
)

const (
	// HealthBody is the liveness response text.
	HealthBody = "Bot is running!"
	// AckBody acknowledges every handled update.
	AckBody = "ok"

	tokenParam       = "token"
	component        = "webhook"
	handlerName      = "webhook"
	defaultBodyLimit = 1 << 20
)

// Error codes written in 400 responses.
const (
	CodeMalformedUpdate = "malformed_update"
	CodeMissingChatID   = "missing_chat_id"
)

// Replier sends the echo reply for a decoded update.
type Replier interface {
	Reply(ctx context.Context, chatID update.ChatID, text string) error
}

// Options configures the handler and the router built around it.
type Options struct {
	Token       string
	SecretToken string
	Aliases     []string
	// MaxBodyBytes caps the request body; larger bodies are treated as malformed.
	MaxBodyBytes int64
	Replier      Replier
	// Journal is optional.
	Journal journal.Store
	// Tracer is optional; the global tracer is used when nil.
	Tracer trace.Tracer
}

// Handler decodes updates and relays them through a Replier.
type Handler struct {
	token   []byte
	maxBody int64
	replier Replier
	journal journal.Store
	tracer  trace.Tracer
}

type errorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// NewHandler validates opts and returns a Handler.
func NewHandler(opts Options) (*Handler, error) {
	if opts.Token == "" {
		return nil, errors.New("webhook: empty token")
	}
	if opts.Replier == nil {
		return nil, errors.New("webhook: nil replier")
	}
	h := &Handler{
		token:   []byte(opts.Token),
		maxBody: opts.MaxBodyBytes,
		replier: opts.Replier,
		journal: opts.Journal,
		tracer:  opts.Tracer,
	}
	if h.maxBody <= 0 {
		h.maxBody = defaultBodyLimit
	}
	if h.journal == nil {
		h.journal = journal.Nop{}
	}
	if h.tracer == nil {
		h.tracer = tracing.Tracer()
	}
	return h, nil
}

// Health answers the liveness probe. Body and query are ignored.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, HealthBody)
}

// Update returns the webhook endpoint for the given mount alias.
func (h *Handler) Update(alias string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.serveUpdate(w, r, alias)
	}
}

func (h *Handler) serveUpdate(w http.ResponseWriter, r *http.Request, alias string) {
	if !h.tokenMatches(chi.URLParam(r, tokenParam)) {
		logger.Debug(r.Context(), component, "auth.rejected",
			slog.String("status", "rejected"),
			slog.String("cause", "path_token"),
			slog.String("alias", alias),
		)
		http.NotFound(w, r)
		return
	}

	start := time.Now()
	ctx, span := h.tracer.Start(r.Context(), "webhook.update",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("webhook.alias", alias)),
	)
	defer span.End()
	ctx = tracing.WithLogContext(ctx)
	ctx = logger.WithHandler(ctx, handlerName)

	body, err := readBody(w, r, h.maxBody)
	var (
		upd update.Update
		ok  bool
	)
	if err == nil {
		upd, ok, err = update.Decode(body)
	}
	chatID := upd.ChatID.String()
	ctx = logger.WithUpdateMeta(ctx, upd.UpdateID, chatID)
	if rid := logger.BuildRID(upd.UpdateID, chatID, chimw.GetReqID(ctx)); rid != "" {
		ctx = logger.WithRID(ctx, rid)
	}
	if upd.UpdateID != 0 {
		span.SetAttributes(attribute.Int64("telegram.update_id", upd.UpdateID))
	}

	if logger.ShouldSampleDebug() && err == nil {
		logger.Debug(ctx, component, "update.received",
			slog.Bool("message", ok),
			slog.String("payload", logger.SanitizeLimit(upd.Text, 256)),
		)
	}

	switch {
	case err != nil:
		code := errorCode(err)
		span.SetStatus(codes.Error, code)
		writeJSON(w, http.StatusBadRequest, errorResponse{OK: false, Error: code})
		h.logSummary(ctx, alias, start, http.StatusBadRequest, "rejected", "malformed", err,
			slog.String("err_code", code))
	case !ok:
		writeText(w, http.StatusOK, AckBody)
		h.logSummary(ctx, alias, start, http.StatusOK, "skip", "ignored", nil)
	default:
		took, sendErr := h.relay(ctx, upd)
		outcome := journal.OutcomeSent
		if sendErr != nil {
			outcome = journal.OutcomeFailed
			span.RecordError(sendErr)
		}
		writeText(w, http.StatusOK, AckBody)
		h.logSummary(ctx, alias, start, http.StatusOK, "ok", outcome, nil,
			slog.Int("text_len", len([]rune(upd.Text))),
			slog.String("err_kind", sender.ErrorKind(sendErr)),
			slog.Duration("send_duration", logger.RoundMS(took)),
		)
	}
}

// relay performs the outbound call. The reply is sent even when Telegram
// drops the inbound connection, so cancellation of the request is detached.
func (h *Handler) relay(ctx context.Context, upd update.Update) (time.Duration, error) {
	ctx = context.WithoutCancel(ctx)
	ctx, span := h.tracer.Start(ctx, "telegram.sendMessage", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	ctx = tracing.WithLogContext(ctx)

	start := time.Now()
	err := h.replier.Reply(ctx, upd.ChatID, upd.Text)
	took := time.Since(start)

	outcome := journal.OutcomeSent
	if err != nil {
		outcome = journal.OutcomeFailed
		span.SetStatus(codes.Error, sender.ErrorKind(err))
	}
	entry := journal.NewEntry(upd.UpdateID, upd.ChatID.String(), outcome, sender.ErrorKind(err), took)
	if jErr := h.journal.Record(ctx, entry); jErr != nil {
		logger.Warn(ctx, component, "journal.record",
			slog.String("status", "fail"),
			slog.String("err", jErr.Error()),
		)
	}
	return took, err
}

func (h *Handler) tokenMatches(got string) bool {
	return subtle.ConstantTimeCompare([]byte(got), h.token) == 1
}

func (h *Handler) logSummary(ctx context.Context, alias string, start time.Time, httpCode int, status, outcome string, err error, extras ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("status", status),
		slog.String("outcome", outcome),
		slog.String("alias", alias),
		slog.Int("http_code", httpCode),
		slog.Duration("duration", logger.RoundMS(time.Since(start))),
	}
	if err != nil {
		attrs = append(attrs, slog.String("err", logger.SanitizeLimit(err.Error(), 256)))
	}
	attrs = append(attrs, extras...)
	level := slog.LevelInfo
	if outcome == journal.OutcomeFailed {
		level = slog.LevelWarn
	}
	logger.Event(ctx, component, level, "webhook.handled", attrs...)
}

func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	defer r.Body.Close()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		return nil, errors.Join(update.ErrMalformed, err)
	}
	return body, nil
}

func errorCode(err error) string {
	if errors.Is(err, update.ErrMissingChatID) {
		return CodeMissingChatID
	}
	return CodeMalformedUpdate
}

func writeText(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = io.WriteString(w, body)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
