package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	coreconfig "github.com/m3rciful/tgrelay/core/config"
	"github.com/m3rciful/tgrelay/core/journal"
	"github.com/m3rciful/tgrelay/core/logger"
	tgsender "github.com/m3rciful/tgrelay/core/telegram/sender"
	"github.com/m3rciful/tgrelay/core/telegram/webhook"
)

const readHeaderTimeout = 5 * time.Second

// RunOptions controls the behaviour of Run.
type RunOptions struct {
	Config *coreconfig.Config

	// Dispatcher is built from Config when nil.
	Dispatcher *tgsender.Dispatcher
	// Journal defaults to journal.Nop.
	Journal journal.Store
	// Listener overrides the configured listen address.
	Listener net.Listener

	OnStart func(ctx context.Context, rt Runtime) error
	OnStop  func(ctx context.Context, rt Runtime) error
}

// Runtime exposes runtime components to lifecycle hooks.
type Runtime struct {
	Dispatcher *tgsender.Dispatcher
	Addr       net.Addr
}

// NewDispatcher builds the outbound sender from configuration.
func NewDispatcher(cfg *coreconfig.Config) (*tgsender.Dispatcher, error) {
	if cfg == nil {
		return nil, errors.New("telegram: nil config provided")
	}
	timeout := time.Duration(cfg.Telegram.SendTimeoutMS) * time.Millisecond
	return tgsender.New(tgsender.Options{
		Token:   cfg.Telegram.Token,
		APIURL:  cfg.Telegram.APIURL,
		Timeout: timeout,
		Prefix:  cfg.ReplyPrefix(),
		Client:  BuildHTTPClient(timeout),
	})
}

// Run serves the webhook surface until ctx is done, then drains in-flight
// requests within the configured shutdown timeout.
func Run(ctx context.Context, opts RunOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Config == nil {
		return fmt.Errorf("telegram: nil config provided")
	}
	cfg := opts.Config

	buildStart := time.Now()
	dispatcher := opts.Dispatcher
	if dispatcher == nil {
		d, err := NewDispatcher(cfg)
		if err != nil {
			return fmt.Errorf("telegram: dispatcher initialization failed: %w", err)
		}
		dispatcher = d
	}

	router, err := webhook.NewRouter(webhook.Options{
		Token:        cfg.Telegram.Token,
		SecretToken:  cfg.Webhook.SecretToken,
		Aliases:      cfg.Webhook.Aliases,
		MaxBodyBytes: cfg.Webhook.MaxBodyBytes,
		Replier:      dispatcher,
		Journal:      opts.Journal,
	})
	if err != nil {
		return fmt.Errorf("telegram: router initialization failed: %w", err)
	}

	ln := opts.Listener
	if ln == nil {
		ln, err = net.Listen("tcp", cfg.ListenAddr())
		if err != nil {
			return fmt.Errorf("telegram: listen %s: %w", cfg.ListenAddr(), err)
		}
	}

	sendTimeout := time.Duration(cfg.Telegram.SendTimeoutMS) * time.Millisecond
	srv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      sendTimeout + 10*time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	rt := Runtime{Dispatcher: dispatcher, Addr: ln.Addr()}

	aliases, truncated := logger.SummarizeStrings(cfg.Webhook.Aliases, 6)
	attrs := []slog.Attr{
		slog.String("mode", "webhook"),
		slog.String("listen", ln.Addr().String()),
		slog.String("aliases", aliases),
		slog.Bool("secret", cfg.Webhook.SecretToken != ""),
		slog.Bool("journal", opts.Journal != nil),
		slog.Duration("duration", logger.RoundMS(time.Since(buildStart))),
	}
	if truncated {
		attrs = append(attrs, slog.Bool("aliases_truncated", true))
	}
	logger.LogEvent(ctx, logger.HTTP, slog.LevelInfo, "mode", attrs...)

	if opts.OnStart != nil {
		if err := opts.OnStart(ctx, rt); err != nil {
			_ = ln.Close()
			return err
		}
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(),
			time.Duration(cfg.Webhook.ShutdownTimeoutMS)*time.Millisecond)
		start := time.Now()
		shutdownErr := srv.Shutdown(shutdownCtx)
		cancel()
		<-serveErr
		logger.LogEvent(ctx, logger.HTTP, slog.LevelInfo, "shutdown",
			slog.String("status", logger.Status(shutdownErr)),
			slog.Duration("duration", logger.RoundMS(time.Since(start))),
		)
		if shutdownErr != nil {
			runErr = fmt.Errorf("telegram: shutdown: %w", shutdownErr)
		}
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("telegram: serve: %w", err)
		}
	}

	var stopErr error
	if opts.OnStop != nil {
		stopErr = opts.OnStop(context.WithoutCancel(ctx), rt)
	}

	if stopErr != nil {
		return stopErr
	}
	return runErr
}
