package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/m3rciful/tgrelay/core/bootstrap"
	coreconfig "github.com/m3rciful/tgrelay/core/config"
	"github.com/m3rciful/tgrelay/core/logger"
	coretelegram "github.com/m3rciful/tgrelay/core/telegram"
)

// DefaultConfigEnvVar names the env variable holding the config path.
const DefaultConfigEnvVar = "CONFIG_PATH"

// Options describe how to load configuration, bootstrap the app, and run the relay.
type Options struct {
	// ConfigPath wins over ConfigEnvVar and DefaultConfigPath when set.
	ConfigPath        string
	ConfigEnvVar      string
	DefaultConfigPath string

	LoadConfig func(path string) (*coreconfig.Config, error)
	Bootstrap  func(ctx context.Context, cfg *coreconfig.Config) (*bootstrap.Result, error)

	ShutdownLogger func() error
	Serve          func(ctx context.Context, opts coretelegram.RunOptions) error
}

// ResolveConfigPath picks the explicit path, then the env variable, then the default.
func ResolveConfigPath(explicit, envVar, fallback string) string {
	if p := strings.TrimSpace(explicit); p != "" {
		return p
	}
	if envVar == "" {
		envVar = DefaultConfigEnvVar
	}
	if p := strings.TrimSpace(os.Getenv(envVar)); p != "" {
		return p
	}
	return fallback
}

// Run loads configuration, bootstraps infrastructure and serves the relay
// until SIGINT or SIGTERM.
func Run(opts Options) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return RunContext(ctx, opts)
}

// RunContext is Run with a caller-controlled lifetime.
func RunContext(ctx context.Context, opts Options) error {
	loadConfig := opts.LoadConfig
	if loadConfig == nil {
		loadConfig = coreconfig.Load
	}
	boot := opts.Bootstrap
	if boot == nil {
		boot = func(ctx context.Context, cfg *coreconfig.Config) (*bootstrap.Result, error) {
			return bootstrap.Run(ctx, bootstrap.Options{Config: cfg})
		}
	}

	cfgPath := ResolveConfigPath(opts.ConfigPath, opts.ConfigEnvVar, opts.DefaultConfigPath)
	log.Printf("loading config: %s", cfgPath)
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("cmd: failed to load config: %w", err)
	}

	startedAt := time.Now()
	infra, err := boot(ctx, cfg)
	if err != nil {
		return fmt.Errorf("cmd: bootstrap failed: %w", err)
	}

	shutdownLogger := opts.ShutdownLogger
	if shutdownLogger == nil {
		shutdownLogger = logger.Shutdown
	}
	defer func() {
		if err := shutdownLogger(); err != nil {
			log.Printf("logger shutdown error: %v", err)
		}
	}()
	// OnStop normally closes infra; this covers serve failing before it runs.
	defer func() {
		if err := infra.Close(context.Background()); err != nil {
			log.Printf("infra close error: %v", err)
		}
	}()

	runOpts := coretelegram.RunOptions{Config: cfg}
	if infra != nil && infra.Journal != nil {
		runOpts.Journal = infra.Journal
	}
	runOpts.OnStart = func(ctx context.Context, rt coretelegram.Runtime) error {
		logger.Info(ctx, "app", "ready",
			slog.String("listen", rt.Addr.String()),
			slog.Duration("startup_duration", logger.RoundMS(time.Since(startedAt))),
		)
		return nil
	}
	runOpts.OnStop = func(ctx context.Context, rt coretelegram.Runtime) error {
		logger.Info(ctx, "app", "shutdown",
			slog.Uint64("sent", rt.Dispatcher.Sent()),
			slog.Uint64("send_errors", rt.Dispatcher.ErrorCount()),
		)
		closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return infra.Close(closeCtx)
	}

	serve := opts.Serve
	if serve == nil {
		serve = coretelegram.Run
	}
	if err := serve(ctx, runOpts); err != nil {
		return fmt.Errorf("cmd: serve: %w", err)
	}
	return nil
}
