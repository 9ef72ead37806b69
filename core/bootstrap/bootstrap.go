package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/jmoiron/sqlx"

	coreconfig "github.com/m3rciful/tgrelay/core/config"
	coredatabase "github.com/m3rciful/tgrelay/core/database"
	"github.com/m3rciful/tgrelay/core/journal"
	"github.com/m3rciful/tgrelay/core/logger"
	"github.com/m3rciful/tgrelay/core/tracing"
)

// Options control the bootstrap pipeline. Nil hooks fall back to the real
// implementations; tests replace them.
type Options struct {
	Config *coreconfig.Config

	LoggerInit func(*coreconfig.Config) error
	Connect    func(context.Context, coreconfig.DatabaseConfig) (*sqlx.DB, error)
	Migrate    func(context.Context, coreconfig.DatabaseConfig) error
	TracerInit func(coreconfig.TracingConfig, io.Writer) (tracing.ShutdownFunc, error)
}

// Result exposes infrastructure initialized by the bootstrap pipeline.
type Result struct {
	// DB and Journal are nil when no database is configured.
	DB      *sqlx.DB
	Journal journal.Store

	shutdownTracer tracing.ShutdownFunc
}

// Run initializes the logger and tracer, then, when a database is configured,
// connects to it, applies migrations and opens the delivery journal.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("bootstrap: nil config provided")
	}
	cfg := opts.Config

	loggerInit := opts.LoggerInit
	if loggerInit == nil {
		loggerInit = logger.InitLogger
	}
	if err := loggerInit(cfg); err != nil {
		return nil, fmt.Errorf("bootstrap: logger init failed: %w", err)
	}

	tracerInit := opts.TracerInit
	if tracerInit == nil {
		tracerInit = tracing.Init
	}
	shutdownTracer, err := tracerInit(cfg.Tracing, nil)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: tracer init failed: %w", err)
	}
	res := &Result{shutdownTracer: shutdownTracer}

	if !cfg.JournalEnabled() {
		return res, nil
	}

	connect := opts.Connect
	if connect == nil {
		connect = coredatabase.Connect
	}
	db, err := connect(ctx, cfg.Database)
	if err != nil {
		_ = res.Close(ctx)
		return nil, fmt.Errorf("bootstrap: database initialization failed: %w", err)
	}
	res.DB = db

	migrate := opts.Migrate
	if migrate == nil {
		migrate = coredatabase.RunMigrations
	}
	if err := migrate(ctx, cfg.Database); err != nil {
		_ = res.Close(ctx)
		return nil, fmt.Errorf("bootstrap: migrations failed: %w", err)
	}

	store, err := journal.NewPostgresStore(db)
	if err != nil {
		_ = res.Close(ctx)
		return nil, fmt.Errorf("bootstrap: journal init failed: %w", err)
	}
	res.Journal = store
	return res, nil
}

// Close flushes spans and closes the database pool.
func (r *Result) Close(ctx context.Context) error {
	if r == nil {
		return nil
	}
	var errs []error
	if r.shutdownTracer != nil {
		if err := r.shutdownTracer(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
		}
		r.shutdownTracer = nil
	}
	if r.DB != nil {
		if err := r.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("db close: %w", err))
		}
		r.DB = nil
	}
	return errors.Join(errs...)
}
