package cmd

import (
	"context"
	"errors"
	"testing"

	"github.com/m3rciful/tgrelay/core/bootstrap"
	coreconfig "github.com/m3rciful/tgrelay/core/config"
	coretelegram "github.com/m3rciful/tgrelay/core/telegram"
)

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("TGRELAY_TEST_CONFIG", "/etc/from-env.yaml")
	if got := ResolveConfigPath("flag.yaml", "TGRELAY_TEST_CONFIG", "config.yaml"); got != "flag.yaml" {
		t.Fatalf("explicit path ignored: %s", got)
	}
	if got := ResolveConfigPath("", "TGRELAY_TEST_CONFIG", "config.yaml"); got != "/etc/from-env.yaml" {
		t.Fatalf("env path ignored: %s", got)
	}
	t.Setenv("TGRELAY_TEST_CONFIG", "")
	if got := ResolveConfigPath("", "TGRELAY_TEST_CONFIG", "config.yaml"); got != "config.yaml" {
		t.Fatalf("fallback ignored: %s", got)
	}
}

func TestRunContextWiresJournalAndServe(t *testing.T) {
	cfg := &coreconfig.Config{}
	var served coretelegram.RunOptions
	loggerClosed := false

	err := RunContext(context.Background(), Options{
		ConfigPath: "ignored.yaml",
		LoadConfig: func(path string) (*coreconfig.Config, error) {
			if path != "ignored.yaml" {
				t.Fatalf("path = %s", path)
			}
			return cfg, nil
		},
		Bootstrap: func(context.Context, *coreconfig.Config) (*bootstrap.Result, error) {
			return &bootstrap.Result{}, nil
		},
		ShutdownLogger: func() error {
			loggerClosed = true
			return nil
		},
		Serve: func(_ context.Context, opts coretelegram.RunOptions) error {
			served = opts
			return nil
		},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if served.Config != cfg {
		t.Fatal("config not passed to serve")
	}
	if served.Journal != nil {
		t.Fatal("journal must stay nil when bootstrap has none")
	}
	if served.OnStart == nil || served.OnStop == nil {
		t.Fatal("lifecycle hooks not installed")
	}
	if !loggerClosed {
		t.Fatal("logger shutdown not called")
	}
}

func TestRunContextLoadError(t *testing.T) {
	want := errors.New("bad yaml")
	err := RunContext(context.Background(), Options{
		LoadConfig: func(string) (*coreconfig.Config, error) { return nil, want },
	})
	if !errors.Is(err, want) {
		t.Fatalf("err = %v", err)
	}
}
