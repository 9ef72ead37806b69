package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	tele "gopkg.in/telebot.v4"

	coreconfig "github.com/m3rciful/tgrelay/core/config"
	"github.com/m3rciful/tgrelay/core/logger"
	"github.com/m3rciful/tgrelay/core/telegram/middleware"
)

// AllowedUpdates limits deliveries to the update kind the relay acts on.
var AllowedUpdates = []string{"message"}

// WebhookInfo is the subset of getWebhookInfo reported by the CLI.
type WebhookInfo struct {
	URL              string `yaml:"url"`
	PendingUpdates   int    `yaml:"pending_update_count"`
	MaxConnections   int    `yaml:"max_connections,omitempty"`
	IP               string `yaml:"ip_address,omitempty"`
	HasCustomCert    bool   `yaml:"has_custom_certificate"`
	LastErrorDate    int64  `yaml:"last_error_date,omitempty"`
	LastErrorMessage string `yaml:"last_error_message,omitempty"`
}

// WebhookURL is the public address registered with Telegram: the public base,
// the first mount alias and the token.
func WebhookURL(cfg *coreconfig.Config) (string, error) {
	if cfg == nil {
		return "", errors.New("telegram: nil config provided")
	}
	base := strings.TrimRight(cfg.Webhook.PublicURL, "/")
	if base == "" {
		return "", errors.New("telegram: webhook.public_url is required")
	}
	alias := "/"
	if len(cfg.Webhook.Aliases) > 0 {
		alias = cfg.Webhook.Aliases[0]
	}
	return base + path.Join(alias, cfg.Telegram.Token), nil
}

// SetWebhook registers the relay endpoint with Telegram.
func SetWebhook(ctx context.Context, bot *tele.Bot, cfg *coreconfig.Config, dropPending bool) error {
	url, err := WebhookURL(cfg)
	if err != nil {
		return err
	}
	hook := &tele.Webhook{
		AllowedUpdates: AllowedUpdates,
		DropUpdates:    dropPending,
		SecretToken:    cfg.Webhook.SecretToken,
		Endpoint:       &tele.WebhookEndpoint{PublicURL: url},
	}
	if err := bot.SetWebhook(hook); err != nil {
		logger.LogEvent(ctx, logger.TG, slog.LevelError, "set_webhook",
			slog.String("status", "fail"),
			slog.String("err", redact(err, cfg.Telegram.Token)),
		)
		return fmt.Errorf("telegram: setWebhook: %s", redact(err, cfg.Telegram.Token))
	}
	logger.LogEvent(ctx, logger.TG, slog.LevelInfo, "set_webhook",
		slog.String("status", "ok"),
		slog.String("public_url", middleware.MaskToken(url, cfg.Telegram.Token)),
		slog.Bool("secret", cfg.Webhook.SecretToken != ""),
	)
	return nil
}

// DeleteWebhook removes the registration, optionally dropping queued updates.
func DeleteWebhook(ctx context.Context, bot *tele.Bot, dropPending bool) error {
	if err := bot.RemoveWebhook(dropPending); err != nil {
		logger.LogEvent(ctx, logger.TG, slog.LevelError, "delete_webhook",
			slog.String("status", "fail"),
			slog.String("err", redact(err, bot.Token)),
		)
		return fmt.Errorf("telegram: deleteWebhook: %s", redact(err, bot.Token))
	}
	logger.LogEvent(ctx, logger.TG, slog.LevelInfo, "delete_webhook",
		slog.String("status", "ok"),
		slog.Bool("drop_pending", dropPending),
	)
	return nil
}

// GetWebhookInfo fetches the current registration.
func GetWebhookInfo(_ context.Context, bot *tele.Bot) (WebhookInfo, error) {
	hook, err := bot.Webhook()
	if err != nil {
		return WebhookInfo{}, fmt.Errorf("telegram: getWebhookInfo: %s", redact(err, bot.Token))
	}
	return WebhookInfo{
		URL:              middleware.MaskToken(hook.Listen, bot.Token),
		PendingUpdates:   hook.PendingUpdates,
		MaxConnections:   hook.MaxConnections,
		IP:               hook.IP,
		HasCustomCert:    hook.HasCustomCert,
		LastErrorDate:    hook.ErrorUnixtime,
		LastErrorMessage: hook.ErrorMessage,
	}, nil
}

func redact(err error, token string) string {
	return middleware.MaskToken(err.Error(), token)
}
