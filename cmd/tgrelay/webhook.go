package main

import (
	"fmt"

	"github.com/spf13/cobra"
	tele "gopkg.in/telebot.v4"
	"gopkg.in/yaml.v3"

	coreconfig "github.com/m3rciful/tgrelay/core/config"
	"github.com/m3rciful/tgrelay/core/logger"
	coretelegram "github.com/m3rciful/tgrelay/core/telegram"
)

type botFunc func(cmd *cobra.Command, cfg *coreconfig.Config, bot *tele.Bot) error

func webhookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Manage the webhook registration with Telegram",
	}
	cmd.AddCommand(webhookSetCmd())
	cmd.AddCommand(webhookDeleteCmd())
	cmd.AddCommand(webhookInfoCmd())
	return cmd
}

// withBot loads config, starts the logger and hands an offline Bot API client to fn.
func withBot(fn botFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := logger.InitLogger(cfg); err != nil {
			return err
		}
		defer func() { _ = logger.Shutdown() }()

		d, err := coretelegram.NewDispatcher(cfg)
		if err != nil {
			return err
		}
		return fn(cmd, cfg, d.Bot())
	}
}

func webhookSetCmd() *cobra.Command {
	var dropPending bool
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Register webhook.public_url with Telegram",
		Args:  cobra.NoArgs,
		RunE: withBot(func(cmd *cobra.Command, cfg *coreconfig.Config, bot *tele.Bot) error {
			if err := coretelegram.SetWebhook(cmd.Context(), bot, cfg, dropPending); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "webhook registered")
			return nil
		}),
	}
	cmd.Flags().BoolVar(&dropPending, "drop-pending", false, "drop updates queued while no webhook was set")
	return cmd
}

func webhookDeleteCmd() *cobra.Command {
	var dropPending bool
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Remove the webhook registration",
		Args:  cobra.NoArgs,
		RunE: withBot(func(cmd *cobra.Command, _ *coreconfig.Config, bot *tele.Bot) error {
			if err := coretelegram.DeleteWebhook(cmd.Context(), bot, dropPending); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "webhook deleted")
			return nil
		}),
	}
	cmd.Flags().BoolVar(&dropPending, "drop-pending", false, "drop pending updates")
	return cmd
}

func webhookInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the current webhook registration",
		Args:  cobra.NoArgs,
		RunE: withBot(func(cmd *cobra.Command, _ *coreconfig.Config, bot *tele.Bot) error {
			info, err := coretelegram.GetWebhookInfo(cmd.Context(), bot)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(info); err != nil {
				return err
			}
			return enc.Close()
		}),
	}
}
