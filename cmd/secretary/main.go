package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"secretary/internal/adapter"
	"secretary/internal/config"
	"secretary/internal/gateway"
	"secretary/internal/model"
	"secretary/internal/storage"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:     "secretary",
		Short:   "Secretary: multi-channel message gateway",
		Long:    "Secretary collects messages from Telegram, Slack, Discord, and KakaoTalk into one classified inbox.",
		Version: version,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to gateway.json (default: ~/.secretary/gateway.json)")

	root.AddCommand(initCmd())
	root.AddCommand(startCmd())
	root.AddCommand(stopCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(channelsCmd())
	root.AddCommand(statsCmd())
	root.AddCommand(sendCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config and create the data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil {
				logger.Info("config already exists, leaving it untouched", "path", cfgPath)
				return nil
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath, "data_dir", cfg.DataDir)
			logger.Info("every channel starts disabled; edit the config to enable one")
			return nil
		},
	}
}

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the gateway (blocks until Ctrl+C or SIGTERM)",
		RunE:  runStart,
	}
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return err
	}
	if !cfg.Enabled {
		logger.Warn("gateway disabled in config, nothing to do")
		return nil
	}

	if pid := gateway.ReadPID(cfg.DataDir); pid != 0 && processAlive(pid) {
		return fmt.Errorf("gateway already running (pid %d)", pid)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw := gateway.New(cfg, logger)
	adapters := gateway.AdaptersFromConfig(cfg, logger)
	if len(adapters) == 0 {
		logger.Warn("no channels enabled; gateway will idle until stopped")
	}
	for _, a := range adapters {
		gw.AddAdapter(a)
	}

	// Start blocks until every listen loop ends. When the signal context
	// fires, streams close, loops drain, and Start cleans up via Stop.
	errCh := make(chan error, 1)
	go func() { errCh <- gw.Start(ctx) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		gw.Stop()
		return <-errCh
	}
}

func stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Signal a running gateway to shut down",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}
			pid := gateway.ReadPID(cfg.DataDir)
			if pid == 0 || !processAlive(pid) {
				logger.Info("gateway not running")
				gateway.RemovePID(cfg.DataDir)
				return nil
			}
			if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
				return fmt.Errorf("signal pid %d: %w", pid, err)
			}
			logger.Info("stop signal sent", "pid", pid)
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether a gateway is running and which channels are enabled",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}

			enabled := []string{}
			for name, cc := range cfg.Channels {
				if cc.Enabled {
					enabled = append(enabled, name)
				}
			}

			pid := gateway.ReadPID(cfg.DataDir)
			running := pid != 0 && processAlive(pid)
			out := map[string]any{
				"running":          running,
				"pid":              pid,
				"data_dir":         cfg.DataDir,
				"enabled_channels": enabled,
			}
			return printJSON(out)
		},
	}
}

func channelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "channels",
		Short: "List configured channels and their enable state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}
			out := make(map[string]any, len(cfg.Channels))
			for name, cc := range cfg.Channels {
				out[name] = map[string]any{
					"enabled":    cc.Enabled,
					"configured": channelConfigured(name, cc),
				}
			}
			return printJSON(out)
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show stored message counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}

			store := storage.New(filepath.Join(cfg.DataDir, "messages.db"), logger)
			if err := store.Connect(cmd.Context()); err != nil {
				return err
			}
			defer store.Close()

			stats, err := store.GetStats(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(stats)
		},
	}
}

func sendCmd() *cobra.Command {
	var (
		channelName string
		to          string
		text        string
		replyTo     string
		confirm     bool
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a message, or write a draft when not confirmed",
		Long: "Without --confirm the message is never delivered: a draft file is " +
			"written instead. With --confirm delivery still requires " +
			"safety.auto_send_disabled to be false in the config.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}

			cc, ok := cfg.Channels[channelName]
			if !ok {
				return fmt.Errorf("unknown channel %q", channelName)
			}

			a := buildSendAdapter(channelName, cc, cfg)
			if a == nil {
				return fmt.Errorf("channel %q has no usable adapter configuration", channelName)
			}

			confirmed := confirm
			if confirmed && cfg.Safety.AutoSendDisabled {
				logger.Warn("auto-send is disabled in config; writing a draft instead")
				confirmed = false
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			// Drafts never touch the platform, so skip Connect for them.
			if confirmed {
				if !a.Connect(ctx) {
					return fmt.Errorf("could not connect %s adapter", channelName)
				}
				defer a.Disconnect()
			}

			result := a.Send(ctx, model.OutboundMessage{
				Channel:   model.ParseChannelType(channelName),
				To:        to,
				Text:      text,
				ReplyTo:   replyTo,
				Confirmed: confirmed,
			})
			return printJSON(result)
		},
	}

	cmd.Flags().StringVar(&channelName, "channel", "", "channel to send on (telegram, slack, discord, kakao)")
	cmd.Flags().StringVar(&to, "to", "", "recipient id (chat id, channel id, room)")
	cmd.Flags().StringVar(&text, "text", "", "message text")
	cmd.Flags().StringVar(&replyTo, "reply-to", "", "platform message id to reply to")
	cmd.Flags().BoolVar(&confirm, "confirm", false, "actually deliver instead of writing a draft")
	cmd.MarkFlagRequired("channel")
	cmd.MarkFlagRequired("to")
	cmd.MarkFlagRequired("text")
	return cmd
}

// buildSendAdapter constructs a one-shot adapter for the send command. It
// mirrors the gateway factory but tolerates missing credentials when the
// result will only be a draft.
func buildSendAdapter(name string, cc config.ChannelConfig, cfg *config.Config) adapter.Adapter {
	draftDir := cc.DraftDir
	if draftDir == "" {
		draftDir = filepath.Join(cfg.DataDir, "drafts", name)
	}

	switch name {
	case "telegram":
		return adapter.NewTelegram(adapter.TelegramConfig{
			Token:        cc.Token,
			AllowedUsers: cc.AllowedUsers,
			DraftDir:     draftDir,
			Logger:       logger,
		})
	case "slack":
		return adapter.NewSlack(adapter.SlackConfig{
			BotToken: cc.BotToken,
			AppToken: cc.AppToken,
			DraftDir: draftDir,
			Logger:   logger,
		})
	case "discord":
		return adapter.NewDiscord(adapter.DiscordConfig{
			Token:    cc.Token,
			GuildID:  cc.GuildID,
			DraftDir: draftDir,
			Logger:   logger,
		})
	case "kakao":
		return adapter.NewKakao(adapter.KakaoConfig{
			BridgeURL: cc.BridgeURL,
			DraftDir:  draftDir,
			Logger:    logger,
		})
	default:
		return nil
	}
}

func channelConfigured(name string, cc config.ChannelConfig) bool {
	switch name {
	case "telegram", "discord":
		return cc.Token != ""
	case "slack":
		return cc.BotToken != "" && cc.AppToken != ""
	case "kakao":
		return cc.BridgeURL != ""
	default:
		return false
	}
}

func processAlive(pid int) bool {
	// Signal 0 probes for existence without delivering anything.
	return syscall.Kill(pid, 0) == nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
