package gateway

import (
	"log/slog"
	"path/filepath"

	"secretary/internal/adapter"
	"secretary/internal/config"
)

// AdaptersFromConfig builds one adapter per enabled channel in cfg. Channels
// that are disabled, unconfigured, or not yet implemented (whatsapp, sms,
// email) produce no adapter. Draft artifacts default to
// <data_dir>/drafts/<channel> unless the channel overrides draft_dir.
func AdaptersFromConfig(cfg *config.Config, logger *slog.Logger) []adapter.Adapter {
	if logger == nil {
		logger = slog.Default()
	}

	draftDir := func(name string, cc config.ChannelConfig) string {
		if cc.DraftDir != "" {
			return cc.DraftDir
		}
		return filepath.Join(cfg.DataDir, "drafts", name)
	}

	var out []adapter.Adapter
	for name, cc := range cfg.Channels {
		if !cc.Enabled {
			continue
		}
		switch name {
		case "telegram":
			if cc.Token == "" {
				logger.Warn("telegram enabled without token, skipping")
				continue
			}
			out = append(out, adapter.NewTelegram(adapter.TelegramConfig{
				Token:        cc.Token,
				AllowedUsers: cc.AllowedUsers,
				DraftDir:     draftDir(name, cc),
				Logger:       logger,
			}))
		case "slack":
			if cc.BotToken == "" || cc.AppToken == "" {
				logger.Warn("slack enabled without bot_token/app_token, skipping")
				continue
			}
			out = append(out, adapter.NewSlack(adapter.SlackConfig{
				BotToken: cc.BotToken,
				AppToken: cc.AppToken,
				DraftDir: draftDir(name, cc),
				Logger:   logger,
			}))
		case "discord":
			if cc.Token == "" {
				logger.Warn("discord enabled without token, skipping")
				continue
			}
			out = append(out, adapter.NewDiscord(adapter.DiscordConfig{
				Token:    cc.Token,
				GuildID:  cc.GuildID,
				DraftDir: draftDir(name, cc),
				Logger:   logger,
			}))
		case "kakao":
			if cc.BridgeURL == "" {
				logger.Warn("kakao enabled without bridge_url, skipping")
				continue
			}
			out = append(out, adapter.NewKakao(adapter.KakaoConfig{
				BridgeURL: cc.BridgeURL,
				DraftDir:  draftDir(name, cc),
				Logger:    logger,
			}))
		default:
			logger.Warn("no adapter available for channel", "channel", name)
		}
	}
	return out
}
