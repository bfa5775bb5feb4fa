package adapter

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"secretary/internal/model"

	"github.com/bwmarrin/discordgo"
)

// DiscordConfig configures the Discord adapter. GuildID, when set, restricts
// inbound messages to one guild.
type DiscordConfig struct {
	Token     string
	GuildID   string
	DraftDir  string
	QueueSize int
	Logger    *slog.Logger
}

// Discord implements Adapter over the Discord gateway websocket.
type Discord struct {
	token    string
	guildID  string
	draftDir string
	logger   *slog.Logger

	mu        sync.Mutex
	session   *discordgo.Session
	connected bool
	stop      chan struct{}

	queue *msgQueue
}

func NewDiscord(cfg DiscordConfig) *Discord {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Discord{
		token:    cfg.Token,
		guildID:  cfg.GuildID,
		draftDir: cfg.DraftDir,
		logger:   cfg.Logger,
		queue:    newMsgQueue(cfg.QueueSize, "discord", cfg.Logger),
	}
}

func (d *Discord) ChannelType() model.ChannelType { return model.ChannelDiscord }

func (d *Discord) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

// Connect opens the gateway session with message-content intents.
func (d *Discord) Connect(ctx context.Context) bool {
	if d.token == "" {
		d.logger.Error("discord bot token not configured")
		return false
	}

	session, err := discordgo.New("Bot " + d.token)
	if err != nil {
		d.logger.Error("discord session init failed", "err", err)
		return false
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent

	if err := session.Open(); err != nil {
		d.logger.Error("discord connect failed", "err", err)
		return false
	}

	d.mu.Lock()
	d.session = session
	d.connected = true
	d.stop = make(chan struct{})
	d.mu.Unlock()

	d.logger.Info("discord bot connected", "user", session.State.User.Username)
	return true
}

func (d *Discord) Disconnect() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return
	}
	d.connected = false
	close(d.stop)
	if err := d.session.Close(); err != nil {
		d.logger.Warn("discord close failed", "err", err)
	}
	d.session = nil
	d.logger.Info("discord bot disconnected")
}

// Listen registers a message handler and streams normalized messages until
// cancellation or Disconnect; the handler is removed when the stream ends.
func (d *Discord) Listen(ctx context.Context) <-chan model.NormalizedMessage {
	d.mu.Lock()
	session, stop, connected := d.session, d.stop, d.connected
	d.mu.Unlock()

	if !connected {
		d.logger.Error("discord listen called while disconnected")
		closed := make(chan model.NormalizedMessage)
		close(closed)
		return closed
	}

	remove := session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.ID == s.State.User.ID {
			return
		}
		if d.guildID != "" && m.GuildID != d.guildID {
			return
		}
		d.queue.enqueue(d.normalizeMessage(s, m))
	})

	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		remove()
	}()

	d.logger.Info("discord listening started")
	return d.queue.stream(ctx, stop)
}

// normalizeMessage converts a MessageCreate event. Snowflake IDs are
// globally unique, so they are used as-is.
func (d *Discord) normalizeMessage(s *discordgo.Session, m *discordgo.MessageCreate) model.NormalizedMessage {
	messageType := model.TypeText
	var mediaURLs []string
	for _, att := range m.Attachments {
		mediaURLs = append(mediaURLs, att.URL)
		switch {
		case strings.HasPrefix(att.ContentType, "image/"):
			messageType = model.TypeImage
		case strings.HasPrefix(att.ContentType, "audio/"):
			messageType = model.TypeVoice
		default:
			messageType = model.TypeFile
		}
	}

	isMention := false
	for _, u := range m.Mentions {
		if u.ID == s.State.User.ID {
			isMention = true
			break
		}
	}

	replyTo := ""
	if m.MessageReference != nil {
		replyTo = m.MessageReference.MessageID
	}

	rawJSON := ""
	if b, err := json.Marshal(m.Message); err == nil {
		rawJSON = string(b)
	}

	senderName := m.Author.Username
	if m.Member != nil && m.Member.Nick != "" {
		senderName = m.Member.Nick
	}

	msg := model.NormalizedMessage{
		ID:          m.ID,
		Channel:     model.ChannelDiscord,
		ChannelID:   m.ChannelID,
		SenderID:    m.Author.ID,
		SenderName:  senderName,
		Text:        m.Content,
		MessageType: messageType,
		Timestamp:   m.Timestamp,
		IsGroup:     m.GuildID != "",
		IsMention:   isMention,
		ReplyToID:   replyTo,
		MediaURLs:   mediaURLs,
		RawJSON:     rawJSON,
	}
	msg.Normalize()
	return msg
}

// Send delivers when confirmed, drafts otherwise. ReplyTo becomes a message
// reference in the same channel.
func (d *Discord) Send(ctx context.Context, msg model.OutboundMessage) model.SendResult {
	if !msg.Confirmed {
		return draftResult(d.draftDir, msg)
	}

	d.mu.Lock()
	session, connected := d.session, d.connected
	d.mu.Unlock()
	if !connected {
		return model.SendResult{Success: false, Error: "discord session not connected"}
	}

	send := &discordgo.MessageSend{Content: msg.Text}
	if msg.ReplyTo != "" {
		send.Reference = &discordgo.MessageReference{
			MessageID: msg.ReplyTo,
			ChannelID: msg.To,
		}
	}

	sent, err := session.ChannelMessageSendComplex(msg.To, send, discordgo.WithContext(ctx))
	if err != nil {
		d.logger.Error("discord send failed", "channel", msg.To, "err", err)
		return model.SendResult{Success: false, Error: err.Error()}
	}

	d.logger.Info("discord message sent", "message_id", sent.ID, "channel", msg.To)
	return model.SendResult{Success: true, MessageID: sent.ID, SentAt: time.Now()}
}

func (d *Discord) Status() map[string]any {
	d.mu.Lock()
	session, connected := d.session, d.connected
	d.mu.Unlock()

	status := map[string]any{
		"connected":  connected,
		"channel":    string(model.ChannelDiscord),
		"queue_size": d.queue.depth(),
	}
	if connected && session != nil && session.State.User != nil {
		status["bot_username"] = session.State.User.Username
	}
	if d.guildID != "" {
		status["guild_id"] = d.guildID
	}
	return status
}
