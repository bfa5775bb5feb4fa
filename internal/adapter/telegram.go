package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"secretary/internal/model"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const telegramPollTimeout = 30 // seconds, long-poll window

// TelegramConfig configures the Telegram adapter.
type TelegramConfig struct {
	Token string

	// AllowedUsers is the sender allow-list. An EMPTY list allows every
	// sender — permissive by default; populate it to opt out. This mirrors
	// existing deployments and is covered by tests.
	AllowedUsers []int64

	// DraftDir receives draft artifacts for non-confirmed sends.
	DraftDir string

	QueueSize int
	Logger    *slog.Logger
}

// Telegram implements Adapter over the Bot API using long polling.
type Telegram struct {
	token        string
	allowedUsers map[int64]struct{}
	draftDir     string
	logger       *slog.Logger

	mu        sync.Mutex
	bot       *tgbotapi.BotAPI
	connected bool
	stop      chan struct{}

	queue *msgQueue
}

// NewTelegram creates a Telegram adapter. Connect must succeed before
// Listen or confirmed sends work.
func NewTelegram(cfg TelegramConfig) *Telegram {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	allowed := make(map[int64]struct{}, len(cfg.AllowedUsers))
	for _, id := range cfg.AllowedUsers {
		allowed[id] = struct{}{}
	}
	return &Telegram{
		token:        cfg.Token,
		allowedUsers: allowed,
		draftDir:     cfg.DraftDir,
		logger:       cfg.Logger,
		queue:        newMsgQueue(cfg.QueueSize, "telegram", cfg.Logger),
	}
}

func (t *Telegram) ChannelType() model.ChannelType { return model.ChannelTelegram }

func (t *Telegram) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// Connect authenticates against the Bot API. Auth and network failures are
// expected operating conditions and reported as false.
func (t *Telegram) Connect(ctx context.Context) bool {
	if t.token == "" {
		t.logger.Error("telegram bot token not configured")
		return false
	}

	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		t.logger.Error("telegram connect failed", "err", err)
		return false
	}

	t.mu.Lock()
	t.bot = bot
	t.connected = true
	t.stop = make(chan struct{})
	t.mu.Unlock()

	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName, "id", bot.Self.ID)
	return true
}

// Disconnect tears down the session and ends any active listen stream.
func (t *Telegram) Disconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return
	}
	t.connected = false
	close(t.stop)
	t.bot = nil
	t.logger.Info("telegram bot disconnected")
}

// Listen starts long polling and streams normalized messages. The returned
// channel closes on context cancellation or Disconnect.
func (t *Telegram) Listen(ctx context.Context) <-chan model.NormalizedMessage {
	t.mu.Lock()
	bot, stop, connected := t.bot, t.stop, t.connected
	t.mu.Unlock()

	if !connected {
		t.logger.Error("telegram listen called while disconnected")
		closed := make(chan model.NormalizedMessage)
		close(closed)
		return closed
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = telegramPollTimeout
	updates := bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				bot.StopReceivingUpdates()
				return
			case <-stop:
				bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				t.handleUpdate(update)
			}
		}
	}()

	t.logger.Info("telegram polling started")
	return t.queue.stream(ctx, stop)
}

func (t *Telegram) handleUpdate(update tgbotapi.Update) {
	if update.Message == nil || update.Message.From == nil || update.Message.Chat == nil {
		return
	}
	if !t.isUserAllowed(update.Message.From.ID) {
		t.logger.Warn("telegram sender not in allow list",
			"user_id", update.Message.From.ID,
			"username", update.Message.From.UserName)
		return
	}

	msg := t.normalizeUpdate(update)
	t.queue.enqueue(msg)
	t.logger.Debug("telegram message queued", "message_id", msg.ID, "sender", msg.SenderName)
}

// isUserAllowed applies the allow-list; empty means everyone.
func (t *Telegram) isUserAllowed(userID int64) bool {
	if len(t.allowedUsers) == 0 {
		return true
	}
	_, ok := t.allowedUsers[userID]
	return ok
}

// normalizeUpdate converts a Telegram update to the channel-agnostic model.
// Message IDs are prefixed with the chat so they cannot collide across
// conversations (Telegram message IDs are only unique per chat).
func (t *Telegram) normalizeUpdate(update tgbotapi.Update) model.NormalizedMessage {
	m := update.Message
	chat := m.Chat
	from := m.From

	text := m.Text
	if text == "" {
		text = m.Caption
	}

	messageType := model.TypeText
	var mediaURLs []string
	switch {
	case len(m.Photo) > 0:
		messageType = model.TypeImage
		// Largest size is last; only the file_id is kept.
		mediaURLs = []string{m.Photo[len(m.Photo)-1].FileID}
	case m.Document != nil:
		messageType = model.TypeFile
		mediaURLs = []string{m.Document.FileID}
	case m.Voice != nil:
		messageType = model.TypeVoice
		mediaURLs = []string{m.Voice.FileID}
	case m.Location != nil:
		messageType = model.TypeLocation
		text = fmt.Sprintf("위치: %f, %f", m.Location.Latitude, m.Location.Longitude)
	}

	isMention := false
	for _, entity := range m.Entities {
		if entity.Type == "mention" {
			isMention = true
			break
		}
	}

	senderName := from.FirstName
	if from.LastName != "" {
		senderName += " " + from.LastName
	}
	if senderName == "" {
		senderName = from.UserName
	}
	if senderName == "" {
		senderName = strconv.FormatInt(from.ID, 10)
	}

	replyTo := ""
	if m.ReplyToMessage != nil {
		replyTo = strconv.Itoa(m.ReplyToMessage.MessageID)
	}

	rawJSON := ""
	if raw, err := json.Marshal(update); err == nil {
		rawJSON = string(raw)
	}

	msg := model.NormalizedMessage{
		ID:          fmt.Sprintf("telegram_%d_%d", chat.ID, m.MessageID),
		Channel:     model.ChannelTelegram,
		ChannelID:   strconv.FormatInt(chat.ID, 10),
		SenderID:    strconv.FormatInt(from.ID, 10),
		SenderName:  senderName,
		Text:        text,
		MessageType: messageType,
		Timestamp:   m.Time(),
		IsGroup:     chat.IsGroup() || chat.IsSuperGroup(),
		IsMention:   isMention,
		ReplyToID:   replyTo,
		MediaURLs:   mediaURLs,
		RawJSON:     rawJSON,
	}
	msg.Normalize()
	return msg
}

// Send delivers when confirmed; otherwise only a draft artifact is written
// and no Bot API call is made.
func (t *Telegram) Send(ctx context.Context, msg model.OutboundMessage) model.SendResult {
	if !msg.Confirmed {
		return draftResult(t.draftDir, msg)
	}

	t.mu.Lock()
	bot, connected := t.bot, t.connected
	t.mu.Unlock()
	if !connected {
		return model.SendResult{Success: false, Error: "telegram bot not connected"}
	}

	chatID, err := strconv.ParseInt(msg.To, 10, 64)
	if err != nil {
		return model.SendResult{Success: false, Error: fmt.Sprintf("invalid chat id %q", msg.To)}
	}

	out := tgbotapi.NewMessage(chatID, msg.Text)
	if msg.ReplyTo != "" {
		if replyID, err := strconv.Atoi(msg.ReplyTo); err == nil {
			out.ReplyToMessageID = replyID
		}
	}

	sent, err := bot.Send(out)
	if err != nil {
		t.logger.Error("telegram send failed", "chat_id", chatID, "err", err)
		return model.SendResult{Success: false, Error: err.Error()}
	}

	t.logger.Info("telegram message sent", "message_id", sent.MessageID, "chat_id", chatID)
	return model.SendResult{
		Success:   true,
		MessageID: strconv.Itoa(sent.MessageID),
		SentAt:    sent.Time(),
	}
}

// Status reports connectivity plus queue and allow-list details.
func (t *Telegram) Status() map[string]any {
	t.mu.Lock()
	bot, connected := t.bot, t.connected
	t.mu.Unlock()

	status := map[string]any{
		"connected":           connected,
		"channel":             string(model.ChannelTelegram),
		"queue_size":          t.queue.depth(),
		"allowed_users_count": len(t.allowedUsers),
	}
	if connected && bot != nil {
		status["bot_username"] = "@" + bot.Self.UserName
		status["bot_id"] = bot.Self.ID
	}
	return status
}
