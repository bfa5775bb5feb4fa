package adapter

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"secretary/internal/model"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

// SlackConfig configures the Slack adapter. Socket Mode needs both a bot
// token (xoxb-) and an app-level token (xapp-).
type SlackConfig struct {
	BotToken  string
	AppToken  string
	DraftDir  string
	QueueSize int
	Logger    *slog.Logger
}

// Slack implements Adapter over Socket Mode, so no public webhook endpoint
// is required.
type Slack struct {
	botToken string
	appToken string
	draftDir string
	logger   *slog.Logger

	mu        sync.Mutex
	client    *slack.Client
	socket    *socketmode.Client
	botUID    string
	connected bool
	stop      chan struct{}

	queue *msgQueue
}

func NewSlack(cfg SlackConfig) *Slack {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Slack{
		botToken: cfg.BotToken,
		appToken: cfg.AppToken,
		draftDir: cfg.DraftDir,
		logger:   cfg.Logger,
		queue:    newMsgQueue(cfg.QueueSize, "slack", cfg.Logger),
	}
}

func (s *Slack) ChannelType() model.ChannelType { return model.ChannelSlack }

func (s *Slack) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Connect validates both tokens with an auth test and records the bot's own
// user ID so its messages can be filtered out of the inbound stream.
func (s *Slack) Connect(ctx context.Context) bool {
	if s.botToken == "" || s.appToken == "" {
		s.logger.Error("slack tokens not configured")
		return false
	}

	api := slack.New(s.botToken, slack.OptionAppLevelToken(s.appToken))
	authResp, err := api.AuthTestContext(ctx)
	if err != nil {
		s.logger.Error("slack connect failed", "err", err)
		return false
	}

	s.mu.Lock()
	s.client = api
	s.socket = socketmode.New(api)
	s.botUID = authResp.UserID
	s.connected = true
	s.stop = make(chan struct{})
	s.mu.Unlock()

	s.logger.Info("slack bot connected", "user", authResp.User, "user_id", authResp.UserID)
	return true
}

func (s *Slack) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return
	}
	s.connected = false
	close(s.stop)
	s.socket = nil
	s.client = nil
	s.logger.Info("slack bot disconnected")
}

// Listen runs the Socket Mode client and streams message and app_mention
// events as normalized messages.
func (s *Slack) Listen(ctx context.Context) <-chan model.NormalizedMessage {
	s.mu.Lock()
	socket, stop, connected := s.socket, s.stop, s.connected
	s.mu.Unlock()

	if !connected {
		s.logger.Error("slack listen called while disconnected")
		closed := make(chan model.NormalizedMessage)
		close(closed)
		return closed
	}

	runCtx, cancel := context.WithCancel(ctx)
	go func() {
		<-stop
		cancel()
	}()

	go func() {
		if err := socket.RunContext(runCtx); err != nil && runCtx.Err() == nil {
			s.logger.Error("slack socket mode stopped", "err", err)
		}
	}()

	go func() {
		for {
			select {
			case <-runCtx.Done():
				return
			case evt, ok := <-socket.Events:
				if !ok {
					return
				}
				s.handleEvent(socket, evt)
			}
		}
	}()

	s.logger.Info("slack socket mode started")
	return s.queue.stream(ctx, stop)
}

func (s *Slack) handleEvent(socket *socketmode.Client, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		socket.Ack(*evt.Request)
		s.handleEventsAPI(apiEvent)
	default:
		// Unacked events cause Socket Mode disconnects.
		if evt.Request != nil {
			socket.Ack(*evt.Request)
		}
	}
}

func (s *Slack) handleEventsAPI(event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	switch ev := event.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		if ev.User == s.botUID || ev.User == "" || ev.SubType != "" {
			return
		}
		s.queue.enqueue(s.normalizeMessage(ev.Channel, ev.User, ev.Text,
			ev.TimeStamp, ev.ThreadTimeStamp, false, event))

	case *slackevents.AppMentionEvent:
		if ev.User == s.botUID || ev.User == "" {
			return
		}
		text := ev.Text
		if idx := strings.Index(text, ">"); idx >= 0 {
			text = strings.TrimSpace(text[idx+1:])
		}
		s.queue.enqueue(s.normalizeMessage(ev.Channel, ev.User, text,
			ev.TimeStamp, ev.ThreadTimeStamp, true, event))
	}
}

// normalizeMessage builds the channel-agnostic message. Slack event
// timestamps are already unique per channel, so channel+ts makes a
// collision-free ID. DM channels start with "D"; everything else is treated
// as a group conversation.
func (s *Slack) normalizeMessage(channelID, userID, text, ts, threadTS string, mention bool, raw slackevents.EventsAPIEvent) model.NormalizedMessage {
	rawJSON := ""
	if b, err := json.Marshal(raw.InnerEvent.Data); err == nil {
		rawJSON = string(b)
	}

	replyTo := ""
	if threadTS != "" && threadTS != ts {
		replyTo = threadTS
	}

	msg := model.NormalizedMessage{
		ID:          "slack_" + channelID + "_" + ts,
		Channel:     model.ChannelSlack,
		ChannelID:   channelID,
		SenderID:    userID,
		Text:        text,
		MessageType: model.TypeText,
		Timestamp:   slackTimestamp(ts),
		IsGroup:     !strings.HasPrefix(channelID, "D"),
		IsMention:   mention,
		ReplyToID:   replyTo,
		RawJSON:     rawJSON,
	}
	msg.Normalize()
	return msg
}

// slackTimestamp parses the "1712345678.000200" event timestamp.
func slackTimestamp(ts string) time.Time {
	sec, _, found := strings.Cut(ts, ".")
	if !found {
		sec = ts
	}
	var unix int64
	for _, r := range sec {
		if r < '0' || r > '9' {
			return time.Time{}
		}
		unix = unix*10 + int64(r-'0')
	}
	if unix == 0 {
		return time.Time{}
	}
	return time.Unix(unix, 0)
}

// Send posts when confirmed, writes a draft otherwise. ReplyTo maps to the
// thread timestamp.
func (s *Slack) Send(ctx context.Context, msg model.OutboundMessage) model.SendResult {
	if !msg.Confirmed {
		return draftResult(s.draftDir, msg)
	}

	s.mu.Lock()
	client, connected := s.client, s.connected
	s.mu.Unlock()
	if !connected {
		return model.SendResult{Success: false, Error: "slack client not connected"}
	}

	opts := []slack.MsgOption{slack.MsgOptionText(msg.Text, false)}
	if msg.ReplyTo != "" {
		opts = append(opts, slack.MsgOptionTS(msg.ReplyTo))
	}

	_, ts, err := client.PostMessageContext(ctx, msg.To, opts...)
	if err != nil {
		s.logger.Error("slack send failed", "channel", msg.To, "err", err)
		return model.SendResult{Success: false, Error: err.Error()}
	}

	s.logger.Info("slack message sent", "channel", msg.To, "ts", ts)
	return model.SendResult{Success: true, MessageID: ts, SentAt: time.Now()}
}

func (s *Slack) Status() map[string]any {
	s.mu.Lock()
	connected, botUID := s.connected, s.botUID
	s.mu.Unlock()

	status := map[string]any{
		"connected":  connected,
		"channel":    string(model.ChannelSlack),
		"queue_size": s.queue.depth(),
	}
	if connected {
		status["bot_user_id"] = botUID
	}
	return status
}
