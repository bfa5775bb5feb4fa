package adapter

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"secretary/internal/model"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// KakaoConfig configures the KakaoTalk bridge adapter. KakaoTalk has no
// public bot API; deployments run a local bridge process that relays chat
// events over a websocket, which this adapter dials.
type KakaoConfig struct {
	// BridgeURL is the bridge websocket endpoint, e.g. ws://127.0.0.1:8765/ws.
	BridgeURL string
	DraftDir  string
	QueueSize int
	Logger    *slog.Logger
}

// kakaoFrame is the JSON frame protocol spoken with the bridge.
type kakaoFrame struct {
	Type       string `json:"type"` // "message" | "send"
	ID         string `json:"id,omitempty"`
	Room       string `json:"room,omitempty"`
	Sender     string `json:"sender,omitempty"`
	SenderName string `json:"sender_name,omitempty"`
	Text       string `json:"text,omitempty"`
	IsGroup    bool   `json:"is_group,omitempty"`
	ReplyTo    string `json:"reply_to,omitempty"`
	Timestamp  int64  `json:"timestamp,omitempty"`
}

// Kakao implements Adapter as a websocket client of a local bridge.
type Kakao struct {
	bridgeURL string
	draftDir  string
	logger    *slog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	writeMu   sync.Mutex
	connected bool
	stop      chan struct{}

	queue *msgQueue
}

func NewKakao(cfg KakaoConfig) *Kakao {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Kakao{
		bridgeURL: cfg.BridgeURL,
		draftDir:  cfg.DraftDir,
		logger:    cfg.Logger,
		queue:     newMsgQueue(cfg.QueueSize, "kakao", cfg.Logger),
	}
}

func (k *Kakao) ChannelType() model.ChannelType { return model.ChannelKakao }

func (k *Kakao) IsConnected() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.connected
}

// Connect dials the bridge. A bridge that is not running is an expected
// condition and reported as false.
func (k *Kakao) Connect(ctx context.Context) bool {
	if k.bridgeURL == "" {
		k.logger.Error("kakao bridge url not configured")
		return false
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, k.bridgeURL, nil)
	if err != nil {
		k.logger.Error("kakao bridge connect failed", "url", k.bridgeURL, "err", err)
		return false
	}

	k.mu.Lock()
	k.conn = conn
	k.connected = true
	k.stop = make(chan struct{})
	k.mu.Unlock()

	k.logger.Info("kakao bridge connected", "url", k.bridgeURL)
	return true
}

func (k *Kakao) Disconnect() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.connected {
		return
	}
	k.connected = false
	close(k.stop)
	// Closing the socket also unblocks the read loop.
	if err := k.conn.Close(); err != nil {
		k.logger.Debug("kakao bridge close", "err", err)
	}
	k.conn = nil
	k.logger.Info("kakao bridge disconnected")
}

// Listen reads bridge frames and streams normalized messages.
func (k *Kakao) Listen(ctx context.Context) <-chan model.NormalizedMessage {
	k.mu.Lock()
	conn, stop, connected := k.conn, k.stop, k.connected
	k.mu.Unlock()

	if !connected {
		k.logger.Error("kakao listen called while disconnected")
		closed := make(chan model.NormalizedMessage)
		close(closed)
		return closed
	}

	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				select {
				case <-stop:
				case <-ctx.Done():
				default:
					k.logger.Error("kakao bridge read failed", "err", err)
				}
				return
			}

			var frame kakaoFrame
			if err := json.Unmarshal(data, &frame); err != nil {
				k.logger.Warn("kakao bridge sent invalid frame", "err", err)
				continue
			}
			if frame.Type != "message" {
				continue
			}
			k.queue.enqueue(k.normalizeFrame(frame, data))
		}
	}()

	k.logger.Info("kakao bridge listening started")
	return k.queue.stream(ctx, stop)
}

func (k *Kakao) normalizeFrame(frame kakaoFrame, raw []byte) model.NormalizedMessage {
	ts := time.Time{}
	if frame.Timestamp > 0 {
		ts = time.Unix(frame.Timestamp, 0)
	}

	msg := model.NormalizedMessage{
		ID:          "kakao_" + frame.ID,
		Channel:     model.ChannelKakao,
		ChannelID:   frame.Room,
		SenderID:    frame.Sender,
		SenderName:  frame.SenderName,
		Text:        frame.Text,
		MessageType: model.TypeText,
		Timestamp:   ts,
		IsGroup:     frame.IsGroup,
		ReplyToID:   frame.ReplyTo,
		RawJSON:     string(raw),
	}
	msg.Normalize()
	return msg
}

// Send relays a send frame to the bridge when confirmed, drafts otherwise.
// The bridge protocol is fire-and-forget, so the message ID is generated
// locally.
func (k *Kakao) Send(ctx context.Context, msg model.OutboundMessage) model.SendResult {
	if !msg.Confirmed {
		return draftResult(k.draftDir, msg)
	}

	k.mu.Lock()
	conn, connected := k.conn, k.connected
	k.mu.Unlock()
	if !connected {
		return model.SendResult{Success: false, Error: "kakao bridge not connected"}
	}

	frame := kakaoFrame{
		Type:    "send",
		ID:      uuid.NewString(),
		Room:    msg.To,
		Text:    msg.Text,
		ReplyTo: msg.ReplyTo,
	}

	k.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	err := conn.WriteJSON(frame)
	k.writeMu.Unlock()
	if err != nil {
		k.logger.Error("kakao bridge send failed", "room", msg.To, "err", err)
		return model.SendResult{Success: false, Error: err.Error()}
	}

	k.logger.Info("kakao message sent", "message_id", frame.ID, "room", msg.To)
	return model.SendResult{Success: true, MessageID: frame.ID, SentAt: time.Now()}
}

func (k *Kakao) Status() map[string]any {
	k.mu.Lock()
	connected := k.connected
	k.mu.Unlock()

	return map[string]any{
		"connected":  connected,
		"channel":    string(model.ChannelKakao),
		"queue_size": k.queue.depth(),
		"bridge_url": k.bridgeURL,
	}
}
