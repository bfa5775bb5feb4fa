package adapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"secretary/internal/model"
)

// MockConfig configures a Mock adapter.
type MockConfig struct {
	Channel   model.ChannelType
	DraftDir  string
	QueueSize int
	Logger    *slog.Logger

	// FailConnect makes Connect report failure.
	FailConnect bool

	// FailListenAfter, when > 0, ends the listen stream with a simulated
	// platform error after that many messages have been yielded.
	FailListenAfter int
}

// Mock is an in-memory Adapter used by tests and the send demo command. It
// honors the full contract, including the draft-on-unconfirmed rule.
type Mock struct {
	channel         model.ChannelType
	draftDir        string
	logger          *slog.Logger
	failConnect     bool
	failListenAfter int

	mu        sync.Mutex
	connected bool
	stop      chan struct{}
	sent      []model.OutboundMessage
	listenErr error

	queue *msgQueue
}

func NewMock(cfg MockConfig) *Mock {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Channel == "" {
		cfg.Channel = model.ChannelTelegram
	}
	return &Mock{
		channel:         cfg.Channel,
		draftDir:        cfg.DraftDir,
		logger:          cfg.Logger,
		failConnect:     cfg.FailConnect,
		failListenAfter: cfg.FailListenAfter,
		queue:           newMsgQueue(cfg.QueueSize, "mock-"+string(cfg.Channel), cfg.Logger),
	}
}

func (m *Mock) ChannelType() model.ChannelType { return m.channel }

func (m *Mock) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *Mock) Connect(ctx context.Context) bool {
	if m.failConnect {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	m.stop = make(chan struct{})
	return true
}

func (m *Mock) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return
	}
	m.connected = false
	close(m.stop)
}

// Inject enqueues a message as if the platform had delivered it.
func (m *Mock) Inject(msg model.NormalizedMessage) {
	m.queue.enqueue(msg)
}

func (m *Mock) Listen(ctx context.Context) <-chan model.NormalizedMessage {
	m.mu.Lock()
	stop, connected := m.stop, m.connected
	m.mu.Unlock()

	if !connected {
		closed := make(chan model.NormalizedMessage)
		close(closed)
		return closed
	}

	if m.failListenAfter <= 0 {
		return m.queue.stream(ctx, stop)
	}

	// Fault-injection variant: yield N messages, then die like a crashed
	// platform session would.
	out := make(chan model.NormalizedMessage)
	go func() {
		defer close(out)
		yielded := 0
		inner := m.queue.stream(ctx, stop)
		for msg := range inner {
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
			yielded++
			if yielded >= m.failListenAfter {
				m.mu.Lock()
				m.listenErr = errors.New("simulated platform failure")
				m.mu.Unlock()
				return
			}
		}
	}()
	return out
}

func (m *Mock) Send(ctx context.Context, msg model.OutboundMessage) model.SendResult {
	if !msg.Confirmed {
		return draftResult(m.draftDir, msg)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return model.SendResult{Success: false, Error: "not connected"}
	}

	m.sent = append(m.sent, msg)
	return model.SendResult{
		Success:   true,
		MessageID: fmt.Sprintf("mock_%d", len(m.sent)),
		SentAt:    time.Now(),
	}
}

// Sent returns a copy of every confirmed delivery so far.
func (m *Mock) Sent() []model.OutboundMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.OutboundMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

// ListenErr reports the simulated listen failure, if it fired.
func (m *Mock) ListenErr() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listenErr
}

func (m *Mock) Status() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[string]any{
		"connected":  m.connected,
		"channel":    string(m.channel),
		"queue_size": m.queue.depth(),
		"sent_count": len(m.sent),
	}
}
