package adapter

import (
	"context"
	"log/slog"

	"secretary/internal/model"
)

const defaultQueueSize = 256

// msgQueue decouples a platform's push callback from the Listen consumer.
// Enqueue order is the only ordering guarantee. The queue is bounded:
// when the consumer falls behind, new messages are dropped and logged
// rather than growing memory without limit.
type msgQueue struct {
	ch     chan model.NormalizedMessage
	name   string
	logger *slog.Logger
}

func newMsgQueue(size int, name string, logger *slog.Logger) *msgQueue {
	if size <= 0 {
		size = defaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &msgQueue{
		ch:     make(chan model.NormalizedMessage, size),
		name:   name,
		logger: logger,
	}
}

// enqueue is non-blocking so platform callbacks never stall on a slow
// consumer.
func (q *msgQueue) enqueue(msg model.NormalizedMessage) {
	select {
	case q.ch <- msg:
	default:
		q.logger.Warn("adapter queue full, dropping message",
			"adapter", q.name, "message_id", msg.ID)
	}
}

func (q *msgQueue) depth() int {
	return len(q.ch)
}

// stream drains the queue into a fresh output channel until the context is
// cancelled or stop is closed, then closes the output. Cancellation is
// observed immediately because the drain is a plain select, not a blocking
// read.
func (q *msgQueue) stream(ctx context.Context, stop <-chan struct{}) <-chan model.NormalizedMessage {
	out := make(chan model.NormalizedMessage)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case msg := <-q.ch:
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				case <-stop:
					return
				}
			}
		}
	}()
	return out
}
