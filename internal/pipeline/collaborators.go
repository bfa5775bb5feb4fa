package pipeline

import (
	"context"
	"log/slog"

	"secretary/internal/model"
)

// Notifier is the local system-notification sink. Delivery is fire-and-
// forget: the pipeline swallows every Notify error.
type Notifier interface {
	Notify(title, body string) error
}

// logNotifier is the default sink; it only writes to the log. Real desktop
// toast delivery is an external collaborator wired in by the host process.
type logNotifier struct {
	logger *slog.Logger
}

func (n *logNotifier) Notify(title, body string) error {
	n.logger.Info("notification", "title", title, "body", body)
	return nil
}

// Dispatcher receives detected actions for hand-off to an external task or
// TODO system. Implementations must not propagate failures back to the
// pipeline.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg *model.NormalizedMessage, result *model.PipelineResult)
}

// recordDispatcher is the default record-only implementation.
type recordDispatcher struct {
	logger *slog.Logger
}

func (d *recordDispatcher) Dispatch(ctx context.Context, msg *model.NormalizedMessage, result *model.PipelineResult) {
	for _, action := range result.Actions {
		d.logger.Debug("action recorded", "message_id", msg.ID, "action", action)
	}
}
