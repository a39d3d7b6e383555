package jobs

import (
	"context"
	"log/slog"
)

// Notifier enqueues an immediate dispatch sweep after an engine commit.
// Enqueueing is fire-and-forget; a lost nudge only delays delivery until
// the next scheduled sweep.
type Notifier struct {
	client *Client
	logger *slog.Logger
}

// NewNotifier constructs Notifier.
func NewNotifier(client *Client, logger *slog.Logger) *Notifier {
	return &Notifier{client: client, logger: logger}
}

// NotifyOutbox queues one outbox dispatch task.
func (n *Notifier) NotifyOutbox(ctx context.Context) {
	if n == nil || n.client == nil {
		return
	}
	if _, err := n.client.EnqueueOutboxDispatch(ctx); err != nil && n.logger != nil {
		n.logger.Warn("outbox nudge", slog.Any("error", err))
	}
}
