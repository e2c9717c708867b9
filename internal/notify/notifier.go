// Package notify defines the outbound notification capability. Delivery is
// best-effort: the engine logs and swallows failures so a broken channel
// never blocks execution.
package notify

import (
	"context"
	"log/slog"
)

// Notifier delivers a human-readable message to an external channel.
type Notifier interface {
	SendMessage(ctx context.Context, text string) error
}

// LogNotifier writes notifications to the process log. Used as the default
// when no external channel is configured.
type LogNotifier struct{}

// SendMessage logs the message at info level. Never fails.
func (LogNotifier) SendMessage(_ context.Context, text string) error {
	slog.Info("notification", slog.String("text", text))
	return nil
}
