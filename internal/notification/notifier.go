// Package notification delivers scanner alerts to external channels
// (Telegram, generic webhooks, the log). Delivery is best effort: the
// Gateway reports success as a bool and never returns transport errors
// to the scan pipeline.
package notification

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Jhon-Oliver2025/1Crypten/internal/logger"
)

// ErrNotConfigured is returned by a backend whose credentials or target
// are missing from the settings snapshot.
var ErrNotConfigured = errors.New("notification: backend not configured")

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers a preformatted message. Returns error if delivery fails.
	Send(ctx context.Context, text string) error
}

// LogNotifier writes messages to the log instead of delivering them.
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier(log *slog.Logger) *LogNotifier {
	return &LogNotifier{log: logger.OrDefault(log)}
}

func (n *LogNotifier) Send(ctx context.Context, text string) error {
	n.log.Info("notify", "text", text)
	return nil
}

// Multi fans a message out to several backends. Backends reporting
// ErrNotConfigured are skipped; Send fails with ErrNotConfigured only when
// none of them is configured, and otherwise with the joined delivery errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, text string) error {
	var errs []error
	configured := 0
	for _, n := range m {
		err := n.Send(ctx, text)
		if errors.Is(err, ErrNotConfigured) {
			continue
		}
		configured++
		if err != nil {
			errs = append(errs, err)
		}
	}
	if configured == 0 {
		return ErrNotConfigured
	}
	return errors.Join(errs...)
}
