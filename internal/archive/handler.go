package archive

import (
	"context"
	"log/slog"
	"time"

	"github.com/umrum/umrum/internal/events"
	"github.com/umrum/umrum/pkg/kafka"
	"github.com/umrum/umrum/pkg/metrics"
)

// PageViewRecorder persists one ping.
type PageViewRecorder interface {
	IncrementPageView(ctx context.Context, day time.Time, hostname, path string) error
}

// HandleEvent returns the Kafka handler for the beacon events topic. Pings
// increment the day's page-view total; disconnects carry nothing to archive.
// Undecodable or incomplete messages are logged and skipped so they do not
// block the partition. A store failure is returned so the consumer skips
// the commit for that message.
func HandleEvent(rec PageViewRecorder, m *metrics.Metrics) kafka.MessageHandler {
	logger := slog.Default().With("component", "archive-handler")
	return func(ctx context.Context, key []byte, value []byte) error {
		ev, err := kafka.DecodeJSON[events.BeaconEvent](value)
		if err != nil {
			logger.Error("failed to decode beacon event", "key", string(key), "error", err)
			m.EventArchived("unknown", "invalid")
			return nil
		}

		switch ev.Action {
		case events.ActionDisconnect:
			m.EventArchived(string(ev.Action), "ignored")
			return nil
		case events.ActionPing:
		default:
			logger.Warn("unknown beacon action", "action", ev.Action, "host", ev.Host)
			m.EventArchived("unknown", "invalid")
			return nil
		}

		if ev.Host == "" || ev.Path == "" {
			logger.Warn("incomplete beacon event", "host", ev.Host, "path", ev.Path)
			m.EventArchived(string(ev.Action), "invalid")
			return nil
		}

		day := ev.Timestamp
		if day.IsZero() {
			day = time.Now()
		}
		if err := rec.IncrementPageView(ctx, day, ev.Host, ev.Path); err != nil {
			m.EventArchived(string(ev.Action), "error")
			return err
		}
		m.EventArchived(string(ev.Action), "ok")
		return nil
	}
}
