package audit

import (
	"context"
	"log/slog"
)

// LogSink writes events to a structured logger.
type LogSink struct {
	Log *slog.Logger
}

func (s LogSink) Write(ctx context.Context, ev Event) error {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	log.LogAttrs(ctx, slog.LevelInfo, "audit",
		slog.String("audit_id", ev.ID.String()),
		slog.String("action", ev.Action),
		slog.String("subject_id", ev.SubjectID),
		slog.String("ip", ev.IP),
		slog.Any("meta", ev.Meta),
	)
	return nil
}
