package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/chapter-archiver/internal/archiver"
	"github.com/JakeFAU/chapter-archiver/internal/progress"
)

// LogSink emits one structured log line per progress event.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("job_id", evt.JobID),
			zap.String("owner_id", evt.OwnerID),
			zap.String("kind", string(evt.Kind)),
		}
		if evt.ChapterIndex > 0 {
			fields = append(fields,
				zap.String("chapter", archiver.FormatChapterNumber(evt.ChapterNumber)),
				zap.Int("chapter_index", evt.ChapterIndex),
				zap.Int("total_chapters", evt.TotalChapters),
			)
		}
		if evt.PageIndex > 0 {
			fields = append(fields, zap.Int("page", evt.PageIndex), zap.Int("total_pages", evt.TotalPages))
		}
		if evt.Bytes > 0 {
			fields = append(fields, zap.Int64("bytes", evt.Bytes))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.DeliveryID != "" {
			fields = append(fields, zap.String("delivery_id", evt.DeliveryID))
		}
		if evt.Kind == progress.KindFailed || evt.Kind == progress.KindPageFailed {
			s.logger.Warn("progress event", append(fields, zap.String("reason", evt.Reason))...)
			continue
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
