// ABOUTME: Capability-gap events emitted when an agent requests an unknown tool
// ABOUTME: Fire-and-forget telemetry; sinks must never block or fail the caller

package dispatch

import (
	"log/slog"
	"time"
)

// GapEvent records a request for a tool no registered server provides.
// A recurring gap for the same tool signals a missing integration.
type GapEvent struct {
	UserID          string
	RequestedTool   string
	RequestingAgent string
	Timestamp       time.Time
}

// GapSink receives capability-gap events. Implementations must return
// quickly and swallow their own failures; the dispatch client never
// checks the outcome.
type GapSink interface {
	RecordGap(event GapEvent)
}

// LogGapSink writes gap events to a structured logger.
type LogGapSink struct {
	logger *slog.Logger
}

// NewLogGapSink creates a sink that logs each gap at warn level.
func NewLogGapSink(logger *slog.Logger) *LogGapSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogGapSink{logger: logger.With("component", "capability-gap")}
}

// RecordGap logs the event.
func (s *LogGapSink) RecordGap(event GapEvent) {
	s.logger.Warn("capability gap: no server provides requested tool",
		"requested_tool", event.RequestedTool,
		"user_id", event.UserID,
		"requesting_agent", event.RequestingAgent,
	)
}
