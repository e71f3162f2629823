package events

import (
	"log/slog"

	"pharmaclear/core/types"
)

// LogEmitter writes committed events to a structured logger. It renders the
// attribute form of the event, so log lines match what indexers see.
type LogEmitter struct {
	logger *slog.Logger
}

// NewLogEmitter wires an emitter to the given logger.
func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEmitter{logger: logger}
}

type attributed interface {
	Event() *types.Event
}

// Emit implements the Emitter interface.
func (l *LogEmitter) Emit(event Event) {
	if l == nil || l.logger == nil || event == nil {
		return
	}
	args := make([]any, 0, 8)
	if a, ok := event.(attributed); ok {
		if evt := a.Event(); evt != nil {
			for key, value := range evt.Attributes {
				args = append(args, slog.String(key, value))
			}
		}
	}
	l.logger.Info("event "+event.EventType(), args...)
}
