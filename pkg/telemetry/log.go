package telemetry

import (
	"go.uber.org/zap"
)

// LogTracer writes one structured log entry per completed event.
// Successful events are logged at debug, failures at warn.
type LogTracer struct {
	logger *zap.Logger
}

var _ Tracer = (*LogTracer)(nil)

func NewLogTracer(logger *zap.Logger) *LogTracer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogTracer{logger: logger}
}

func (t *LogTracer) Begin(ev Event) Span {
	return StartSpan(ev)
}

func (t *LogTracer) End(span Span, err error) {
	ev := span.Event
	fields := []zap.Field{
		zap.String("kind", string(ev.Kind)),
		zap.String("method", ev.Method),
		zap.String("run", ev.RunID),
		zap.Duration("duration", span.Elapsed()),
	}
	if ev.Kind != KindMethod {
		fields = append(fields,
			zap.Int("chain", ev.Chain),
			zap.Int("instruction", ev.Instruction),
			zap.String("name", ev.Name),
		)
	}
	if err != nil {
		t.logger.Warn("event failed", append(fields, zap.Error(err))...)
		return
	}
	t.logger.Debug("event", fields...)
}
