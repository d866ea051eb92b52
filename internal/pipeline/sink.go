package pipeline

import (
	"github.com/ColonelBlimp/vibemon/internal/severity"
	"go.uber.org/zap"
)

// LogSink logs every event at debug level and class changes at info level.
// It is only safe on the consumer goroutine.
type LogSink struct {
	log     *zap.Logger
	last    severity.Class
	hasLast bool
}

// NewLogSink creates a LogSink.
func NewLogSink(log *zap.Logger) *LogSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogSink{log: log}
}

// Emit implements Sink.
func (s *LogSink) Emit(e Event) {
	if ce := s.log.Check(zap.DebugLevel, "frame"); ce != nil {
		ce.Write(
			zap.String("source", e.Frame.Source),
			zap.Uint64("device_ms", e.Frame.Sample.DeviceMS),
			zap.Float64("rms", e.RMS),
			zap.Stringer("class", e.Class),
			zap.Float64("rate_hz", e.RateHz),
			zap.Float64("latency_ms", e.LatencyMS),
			zap.Bool("captured", e.Captured),
		)
	}

	if s.hasLast && s.last == e.Class {
		return
	}
	fields := []zap.Field{
		zap.Stringer("class", e.Class),
		zap.Float64("rms", e.RMS),
		zap.Uint64("device_ms", e.Frame.Sample.DeviceMS),
	}
	if s.hasLast {
		fields = append(fields, zap.Stringer("from", s.last))
	}
	if e.Frame.Sample.HasLabel && e.Frame.Sample.Label != e.Class {
		fields = append(fields, zap.Stringer("device_class", e.Frame.Sample.Label))
	}
	s.log.Info("class changed", fields...)
	s.last = e.Class
	s.hasLast = true
}

// ChannelSink forwards events to a channel without blocking. Events that do
// not fit are counted and discarded.
type ChannelSink struct {
	C       chan Event
	Dropped uint64 // consumer only
}

// NewChannelSink creates a ChannelSink with the given buffer size.
func NewChannelSink(size int) *ChannelSink {
	if size < 0 {
		size = 0
	}
	return &ChannelSink{C: make(chan Event, size)}
}

// Emit implements Sink.
func (s *ChannelSink) Emit(e Event) {
	select {
	case s.C <- e:
	default:
		s.Dropped++
	}
}

// ClassCounter tallies local classifications. It is only safe on the
// consumer goroutine; read it through Pipeline.Do.
type ClassCounter struct {
	Counts [severity.NumClasses]int
	// Mismatches counts frames whose device label differs from the local class
	Mismatches int
}

// Emit implements Sink.
func (c *ClassCounter) Emit(e Event) {
	if e.Class.Valid() {
		c.Counts[e.Class]++
	}
	if e.Frame.Sample.HasLabel && e.Frame.Sample.Label != e.Class {
		c.Mismatches++
	}
}
