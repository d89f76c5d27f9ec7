// Package uisink renders controller state: to the log, as a connection
// status indicator, and to websocket clients.
package uisink

import (
	"fmt"
	"log/slog"

	"github.com/chaz8081/ledlink/internal/ble"
	"github.com/chaz8081/ledlink/internal/ble/protocol"
	"github.com/chaz8081/ledlink/internal/dispatch"
)

// Percent renders a brightness level as a percentage of full scale,
// truncated like the firmware's own display.
func Percent(level int) string {
	if level < protocol.MinBrightness {
		level = protocol.MinBrightness
	}
	if level > protocol.MaxBrightness {
		level = protocol.MaxBrightness
	}
	return fmt.Sprintf("%d%%", level*100/protocol.MaxBrightness)
}

// ModeName returns the display name of an LED mode.
func ModeName(mode int) string {
	if mode == protocol.ModeBlink {
		return "Blinking"
	}
	return "Static"
}

// LogSink writes every update to slog.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink returns a LogSink using logger, or the default logger if nil.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) SetLED(on bool) {
	s.logger.Info("[UI] led", "on", on)
}

func (s *LogSink) SetBrightness(level int) {
	s.logger.Info("[UI] brightness", "level", level, "percent", Percent(level))
}

func (s *LogSink) SetMode(mode int) {
	s.logger.Info("[UI] mode", "mode", ModeName(mode))
}

func (s *LogSink) ConnectionChanged(state ble.State) {
	s.logger.Info("[UI] connection", "state", state)
}

func (s *LogSink) Notify(message string) {
	s.logger.Info("[UI] " + message)
}

// Multi fans every update out to several sinks in order.
type Multi []dispatch.Sink

func (m Multi) SetLED(on bool) {
	for _, s := range m {
		s.SetLED(on)
	}
}

func (m Multi) SetBrightness(level int) {
	for _, s := range m {
		s.SetBrightness(level)
	}
}

func (m Multi) SetMode(mode int) {
	for _, s := range m {
		s.SetMode(mode)
	}
}

func (m Multi) ConnectionChanged(state ble.State) {
	for _, s := range m {
		s.ConnectionChanged(state)
	}
}

func (m Multi) Notify(message string) {
	for _, s := range m {
		s.Notify(message)
	}
}

var (
	_ dispatch.Sink = (*LogSink)(nil)
	_ dispatch.Sink = (*Status)(nil)
	_ dispatch.Sink = Multi(nil)
)
