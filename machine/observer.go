package machine

import (
	"go.uber.org/zap"

	"github.com/mastercactapus/glaser/coord"
)

// Observer receives session events. Calls are made from the controller's
// loop and must not block.
type Observer interface {
	PositionChanged(abs, rel coord.Point)
	LineSent(index int)
	Log(text string)
	LineRejected(r Rejection)
	StateChanged(s Session)
}

// NopObserver ignores every event. Embed it to implement part of Observer.
type NopObserver struct{}

func (NopObserver) PositionChanged(abs, rel coord.Point) {}
func (NopObserver) LineSent(index int)                   {}
func (NopObserver) Log(text string)                      {}
func (NopObserver) LineRejected(r Rejection)             {}
func (NopObserver) StateChanged(s Session)               {}

// Observers fans events out to several observers.
type Observers []Observer

func (o Observers) PositionChanged(abs, rel coord.Point) {
	for _, ob := range o {
		ob.PositionChanged(abs, rel)
	}
}
func (o Observers) LineSent(index int) {
	for _, ob := range o {
		ob.LineSent(index)
	}
}
func (o Observers) Log(text string) {
	for _, ob := range o {
		ob.Log(text)
	}
}
func (o Observers) LineRejected(r Rejection) {
	for _, ob := range o {
		ob.LineRejected(r)
	}
}
func (o Observers) StateChanged(s Session) {
	for _, ob := range o {
		ob.StateChanged(s)
	}
}

// LogObserver writes events to a zap logger.
type LogObserver struct {
	Logger *zap.Logger

	// Every controls how often sent lines are logged; zero disables it.
	Every int
}

func (l LogObserver) PositionChanged(abs, rel coord.Point) {
	l.Logger.Debug("position",
		zap.Float64("x", abs.X), zap.Float64("y", abs.Y),
		zap.Float64("wx", rel.X), zap.Float64("wy", rel.Y),
	)
}

func (l LogObserver) LineSent(index int) {
	if l.Every > 0 && index%l.Every == 0 {
		l.Logger.Info("progress", zap.Int("line", index))
	}
}

func (l LogObserver) Log(text string) { l.Logger.Info(text) }

func (l LogObserver) LineRejected(r Rejection) {
	l.Logger.Warn("line rejected", zap.Int("index", r.Index), zap.String("line", r.Line), zap.String("code", r.Code))
}

func (l LogObserver) StateChanged(s Session) {
	l.Logger.Info("session", zap.String("id", s.ID), zap.String("state", string(s.State)), zap.Int("sent", s.Sent), zap.Int("total", s.Total))
}
