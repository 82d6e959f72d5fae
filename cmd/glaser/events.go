package main

import (
	"encoding/json"

	sse "github.com/alexandrevicenzi/go-sse"
	"go.uber.org/zap"

	"github.com/mastercactapus/glaser/coord"
	"github.com/mastercactapus/glaser/machine"
)

// eventObserver publishes controller events to SSE channels under /events/.
type eventObserver struct {
	sse *sse.Server
	log *zap.Logger
}

var _ machine.Observer = eventObserver{}

func (o eventObserver) send(channel string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		o.log.Error("marshal event", zap.String("channel", channel), zap.Error(err))
		return
	}
	o.sse.SendMessage("/events/"+channel, sse.SimpleMessage(string(data)))
}

type positionEvent struct {
	Absolute coord.Point
	Relative coord.Point
}

func (o eventObserver) PositionChanged(abs, rel coord.Point) {
	o.send("position", positionEvent{Absolute: abs, Relative: rel})
}

func (o eventObserver) LineSent(index int)               { o.send("line", index) }
func (o eventObserver) Log(text string)                  { o.send("log", text) }
func (o eventObserver) LineRejected(r machine.Rejection) { o.send("alert", r) }
func (o eventObserver) StateChanged(s machine.Session)   { o.send("state", s) }
