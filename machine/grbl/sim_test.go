package grbl

import (
	"strings"
	"sync"

	"github.com/mastercactapus/glaser/coord"
	"github.com/mastercactapus/glaser/machine"
)

// simGrbl is an in-memory GRBL that records what it receives.
type simGrbl struct {
	mx sync.Mutex

	out     []byte
	partial []byte

	lines    []string
	realtime []byte

	unacked    int
	maxUnacked int

	autoAck bool
	reject  map[string]string
	status  string
	closed  bool
}

var _ Transport = &simGrbl{}

func newSim(autoAck bool) *simGrbl {
	return &simGrbl{
		autoAck: autoAck,
		reject:  make(map[string]string),
		status:  "<Idle|MPos:0.000,0.000,0.000|FS:0,0>",
	}
}

func (s *simGrbl) Read(p []byte) (int, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	n := copy(p, s.out)
	s.out = s.out[n:]
	return n, nil
}

func (s *simGrbl) Write(p []byte) (int, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	if len(p) == 1 {
		switch p[0] {
		case StatusQuery, FeedHold, CycleResume:
			s.realtime = append(s.realtime, p[0])
			if p[0] == StatusQuery {
				s.out = append(s.out, s.status+"\r\n"...)
			}
			return 1, nil
		case SoftReset:
			s.realtime = append(s.realtime, p[0])
			s.unacked = 0
			s.out = append(s.out, "\r\nGrbl 1.1h ['$' for help]\r\n"...)
			return 1, nil
		}
	}
	for _, b := range p {
		if b != '\n' {
			s.partial = append(s.partial, b)
			continue
		}
		s.lines = append(s.lines, string(s.partial))
		s.partial = s.partial[:0]
		s.unacked++
		if s.unacked > s.maxUnacked {
			s.maxUnacked = s.unacked
		}
		if s.autoAck {
			s.ackLocked()
		}
	}
	return len(p), nil
}

func (s *simGrbl) ackLocked() bool {
	if s.unacked == 0 {
		return false
	}
	line := s.lines[len(s.lines)-s.unacked]
	s.unacked--
	if code, ok := s.reject[line]; ok {
		s.out = append(s.out, "error:"+code+"\r\n"...)
	} else {
		s.out = append(s.out, "ok\r\n"...)
	}
	return true
}

// ack acknowledges the oldest received line.
func (s *simGrbl) ack() bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.ackLocked()
}

func (s *simGrbl) push(data string) {
	s.mx.Lock()
	s.out = append(s.out, data...)
	s.mx.Unlock()
}

func (s *simGrbl) setAutoAck(v bool) {
	s.mx.Lock()
	s.autoAck = v
	for v && s.ackLocked() {
	}
	s.mx.Unlock()
}

func (s *simGrbl) received() []string {
	s.mx.Lock()
	defer s.mx.Unlock()
	return append([]string(nil), s.lines...)
}

func (s *simGrbl) realtimeBytes() string {
	s.mx.Lock()
	defer s.mx.Unlock()
	return string(s.realtime)
}

func (s *simGrbl) max() int {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.maxUnacked
}

func (s *simGrbl) Buffered() int { return 0 }

func (s *simGrbl) Close() error {
	s.mx.Lock()
	s.closed = true
	s.mx.Unlock()
	return nil
}

type recordObserver struct {
	machine.NopObserver

	mx       sync.Mutex
	sent     []int
	rejected []machine.Rejection
	states   []machine.SessionState
	logs     []string
	last     coord.Point
}

func (r *recordObserver) LineSent(i int) {
	r.mx.Lock()
	r.sent = append(r.sent, i)
	r.mx.Unlock()
}

func (r *recordObserver) LineRejected(rej machine.Rejection) {
	r.mx.Lock()
	r.rejected = append(r.rejected, rej)
	r.mx.Unlock()
}

func (r *recordObserver) StateChanged(s machine.Session) {
	r.mx.Lock()
	r.states = append(r.states, s.State)
	r.mx.Unlock()
}

func (r *recordObserver) Log(text string) {
	r.mx.Lock()
	r.logs = append(r.logs, text)
	r.mx.Unlock()
}

func (r *recordObserver) PositionChanged(abs, rel coord.Point) {
	r.mx.Lock()
	r.last = abs
	r.mx.Unlock()
}

func (r *recordObserver) logText() string {
	r.mx.Lock()
	defer r.mx.Unlock()
	return strings.Join(r.logs, "\n")
}
