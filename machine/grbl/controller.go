// Package grbl streams G-code to GRBL controllers.
package grbl

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mastercactapus/glaser/machine"
)

// Realtime bytes. They bypass the receive buffer and are never acknowledged.
const (
	StatusQuery = '?'
	FeedHold    = '!'
	CycleResume = '~'
	SoftReset   = 0x18
)

var (
	// ErrStopped is returned to waiters when a session is stopped.
	ErrStopped = errors.New("grbl: session stopped")

	// ErrGrblReset is returned to waiters when the controller reset itself.
	ErrGrblReset = errors.New("grbl: controller reset")

	// ErrBusy is returned by Start while a session is running.
	ErrBusy = errors.New("grbl: session in progress")

	// ErrNotRunning is returned by Pause and Resume outside a session.
	ErrNotRunning = errors.New("grbl: no session to pause or resume")
)

// Config tunes a Controller.
type Config struct {
	// Window is the number of unacknowledged lines allowed. A window of one
	// sends each line as the previous one is acknowledged.
	Window int

	PollInterval time.Duration
	FrameTimeout time.Duration

	// Tick is the send and receive polling interval.
	Tick time.Duration

	Logger   *zap.Logger
	Observer machine.Observer
}

func (c *Config) defaults() {
	if c.Window <= 0 {
		c.Window = 10
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.FrameTimeout <= 0 {
		c.FrameTimeout = 100 * time.Millisecond
	}
	if c.Tick <= 0 {
		c.Tick = time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Observer == nil {
		c.Observer = machine.NopObserver{}
	}
}

type sentLine struct {
	index int
	line  string
}

type batch struct {
	from, to int
	err      error
	ch       chan error
}

type request struct {
	fn func()
}

// Controller streams lines to a GRBL controller under a bounded
// acknowledgment window. All session state is owned by a single loop
// goroutine; other goroutines talk to it through channels.
type Controller struct {
	t   Transport
	cfg Config
	log *zap.Logger
	obs machine.Observer
	pos *machine.Position

	// pending is only written by the loop.
	pending atomic.Int32

	reqCh   chan request
	frameCh chan frame
	closeCh chan struct{}
	doneCh  chan struct{}
	once    sync.Once

	// owned by loop
	queue      []string
	inflight   []sentLine
	sess       machine.Session
	batches    []*batch
	waiters    []chan machine.SessionState
	lastStatus time.Time

	mx   sync.Mutex
	snap machine.Session
	last machine.State
}

var _ machine.Adapter = &Controller{}

// NewController starts a controller on t.
func NewController(t Transport, cfg Config) *Controller {
	cfg.defaults()
	c := &Controller{
		t:       t,
		cfg:     cfg,
		log:     cfg.Logger,
		obs:     cfg.Observer,
		pos:     machine.NewPosition(cfg.PollInterval),
		reqCh:   make(chan request),
		frameCh: make(chan frame, 256),
		closeCh: make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	c.sess.State = machine.SessionIdle
	c.snap = c.sess
	go c.readLoop()
	go c.loop()
	return c
}

// Pending returns the number of sent, unacknowledged lines.
func (c *Controller) Pending() int { return int(c.pending.Load()) }

func (c *Controller) Window() int { return c.cfg.Window }

func (c *Controller) Session() machine.Session {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.snap
}

func (c *Controller) CurrentState() machine.State {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.last
}

func (c *Controller) Position() machine.PositionState { return c.pos.State() }

// do runs fn on the loop goroutine.
func (c *Controller) do(fn func()) error {
	done := make(chan struct{})
	select {
	case c.reqCh <- request{fn: func() { fn(); close(done) }}:
	case <-c.doneCh:
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-c.doneCh:
		return ErrClosed
	}
}

func (c *Controller) publish() {
	c.sess.Pending = int(c.pending.Load())
	c.sess.Queued = len(c.queue)
	c.mx.Lock()
	c.snap = c.sess
	c.mx.Unlock()
}

func (c *Controller) setState(s machine.SessionState) {
	if c.sess.State == s {
		return
	}
	c.sess.State = s
	c.publish()
	c.log.Info("session state", zap.String("session", c.sess.ID), zap.String("state", string(s)))
	c.obs.StateChanged(c.sess)
	if s.Done() {
		for _, w := range c.waiters {
			w <- s
		}
		c.waiters = nil
	}
}

func (c *Controller) active() bool {
	return c.sess.State == machine.SessionRunning || c.sess.State == machine.SessionPaused
}

func (c *Controller) begin(lines []string) {
	c.sess = machine.Session{
		ID:    uuid.NewString(),
		State: machine.SessionIdle,
		Total: len(lines),
	}
	c.queue = append(c.queue[:0], lines...)
	c.log.Info("session start", zap.String("session", c.sess.ID), zap.Int("lines", len(lines)))
	c.setState(machine.SessionRunning)
	c.send()
	c.checkDone()
}

// Start begins a new session with lines.
func (c *Controller) Start(lines []string) error {
	var err error
	derr := c.do(func() {
		if c.active() {
			err = ErrBusy
			return
		}
		c.begin(lines)
	})
	if derr != nil {
		return derr
	}
	return err
}

// Enqueue appends lines to the active session or starts a new one.
func (c *Controller) Enqueue(lines ...string) error {
	return c.do(func() { c.enqueue(lines) })
}

func (c *Controller) enqueue(lines []string) {
	if !c.active() {
		c.begin(lines)
		return
	}
	c.queue = append(c.queue, lines...)
	c.sess.Total += len(lines)
	c.publish()
	c.send()
}

// ExecuteBatch enqueues lines and blocks until the controller has
// acknowledged everything queued. Cancelling ctx returns without draining.
// A rejected line of the batch is returned as a machine.Rejection.
func (c *Controller) ExecuteBatch(ctx context.Context, lines []string) error {
	if len(lines) == 0 {
		return nil
	}
	b := &batch{ch: make(chan error, 1)}
	err := c.do(func() {
		wasActive := c.active()
		b.from = c.sess.Total
		if !wasActive {
			b.from = 0
		}
		b.to = b.from + len(lines)
		c.batches = append(c.batches, b)
		c.enqueue(lines)
		c.checkDone()
	})
	if err != nil {
		return err
	}
	select {
	case err = <-b.ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.doneCh:
		return ErrClosed
	}
}

// Pause holds the current motion.
func (c *Controller) Pause() error {
	var err error
	derr := c.do(func() {
		if c.sess.State != machine.SessionRunning {
			err = ErrNotRunning
			return
		}
		c.realtime(FeedHold)
		c.setState(machine.SessionPaused)
	})
	if derr != nil {
		return derr
	}
	return err
}

// Resume continues after Pause.
func (c *Controller) Resume() error {
	var err error
	derr := c.do(func() {
		if c.sess.State != machine.SessionPaused {
			err = ErrNotRunning
			return
		}
		c.realtime(CycleResume)
		c.setState(machine.SessionRunning)
		c.send()
		c.checkDone()
	})
	if derr != nil {
		return derr
	}
	return err
}

// Stop drops everything queued, resets the controller and releases all
// waiters without waiting for outstanding acknowledgments.
func (c *Controller) Stop() error {
	return c.do(func() {
		c.realtime(SoftReset)
		c.abort(ErrStopped)
		c.setState(machine.SessionStopped)
	})
}

// Wait blocks until the session is complete or stopped. An idle controller
// returns immediately.
func (c *Controller) Wait(ctx context.Context) (machine.SessionState, error) {
	ch := make(chan machine.SessionState, 1)
	err := c.do(func() {
		if !c.active() {
			ch <- c.sess.State
			return
		}
		c.waiters = append(c.waiters, ch)
	})
	if err != nil {
		return machine.SessionIdle, err
	}
	select {
	case s := <-ch:
		return s, nil
	case <-ctx.Done():
		return c.Session().State, ctx.Err()
	case <-c.doneCh:
		return c.Session().State, ErrClosed
	}
}

// Close stops the loops and closes the transport.
func (c *Controller) Close() error {
	c.once.Do(func() { close(c.closeCh) })
	<-c.doneCh
	return c.t.Close()
}

func (c *Controller) realtime(b byte) {
	if _, err := c.t.Write([]byte{b}); err != nil {
		c.log.Error("write realtime byte", zap.Error(err), zap.Uint8("byte", b))
		c.obs.Log("write error: " + err.Error())
	}
}

// abort clears the queue and window and fails every pending batch.
func (c *Controller) abort(err error) {
	c.queue = c.queue[:0]
	c.inflight = c.inflight[:0]
	c.pending.Store(0)
	c.pos.Reset()
	for _, b := range c.batches {
		b.ch <- err
	}
	c.batches = nil
	c.publish()
}

// canSend holds the window invariant: nothing is sent while the transport
// still buffers earlier bytes or the window is full.
func (c *Controller) canSend() bool {
	return c.sess.State == machine.SessionRunning &&
		len(c.queue) > 0 &&
		int(c.pending.Load()) < c.cfg.Window &&
		c.t.Buffered() == 0
}

func (c *Controller) send() {
	for c.canSend() {
		line := c.queue[0]
		if _, err := c.t.Write([]byte(line + "\n")); err != nil {
			c.log.Warn("write line", zap.Error(err), zap.Int("index", c.sess.Index))
			c.obs.Log("write error: " + err.Error())
			return
		}
		c.queue = c.queue[1:]
		idx := c.sess.Index
		c.inflight = append(c.inflight, sentLine{index: idx, line: line})
		c.pending.Add(1)
		c.sess.Index++
		c.sess.Sent++
		c.publish()
		if ps, ok := c.pos.Apply(line); ok {
			c.obs.PositionChanged(ps.Absolute, ps.Relative)
		}
		c.obs.LineSent(idx)
	}
}

// checkDone completes the session and releases batches once drained.
func (c *Controller) checkDone() {
	if len(c.queue) > 0 || c.pending.Load() > 0 {
		return
	}
	for _, b := range c.batches {
		b.ch <- b.err
	}
	c.batches = nil
	if c.sess.State == machine.SessionRunning {
		c.setState(machine.SessionComplete)
	}
}

func (c *Controller) ack(f frame) {
	if len(c.inflight) == 0 {
		c.log.Debug("unexpected acknowledgment", zap.String("frame", f.text))
		return
	}
	sent := c.inflight[0]
	c.inflight = c.inflight[1:]
	c.pending.Add(-1)
	c.sess.Acked++

	if f.kind == frameError {
		rej := machine.Rejection{Index: sent.index, Line: sent.line, Code: f.code}
		c.sess.Errors++
		c.log.Warn("line rejected", zap.Int("index", sent.index), zap.String("line", sent.line), zap.String("code", f.code))
		c.obs.LineRejected(rej)
		for _, b := range c.batches {
			if b.err == nil && sent.index >= b.from && sent.index < b.to {
				b.err = rej
			}
		}
	}
	c.publish()
	c.send()
	c.checkDone()
}

func (c *Controller) handleFrame(f frame) {
	switch f.kind {
	case frameOK, frameError:
		c.ack(f)
	case frameStatus:
		c.lastStatus = time.Now()
		c.mx.Lock()
		st, err := parseStatus(c.last, f.text)
		if err == nil {
			c.last = st.State
		}
		c.mx.Unlock()
		if err != nil {
			c.log.Warn("parse status", zap.Error(err), zap.String("frame", f.text))
			return
		}
		var ps machine.PositionState
		if st.hasMPos {
			ps = c.pos.ApplyMPos(st.MPos)
		}
		if st.hasWCO {
			ps = c.pos.ApplyWCO(st.WCO)
		}
		if st.hasMPos || st.hasWCO {
			c.obs.PositionChanged(ps.Absolute, ps.Relative)
		}
	case frameReset:
		c.log.Warn("controller reset", zap.String("banner", f.text))
		c.obs.Log(f.text)
		wasActive := c.active()
		c.abort(ErrGrblReset)
		if wasActive {
			c.setState(machine.SessionStopped)
		}
	case frameAlarm:
		c.log.Error("controller alarm", zap.String("code", f.code))
		c.obs.Log(f.text)
	default:
		c.log.Debug("controller message", zap.String("text", f.text))
		c.obs.Log(f.text)
	}
}

func (c *Controller) readLoop() {
	d := &decoder{timeout: c.cfg.FrameTimeout}
	buf := make([]byte, 1024)

	// a failing transport errors on every tick; report each distinct error once
	var lastErr string
	var repeated int
	for {
		select {
		case <-c.closeCh:
			return
		default:
		}
		n, err := c.t.Read(buf)
		switch {
		case errors.Is(err, ErrClosed):
			return
		case err != nil && err.Error() == lastErr:
			repeated++
		case err != nil:
			lastErr, repeated = err.Error(), 0
			c.log.Warn("read from transport", zap.Error(err))
			c.obs.Log("read error: " + lastErr)
		case lastErr != "":
			c.log.Info("transport read recovered", zap.String("error", lastErr), zap.Int("repeated", repeated))
			lastErr, repeated = "", 0
		}
		now := time.Now()
		if stale := d.expire(now); stale != "" {
			c.log.Warn("discarding incomplete frame", zap.String("data", stale))
		}
		for _, f := range d.feed(buf[:n], now) {
			select {
			case c.frameCh <- f:
			case <-c.closeCh:
				return
			}
		}
		if n == 0 {
			time.Sleep(c.cfg.Tick)
		}
	}
}

func (c *Controller) loop() {
	defer close(c.doneCh)
	sendTick := time.NewTicker(c.cfg.Tick)
	defer sendTick.Stop()
	pollTick := time.NewTicker(c.cfg.PollInterval)
	defer pollTick.Stop()

	for {
		select {
		case <-c.closeCh:
			c.abort(ErrClosed)
			for _, w := range c.waiters {
				w <- c.sess.State
			}
			c.waiters = nil
			return
		case req := <-c.reqCh:
			req.fn()
		case f := <-c.frameCh:
			c.handleFrame(f)
		case <-sendTick.C:
			c.send()
		case now := <-pollTick.C:
			if now.Sub(c.lastStatus) >= c.cfg.PollInterval/2 {
				c.realtime(StatusQuery)
			}
		}
	}
}
