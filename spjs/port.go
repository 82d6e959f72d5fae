package spjs

import (
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

var lastID int64

func nextID() string {
	id := atomic.AddInt64(&lastID, 1)
	return "cmd_" + strconv.FormatInt(id, 36)
}

// Port is one serial port on the server, readable and writable as a byte
// stream. Data frames are treated as lines.
type Port struct {
	sp   *SPJS
	name string
	baud int
	log  *zap.Logger

	mx sync.Mutex
	in []byte

	out         chan []byte
	outstanding atomic.Int64

	closeOnce sync.Once
	closeCh   chan struct{}
}

// NewPort binds to the named port, opening it when the server reports it
// closed.
func NewPort(sp *SPJS, name string, baud int) *Port {
	p := &Port{
		sp:      sp,
		name:    name,
		baud:    baud,
		log:     sp.log.With(zap.String("port", name)),
		out:     make(chan []byte, 1024),
		closeCh: make(chan struct{}),
	}
	go p.readLoop()
	go p.writeLoop()
	return p
}

func (p *Port) readLoop() {
	for {
		select {
		case <-p.closeCh:
			return
		case msg := <-p.sp.Messages():
			switch m := msg.(type) {
			case *DataFrame:
				if m.Port != "" && m.Port != p.name {
					continue
				}
				data := m.Data
				if !strings.HasSuffix(data, "\n") {
					data += "\n"
				}
				p.mx.Lock()
				p.in = append(p.in, data...)
				p.mx.Unlock()
			case *SerialPortList:
				for _, port := range m.SerialPorts {
					if port.Name != p.name || port.IsOpen {
						continue
					}
					p.log.Info("opening port")
					go p.sp.WriteString("open " + p.name + " " + strconv.Itoa(p.baud) + " default")
				}
			case *ErrorMessage:
				p.log.Warn("server error", zap.String("error", m.Error))
			}
		}
	}
}

func (p *Port) writeLoop() {
	for {
		select {
		case <-p.closeCh:
			return
		case data := <-p.out:
			err := p.sp.SendJSON(JSON{Port: p.name, Data: []Data{{Data: string(data), ID: nextID()}}})
			if err != nil {
				p.log.Error("send", zap.Error(err))
			}
			p.outstanding.Add(-int64(len(data)))
		}
	}
}

func (p *Port) Read(b []byte) (int, error) {
	select {
	case <-p.closeCh:
		return 0, ErrClosed
	default:
	}
	p.mx.Lock()
	defer p.mx.Unlock()
	n := copy(b, p.in)
	p.in = p.in[n:]
	return n, nil
}

func (p *Port) Write(b []byte) (int, error) {
	select {
	case <-p.closeCh:
		return 0, ErrClosed
	default:
	}
	data := append([]byte(nil), b...)
	p.outstanding.Add(int64(len(data)))
	select {
	case p.out <- data:
		return len(b), nil
	case <-p.closeCh:
		p.outstanding.Add(-int64(len(data)))
		return 0, ErrClosed
	}
}

func (p *Port) Buffered() int { return int(p.outstanding.Load()) }

// Close stops the port and the server connection.
func (p *Port) Close() error {
	p.closeOnce.Do(func() { close(p.closeCh) })
	return p.sp.Close()
}
