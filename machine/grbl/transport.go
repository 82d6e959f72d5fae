package grbl

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	goserial "github.com/joushou/goserial"
	"github.com/tarm/serial"
	"go.uber.org/zap"
)

// ErrClosed is returned after the transport or controller was closed.
var ErrClosed = errors.New("grbl: closed")

// Transport is a byte link to a controller.
type Transport interface {
	// Read returns whatever bytes have arrived without blocking; zero bytes
	// and a nil error mean nothing is available.
	Read(p []byte) (int, error)

	// Write queues p for sending.
	Write(p []byte) (int, error)

	// Buffered is the number of written bytes not yet handed to the device.
	Buffered() int

	Close() error
}

// Port adapts a blocking io.ReadWriteCloser, such as a serial port, to a
// Transport by moving reads and writes onto their own goroutines.
type Port struct {
	rwc io.ReadWriteCloser
	log *zap.Logger

	mx     sync.Mutex
	in     []byte
	readEr error

	out         chan []byte
	outstanding atomic.Int64

	closeOnce sync.Once
	closeCh   chan struct{}
}

var _ Transport = &Port{}

// NewPort starts the read and write goroutines for rwc.
func NewPort(rwc io.ReadWriteCloser, log *zap.Logger) *Port {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Port{
		rwc:     rwc,
		log:     log,
		out:     make(chan []byte, 1024),
		closeCh: make(chan struct{}),
	}
	go p.readLoop()
	go p.writeLoop()
	return p
}

func (p *Port) closed() bool {
	select {
	case <-p.closeCh:
		return true
	default:
		return false
	}
}

func (p *Port) readLoop() {
	buf := make([]byte, 1024)
	for {
		n, err := p.rwc.Read(buf)
		if n > 0 {
			p.mx.Lock()
			p.in = append(p.in, buf[:n]...)
			p.mx.Unlock()
		}
		if p.closed() {
			return
		}
		if err == io.EOF || (err == nil && n == 0) {
			// read timeout
			continue
		}
		if err != nil {
			p.mx.Lock()
			p.readEr = err
			p.mx.Unlock()
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func (p *Port) writeLoop() {
	for {
		select {
		case <-p.closeCh:
			return
		case data := <-p.out:
			for len(data) > 0 {
				n, err := p.rwc.Write(data)
				data = data[n:]
				p.outstanding.Add(-int64(n))
				if err != nil {
					p.log.Error("write to port", zap.Error(err))
					p.outstanding.Add(-int64(len(data)))
					break
				}
			}
		}
	}
}

// Read returns buffered input. A read error from the device is returned once.
func (p *Port) Read(b []byte) (int, error) {
	if p.closed() {
		return 0, ErrClosed
	}
	p.mx.Lock()
	defer p.mx.Unlock()
	if len(p.in) == 0 && p.readEr != nil {
		err := p.readEr
		p.readEr = nil
		return 0, err
	}
	n := copy(b, p.in)
	p.in = p.in[n:]
	return n, nil
}

func (p *Port) Write(b []byte) (int, error) {
	if p.closed() {
		return 0, ErrClosed
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

func (p *Port) Close() error {
	err := ErrClosed
	p.closeOnce.Do(func() {
		close(p.closeCh)
		err = p.rwc.Close()
	})
	return err
}

// Serial drivers understood by OpenSerial.
const (
	DriverTarm     = "tarm"
	DriverGoserial = "goserial"
)

// OpenSerial opens a serial device with the named driver.
func OpenSerial(name string, baud int, driver string, log *zap.Logger) (*Port, error) {
	var rwc io.ReadWriteCloser
	var err error
	switch driver {
	case "", DriverTarm:
		rwc, err = serial.OpenPort(&serial.Config{Name: name, Baud: baud, ReadTimeout: 50 * time.Millisecond})
	case DriverGoserial:
		rwc, err = goserial.OpenPort(&goserial.Config{Name: name, Baud: baud})
	default:
		return nil, fmt.Errorf("open %s: unknown serial driver %q", name, driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return NewPort(rwc, log), nil
}
