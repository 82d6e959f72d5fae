package grbl

import (
	"bytes"
	"strings"
	"time"
)

type frameKind int

const (
	frameOK frameKind = iota
	frameError
	frameStatus
	frameReset
	frameAlarm
	frameMessage
)

type frame struct {
	kind frameKind
	text string
	code string
}

func classify(line string) frame {
	switch {
	case line == "ok":
		return frame{kind: frameOK, text: line}
	case strings.HasPrefix(line, "error:"):
		return frame{kind: frameError, text: line, code: strings.TrimPrefix(line, "error:")}
	case strings.HasPrefix(line, "ALARM:"):
		return frame{kind: frameAlarm, text: line, code: strings.TrimPrefix(line, "ALARM:")}
	case strings.HasPrefix(line, "Grbl "):
		return frame{kind: frameReset, text: line}
	}
	return frame{kind: frameMessage, text: line}
}

// decoder splits received bytes into `<...>` status reports and CR or LF
// terminated lines. Data that stays incomplete longer than timeout is
// dropped.
type decoder struct {
	buf     []byte
	since   time.Time
	timeout time.Duration
}

// expire drops a stale partial frame, returning what was dropped.
func (d *decoder) expire(now time.Time) string {
	if len(d.buf) == 0 || now.Sub(d.since) <= d.timeout {
		return ""
	}
	s := string(d.buf)
	d.buf = d.buf[:0]
	return s
}

func (d *decoder) feed(data []byte, now time.Time) []frame {
	if len(data) == 0 {
		return nil
	}
	if len(d.buf) == 0 {
		d.since = now
	}
	d.buf = append(d.buf, data...)

	var res []frame
	for {
		d.buf = bytes.TrimLeft(d.buf, "\r\n\x00 ")
		if len(d.buf) == 0 {
			break
		}
		if d.buf[0] == '<' {
			end := bytes.IndexByte(d.buf, '>')
			nl := bytes.IndexAny(d.buf, "\r\n")
			if nl >= 0 && (end < 0 || nl < end) {
				// broken report, resync on the line ending
				res = append(res, frame{kind: frameMessage, text: string(d.buf[:nl])})
				d.buf = d.buf[nl:]
				continue
			}
			if end < 0 {
				break
			}
			res = append(res, frame{kind: frameStatus, text: string(d.buf[:end+1])})
			d.buf = d.buf[end+1:]
			d.since = now
			continue
		}
		end := bytes.IndexAny(d.buf, "\r\n")
		if end < 0 {
			break
		}
		line := strings.TrimSpace(string(d.buf[:end]))
		d.buf = d.buf[end+1:]
		d.since = now
		if line != "" {
			res = append(res, classify(line))
		}
	}
	return res
}
