package gcode

import (
	"strconv"
	"strings"
)

// Word is a single letter/number pair of a line, like `G1` or `X10.5`.
type Word struct {
	W   byte
	Arg float64
}

func (w Word) IsAxis() bool {
	switch w.W {
	case 'X', 'Y', 'Z':
		return true
	}
	return false
}

func (w Word) IsValid() bool {
	return w.W >= 'A' && w.W <= 'Z'
}

// Is reports whether w is the letter l with argument arg.
func (w Word) Is(l byte, arg float64) bool { return w.W == l && w.Arg == arg }

// FormatFloat formats f with at most prec decimals, trimming trailing zeros.
func FormatFloat(f float64, prec int) string {
	s := strconv.FormatFloat(f, 'f', prec, 64)
	if strings.ContainsRune(s, '.') {
		s = strings.TrimRight(s, "0")
	}
	s = strings.TrimRight(s, ".")
	if s == "-0" {
		return "0"
	}
	return s
}

func (w Word) String() string {
	return string(w.W) + FormatFloat(w.Arg, 4)
}
