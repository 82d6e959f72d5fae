package gcode

import (
	"errors"
	"strings"
)

// Block is a parsed line.
type Block []Word

func (b Block) Arg(w byte) (bool, float64) {
	for _, g := range b {
		if g.W == w {
			return true, g.Arg
		}
	}
	return false, 0
}

// Has reports whether the block contains the exact word.
func (b Block) Has(w byte, arg float64) bool {
	for _, g := range b {
		if g.Is(w, arg) {
			return true
		}
	}
	return false
}

// Set replaces the argument of w, appending the word if missing.
func (b Block) Set(w byte, val float64) Block {
	for i, g := range b {
		if g.W == w {
			b[i].Arg = val
			return b
		}
	}
	return append(b, Word{W: w, Arg: val})
}

// Remove drops every word with letter w.
func (b Block) Remove(w byte) Block {
	res := b[:0]
	for _, g := range b {
		if g.W != w {
			res = append(res, g)
		}
	}
	return res
}

// Replace swaps one exact word for another.
func (b Block) Replace(from, to Word) Block {
	for i, g := range b {
		if g == from {
			b[i] = to
		}
	}
	return b
}

// HasAxis reports whether any X, Y or Z word is present.
func (b Block) HasAxis() bool {
	for _, g := range b {
		if g.IsAxis() {
			return true
		}
	}
	return false
}

func (b Block) Clone() Block {
	c := make(Block, len(b))
	copy(c, b)
	return c
}

func (b Block) String() string {
	var sb strings.Builder
	for i, g := range b {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(g.String())
	}
	return sb.String()
}

func (b Block) Validate() error {
	var checkWord [256]bool
	var checkModal [256]bool

	var m ModalGroup
	for _, g := range b {
		if !g.IsValid() {
			return errors.New("invalid word in block")
		}
		if g.W != 'G' && g.W != 'M' && checkWord[g.W] {
			return errors.New("word was repeated in a block")
		}
		checkWord[g.W] = true
		m = g.ModalGroup()
		if m != ModalGroupNone && m != ModalGroupNonModal && checkModal[m] {
			return errors.New("multiple words from same modal group")
		}
		checkModal[m] = true
	}

	return nil
}
