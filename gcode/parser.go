package gcode

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrTooManyLines is returned by Clean when the input exceeds the line limit.
var ErrTooManyLines = errors.New("too many lines")

// TokenError lists the tokens ParseLine could not understand.
type TokenError struct {
	Line   string
	Tokens []string
}

func (e *TokenError) Error() string {
	return fmt.Sprintf("skipped %d token(s) %q in line %q", len(e.Tokens), e.Tokens, e.Line)
}

// StripComments removes `( ... )` and `;` comments from s.
func StripComments(s string) string {
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = s[:i]
	}
	if !strings.ContainsRune(s, '(') {
		return strings.TrimSpace(s)
	}
	var sb strings.Builder
	depth := 0
	for _, r := range s {
		switch {
		case r == '(':
			depth++
		case r == ')' && depth > 0:
			depth--
		case depth == 0:
			sb.WriteRune(r)
		}
	}
	return strings.TrimSpace(sb.String())
}

// Clean reads program text, strips comments and drops blank lines.
//
// A maxLines of zero disables the limit.
func Clean(r io.Reader, maxLines int) ([]string, error) {
	scan := bufio.NewScanner(r)
	scan.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var lines []string
	for scan.Scan() {
		s := StripComments(scan.Text())
		if s == "" {
			continue
		}
		if maxLines > 0 && len(lines) == maxLines {
			return nil, fmt.Errorf("clean: more than %d lines: %w", maxLines, ErrTooManyLines)
		}
		lines = append(lines, s)
	}
	if err := scan.Err(); err != nil {
		return nil, fmt.Errorf("clean: %w", err)
	}
	return lines, nil
}

// IsCommand reports whether the line is a GRBL system command (`$H`, `$X`, `$J=...`).
func IsCommand(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "$")
}

func isNumberByte(c byte) bool {
	return (c >= '0' && c <= '9') || c == '.' || c == '-' || c == '+'
}

// ParseLine parses a single line into words.
//
// Unreadable tokens are skipped and reported with a *TokenError while the
// remaining words are still returned. System commands parse to an empty block.
func ParseLine(line string) (Block, error) {
	s := strings.ToUpper(StripComments(line))
	if s == "" || IsCommand(s) {
		return nil, nil
	}

	var b Block
	var bad []string
	for i := 0; i < len(s); {
		c := s[i]
		if c == ' ' || c == '\t' {
			i++
			continue
		}
		start := i
		i++
		if c < 'A' || c > 'Z' {
			for i < len(s) && (s[i] < 'A' || s[i] > 'Z') && s[i] != ' ' {
				i++
			}
			bad = append(bad, s[start:i])
			continue
		}
		for i < len(s) && (isNumberByte(s[i]) || s[i] == ' ') {
			i++
		}
		num := strings.ReplaceAll(s[start+1:i], " ", "")
		val, err := strconv.ParseFloat(num, 64)
		if err != nil {
			bad = append(bad, strings.TrimSpace(s[start:i]))
			continue
		}
		b = append(b, Word{W: c, Arg: val})
	}
	if len(bad) > 0 {
		return b, &TokenError{Line: line, Tokens: bad}
	}
	return b, nil
}

// MustParse parses every line of data, panicking on any skipped token.
func MustParse(data string) []Block {
	var res []Block
	for _, l := range strings.Split(data, "\n") {
		b, err := ParseLine(l)
		if err != nil {
			panic(err)
		}
		if b != nil {
			res = append(res, b)
		}
	}
	return res
}
