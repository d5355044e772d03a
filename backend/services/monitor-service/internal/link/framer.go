package link

import (
	"bytes"
	"strings"
)

// Framer reassembles LF-terminated lines from arbitrary chunks. A trailing CR
// is stripped. Lines longer than the limit are discarded up to the next LF.
// An unterminated tail is never emitted.
type Framer struct {
	max        int
	partial    []byte
	lines      []string
	discarding bool
	overlong   int
}

// NewFramer returns a framer with the given line limit; zero or less means
// unlimited.
func NewFramer(maxLineBytes int) *Framer {
	return &Framer{max: maxLineBytes}
}

// Feed appends received bytes.
func (f *Framer) Feed(p []byte) {
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if f.discarding {
			if i < 0 {
				return
			}
			f.discarding = false
			p = p[i+1:]
			continue
		}

		if i < 0 {
			f.partial = append(f.partial, p...)
			if f.max > 0 && len(f.partial) > f.max {
				f.partial = f.partial[:0]
				f.discarding = true
				f.overlong++
			}
			return
		}

		line := append(f.partial, p[:i]...)
		if f.max > 0 && len(line) > f.max {
			f.overlong++
		} else {
			f.lines = append(f.lines, strings.TrimSuffix(string(line), "\r"))
		}
		f.partial = line[:0]
		p = p[i+1:]
	}
}

// Next pops the oldest complete line.
func (f *Framer) Next() (string, bool) {
	if len(f.lines) == 0 {
		return "", false
	}
	line := f.lines[0]
	f.lines = f.lines[1:]
	if len(f.lines) == 0 {
		f.lines = nil
	}
	return line, true
}

// Pending returns the number of buffered bytes not yet terminated.
func (f *Framer) Pending() int {
	return len(f.partial)
}

// Overlong returns how many lines were discarded for exceeding the limit.
func (f *Framer) Overlong() int {
	return f.overlong
}
