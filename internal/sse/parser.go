package sse

import (
	"bytes"
	"iter"
	"strings"
)

var frameTerminator = []byte("\n\n")

const (
	eventPrefix = "event: "
	dataMarker  = "\ndata: "
)

// Frame is one named event read off the stream. Data holds the raw payload
// text, which the server encodes as JSON.
type Frame struct {
	Event string
	Data  string
}

// Parser accumulates decoded text and splits it into frames.
//
// A frame ends at the first blank line. It must open with an
// "event: <type>" line and carry a "data: <payload>" line; the payload
// runs to the end of the frame. Anything else is dropped without error.
//
// Text already searched for a terminator is not searched again, so a large
// frame arriving in small chunks costs time linear in its size.
type Parser struct {
	buf []byte
	// start is the offset of the first byte not yet consumed.
	start int
	// scanned counts bytes past start known to hold no terminator.
	scanned int
	dropped int
}

func NewParser() *Parser {
	return &Parser{}
}

// Feed appends text to the buffer.
func (p *Parser) Feed(text string) {
	if p.start > 0 && p.start >= len(p.buf)/2 {
		n := copy(p.buf, p.buf[p.start:])
		p.buf = p.buf[:n]
		p.start = 0
	}
	p.buf = append(p.buf, text...)
}

// Drain yields every complete frame currently buffered, in arrival order.
//
// Each frame leaves the buffer as it is yielded, so stopping the iteration
// early keeps the rest buffered for the next call. A trailing partial frame
// is never yielded.
func (p *Parser) Drain() iter.Seq[Frame] {
	return func(yield func(Frame) bool) {
		for {
			pending := p.buf[p.start:]
			from := max(p.scanned-len(frameTerminator)+1, 0)

			i := bytes.Index(pending[from:], frameTerminator)
			if i < 0 {
				p.scanned = len(pending)
				return
			}
			i += from

			raw := string(pending[:i])
			p.start += i + len(frameTerminator)
			p.scanned = 0

			frame, ok := ParseFrame(raw)
			if !ok {
				p.dropped++
				continue
			}

			if !yield(frame) {
				return
			}
		}
	}
}

// ParseFrame decodes the text of a single frame, without its terminator.
func ParseFrame(raw string) (Frame, bool) {
	rest, ok := strings.CutPrefix(raw, eventPrefix)
	if !ok {
		return Frame{}, false
	}

	event, _, ok := strings.Cut(rest, "\n")
	if !ok {
		return Frame{}, false
	}

	_, data, ok := strings.Cut(raw, dataMarker)
	if !ok {
		return Frame{}, false
	}

	return Frame{Event: event, Data: data}, true
}

// Buffered returns the length of the text waiting for a terminator.
func (p *Parser) Buffered() int {
	return len(p.buf) - p.start
}

// Dropped returns how many malformed frames have been discarded.
func (p *Parser) Dropped() int {
	return p.dropped
}

// Reset discards buffered text and counters.
func (p *Parser) Reset() {
	p.buf = p.buf[:0]
	p.start = 0
	p.scanned = 0
	p.dropped = 0
}
