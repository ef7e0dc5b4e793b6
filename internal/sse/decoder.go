package sse

import (
	"errors"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// TextDecoder turns a sequence of byte chunks into text.
//
// A multi-byte sequence split across chunk boundaries is held back until the
// rest of it arrives. Invalid bytes decode to U+FFFD, and so does an
// incomplete sequence still pending when the final chunk is decoded.
// A leading byte order mark is stripped.
type TextDecoder struct {
	t       transform.Transformer
	tail    []byte
	dst     []byte
	started bool
}

func NewTextDecoder() *TextDecoder {
	return &TextDecoder{t: unicode.UTF8.NewDecoder()}
}

// Decode decodes chunk, prefixed by any bytes held back from the previous
// call. Pass atEOF on the last call to flush what is still pending.
func (d *TextDecoder) Decode(chunk []byte, atEOF bool) string {
	src := chunk
	if len(d.tail) > 0 {
		src = append(d.tail, chunk...)
		d.tail = nil
	}

	text := d.decode(src, atEOF)
	if !d.started && text != "" {
		d.started = true
		text = strings.TrimPrefix(text, byteOrderMark)
	}
	return text
}

const byteOrderMark = "\uFEFF"

func (d *TextDecoder) decode(src []byte, atEOF bool) string {
	var out strings.Builder
	for {
		// every input byte yields at most one U+FFFD
		if need := len(src)*utf8.UTFMax + utf8.UTFMax; cap(d.dst) < need {
			d.dst = make([]byte, need)
		}
		dst := d.dst[:cap(d.dst)]

		nDst, nSrc, err := d.t.Transform(dst, src, atEOF)
		out.Write(dst[:nDst])
		src = src[nSrc:]

		switch {
		case err == nil:
			if atEOF {
				d.t.Reset()
			}
			return out.String()
		case errors.Is(err, transform.ErrShortDst):
			d.dst = make([]byte, 2*cap(d.dst))
		case errors.Is(err, transform.ErrShortSrc):
			d.tail = append([]byte(nil), src...)
			return out.String()
		default:
			// the UTF-8 decoder replaces bad input instead of failing, so
			// this only happens on a misbehaving transformer
			d.tail = nil
			return out.String()
		}
	}
}

// Pending reports the number of bytes held back waiting for the rest of a
// multi-byte sequence.
func (d *TextDecoder) Pending() int {
	return len(d.tail)
}
