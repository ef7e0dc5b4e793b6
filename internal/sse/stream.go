package sse

import (
	"errors"
	"io"
	"sync"
)

const DefaultChunkSize = 32 * 1024

// ChunkReader reads a response body one chunk at a time and decodes each
// chunk to text.
type ChunkReader struct {
	body    io.ReadCloser
	buf     []byte
	decoder *TextDecoder

	eof       bool
	closeOnce sync.Once
	closeErr  error
}

func NewChunkReader(body io.ReadCloser, size int) *ChunkReader {
	if size <= 0 {
		size = DefaultChunkSize
	}
	return &ChunkReader{
		body:    body,
		buf:     make([]byte, size),
		decoder: NewTextDecoder(),
	}
}

// Next blocks until the body yields bytes and returns them as text.
//
// At end of stream it returns whatever the decoder was still holding
// together with io.EOF. The text may be empty when a chunk ends inside a
// multi-byte sequence.
func (r *ChunkReader) Next() (string, error) {
	if r.eof {
		return "", io.EOF
	}

	n, err := r.body.Read(r.buf)

	var text string
	if n > 0 {
		text = r.decoder.Decode(r.buf[:n], false)
	}

	if errors.Is(err, io.EOF) {
		r.eof = true
		return text + r.decoder.Decode(nil, true), io.EOF
	}

	return text, err
}

// Close releases the body. It is safe to call more than once.
func (r *ChunkReader) Close() error {
	r.closeOnce.Do(func() {
		r.closeErr = r.body.Close()
	})
	return r.closeErr
}
