package sse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// WriteFrame writes a single frame carrying data encoded as JSON.
// HTML characters are left unescaped so markup payloads stay readable on the
// wire.
func WriteFrame(w io.Writer, event string, data any) error {
	var payload bytes.Buffer
	enc := json.NewEncoder(&payload)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(data); err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", event, err)
	}

	_, err := fmt.Fprintf(w, "%s%s%s%s%s", eventPrefix, event, dataMarker, bytes.TrimSuffix(payload.Bytes(), []byte("\n")), frameTerminator)
	if err != nil {
		return fmt.Errorf("failed to write %s frame: %w", event, err)
	}

	return nil
}
