package sse_test

import (
	"bytes"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mangaba-ai/mangaba-go/internal/sse"
)

func TestWriteFrame(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, sse.WriteFrame(&buf, "partial_result", "<p>Análise</p>"))
	require.NoError(t, sse.WriteFrame(&buf, "error", map[string]string{"error": "limite excedido"}))

	assert.Equal(t,
		"event: partial_result\ndata: \"<p>Análise</p>\"\n\n"+
			"event: error\ndata: {\"error\":\"limite excedido\"}\n\n",
		buf.String())
}

func TestWriteFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, sse.WriteFrame(&buf, "log", "linha 1\n\nlinha 2"))

	p := sse.NewParser()
	p.Feed(buf.String())
	frames := slices.Collect(p.Drain())

	require.Len(t, frames, 1)
	assert.Equal(t, `"linha 1\n\nlinha 2"`, frames[0].Data)
}

func TestWriteFrameUnencodable(t *testing.T) {
	var buf bytes.Buffer

	err := sse.WriteFrame(&buf, "log", make(chan int))

	assert.Error(t, err)
	assert.Equal(t, 0, buf.Len())
}
