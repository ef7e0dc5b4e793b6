package devserver_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mangaba-ai/mangaba-go"
	"github.com/mangaba-ai/mangaba-go/internal/devserver"
	"github.com/mangaba-ai/mangaba-go/internal/sse"
)

func newBackend(t *testing.T, opts ...devserver.Option) *httptest.Server {
	t.Helper()

	ts := httptest.NewServer(devserver.New(opts...))
	t.Cleanup(ts.Close)
	return ts
}

func testContext(t *testing.T) context.Context {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// post submits fields (and an optional file) and returns the decoded frames.
func post(t *testing.T, url string, fields map[string]string, file *fileField) []sse.Frame {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	if file != nil {
		part, err := writer.CreateFormFile("dataSource", file.name)
		require.NoError(t, err)
		_, err = part.Write([]byte(file.content))
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	resp, err := http.Post(url+"/api/run_agent_system", writer.FormDataContentType(), body)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream"))

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	parser := sse.NewParser()
	parser.Feed(string(data))

	var frames []sse.Frame
	for frame := range parser.Drain() {
		frames = append(frames, frame)
	}
	assert.Zero(t, parser.Buffered())
	assert.Zero(t, parser.Dropped())
	return frames
}

type fileField struct {
	name    string
	content string
}

func events(frames []sse.Frame) []string {
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = f.Event
	}
	return out
}

func logs(t *testing.T, frames []sse.Frame) []string {
	t.Helper()

	var out []string
	for _, f := range frames {
		if f.Event != "log" {
			continue
		}
		var text string
		require.NoError(t, json.Unmarshal([]byte(f.Data), &text))
		out = append(out, text)
	}
	return out
}

func TestHealth(t *testing.T) {
	ts := newBackend(t)

	client, err := mangaba.NewClient(mangaba.WithBaseURL(ts.URL))
	require.NoError(t, err)

	health, err := client.Health(testContext(t))
	require.NoError(t, err)
	assert.True(t, health.OK())
	assert.Equal(t, "Servidor funcionando", health.Message)
}

func TestDataFile(t *testing.T) {
	ts := newBackend(t)

	resp, err := http.Get(ts.URL + "/data/vendas.json")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, json.Valid(data))
}

func TestDataFileNotFound(t *testing.T) {
	ts := newBackend(t)

	resp, err := http.Get(ts.URL + "/data/inexistente.json")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "Arquivo não encontrado", body["error"])
}

func TestServesDefaultCatalog(t *testing.T) {
	ts := newBackend(t)

	client, err := mangaba.NewClient(mangaba.WithBaseURL(ts.URL), mangaba.WithRetryPolicy(0, nil))
	require.NoError(t, err)

	examples, err := client.GetExamples(testContext(t), client.Examples()...)
	require.NoError(t, err)
	assert.Len(t, examples, len(mangaba.DefaultExamples))
	for ref, data := range examples {
		assert.True(t, json.Valid(data), ref)
	}
}

func TestRunAgentSystemMissingGoal(t *testing.T) {
	ts := newBackend(t)

	frames := post(t, ts.URL, map[string]string{"json_data": "{}"}, nil)

	assert.Equal(t, []sse.Frame{
		{Event: "error", Data: `{"error":"O objetivo (goal) é obrigatório."}`},
	}, frames)
}

func TestRunAgentSystemRequiresMultipart(t *testing.T) {
	ts := newBackend(t)

	resp, err := http.Post(ts.URL+"/api/run_agent_system", "application/json", strings.NewReader(`{"goal": "x"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.NotEmpty(t, body["error"])
}

func TestRunAgentSystemJSON(t *testing.T) {
	ts := newBackend(t)

	frames := post(t, ts.URL, map[string]string{
		"goal":      "Analisar vendas do trimestre",
		"json_data": `{"vendas": [1, 2]}`,
	}, nil)

	require.NotEmpty(t, frames)
	assert.Equal(t, sse.Frame{Event: "end", Data: `"END_STREAM"`}, frames[len(frames)-1])
	assert.Contains(t, events(frames), "partial_result")
	assert.Contains(t, events(frames), "final_result")
	assert.NotContains(t, events(frames), "error")

	logLines := logs(t, frames)
	assert.Equal(t, "[INFO] Objetivo recebido: Analisar vendas do trimestre...", logLines[0])
	assert.Contains(t, logLines, "[INFO] Processando JSON do formulário")
	assert.Contains(t, logLines, "[SUCCESS] JSON do formulário válido")
	assert.Contains(t, logLines, "[INFO] Tipo principal detectado: sales_analysis")
	assert.Equal(t, "[SUCCESS] Sistema multi-agente concluído com sucesso", logLines[len(logLines)-1])
}

func TestRunAgentSystemInvalidJSON(t *testing.T) {
	ts := newBackend(t)

	frames := post(t, ts.URL, map[string]string{
		"goal":      "Analisar",
		"json_data": `{"vendas": `,
	}, nil)

	assert.Equal(t, []string{"log", "log", "log", "error", "end"}, events(frames))

	var body map[string]string
	require.NoError(t, json.Unmarshal([]byte(frames[3].Data), &body))
	assert.True(t, strings.HasPrefix(body["error"], "JSON inválido: "), body["error"])
}

func TestRunAgentSystemTruncatesGoal(t *testing.T) {
	ts := newBackend(t)
	goal := strings.Repeat("ç", 150)

	frames := post(t, ts.URL, map[string]string{"goal": goal, "text_context": "x"}, nil)

	assert.Equal(t, "[INFO] Objetivo recebido: "+strings.Repeat("ç", 100)+"...", logs(t, frames)[0])
}

func TestRunAgentSystemFiles(t *testing.T) {
	tests := []struct {
		name    string
		file    fileField
		want    []string
		context string
	}{
		{
			name: "json file",
			file: fileField{name: "dados.json", content: `{"b":1,"a":[true]}`},
			want: []string{
				"[INFO] Processando arquivo: dados.json",
				"[DEBUG] Tamanho do arquivo: 18 caracteres",
				"[SUCCESS] JSON válido processado do arquivo",
			},
			context: "Dados JSON fornecidos:\n{\n  \"b\": 1,\n  \"a\": [\n    true\n  ]\n}",
		},
		{
			name: "broken json file",
			file: fileField{name: "dados.json", content: `{"b":`},
			want: []string{
				"[INFO] Processando arquivo: dados.json",
			},
			context: "Arquivo JSON inválido. Conteúdo bruto:\n{\"b\":",
		},
		{
			name: "text file",
			file: fileField{name: "notas.txt", content: "reunião às 10h"},
			want: []string{
				"[INFO] Processando arquivo: notas.txt",
				"[DEBUG] Tamanho do arquivo: 14 caracteres",
				"[INFO] Arquivo de texto processado",
			},
			context: "reunião às 10h",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got devserver.Task
			agent := devserver.AgentFunc(func(ctx context.Context, task devserver.Task, emit devserver.Emitter) (string, error) {
				got = task
				return "<p>ok</p>", nil
			})
			ts := newBackend(t, devserver.WithAgent(agent))

			frames := post(t, ts.URL, map[string]string{"goal": "Resumir"}, &tt.file)

			logLines := logs(t, frames)
			for _, line := range tt.want {
				assert.Contains(t, logLines, line)
			}
			assert.Equal(t, "Resumir", got.Goal)
			assert.Equal(t, tt.context, got.Context)
		})
	}
}

func TestRunAgentSystemTextContext(t *testing.T) {
	var got devserver.Task
	agent := devserver.AgentFunc(func(ctx context.Context, task devserver.Task, emit devserver.Emitter) (string, error) {
		got = task
		return "<p>ok</p>", nil
	})
	ts := newBackend(t, devserver.WithAgent(agent))

	frames := post(t, ts.URL, map[string]string{"goal": "Planejar", "text_context": "Somos uma padaria"}, nil)

	assert.Contains(t, logs(t, frames), "[INFO] Texto simples do formulário processado")
	assert.Equal(t, "Somos uma padaria", got.Context)
}

func TestRunAgentSystemNoContext(t *testing.T) {
	var got devserver.Task
	agent := devserver.AgentFunc(func(ctx context.Context, task devserver.Task, emit devserver.Emitter) (string, error) {
		got = task
		return "<p>ok</p>", nil
	})
	ts := newBackend(t, devserver.WithAgent(agent))

	post(t, ts.URL, map[string]string{"goal": "Planejar"}, nil)

	assert.Equal(t, "Nenhum contexto fornecido.", got.Context)
}

func TestRunAgentSystemAgentFailure(t *testing.T) {
	tests := []struct {
		name  string
		agent devserver.AgentFunc
	}{
		{
			name: "error",
			agent: func(ctx context.Context, task devserver.Task, emit devserver.Emitter) (string, error) {
				_ = emit.Log("pensando")
				return "", errors.New("cota esgotada")
			},
		},
		{
			name: "panic",
			agent: func(ctx context.Context, task devserver.Task, emit devserver.Emitter) (string, error) {
				panic("cota esgotada")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newBackend(t, devserver.WithAgent(tt.agent))

			frames := post(t, ts.URL, map[string]string{"goal": "Planejar", "text_context": "x"}, nil)

			evs := events(frames)
			require.GreaterOrEqual(t, len(evs), 2)
			assert.Equal(t, []string{"error", "end"}, evs[len(evs)-2:])
			assert.NotContains(t, evs, "final_result")
			assert.Contains(t, frames[len(frames)-2].Data, "Ocorreu um erro no sistema de agentes:")
			assert.Contains(t, frames[len(frames)-2].Data, "cota esgotada")
		})
	}
}

// collector is a Sink that keeps what a run showed.
type collector struct {
	mangaba.NopSink

	mu       sync.Mutex
	logs     []string
	partials []string
	final    string
	failures []mangaba.Failure
}

func (c *collector) AppendLog(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs = append(c.logs, text)
}

func (c *collector) ShowPartialResult(fragment string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.partials = append(c.partials, fragment)
}

func (c *collector) ShowFinalResult(fragment string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.final = fragment
}

func (c *collector) ShowError(f mangaba.Failure) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = append(c.failures, f)
}

func TestClientRoundTrip(t *testing.T) {
	ts := newBackend(t)
	client, err := mangaba.NewClient(mangaba.WithBaseURL(ts.URL), mangaba.WithReadBufferSize(7))
	require.NoError(t, err)

	sink := &collector{}
	outcome, err := client.Run(testContext(t), mangaba.Submission{
		Goal:    "Analisar vendas",
		Payload: mangaba.ExampleRef("vendas"),
	}, sink)

	require.NoError(t, err)
	assert.Equal(t, mangaba.Succeeded, outcome.Status)
	assert.Equal(t, mangaba.TerminalFinalResult, outcome.Terminal)
	assert.Zero(t, outcome.Dropped)
	assert.Empty(t, sink.failures)

	assert.Equal(t, "[INFO] Objetivo recebido: Analisar vendas...", sink.logs[0])
	assert.Contains(t, sink.logs, "[SUCCESS] JSON do formulário válido")
	require.Len(t, sink.partials, 1)
	assert.Contains(t, sink.partials[0], "<ol>")
	assert.Contains(t, sink.final, "<h1>Análise de Vendas</h1>")
	assert.Contains(t, mangaba.PlainText(sink.final), "Análise de Vendas")
}

func TestClientRoundTripInvalidJSON(t *testing.T) {
	ts := newBackend(t)
	client, err := mangaba.NewClient(mangaba.WithBaseURL(ts.URL))
	require.NoError(t, err)

	sink := &collector{}
	outcome, err := client.Run(testContext(t), mangaba.Submission{
		Goal:    "Analisar",
		Payload: mangaba.JSONText(`{"quebrado": `),
	}, sink)

	var streamError *mangaba.StreamError
	require.ErrorAs(t, err, &streamError)
	assert.True(t, strings.HasPrefix(streamError.Message, "JSON inválido: "))
	assert.Equal(t, mangaba.Failed, outcome.Status)
	require.Len(t, sink.failures, 1)
	assert.Equal(t, "Ocorreu um erro: "+streamError.Message, sink.failures[0].Notice)
}

func TestClientRoundTripCanceled(t *testing.T) {
	ts := newBackend(t, devserver.WithFrameDelay(20*time.Millisecond), devserver.WithAgent(devserver.ReportAgent{Step: time.Second}))
	client, err := mangaba.NewClient(mangaba.WithBaseURL(ts.URL))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(testContext(t), 200*time.Millisecond)
	defer cancel()

	outcome, err := client.Run(ctx, mangaba.Submission{
		Goal:    "Planejar",
		Payload: mangaba.TextContext("contexto"),
	}, &collector{})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, mangaba.Canceled, outcome.Status)
}
