package mangaba_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mangaba-ai/mangaba-go"
)

func TestParseExampleRef(t *testing.T) {
	tests := []struct {
		in   string
		want mangaba.ExampleRef
		err  bool
	}{
		{in: "vendas", want: "vendas"},
		{in: "  Vendas.JSON ", want: "vendas"},
		{in: "okrs_planejamento", want: "okrs_planejamento"},
		{in: "burger-king", want: "burger-king"},
		{in: "", err: true},
		{in: "../segredo", err: true},
		{in: "_vendas", err: true},
		{in: "vendas 2024", err: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			ref, err := mangaba.ParseExampleRef(tt.in)
			if tt.err {
				assert.ErrorIs(t, err, mangaba.ErrInvalidExampleRef)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, ref)
		})
	}
}

func TestExamplesAreSorted(t *testing.T) {
	client, err := mangaba.NewClient(mangaba.WithExampleCatalog(map[string]string{
		"vendas":   "vendas.json",
		"produtos": "produtos.json",
		"tarefas":  "tarefas.json",
	}))
	require.NoError(t, err)

	assert.Equal(t, []mangaba.ExampleRef{"produtos", "tarefas", "vendas"}, client.Examples())
}

func exampleServer(t *testing.T) *httptest.Server {
	t.Helper()

	files := map[string]string{
		"/data/vendas.json":   "{\n  \"vendas\": [10, 20]\n}\n",
		"/data/produtos.json": "[\n  {\"nome\": \"X-Burger\"}\n]",
		"/data/tarefas.json":  "{\"tarefas\": []}",
	}

	mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)

		body, ok := files[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error": "Arquivo não encontrado"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	t.Cleanup(mockServer.Close)

	return mockServer
}

func TestGetExample(t *testing.T) {
	mockServer := exampleServer(t)
	client, err := mangaba.NewClient(mangaba.WithBaseURL(mockServer.URL))
	require.NoError(t, err)

	data, err := client.GetExample(context.Background(), "vendas")
	require.NoError(t, err)
	assert.Equal(t, `{"vendas":[10,20]}`, string(data))
}

func TestGetExampleUnknown(t *testing.T) {
	client, err := mangaba.NewClient()
	require.NoError(t, err)

	_, err = client.GetExample(context.Background(), "inexistente")
	assert.ErrorIs(t, err, mangaba.ErrUnknownExample)
}

func TestGetExamples(t *testing.T) {
	mockServer := exampleServer(t)
	client, err := mangaba.NewClient(mangaba.WithBaseURL(mockServer.URL))
	require.NoError(t, err)

	examples, err := client.GetExamples(context.Background(), "vendas", "produtos", "tarefas")
	require.NoError(t, err)

	assert.Equal(t, map[mangaba.ExampleRef]json.RawMessage{
		"vendas":   json.RawMessage(`{"vendas":[10,20]}`),
		"produtos": json.RawMessage(`[{"nome":"X-Burger"}]`),
		"tarefas":  json.RawMessage(`{"tarefas":[]}`),
	}, examples)
}

func TestGetExamplesFailsOnAnyMissing(t *testing.T) {
	mockServer := exampleServer(t)
	client, err := mangaba.NewClient(mangaba.WithBaseURL(mockServer.URL), mangaba.WithRetryPolicy(0, nil))
	require.NoError(t, err)

	_, err = client.GetExamples(context.Background(), "vendas", "usuarios")

	var apiError *mangaba.APIError
	require.ErrorAs(t, err, &apiError)
	assert.Equal(t, http.StatusNotFound, apiError.Status)
}

// printer is a Sink that writes everything to stdout.
type printer struct{ mangaba.NopSink }

func (printer) AppendLog(text string)           { fmt.Println("log:", text) }
func (printer) ShowFinalResult(fragment string) { fmt.Println(mangaba.PlainText(fragment)) }
func (printer) ShowError(f mangaba.Failure)     { fmt.Println("error:", f.Notice) }

func ExampleClient_Run() {
	ctx := context.Background()

	// Defaults to a backend on http://localhost:5000
	client, err := mangaba.NewClient(mangaba.WithBaseURL("http://localhost:5000"))
	if err != nil {
		// handle error
	}

	submission := mangaba.Submission{
		Goal:    "Identifique os produtos mais vendidos",
		Payload: mangaba.ExampleRef("vendas"),
	}

	outcome, err := client.Run(ctx, submission, printer{})
	if err != nil {
		// handle error
	}
	fmt.Println("status:", outcome.Status)
}

func ExampleClient_Run_file() {
	ctx := context.Background()

	client, err := mangaba.NewClient()
	if err != nil {
		// handle error
	}

	blob, err := mangaba.FileBlobFromPath("relatorio.csv")
	if err != nil {
		// handle error
	}

	outcome, err := client.Run(ctx, mangaba.Submission{Goal: "Resuma o relatório", Payload: blob}, mangaba.NopSink{})
	if err != nil {
		// handle error
	}
	fmt.Println(mangaba.PlainText(outcome.FinalResult))
}

func ExampleClient_WaitReady() {
	ctx := context.Background()

	client, err := mangaba.NewClient()
	if err != nil {
		// handle error
	}

	health, err := client.WaitReady(ctx)
	if err != nil {
		// handle error
	}
	fmt.Println(health.Message)
}

func ExampleParseExampleRef() {
	ref, _ := mangaba.ParseExampleRef(" Vendas.json ")
	fmt.Println(ref)
	// Output: vendas
}
