// Package devserver is a self-contained agent backend speaking the same
// protocol as the production one. It is used for local development and
// end-to-end tests of the client.
package devserver

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime/multipart"
	"net/http"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/labstack/echo"
	"github.com/labstack/echo/middleware"
	"go.uber.org/zap"

	"github.com/mangaba-ai/mangaba-go/internal/sse"
)

//go:embed data/*.json
var embedded embed.FS

// Data is the example catalog served under /data.
var Data fs.FS = mustSub(embedded, "data")

func mustSub(fsys fs.FS, dir string) fs.FS {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		panic(err)
	}
	return sub
}

const (
	defaultMaxMemory = 32 << 20

	noContext = "Nenhum contexto fornecido."

	msgGoalRequired = "O objetivo (goal) é obrigatório."
	msgNotFound     = "Arquivo não encontrado"
)

// Server is the echo application behind the dev backend.
type Server struct {
	echo      *echo.Echo
	agent     Agent
	logger    *zap.Logger
	data      fs.FS
	delay     time.Duration
	maxMemory int64
}

// Option configures a Server.
type Option func(*Server)

// WithAgent replaces the built-in ReportAgent.
func WithAgent(agent Agent) Option {
	return func(s *Server) {
		s.agent = agent
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithData serves files from fsys instead of the embedded catalog.
func WithData(fsys fs.FS) Option {
	return func(s *Server) {
		s.data = fsys
	}
}

// WithFrameDelay pauses after every frame, like a backend waiting on a model.
func WithFrameDelay(d time.Duration) Option {
	return func(s *Server) {
		s.delay = d
	}
}

// New builds a Server with its routes registered.
func New(opts ...Option) *Server {
	s := &Server{
		agent:     ReportAgent{},
		logger:    zap.NewNop(),
		data:      Data,
		maxMemory: defaultMaxMemory,
	}
	for _, opt := range opts {
		opt(s)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(s.requestLogger)

	e.GET("/health", s.health)
	e.GET("/data/:filename", s.dataFile)
	e.POST("/api/run_agent_system", s.runAgentSystem)

	s.echo = e
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.logger.Info("dev backend listening", zap.String("addr", addr))
	err := s.echo.Start(addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}

		req := c.Request()
		s.logger.Info("request",
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.Int("status", c.Response().Status),
			zap.Duration("latency", time.Since(start)),
		)
		return nil
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "Servidor funcionando",
	})
}

func (s *Server) dataFile(c echo.Context) error {
	name := c.Param("filename")
	if strings.ContainsAny(name, `/\`) || !fs.ValidPath(name) {
		return c.JSON(http.StatusNotFound, errorBody{Error: msgNotFound})
	}

	data, err := fs.ReadFile(s.data, name)
	if err != nil {
		return c.JSON(http.StatusNotFound, errorBody{Error: msgNotFound})
	}

	contentType := echo.MIMEOctetStream
	if path.Ext(name) == ".json" {
		contentType = echo.MIMEApplicationJSONCharsetUTF8
	}
	return c.Blob(http.StatusOK, contentType, data)
}

func (s *Server) runAgentSystem(c echo.Context) error {
	req := c.Request()
	if err := req.ParseMultipartForm(s.maxMemory); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: fmt.Sprintf("Formulário inválido: %v", err)})
	}
	defer req.MultipartForm.RemoveAll()

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream; charset=utf-8")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)

	st := &stream{w: res, flush: res.Flush, delay: s.delay, ctx: req.Context()}
	s.generate(req.Context(), req.MultipartForm, st)

	if st.err != nil && !errors.Is(st.err, context.Canceled) {
		s.logger.Warn("stream aborted", zap.Error(st.err))
	}
	return nil
}

func (s *Server) generate(ctx context.Context, form *multipart.Form, st *stream) {
	goal := formValue(form, "goal")
	if goal == "" {
		st.fail(msgGoalRequired)
		return
	}
	defer st.send("end", "END_STREAM")

	st.Log(fmt.Sprintf("[INFO] Objetivo recebido: %s...", truncate(goal, 100)))

	taskContext, ok := readContext(form, st)
	if !ok {
		return
	}

	st.Log("[INFO] Iniciando sistema multi-agente Mangaba.AI")
	result, err := s.runAgent(ctx, Task{Goal: goal, Context: taskContext}, st)
	if err != nil {
		if st.err != nil {
			return
		}
		s.logger.Warn("agent failed", zap.Error(err))
		st.Log(fmt.Sprintf("[ERROR] Erro no sistema multi-agente: %v", err))
		st.fail(fmt.Sprintf("Ocorreu um erro no sistema de agentes: %v", err))
		return
	}

	st.send("final_result", result)
	st.Log("[SUCCESS] Sistema multi-agente concluído com sucesso")
}

func (s *Server) runAgent(ctx context.Context, task Task, st *stream) (result string, err error) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("agent panicked", zap.Any("panic", p))
			err = fmt.Errorf("agent panicked: %v", p)
		}
	}()

	return s.agent.Run(ctx, task, st)
}

// readContext extracts the context text from whichever data source the form
// carries. ok is false when the stream must stop.
func readContext(form *multipart.Form, st *stream) (text string, ok bool) {
	if files := form.File["dataSource"]; len(files) > 0 && files[0].Filename != "" {
		header := files[0]
		st.Log("[INFO] Processando arquivo: " + header.Filename)

		content, err := readFile(header)
		if err != nil {
			st.Log(fmt.Sprintf("[ERROR] Erro ao processar contexto: %v", err))
			return "Erro ao processar dados de contexto.", true
		}
		st.Log(fmt.Sprintf("[DEBUG] Tamanho do arquivo: %d caracteres", utf8.RuneCountInString(content)))

		if !strings.HasSuffix(header.Filename, ".json") {
			st.Log("[INFO] Arquivo de texto processado")
			return content, true
		}

		pretty, err := indentJSON(content)
		if err != nil {
			st.Log(fmt.Sprintf("[ERROR] JSON inválido no arquivo: %v", err))
			return "Arquivo JSON inválido. Conteúdo bruto:\n" + content, true
		}
		st.Log("[SUCCESS] JSON válido processado do arquivo")
		return "Dados JSON fornecidos:\n" + pretty, true
	}

	if raw := formValue(form, "json_data"); raw != "" {
		st.Log("[INFO] Processando JSON do formulário")
		pretty, err := indentJSON(raw)
		if err != nil {
			st.Log(fmt.Sprintf("[ERROR] JSON do formulário inválido: %v", err))
			st.fail(fmt.Sprintf("JSON inválido: %v", err))
			return "", false
		}
		st.Log("[SUCCESS] JSON do formulário válido")
		return "Dados JSON fornecidos:\n" + pretty, true
	}

	if text := formValue(form, "text_context"); text != "" {
		st.Log("[INFO] Texto simples do formulário processado")
		return text, true
	}

	return noContext, true
}

func formValue(form *multipart.Form, key string) string {
	if values := form.Value[key]; len(values) > 0 {
		return values[0]
	}
	return ""
}

func readFile(header *multipart.FileHeader) (string, error) {
	f, err := header.Open()
	if err != nil {
		return "", err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", errors.New("arquivo não está em UTF-8")
	}
	return string(data), nil
}

func indentJSON(text string) (string, error) {
	var out bytes.Buffer
	if err := json.Indent(&out, []byte(text), "", "  "); err != nil {
		return "", err
	}
	return out.String(), nil
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}

// stream writes frames to the response, flushing each one. After the first
// write error every later frame is discarded.
type stream struct {
	w     io.Writer
	flush func()
	delay time.Duration
	ctx   context.Context
	err   error
}

func (st *stream) send(event string, data any) error {
	if st.err != nil {
		return st.err
	}

	if err := sse.WriteFrame(st.w, event, data); err != nil {
		st.err = err
		return err
	}
	st.flush()

	if err := pause(st.ctx, st.delay); err != nil {
		st.err = err
		return err
	}
	return nil
}

func (st *stream) fail(message string) {
	_ = st.send("error", errorBody{Error: message})
}

func (st *stream) Log(text string) error {
	return st.send("log", text)
}

func (st *stream) Partial(fragment string) error {
	return st.send("partial_result", fragment)
}

var _ Emitter = (*stream)(nil)
