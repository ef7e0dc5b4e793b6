package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/mangaba-ai/mangaba-go"
	"github.com/mangaba-ai/mangaba-go/internal/render"
)

// Messages delivered by Sink.
type (
	ResetMsg   struct{}
	LogMsg     string
	PartialMsg string
	FinalMsg   string
	FailureMsg mangaba.Failure
	SettledMsg mangaba.Outcome
)

type panel int

const (
	panelEmpty panel = iota
	panelPartial
	panelFinal
	panelFailure
)

type logLine struct {
	text   string
	failed bool
}

const (
	defaultWidth  = 80
	defaultHeight = 24
	chromeLines   = 6
)

// Model is the bubbletea model of one run.
type Model struct {
	goal     string
	cancel   func()
	spinner  spinner.Model
	logView  viewport.Model
	result   viewport.Model
	logs     []logLine
	panel    panel
	text     string
	outcome  *mangaba.Outcome
	width    int
	height   int
	quitting bool
}

// New returns a model for a run of goal. cancel is called when the user
// quits while the run is still streaming.
func New(goal string, cancel func()) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot

	m := Model{
		goal:    goal,
		cancel:  cancel,
		spinner: s,
		logView: viewport.New(defaultWidth, 1),
		result:  viewport.New(defaultWidth, 1),
	}
	m.resize(defaultWidth, defaultHeight)
	return m
}

func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			if m.Running() && m.cancel != nil {
				m.cancel()
			}
			m.quitting = true
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.result, cmd = m.result.Update(msg)
		return m, cmd

	case spinner.TickMsg:
		if !m.Running() {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case ResetMsg:
		m.logs = nil
		m.setPanel(panelEmpty, "")
		m.refreshLogs()

	case LogMsg:
		for line := range strings.SplitSeq(string(msg), "\n") {
			m.logs = append(m.logs, logLine{text: line})
		}
		m.refreshLogs()

	case PartialMsg:
		m.setPanel(panelPartial, mangaba.PlainText(string(msg)))

	case FinalMsg:
		m.setPanel(panelFinal, mangaba.PlainText(string(msg)))

	case FailureMsg:
		m.logs = append(m.logs, logLine{text: render.FailureLine(mangaba.Failure(msg)), failed: true})
		m.refreshLogs()
		m.setPanel(panelFailure, msg.Notice)

	case SettledMsg:
		o := mangaba.Outcome(msg)
		m.outcome = &o
	}

	return m, nil
}

func (m *Model) resize(width, height int) {
	m.width, m.height = width, height

	inner := max(width-4, 10)
	body := max(height-chromeLines, 4)
	logHeight := max(body/3, 2)

	m.logView.Width = inner
	m.logView.Height = logHeight
	m.result.Width = inner
	m.result.Height = max(body-logHeight-2, 2)
}

func (m *Model) refreshLogs() {
	lines := make([]string, len(m.logs))
	for i, line := range m.logs {
		style := logStyle(line.text)
		if line.failed {
			style = errorStyle
		}
		lines[i] = style.Render(line.text)
	}
	m.logView.SetContent(strings.Join(lines, "\n"))
	m.logView.GotoBottom()
}

func (m *Model) setPanel(p panel, text string) {
	m.panel = p
	m.text = text

	switch p {
	case panelPartial:
		m.result.SetContent(partialStyle.Render(text))
	case panelFailure:
		m.result.SetContent(noticeStyle.Render(text))
	default:
		m.result.SetContent(text)
	}
	m.result.GotoTop()
}

// Running reports whether the run has not settled yet.
func (m Model) Running() bool {
	return m.outcome == nil
}

// Logs returns the log lines received so far.
func (m Model) Logs() []string {
	texts := make([]string, len(m.logs))
	for i, line := range m.logs {
		texts[i] = line.text
	}
	return texts
}

// Result returns the plain text of the result panel.
func (m Model) Result() string {
	return m.text
}

// Outcome returns the settled outcome, or nil while the run is streaming.
func (m Model) Outcome() *mangaba.Outcome {
	return m.outcome
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.header())
	b.WriteString("\n")
	b.WriteString(goalStyle.Render(m.goal))
	b.WriteString("\n")
	b.WriteString(panelStyle.Render(m.logView.View()))
	b.WriteString("\n")
	b.WriteString(panelStyle.Render(m.result.View()))
	b.WriteString("\n")
	b.WriteString(helpStyle.Render(m.help()))
	return b.String()
}

func (m Model) header() string {
	if m.outcome == nil {
		return m.spinner.View() + " " + titleStyle.Render("Mangaba.AI trabalhando...")
	}

	elapsed := m.outcome.Duration().Round(time.Millisecond)
	switch m.outcome.Status {
	case mangaba.Succeeded:
		return successStyle.Render(fmt.Sprintf("%s Concluído em %s", render.SuccessIcon, elapsed))
	case mangaba.Canceled:
		return mutedStyle.Render(render.CancelIcon + " Cancelado")
	default:
		return errorStyle.Render(fmt.Sprintf("%s Falhou (%s)", render.FailIcon, m.outcome.Status))
	}
}

func (m Model) help() string {
	if m.Running() {
		return "q cancelar • ↑/↓ rolar resultado"
	}
	return "q sair • ↑/↓ rolar resultado"
}

// Sink forwards run updates to a bubbletea program.
type Sink struct {
	send func(tea.Msg)
}

// NewSink returns a Sink delivering messages through send, normally
// (*tea.Program).Send.
func NewSink(send func(tea.Msg)) Sink {
	return Sink{send: send}
}

func (s Sink) Reset()                            { s.send(ResetMsg{}) }
func (s Sink) AppendLog(text string)             { s.send(LogMsg(text)) }
func (s Sink) ShowPartialResult(fragment string) { s.send(PartialMsg(fragment)) }
func (s Sink) ShowFinalResult(fragment string)   { s.send(FinalMsg(fragment)) }
func (s Sink) ShowError(f mangaba.Failure)       { s.send(FailureMsg(f)) }
func (s Sink) OnSettled(o mangaba.Outcome)       { s.send(SettledMsg(o)) }

var _ mangaba.Sink = Sink{}

// RunFunc starts a run streaming into sink.
type RunFunc func(ctx context.Context, sink mangaba.Sink) (*mangaba.Outcome, error)

// Run shows run in a bubbletea program until the user quits. Quitting
// while the run streams cancels it.
func Run(ctx context.Context, goal string, run RunFunc, opts ...tea.ProgramOption) (*mangaba.Outcome, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(New(goal, cancel), opts...)

	type result struct {
		outcome *mangaba.Outcome
		err     error
	}
	done := make(chan result, 1)
	go func() {
		o, err := run(ctx, NewSink(p.Send))
		done <- result{o, err}
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		<-done
		return nil, fmt.Errorf("tui: %w", err)
	}

	cancel()
	res := <-done
	return res.outcome, res.err
}
