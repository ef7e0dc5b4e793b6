package render

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/muesli/termenv"

	"github.com/mangaba-ai/mangaba-go"
)

// TerminalSink prints a run as it streams: log lines as they arrive, each
// new partial result, then the final result converted to plain text.
type TerminalSink struct {
	out     io.Writer
	styles  *Styles
	partial string
	quiet   bool
}

// NewTerminalSink returns a sink writing to out. opts are passed to the
// color profile detection of out.
func NewTerminalSink(out io.Writer, opts ...termenv.OutputOption) *TerminalSink {
	return &TerminalSink{out: out, styles: NewStyles(out, opts...)}
}

// Quiet hides log lines and partial results. Errors and the final result
// are still printed.
func (s *TerminalSink) Quiet(quiet bool) *TerminalSink {
	s.quiet = quiet
	return s
}

func (s *TerminalSink) Reset() {
	s.partial = ""
}

func (s *TerminalSink) AppendLog(text string) {
	if s.quiet {
		return
	}
	for line := range strings.SplitSeq(text, "\n") {
		fmt.Fprintln(s.out, s.styles.LogStyle(line).Render(line))
	}
}

func (s *TerminalSink) ShowPartialResult(fragment string) {
	if s.quiet || fragment == s.partial {
		return
	}
	s.partial = fragment

	fmt.Fprintln(s.out, s.styles.Muted.Render("── resultado parcial ──"))
	fmt.Fprintln(s.out, s.styles.Muted.Render(mangaba.PlainText(fragment)))
}

func (s *TerminalSink) ShowFinalResult(fragment string) {
	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, s.styles.Section.Render("Resultado"))
	fmt.Fprintln(s.out, mangaba.PlainText(fragment))
}

func (s *TerminalSink) ShowError(f mangaba.Failure) {
	fmt.Fprintln(s.out, s.styles.Error.Render(FailIcon+" "+FailureLine(f)))
	if f.Notice != "" && f.Notice != f.Message {
		fmt.Fprintln(s.out, s.styles.Notice.Render(f.Notice))
	}
}

func (s *TerminalSink) OnSettled(o mangaba.Outcome) {
	if s.quiet {
		return
	}

	elapsed := o.Duration().Round(time.Millisecond)
	switch o.Status {
	case mangaba.Succeeded:
		fmt.Fprintln(s.out, s.styles.Success.Render(fmt.Sprintf("%s concluído em %s", SuccessIcon, elapsed)))
	case mangaba.Canceled:
		fmt.Fprintln(s.out, s.styles.Muted.Render(fmt.Sprintf("%s cancelado após %s", CancelIcon, elapsed)))
	default:
		fmt.Fprintln(s.out, s.styles.Error.Render(fmt.Sprintf("%s %s", FailIcon, statusLabel(o.Status))))
	}
}

// FailureLine is the log line shown for f. Errors reported by the server
// read "Erro: <message>".
func FailureLine(f mangaba.Failure) string {
	if f.Kind == mangaba.FailureServer {
		return "Erro: " + f.Message
	}
	return f.Message
}

func statusLabel(s mangaba.Status) string {
	switch s {
	case mangaba.Rejected:
		return "envio recusado"
	case mangaba.Failed:
		return "falhou"
	default:
		return s.String()
	}
}

var _ mangaba.Sink = (*TerminalSink)(nil)
