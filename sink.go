package mangaba

import (
	"errors"
)

// Sink receives everything a run has to show. Calls arrive from the
// goroutine executing Run, in stream order.
type Sink interface {
	// Reset clears the log and result panel before a run starts.
	Reset()
	// AppendLog adds a plain-text line to the log.
	AppendLog(text string)
	// ShowPartialResult replaces the result panel with an interim fragment.
	ShowPartialResult(fragment string)
	// ShowFinalResult replaces the result panel with the final fragment.
	ShowFinalResult(fragment string)
	// ShowError adds a styled error line to the log and replaces the result
	// panel with an error notice.
	ShowError(f Failure)
	// OnSettled is called exactly once per run, last.
	OnSettled(o Outcome)
}

// FailureKind classifies what went wrong.
type FailureKind string

const (
	FailureValidation FailureKind = "validation"
	FailureExample    FailureKind = "example"
	FailureTransport  FailureKind = "transport"
	FailureServer     FailureKind = "server"
)

// Failure is an error as presented to the user.
type Failure struct {
	Kind FailureKind
	// Message is the text of the log line.
	Message string
	// Notice is the text for the result panel.
	Notice string
	Err    error
}

const (
	GenericFailureNotice = "Ocorreu um erro. Tente novamente."
	ExampleFailureNotice = "Não foi possível carregar o exemplo selecionado."
	serverNoticePrefix   = "Ocorreu um erro: "
)

func serverFailure(message string, err error) Failure {
	return Failure{
		Kind:    FailureServer,
		Message: message,
		Notice:  serverNoticePrefix + message,
		Err:     err,
	}
}

func transportFailure(err error) Failure {
	return Failure{
		Kind:    FailureTransport,
		Message: err.Error(),
		Notice:  GenericFailureNotice,
		Err:     err,
	}
}

func validationFailure(err error) Failure {
	var message string
	switch {
	case errors.Is(err, ErrEmptyGoal):
		message = "Informe o objetivo antes de enviar."
	case errors.Is(err, ErrNoPayload):
		message = "Selecione uma fonte de dados: arquivo, JSON, exemplo ou texto."
	case errors.Is(err, ErrIncompletePayload):
		message = "A fonte de dados selecionada está vazia."
	case errors.Is(err, ErrUnknownExample):
		message = "O exemplo selecionado não existe."
	default:
		message = err.Error()
	}

	return Failure{
		Kind:    FailureValidation,
		Message: message,
		Notice:  message,
		Err:     err,
	}
}

// NopSink discards everything. It is useful when only the Outcome matters.
type NopSink struct{}

func (NopSink) Reset()                   {}
func (NopSink) AppendLog(string)         {}
func (NopSink) ShowPartialResult(string) {}
func (NopSink) ShowFinalResult(string)   {}
func (NopSink) ShowError(Failure)        {}
func (NopSink) OnSettled(Outcome)        {}

var _ Sink = NopSink{}
