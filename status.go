package mangaba

import (
	"time"
)

// RunState is the lifecycle position of a run.
type RunState int

const (
	RunIdle RunState = iota
	RunInFlight
	RunSettled
)

func (s RunState) String() string {
	switch s {
	case RunIdle:
		return "idle"
	case RunInFlight:
		return "in_flight"
	case RunSettled:
		return "settled"
	default:
		return "unknown"
	}
}

// Status is how a settled run ended.
type Status string

const (
	Succeeded Status = "succeeded"
	Failed    Status = "failed"
	Canceled  Status = "canceled"
	// Rejected runs never reached the backend.
	Rejected Status = "rejected"
)

func (s Status) String() string {
	return string(s)
}

// OK reports whether the run succeeded.
func (s Status) OK() bool {
	return s == Succeeded
}

// Terminal names what settled a run.
type Terminal string

const (
	TerminalFinalResult Terminal = "final_result"
	TerminalError       Terminal = "error"
	TerminalEnd         Terminal = "end"
	TerminalEOF         Terminal = "eof"
	TerminalFault       Terminal = "fault"
	TerminalCanceled    Terminal = "canceled"
	TerminalRejected    Terminal = "rejected"
)

// Outcome summarizes a settled run.
type Outcome struct {
	RunID    string   `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Goal     string   `json:"goal" yaml:"goal"`
	Status   Status   `json:"status" yaml:"status"`
	Terminal Terminal `json:"terminal" yaml:"terminal"`

	// Err is the error Run returned, if any. Error carries its text for
	// serialized outcomes.
	Err   error  `json:"-" yaml:"-"`
	Error string `json:"error,omitempty" yaml:"error,omitempty"`

	Frames         int `json:"frames" yaml:"frames"`
	Dropped        int `json:"dropped" yaml:"dropped"`
	LogLines       int `json:"log_lines" yaml:"log_lines"`
	PartialResults int `json:"partial_results" yaml:"partial_results"`

	FinalResult string `json:"final_result,omitempty" yaml:"final_result,omitempty"`

	StartedAt time.Time `json:"started_at" yaml:"started_at"`
	SettledAt time.Time `json:"settled_at" yaml:"settled_at"`
}

func (o Outcome) Duration() time.Duration {
	if o.SettledAt.IsZero() {
		return 0
	}
	return o.SettledAt.Sub(o.StartedAt)
}
