package mangaba_test

import (
	"sync"

	"github.com/mangaba-ai/mangaba-go"
)

type call struct {
	Op  string
	Arg string
}

// recorder is a Sink that remembers every call.
type recorder struct {
	mu       sync.Mutex
	calls    []call
	failures []mangaba.Failure
	outcomes []mangaba.Outcome

	trace   func(op string)
	onLog   func(text string)
	panicOn string
}

func (r *recorder) record(op, arg string) {
	r.mu.Lock()
	r.calls = append(r.calls, call{Op: op, Arg: arg})
	r.mu.Unlock()

	if r.trace != nil {
		r.trace(op)
	}
	if r.panicOn == op {
		panic("sink exploded on " + op)
	}
}

func (r *recorder) Reset() {
	r.record("reset", "")
}

func (r *recorder) AppendLog(text string) {
	r.record("log", text)
	if r.onLog != nil {
		r.onLog(text)
	}
}

func (r *recorder) ShowPartialResult(fragment string) {
	r.record("partial", fragment)
}

func (r *recorder) ShowFinalResult(fragment string) {
	r.record("final", fragment)
}

func (r *recorder) ShowError(f mangaba.Failure) {
	r.mu.Lock()
	r.failures = append(r.failures, f)
	r.mu.Unlock()
	r.record("error", f.Notice)
}

func (r *recorder) OnSettled(o mangaba.Outcome) {
	r.mu.Lock()
	r.outcomes = append(r.outcomes, o)
	r.mu.Unlock()
	r.record("settled", o.Status.String())
}

func (r *recorder) Calls() []call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]call(nil), r.calls...)
}

var _ mangaba.Sink = (*recorder)(nil)
