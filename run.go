package mangaba

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mangaba-ai/mangaba-go/internal/sse"
)

// Event types sent by the backend.
const (
	EventLog           = "log"
	EventPartialResult = "partial_result"
	EventFinalResult   = "final_result"
	EventError         = "error"
	EventEnd           = "end"
)

const (
	runAgentSystemPath = "/api/run_agent_system"
	maxErrorBodySize   = 1 << 20
)

type run struct {
	sink   Sink
	logger *zap.Logger
	cancel context.CancelCauseFunc
	done   chan struct{}
	once   sync.Once

	mu      sync.Mutex
	state   RunState
	outcome Outcome
}

// State reports where the client's latest run is in its lifecycle.
func (r *Client) State() RunState {
	r.mu.Lock()
	current := r.current
	r.mu.Unlock()

	if current == nil {
		return RunIdle
	}

	current.mu.Lock()
	defer current.mu.Unlock()
	return current.state
}

// Run submits s to the agent system and streams the results into sink.
//
// Run blocks until the run settles and returns its outcome. sink.OnSettled
// is called exactly once before Run returns, whatever the path: a terminal
// event, the end of the stream, a transport failure, cancellation of ctx or
// a newer Run on the same client. A submission that fails validation is
// reported to sink and never sent.
//
// The returned error is nil only when the run succeeded.
func (r *Client) Run(ctx context.Context, s Submission, sink Sink) (*Outcome, error) {
	if err := r.validate(s); err != nil {
		return r.reject(s, sink, err)
	}

	rn, runCtx := r.begin(ctx, s.Goal, sink)
	defer finish(rn)

	rn.logger.Info("run started", zap.String("payload", s.Payload.kind()))
	sink.Reset()
	rn.setState(RunInFlight)

	status, terminal, err := r.execute(runCtx, rn, s)
	rn.settle(status, terminal, err)

	outcome := rn.snapshot()
	return &outcome, outcome.Err
}

func (r *Client) validate(s Submission) error {
	if err := s.Validate(); err != nil {
		return err
	}

	if ref, ok := s.Payload.(ExampleRef); ok {
		if _, err := r.exampleFile(ref); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidSubmission, err)
		}
	}

	return nil
}

func (r *Client) reject(s Submission, sink Sink, err error) (*Outcome, error) {
	now := time.Now()
	outcome := Outcome{
		Goal:      s.Goal,
		Status:    Rejected,
		Terminal:  TerminalRejected,
		Err:       err,
		Error:     err.Error(),
		StartedAt: now,
		SettledAt: now,
	}

	r.options.logger.Debug("submission rejected", zap.Error(err))
	sink.ShowError(validationFailure(err))
	sink.OnSettled(outcome)

	return &outcome, err
}

// begin registers a new run once the client's previous run has settled.
// A previous run still streaming is canceled and waited for, so its
// OnSettled reaches the sink first and State keeps reporting it until
// then. A run that has already settled is replaced at once, which lets a
// sink start the next run from OnSettled.
func (r *Client) begin(ctx context.Context, goal string, sink Sink) (*run, context.Context) {
	id := newRunID()
	runCtx, cancel := context.WithCancelCause(ctx)
	rn := &run{
		sink:   sink,
		logger: r.options.logger.With(zap.String("run_id", id)),
		cancel: cancel,
		done:   make(chan struct{}),
		state:  RunIdle,
		outcome: Outcome{
			RunID:     id,
			Goal:      goal,
			StartedAt: time.Now(),
		},
	}

	r.mu.Lock()
	for {
		prev := r.current
		if prev == nil || prev.settled() {
			break
		}
		r.mu.Unlock()

		prev.cancel(ErrSuperseded)
		<-prev.done

		r.mu.Lock()
	}
	r.current = rn
	r.mu.Unlock()

	return rn, runCtx
}

// finish makes sure rn is settled even when Run unwinds through a panic
// raised by the sink.
func finish(rn *run) {
	if p := recover(); p != nil {
		rn.settle(Failed, TerminalFault, fmt.Errorf("%w: %v", ErrStreamFault, p))
		panic(p)
	}
}

func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// execute runs the request and converts a panic raised while dispatching
// into a failed run.
func (r *Client) execute(ctx context.Context, rn *run, s Submission) (status Status, terminal Terminal, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrStreamFault, p)
			status, terminal = Failed, TerminalFault
			rn.logger.Error("panic while streaming", zap.Any("panic", p))
			rn.showErrorSafely(transportFailure(err))
		}
	}()

	return r.stream(ctx, rn, s)
}

func (r *Client) stream(ctx context.Context, rn *run, s Submission) (Status, Terminal, error) {
	stallTimeout := r.options.stallTimeout
	var watchdog *time.Timer
	if stallTimeout > 0 {
		watchdog = time.AfterFunc(stallTimeout, func() { rn.cancel(ErrStalled) })
		defer watchdog.Stop()
	}

	payload := s.Payload
	if ref, ok := payload.(ExampleRef); ok {
		data, err := r.GetExample(ctx, ref)
		if err != nil {
			if ctx.Err() != nil {
				return r.interrupted(ctx, rn)
			}
			rn.logger.Warn("example unavailable", zap.String("example", ref.String()), zap.Error(err))
			rn.sink.ShowError(Failure{
				Kind:    FailureExample,
				Message: err.Error(),
				Notice:  ExampleFailureNotice,
				Err:     err,
			})
			return Failed, TerminalFault, err
		}
		payload = JSONText(data)
	}

	body, contentType, err := encodeForm(s.Goal, payload)
	if err != nil {
		rn.sink.ShowError(transportFailure(err))
		return Failed, TerminalFault, err
	}

	request, err := r.newRequest(ctx, http.MethodPost, runAgentSystemPath, body)
	if err != nil {
		rn.sink.ShowError(transportFailure(err))
		return Failed, TerminalFault, err
	}
	request.Header.Set("Content-Type", contentType)
	request.Header.Set("Accept", "text/event-stream")
	request.Header.Set("Cache-Control", "no-cache")

	response, err := r.c.Do(request)
	if err != nil {
		if ctx.Err() != nil {
			return r.interrupted(ctx, rn)
		}
		err = fmt.Errorf("failed to send request: %w", err)
		rn.logger.Warn("request failed", zap.Error(err))
		rn.sink.ShowError(transportFailure(err))
		return Failed, TerminalFault, err
	}

	reader := sse.NewChunkReader(response.Body, r.options.chunkSize)
	defer reader.Close()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodySize))
		apiError := unmarshalAPIError(response, data)
		rn.logger.Warn("backend rejected submission", zap.Int("status", response.StatusCode), zap.String("error", apiError.Message))
		rn.sink.ShowError(serverFailure(apiError.Message, apiError))
		return Failed, TerminalError, apiError
	}

	parser := sse.NewParser()
	for {
		text, readErr := reader.Next()
		if watchdog != nil {
			watchdog.Reset(stallTimeout)
		}

		if text != "" {
			parser.Feed(text)
			for frame := range parser.Drain() {
				if ctx.Err() != nil {
					break
				}
				if status, terminal, done, err := r.dispatch(rn, frame); done {
					rn.outcome.Dropped = parser.Dropped()
					return status, terminal, err
				}
			}
			rn.outcome.Dropped = parser.Dropped()
		}

		if ctx.Err() != nil {
			return r.interrupted(ctx, rn)
		}

		if errors.Is(readErr, io.EOF) {
			if parser.Buffered() > 0 {
				rn.logger.Debug("stream ended inside a frame", zap.Int("buffered", parser.Buffered()))
			}
			return Succeeded, TerminalEOF, nil
		}

		if readErr != nil {
			err := fmt.Errorf("failed to read stream: %w", readErr)
			rn.logger.Warn("stream broke", zap.Error(err))
			rn.sink.ShowError(transportFailure(err))
			return Failed, TerminalFault, err
		}
	}
}

// interrupted settles a run whose context ended before the stream did.
func (r *Client) interrupted(ctx context.Context, rn *run) (Status, Terminal, error) {
	cause := context.Cause(ctx)
	if errors.Is(cause, ErrStalled) {
		err := fmt.Errorf("%w: no data for %s", ErrStalled, r.options.stallTimeout)
		rn.logger.Warn("stream stalled", zap.Duration("timeout", r.options.stallTimeout))
		rn.sink.ShowError(transportFailure(err))
		return Failed, TerminalFault, err
	}

	return Canceled, TerminalCanceled, cause
}

// dispatch applies a frame to the sink. done is set once the frame settles
// the run. A payload that is not valid JSON fails the run whatever the event.
func (r *Client) dispatch(rn *run, frame sse.Frame) (status Status, terminal Terminal, done bool, err error) {
	rn.outcome.Frames++
	rn.logger.Debug("frame", zap.String("event", frame.Event), zap.Int("size", len(frame.Data)))

	var payload any
	if err := json.Unmarshal([]byte(frame.Data), &payload); err != nil {
		err = fmt.Errorf("%w: %s event: %w", ErrMalformedPayload, frame.Event, err)
		rn.logger.Warn("undecodable frame", zap.String("event", frame.Event), zap.Error(err))
		rn.sink.ShowError(transportFailure(err))
		return Failed, TerminalFault, true, err
	}

	switch frame.Event {
	case EventLog:
		rn.outcome.LogLines++
		rn.sink.AppendLog(payloadText(payload, frame.Data))
	case EventPartialResult:
		rn.outcome.PartialResults++
		rn.sink.ShowPartialResult(r.options.markupPolicy.apply(payloadText(payload, frame.Data)))
	case EventFinalResult:
		fragment := r.options.markupPolicy.apply(payloadText(payload, frame.Data))
		rn.outcome.FinalResult = fragment
		rn.sink.ShowFinalResult(fragment)
		return Succeeded, TerminalFinalResult, true, nil
	case EventError:
		message := errorMessage(payload)
		streamError := &StreamError{Message: message}
		rn.logger.Warn("backend reported an error", zap.String("error", message))
		rn.sink.ShowError(serverFailure(message, streamError))
		return Failed, TerminalError, true, streamError
	case EventEnd:
		return Succeeded, TerminalEnd, true, nil
	default:
		rn.logger.Debug("ignoring unknown event", zap.String("event", frame.Event))
	}

	return "", "", false, nil
}

// payloadText returns a text payload. Payloads that are JSON but not a
// string are shown as their JSON text.
func payloadText(payload any, raw string) string {
	if s, ok := payload.(string); ok {
		return s
	}
	return strings.TrimSpace(raw)
}

func errorMessage(payload any) string {
	switch v := payload.(type) {
	case string:
		if v != "" {
			return v
		}
	case map[string]any:
		if message, ok := v["error"].(string); ok && message != "" {
			return message
		}
	}
	return DefaultServerErrorMessage
}

func (rn *run) settled() bool {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	return rn.state == RunSettled
}

func (rn *run) setState(state RunState) {
	rn.mu.Lock()
	rn.state = state
	rn.mu.Unlock()
}

func (rn *run) snapshot() Outcome {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	return rn.outcome
}

// settle finalizes the run once; later calls are no-ops.
func (rn *run) settle(status Status, terminal Terminal, err error) {
	rn.once.Do(func() {
		defer close(rn.done)
		rn.cancel(nil)

		rn.mu.Lock()
		rn.state = RunSettled
		rn.outcome.Status = status
		rn.outcome.Terminal = terminal
		rn.outcome.Err = err
		if err != nil {
			rn.outcome.Error = err.Error()
		}
		rn.outcome.SettledAt = time.Now()
		outcome := rn.outcome
		rn.mu.Unlock()

		rn.logger.Info("run settled",
			zap.String("status", status.String()),
			zap.String("terminal", string(terminal)),
			zap.Int("frames", outcome.Frames),
			zap.Int("dropped", outcome.Dropped),
			zap.Duration("duration", outcome.Duration()),
			zap.Error(err),
		)

		rn.sink.OnSettled(outcome)
	})
}

func (rn *run) showErrorSafely(f Failure) {
	defer func() {
		if p := recover(); p != nil {
			rn.logger.Error("sink panicked while showing an error", zap.Any("panic", p))
		}
	}()
	rn.sink.ShowError(f)
}
