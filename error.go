package mangaba

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrInvalidSubmission wraps every reason a submission is rejected
	// before it is sent.
	ErrInvalidSubmission = errors.New("invalid submission")

	ErrEmptyGoal         = errors.New("goal is required")
	ErrNoPayload         = errors.New("a data source is required")
	ErrIncompletePayload = errors.New("selected data source is empty")

	// ErrSuperseded is the cause given to a run that was still streaming
	// when the same client started another.
	ErrSuperseded = errors.New("run superseded by a newer submission")

	// ErrStalled is the cause given to a run whose stream stayed silent for
	// longer than the configured stall timeout.
	ErrStalled = errors.New("stream stalled")

	// ErrStreamFault is reported when dispatching a frame panics.
	ErrStreamFault = errors.New("stream processing fault")

	// ErrMalformedPayload is reported when a frame's data is not valid JSON.
	ErrMalformedPayload = errors.New("malformed frame payload")
)

// DefaultServerErrorMessage is shown when a failed response carries no
// readable message.
const DefaultServerErrorMessage = "Erro no servidor"

// APIError is the body of a non-2xx response from the backend.
type APIError struct {
	// Message is the human-readable explanation sent by the server.
	Message string `json:"error"`

	// Status is the HTTP status code.
	Status int `json:"-"`
}

func unmarshalAPIError(resp *http.Response, data []byte) *APIError {
	apiError := APIError{}
	if err := json.Unmarshal(data, &apiError); err != nil || strings.TrimSpace(apiError.Message) == "" {
		apiError.Message = DefaultServerErrorMessage
	}

	if resp != nil {
		apiError.Status = resp.StatusCode
	}

	return &apiError
}

func (e APIError) Error() string {
	output := e.Message
	if output == "" {
		output = DefaultServerErrorMessage
	}

	if e.Status != 0 {
		output = fmt.Sprintf("%s (HTTP %d)", output, e.Status)
	}

	return output
}

// WriteHTTPResponse writes e as a JSON error body. A zero Status is sent as
// 502 Bad Gateway.
func (e *APIError) WriteHTTPResponse(w http.ResponseWriter) {
	status := http.StatusBadGateway
	if e.Status != 0 {
		status = e.Status
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(e)
	if err != nil {
		err = fmt.Errorf("failed to write error response: %w", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// StreamError is a failure the server reported inside the event stream.
type StreamError struct {
	Message string `json:"error"`
}

func (e *StreamError) Error() string {
	return "server reported: " + e.Message
}
