package mangaba

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mangaba-ai/mangaba-go/internal/sse"
)

var (
	envAuthToken = "MANGABA_API_TOKEN"

	defaultUserAgent = "mangaba/go"
	defaultBaseURL   = "http://localhost:5000"

	defaultMaxRetries = 3
	defaultBackoff    = &ExponentialBackoff{
		Multiplier: 2,
		Base:       250 * time.Millisecond,
		Jitter:     50 * time.Millisecond,
		Max:        5 * time.Second,
	}

	ErrEnvVarNotSet  = fmt.Errorf("%s environment variable not set", envAuthToken)
	ErrEnvVarEmpty   = fmt.Errorf("%s environment variable is empty", envAuthToken)
	ErrInvalidOption = errors.New("invalid client option")
)

// Client talks to a Mangaba agent backend.
//
// A Client runs at most one submission at a time: starting a run while
// another is still streaming settles the older one first.
type Client struct {
	options *clientOptions
	c       *http.Client

	mu      sync.Mutex
	current *run
}

type retryPolicy struct {
	maxRetries int
	backoff    Backoff
}

type clientOptions struct {
	auth         string
	baseURL      string
	httpClient   *http.Client
	retryPolicy  *retryPolicy
	userAgent    *string
	logger       *zap.Logger
	stallTimeout time.Duration
	chunkSize    int
	markupPolicy MarkupPolicy
	exampleFiles map[string]string
}

// ClientOption is a function that modifies an options struct.
type ClientOption func(*clientOptions) error

// NewClient creates a new client. Without options it targets a backend
// running on localhost with the default example catalog.
func NewClient(opts ...ClientOption) (*Client, error) {
	c := &Client{
		options: &clientOptions{
			userAgent: &defaultUserAgent,
			baseURL:   defaultBaseURL,
			retryPolicy: &retryPolicy{
				maxRetries: defaultMaxRetries,
				backoff:    defaultBackoff,
			},
			httpClient:   http.DefaultClient,
			logger:       zap.NewNop(),
			chunkSize:    sse.DefaultChunkSize,
			markupPolicy: MarkupTrusted,
			exampleFiles: DefaultExamples,
		},
	}

	var errs []error
	for _, option := range opts {
		err := option(c.options)
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	c.c = c.options.httpClient

	return c, nil
}

// WithToken sets a bearer token sent with every request. Backends that do
// not authenticate ignore it.
func WithToken(token string) ClientOption {
	return func(o *clientOptions) error {
		o.auth = token
		return nil
	}
}

// WithTokenFromEnv configures the client to use the token provided in the
// MANGABA_API_TOKEN environment variable.
func WithTokenFromEnv() ClientOption {
	return func(o *clientOptions) error {
		token, ok := os.LookupEnv(envAuthToken)
		if !ok {
			return ErrEnvVarNotSet
		}
		if token == "" {
			return ErrEnvVarEmpty
		}
		o.auth = token
		return nil
	}
}

// WithUserAgent sets the User-Agent header on requests made by the client.
func WithUserAgent(userAgent string) ClientOption {
	return func(o *clientOptions) error {
		o.userAgent = &userAgent
		return nil
	}
}

// WithBaseURL sets the base URL of the backend.
func WithBaseURL(baseURL string) ClientOption {
	return func(o *clientOptions) error {
		u, err := url.Parse(baseURL)
		if err != nil {
			return fmt.Errorf("%w: base URL: %w", ErrInvalidOption, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("%w: base URL %q must use http or https", ErrInvalidOption, baseURL)
		}
		o.baseURL = baseURL
		return nil
	}
}

// WithHTTPClient sets the HTTP client used by the client.
//
// The client's Timeout bounds whole requests, streams included, so leave it
// zero and use WithStallTimeout to guard long runs.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(o *clientOptions) error {
		if httpClient == nil {
			return fmt.Errorf("%w: nil HTTP client", ErrInvalidOption)
		}
		o.httpClient = httpClient
		return nil
	}
}

// WithRetryPolicy sets the retry policy used for catalog and health
// requests. Submissions are never retried.
func WithRetryPolicy(maxRetries int, backoff Backoff) ClientOption {
	return func(o *clientOptions) error {
		if maxRetries < 0 {
			return fmt.Errorf("%w: max retries must be >= 0, got %d", ErrInvalidOption, maxRetries)
		}
		o.retryPolicy = &retryPolicy{
			maxRetries: maxRetries,
			backoff:    backoff,
		}
		return nil
	}
}

// WithLogger sets the logger used for run diagnostics.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(o *clientOptions) error {
		if logger == nil {
			logger = zap.NewNop()
		}
		o.logger = logger
		return nil
	}
}

// WithStallTimeout fails a run when the stream goes quiet for longer than d.
// Zero disables the check.
func WithStallTimeout(d time.Duration) ClientOption {
	return func(o *clientOptions) error {
		if d < 0 {
			return fmt.Errorf("%w: stall timeout must be >= 0, got %s", ErrInvalidOption, d)
		}
		o.stallTimeout = d
		return nil
	}
}

// WithReadBufferSize sets the largest chunk read from the stream at once.
func WithReadBufferSize(size int) ClientOption {
	return func(o *clientOptions) error {
		if size <= 0 {
			return fmt.Errorf("%w: read buffer size must be > 0, got %d", ErrInvalidOption, size)
		}
		o.chunkSize = size
		return nil
	}
}

// WithMarkupPolicy controls how result fragments are passed to the sink.
func WithMarkupPolicy(policy MarkupPolicy) ClientOption {
	return func(o *clientOptions) error {
		switch policy {
		case MarkupTrusted, MarkupSanitized:
			o.markupPolicy = policy
			return nil
		default:
			return fmt.Errorf("%w: unknown markup policy %q", ErrInvalidOption, policy)
		}
	}
}

// WithExampleCatalog replaces the mapping from example keys to the files
// served under /data.
func WithExampleCatalog(files map[string]string) ClientOption {
	return func(o *clientOptions) error {
		if len(files) == 0 {
			return fmt.Errorf("%w: empty example catalog", ErrInvalidOption)
		}
		o.exampleFiles = files
		return nil
	}
}

func (r *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	request, err := http.NewRequestWithContext(ctx, method, constructURL(r.options.baseURL, path), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	request.Header.Set("Accept", "application/json")
	if r.options.auth != "" {
		request.Header.Set("Authorization", fmt.Sprintf("Bearer %s", r.options.auth))
	}
	if r.options.userAgent != nil {
		request.Header.Set("User-Agent", *r.options.userAgent)
	}

	return request, nil
}

func (r *Client) do(request *http.Request, out interface{}) error {
	maxRetries := r.options.retryPolicy.maxRetries
	backoff := r.options.retryPolicy.backoff

	var apiError *APIError
	for attempts := 0; ; attempts++ {
		response, err := r.c.Do(request)
		if err != nil {
			return fmt.Errorf("failed to make request: %w", err)
		}

		responseBytes, err := io.ReadAll(response.Body)
		response.Body.Close()
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}

		if response.StatusCode >= 200 && response.StatusCode < 300 {
			if out != nil {
				if err := json.Unmarshal(responseBytes, out); err != nil {
					return fmt.Errorf("failed to unmarshal response: %w", err)
				}
			}
			return nil
		}

		apiError = unmarshalAPIError(response, responseBytes)
		if attempts >= maxRetries || !r.shouldRetry(response, request.Method) {
			return apiError
		}

		delay := time.Duration(0)
		if backoff != nil {
			delay = backoff.NextDelay(attempts)
		}

		retryAfter := response.Header.Get("Retry-After")
		if retryAfter != "" {
			if parsedDelay, parseErr := time.Parse(time.RFC1123, retryAfter); parseErr == nil {
				delay = time.Until(parsedDelay)
			} else if seconds, convErr := strconv.Atoi(retryAfter); convErr == nil {
				delay = time.Duration(seconds) * time.Second
			}
		}

		if err := sleep(request.Context(), delay); err != nil {
			return fmt.Errorf("request failed after %d attempts: %w", attempts+1, errors.Join(apiError, err))
		}
	}
}

// fetch makes a JSON request to the backend.
func (r *Client) fetch(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	request, err := r.newRequest(ctx, method, path, bodyReader)
	if err != nil {
		return err
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	return r.do(request, out)
}

// shouldRetry returns true if the request should be retried.
//
// - GET requests should be retried if the response status code is 429 or 5xx.
// - Other requests should be retried if the response status code is 429.
func (r *Client) shouldRetry(response *http.Response, method string) bool {
	if method == http.MethodGet {
		return response.StatusCode == http.StatusTooManyRequests || (response.StatusCode >= 500 && response.StatusCode < 600)
	}

	return response.StatusCode == http.StatusTooManyRequests
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func constructURL(baseURL, route string) string {
	route = strings.TrimPrefix(route, "/")

	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	return baseURL + route
}
