// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package http

import (
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/z5labs/xruntime/httpruntime"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

type circuitOptions struct {
	name         string
	maxRequests  uint32
	interval     time.Duration
	timeout      time.Duration
	tripCount    uint32
	isSuccessful func(error) bool
	statusCodes  []int
}

// CircuitOption configures the circuit breaker installed by [CircuitBreaker].
type CircuitOption func(*circuitOptions)

// CircuitName names the circuit breaker and its logger.
func CircuitName(name string) CircuitOption {
	return func(co *circuitOptions) {
		co.name = name
	}
}

// CircuitMaxRequests is the maximum number of requests allowed to pass through
// when the circuit is half-open.
func CircuitMaxRequests(maxRequests uint32) CircuitOption {
	return func(co *circuitOptions) {
		co.maxRequests = maxRequests
	}
}

// CircuitInterval is the cyclic period of the closed state after which
// failure counts are cleared. Zero never clears them.
func CircuitInterval(interval time.Duration) CircuitOption {
	return func(co *circuitOptions) {
		co.interval = interval
	}
}

// CircuitTimeout is the period of the open state, after which the
// circuit becomes half-open.
func CircuitTimeout(timeout time.Duration) CircuitOption {
	return func(co *circuitOptions) {
		co.timeout = timeout
	}
}

// CircuitTripCount determines the number of consecutive failues required to trip the circuit.
func CircuitTripCount(n uint32) CircuitOption {
	return func(co *circuitOptions) {
		co.tripCount = n
	}
}

// StatusCodeError is returned by the circuit breaking transport for
// responses whose status code counts as a failure.
type StatusCodeError struct {
	StatusCode int
}

// Error implements the [builtin.error] interface.
func (e StatusCodeError) Error() string {
	return "unexpected status code: " + http.StatusText(e.StatusCode)
}

// CircuitErrorOnStatusCode registers HTTP response status codes which
// should be counted as a failure by the circuit breaker.
//
// Default: 500, 502, 503, 504
func CircuitErrorOnStatusCode(n int) CircuitOption {
	return func(co *circuitOptions) {
		co.statusCodes = append(co.statusCodes, n)
	}
}

// CountCircuitErrorIf overrides which errors count as failures.
// f reports true for errors the circuit should treat as successes.
func CountCircuitErrorIf(f func(error) bool) CircuitOption {
	return func(co *circuitOptions) {
		co.isSuccessful = f
	}
}

// NotConnError reports false for network level failures.
func NotConnError(err error) bool {
	var (
		addrErr *net.AddrError
		dnsErr  *net.DNSError
		opErr   *net.OpError
	)
	return !errors.As(err, &addrErr) && !errors.As(err, &dnsErr) && !errors.As(err, &opErr)
}

// NotStatusCodeError reports false for a [StatusCodeError].
func NotStatusCodeError(err error) bool {
	var serr StatusCodeError
	return !errors.As(err, &serr)
}

func allSuccessful(fs ...func(error) bool) func(error) bool {
	return func(err error) bool {
		for _, f := range fs {
			if !f(err) {
				return false
			}
		}
		return true
	}
}

type retryOptions struct {
	maxRetries int
	waitMin    time.Duration
	waitMax    time.Duration
}

// RetryOption configures the retry policy installed by [RetryRequests].
type RetryOption func(*retryOptions)

// MinWaitDuration is the lower bound of the backoff between attempts.
func MinWaitDuration(min time.Duration) RetryOption {
	return func(ro *retryOptions) {
		ro.waitMin = min
	}
}

// MaxWaitDuration is the upper bound of the backoff between attempts.
func MaxWaitDuration(max time.Duration) RetryOption {
	return func(ro *retryOptions) {
		ro.waitMax = max
	}
}

// MaxRetries is the number of attempts made after the first.
func MaxRetries(n int) RetryOption {
	return func(ro *retryOptions) {
		ro.maxRetries = n
	}
}

type clientOptions struct {
	timeout      time.Duration
	transport    http.RoundTripper
	logger       *zap.Logger
	circuit      *circuitOptions
	retry        *retryOptions
	runtimeKeys  []string
	instrumented bool
}

// ClientOption configures [NewClient].
type ClientOption func(*clientOptions)

// ClientTimeout bounds every request, retries and backoff included.
// Each attempt is bounded by it as well.
func ClientTimeout(timeout time.Duration) ClientOption {
	return func(co *clientOptions) {
		co.timeout = timeout
	}
}

// WithTransport overrides [http.DefaultTransport].
func WithTransport(transport http.RoundTripper) ClientOption {
	return func(co *clientOptions) {
		co.transport = transport
	}
}

// ClientLogger is used for retry, circuit and runtime logs.
func ClientLogger(logger *zap.Logger) ClientOption {
	return func(co *clientOptions) {
		co.logger = logger
	}
}

// CircuitBreaker wraps each attempt in a circuit breaker.
func CircuitBreaker(opts ...CircuitOption) ClientOption {
	return func(co *clientOptions) {
		cb := &circuitOptions{
			tripCount:   5,
			timeout:     60 * time.Second,
			maxRequests: 1,
			isSuccessful: allSuccessful(
				NotStatusCodeError,
				NotConnError,
			),
		}
		for _, opt := range opts {
			opt(cb)
		}
		co.circuit = cb
	}
}

// RetryRequests retries failed requests with exponential backoff.
func RetryRequests(opts ...RetryOption) ClientOption {
	return func(co *clientOptions) {
		ro := &retryOptions{
			waitMin:    100 * time.Millisecond,
			waitMax:    5 * time.Second,
			maxRetries: 2,
		}
		for _, opt := range opts {
			opt(ro)
		}
		co.retry = ro
	}
}

// ObserveRuntime logs the server runtime reported under each key
// on every response received.
func ObserveRuntime(keys ...string) ClientOption {
	return func(co *clientOptions) {
		co.runtimeKeys = append(co.runtimeKeys, keys...)
	}
}

// Instrument traces every attempt with OpenTelemetry.
func Instrument() ClientOption {
	return func(co *clientOptions) {
		co.instrumented = true
	}
}

// NewClient returns a [http.Client] whose transport is built from opts.
// Attempts pass through, from the outside in, the tracing transport,
// the circuit breaker and runtime observation. Responses the circuit
// breaker turns into a [StatusCodeError] are still observed.
func NewClient(opts ...ClientOption) *http.Client {
	co := &clientOptions{
		transport: http.DefaultTransport,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(co)
	}

	transport := co.transport
	if len(co.runtimeKeys) > 0 {
		transport = &runtimeRoundTripper{
			RoundTripper: transport,
			keys:         co.runtimeKeys,
			log:          co.logger,
		}
	}
	if co.circuit != nil {
		transport = newCircuitRoundTripper(transport, co.circuit, co.logger)
	}
	if co.instrumented {
		transport = otelhttp.NewTransport(transport)
	}

	c := &http.Client{
		Timeout:   co.timeout,
		Transport: transport,
	}
	if co.retry == nil {
		return c
	}

	log := co.logger
	rc := retryablehttp.Client{
		HTTPClient:   c,
		Logger:       nil,
		RetryWaitMin: co.retry.waitMin,
		RetryWaitMax: co.retry.waitMax,
		RetryMax:     co.retry.maxRetries,
		RequestLogHook: func(l retryablehttp.Logger, req *http.Request, i int) {
			log.Debug("sending http request", zap.String("url", req.URL.String()), zap.Int("request_attempt_count", i))
		},
		ResponseLogHook: func(l retryablehttp.Logger, resp *http.Response) {
			log.Debug("received http response", zap.String("url", resp.Request.URL.String()), zap.Int("http_status_code", resp.StatusCode))
		},
		CheckRetry:   retryablehttp.DefaultRetryPolicy,
		Backoff:      retryablehttp.DefaultBackoff,
		ErrorHandler: retryablehttp.PassthroughErrorHandler,
	}
	sc := rc.StandardClient()
	sc.Timeout = co.timeout
	return sc
}

type circuitRoundTripper struct {
	http.RoundTripper
	cb    *gobreaker.CircuitBreaker
	codes map[int]struct{}
}

func newCircuitRoundTripper(rt http.RoundTripper, co *circuitOptions, logger *zap.Logger) *circuitRoundTripper {
	statusCodes := co.statusCodes
	if len(statusCodes) == 0 {
		statusCodes = []int{
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
		}
	}
	codes := make(map[int]struct{}, len(statusCodes))
	for _, code := range statusCodes {
		codes[code] = struct{}{}
	}

	log := logger.Named(co.name)
	return &circuitRoundTripper{
		RoundTripper: rt,
		codes:        codes,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        co.name,
			MaxRequests: co.maxRequests,
			Interval:    co.interval,
			Timeout:     co.timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= co.tripCount
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				switch to {
				case gobreaker.StateOpen:
					log.Error("circuit has been opened")
				case gobreaker.StateHalfOpen:
					log.Warn("circuit is now half open and lettings some requests through", zap.Uint32("max_requests_allowed_through", co.maxRequests))
				case gobreaker.StateClosed:
					log.Info("circuit has been closed")
				}
			},
			IsSuccessful: co.isSuccessful,
		}),
	}
}

func (rt *circuitRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	v, err := rt.cb.Execute(func() (interface{}, error) {
		resp, err := rt.RoundTripper.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		if _, ok := rt.codes[resp.StatusCode]; ok {
			resp.Body.Close()
			return nil, StatusCodeError{StatusCode: resp.StatusCode}
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*http.Response), nil
}

type runtimeRoundTripper struct {
	http.RoundTripper
	keys []string
	log  *zap.Logger
}

func (rt *runtimeRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := rt.RoundTripper.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	roundTrip := time.Since(start)

	for _, key := range rt.keys {
		d, err := httpruntime.Parse(resp.Header, key)
		if err != nil {
			rt.log.Warn(
				"response did not report a runtime",
				zap.String("url", req.URL.String()),
				zap.String("header", key),
				zap.Error(err),
			)
			continue
		}
		rt.log.Info(
			"observed server runtime",
			zap.String("url", req.URL.String()),
			zap.String("header", key),
			zap.Int("http_status_code", resp.StatusCode),
			zap.Duration("server_runtime", d),
			zap.Duration("round_trip", roundTrip),
		)
	}
	return resp, nil
}
