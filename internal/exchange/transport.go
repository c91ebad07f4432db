package exchange

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"cex-arbitrage-go/internal/apperror"
	"cex-arbitrage-go/internal/retry"
	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrorDecoder inspects a response and returns a typed error when the exchange
// reported a failure, including failures carried in a 200 body. It returns nil
// for successful responses.
type ErrorDecoder func(status int, body []byte) *apperror.Error

// RequestBuilder populates a fresh request. It runs once per attempt so that
// timestamps and signatures are never reused. A builder may set req.URL to
// replace the path, e.g. to pin an exact signed query string.
type RequestBuilder func(req *resty.Request) error

// Observer receives per-request outcomes, typically a metrics sink.
type Observer interface {
	ObserveRequest(exchange, op string, elapsed time.Duration, err error)
	ObserveBreakerState(exchange string, state string)
}

type nopObserver struct{}

func (nopObserver) ObserveRequest(string, string, time.Duration, error) {}
func (nopObserver) ObserveBreakerState(string, string)                  {}

// TransportConfig configures a Transport.
type TransportConfig struct {
	Name           string
	BaseURL        string
	Timeout        time.Duration
	RateLimit      float64 // requests per second
	RateLimitBurst int
	Retry          retry.Policy
	// MaxFailures consecutive transient failures open the breaker for OpenTimeout.
	MaxFailures uint32
	OpenTimeout time.Duration
}

// Transport executes rate-limited, retried, circuit-broken REST calls against one exchange.
type Transport struct {
	name     string
	client   *resty.Client
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker[*resty.Response]
	policy   retry.Policy
	decode   ErrorDecoder
	logger   *zap.Logger
	observer Observer
}

// NewTransport creates a Transport. decode may be nil.
func NewTransport(cfg TransportConfig, decode ErrorDecoder, observer Observer, logger *zap.Logger) *Transport {
	if observer == nil {
		observer = nopObserver{}
	}
	logger = logger.Named("transport").With(zap.String("exchange", cfg.Name))

	client := resty.New().SetBaseURL(cfg.BaseURL)
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateLimitBurst
	if burst < 1 {
		burst = 1
	}

	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			observer.ObserveBreakerState(name, to.String())
		},
		// Only transient failures say anything about exchange health.
		IsSuccessful: func(err error) bool {
			return err == nil || !apperror.IsRetryable(err)
		},
	}

	policy := cfg.Retry
	if policy.Attempts == 0 {
		policy = retry.DefaultPolicy()
	}
	policy.Retryable = func(err error) bool {
		return apperror.IsRetryable(err) && !errors.Is(err, gobreaker.ErrOpenState)
	}
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		logger.Warn("Request failed, retrying...",
			zap.Int("attempt", attempt),
			zap.Duration("retry_after", delay),
			zap.Error(err),
		)
	}

	return &Transport{
		name:     cfg.Name,
		client:   client,
		limiter:  rate.NewLimiter(limit, burst),
		breaker:  gobreaker.NewCircuitBreaker[*resty.Response](settings),
		policy:   policy,
		decode:   decode,
		logger:   logger,
		observer: observer,
	}
}

// Name returns the exchange name used in errors and metrics.
func (t *Transport) Name() string {
	return t.name
}

// BaseURL returns the configured API root.
func (t *Transport) BaseURL() string {
	return t.client.BaseURL
}

// Do executes method path with the request built by build. op names the
// adapter operation for logs, errors and metrics.
func (t *Transport) Do(ctx context.Context, op, method, path string, build RequestBuilder) (*resty.Response, error) {
	start := time.Now()
	resp, err := retry.Do(ctx, t.policy, func(ctx context.Context) (*resty.Response, error) {
		return t.attempt(ctx, op, method, path, build)
	})
	t.observer.ObserveRequest(t.name, op, time.Since(start), err)
	if err != nil {
		t.logger.Debug("Request failed", zap.String("op", op), zap.String("path", path), zap.Error(err))
		return nil, err
	}
	return resp, nil
}

func (t *Transport) attempt(ctx context.Context, op, method, path string, build RequestBuilder) (*resty.Response, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperror.Transient(t.name, "rate limiter wait failed", apperror.WithOp(op), apperror.WithCause(err))
	}

	resp, err := t.breaker.Execute(func() (*resty.Response, error) {
		req := t.client.R().SetContext(ctx)
		if build != nil {
			if err := build(req); err != nil {
				return nil, fmt.Errorf("building %s request: %w", op, err)
			}
		}

		target := path
		if req.URL != "" {
			target = req.URL
		}
		t.logger.Debug("Executing request", zap.String("method", method), zap.String("path", path))
		resp, err := req.Execute(method, target)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, apperror.Transient(t.name, "request failed", apperror.WithOp(op), apperror.WithCause(err))
		}
		if appErr := t.check(op, resp); appErr != nil {
			return resp, appErr
		}
		return resp, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, apperror.Transient(t.name, "circuit breaker open", apperror.WithOp(op), apperror.WithCause(err))
	}
	return resp, err
}

func (t *Transport) check(op string, resp *resty.Response) *apperror.Error {
	status := resp.StatusCode()
	var appErr *apperror.Error
	if t.decode != nil {
		appErr = t.decode(status, resp.Body())
	}
	if appErr == nil && resp.IsError() {
		appErr = apperror.ClassifyMessage(t.name, status, "", resp.String())
	}
	if appErr == nil {
		return nil
	}

	if appErr.Exchange == "" {
		appErr.Exchange = t.name
	}
	if appErr.Op == "" {
		appErr.Op = op
	}
	// 401/403 are never retried regardless of what the body said.
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		appErr.Kind = apperror.KindAuthentication
	}
	if status == http.StatusTooManyRequests || status == 418 {
		appErr.Kind = apperror.KindTransientNetwork
		if seconds, err := strconv.Atoi(resp.Header().Get("Retry-After")); err == nil {
			appErr.RetryAfter = time.Duration(seconds) * time.Second
		}
	}
	return appErr
}
