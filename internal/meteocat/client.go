package meteocat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/meteocat-sync/internal/common"
	"github.com/i474232898/meteocat-sync/internal/logger"
)

// DefaultBaseURL is the public Meteocat API host.
const DefaultBaseURL = "https://api.meteo.cat"

const maxResponseBytes = 16 * 1024 * 1024

// BackoffConfig controls the bounded retry policy shared by every endpoint.
type BackoffConfig struct {
	MaxAttempts     int           // total attempts, including the first
	InitialInterval time.Duration // delay before the second attempt, doubled afterwards
	MaxInterval     time.Duration // cap for the computed delay (0 = no cap)
	MaxRetryAfter   time.Duration // cap for a server-provided Retry-After (0 = no cap)
}

// DefaultBackoff is three attempts with 1s, 2s waits in between.
var DefaultBackoff = BackoffConfig{
	MaxAttempts:     3,
	InitialInterval: time.Second,
	MaxInterval:     30 * time.Second,
	MaxRetryAfter:   2 * time.Minute,
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Backoff    BackoffConfig
	Logger     logger.Logger
}

// Client is a typed wrapper around the Meteocat REST API. It authenticates
// with the X-Api-Key header, retries rate limits and transient failures with
// bounded backoff, and guards the remote with a circuit breaker.
type Client struct {
	baseURL string
	http    *http.Client
	backoff BackoffConfig
	circuit *gobreaker.CircuitBreaker
	log     logger.Logger
	opts    Options

	// sleep waits between attempts; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error

	mu     sync.RWMutex
	apiKey string
}

// New creates a Client. Zero-valued options fall back to package defaults.
func New(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if opts.Backoff.MaxAttempts == 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "meteocat",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
		// Only network-level failures say anything about the remote's health.
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, ErrTransient)
		},
	})

	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		http:    opts.HTTPClient,
		backoff: opts.Backoff,
		circuit: cb,
		log:     opts.Logger,
		opts:    opts,
		sleep:   sleepContext,
		apiKey:  opts.APIKey,
	}
}

// APIKey returns the credential currently in use.
func (c *Client) APIKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiKey
}

// SetAPIKey swaps the credential used by subsequent calls.
func (c *Client) SetAPIKey(key string) {
	c.mu.Lock()
	c.apiKey = key
	c.mu.Unlock()
}

// ValidateKey checks a candidate credential against the comarques reference
// list without touching the key used by c.
func (c *Client) ValidateKey(ctx context.Context, key string) error {
	opts := c.opts
	opts.APIKey = key
	probe := New(opts)
	probe.sleep = c.sleep
	if _, err := probe.Comarques(ctx); err != nil {
		return fmt.Errorf("validate key: %w", err)
	}
	return nil
}

// call executes method on endpoint, retrying per the backoff policy, and
// returns the UTF-8 normalized body of the first successful attempt.
func (c *Client) call(ctx context.Context, method, endpoint string, params url.Values) ([]byte, error) {
	if c.http == nil {
		return nil, errNoHTTPClient
	}
	if c.backoff.MaxAttempts <= 0 || c.backoff.InitialInterval <= 0 {
		return nil, errInvalidConfig
	}

	u := c.baseURL + endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	key := c.APIKey()
	c.log.Debug("meteocat request",
		logger.String("method", method),
		logger.String("endpoint", endpoint),
		logger.String("api_key", maskKey(key)))

	attempt := 0
	delay := c.backoff.InitialInterval

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		attempt++

		body, retryAfter, err := c.do(ctx, method, u, key)
		if err == nil {
			decoded, enc := decodeBody(body)
			if enc != "utf-8" {
				c.log.Debug("meteocat response re-decoded",
					logger.String("endpoint", endpoint),
					logger.String("encoding", enc))
			}
			return decoded, nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %s %s: circuit open", ErrUnreachable, method, endpoint)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		rateLimited := errors.Is(err, ErrRateLimited)
		if !rateLimited && !errors.Is(err, ErrTransient) {
			return nil, fmt.Errorf("%s %s: %w", method, endpoint, err)
		}

		if attempt >= c.backoff.MaxAttempts {
			if rateLimited {
				return nil, fmt.Errorf("%w: %s %s after %d attempts", ErrQuotaExceeded, method, endpoint, attempt)
			}
			return nil, fmt.Errorf("%w: %s %s after %d attempts: %v", ErrUnreachable, method, endpoint, attempt, err)
		}

		wait := delay
		if rateLimited && retryAfter > 0 {
			wait = retryAfter
			if c.backoff.MaxRetryAfter > 0 && wait > c.backoff.MaxRetryAfter {
				wait = c.backoff.MaxRetryAfter
			}
		}

		c.log.Warn("meteocat request failed, retrying",
			logger.String("endpoint", endpoint),
			logger.Int("attempt", attempt),
			logger.Duration("next_retry_in", wait),
			logger.Error(err))

		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}

		delay *= 2
		if c.backoff.MaxInterval > 0 && delay > c.backoff.MaxInterval {
			delay = c.backoff.MaxInterval
		}
	}
}

// do runs a single attempt through the circuit breaker and classifies the
// outcome. retryAfter is only set for rate-limited responses.
func (c *Client) do(ctx context.Context, method, rawURL, key string) ([]byte, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Api-Key", key)

	var retryAfter time.Duration

	result, err := c.circuit.Execute(func() (interface{}, error) {
		resp, execErr := c.http.Do(req)
		if execErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransient, execErr)
		}
		defer resp.Body.Close()

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if readErr != nil {
			return nil, fmt.Errorf("%w: read body: %v", ErrTransient, readErr)
		}

		switch code := resp.StatusCode; {
		case code >= 200 && code < 300:
			return body, nil
		case code == http.StatusTooManyRequests:
			retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
			return nil, fmt.Errorf("%w: status %d", ErrRateLimited, code)
		case code == http.StatusForbidden && quotaMessage(body):
			return nil, fmt.Errorf("%w: status %d", ErrRateLimited, code)
		case code == http.StatusUnauthorized || code == http.StatusForbidden:
			return nil, fmt.Errorf("%w: status %d", ErrAuth, code)
		case code >= 500:
			return nil, fmt.Errorf("%w: status %d", ErrTransient, code)
		default:
			return nil, &StatusError{Code: code, Body: truncate(body, 200)}
		}
	})
	if err != nil {
		return nil, retryAfter, err
	}

	body, ok := result.([]byte)
	if !ok {
		return nil, 0, fmt.Errorf("unexpected result type from circuit breaker")
	}
	return body, 0, nil
}

// quotaMessage reports whether a 403 body is the API's way of saying the
// plan is exhausted rather than that the key is wrong.
func quotaMessage(body []byte) bool {
	return common.HasAny(strings.ToLower(string(body)), "quota", "limit exceeded", "too many requests")
}

// parseRetryAfter accepts both forms allowed by RFC 9110: delay-seconds and
// an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
