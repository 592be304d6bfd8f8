package meteocat

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient points a client at srv and records every backoff wait
// instead of sleeping.
func newTestClient(t *testing.T, srv *httptest.Server) (*Client, *[]time.Duration) {
	t.Helper()
	c := New(Options{BaseURL: srv.URL, APIKey: "abcd-secret-key-wxyz", HTTPClient: srv.Client()})
	var waits []time.Duration
	c.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return ctx.Err()
	}
	return c, &waits
}

func TestCallSendsKeyHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "abcd-secret-key-wxyz", r.Header.Get("X-Api-Key"))
		assert.Equal(t, endpointComarques, r.URL.Path)
		_, _ = w.Write([]byte(`[{"codi":13,"nom":"Barcelonès"}]`))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv)
	got, err := c.Comarques(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Ref{{Code: "13", Name: "Barcelonès"}}, got)
}

func TestCallAuthFailureIsNotRetried(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, waits := newTestClient(t, srv)
	_, err := c.Stations(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuth)
	assert.False(t, errors.Is(err, ErrTransient))
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	assert.Empty(t, *waits)
}

func TestCallForbiddenQuotaBodyIsRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"message":"Limit Exceeded"}`))
	}))
	defer srv.Close()

	c, waits := newTestClient(t, srv)
	_, err := c.Quota(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQuotaExceeded)
	assert.False(t, errors.Is(err, ErrAuth))
	assert.Len(t, *waits, 2)
}

func TestCallHonoursRetryAfter(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c, waits := newTestClient(t, srv)
	_, err := c.Stations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{7 * time.Second}, *waits)
}

func TestCallRateLimitExhaustionIsQuotaExceeded(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, waits := newTestClient(t, srv)
	_, err := c.Stations(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQuotaExceeded)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
	// No Retry-After: exponential 1s, 2s.
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *waits)
}

func TestCallServerErrorsBecomeUnreachable(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv)
	_, err := c.Municipalities(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.ErrorIs(t, err, ErrTransient)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestCallOtherStatusIsTerminal(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("no such station"))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv)
	_, err := c.Measurements(context.Background(), "ZZ", time.Now())
	require.Error(t, err)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestCallRespectsCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not be sent")
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Stations(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCallDecodesLatin1(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// "Barcelonès" in ISO-8859-1.
		_, _ = w.Write([]byte("[{\"codi\":13,\"nom\":\"Barcelon\xe8s\"}]"))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv)
	got, err := c.Comarques(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Barcelonès", got[0].Name)
}

func TestMeasurementsPathUsesUTCDate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/xema/v1/estacions/mesurades/YM/2024/11/30", r.URL.Path)
		_, _ = w.Write([]byte(`[{"codi":"YM","variables":[{"codi":32,"lectures":[
			{"data":"2024-11-30T09:30Z","valor":11.2,"estat":"V","baseHoraria":"SH"},
			{"data":"2024-11-30T10:00Z","valor":12.5,"estat":"V","baseHoraria":"SH"}]}]}]`))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv)
	loc := time.FixedZone("CET", 3600)
	day := time.Date(2024, 12, 1, 0, 30, 0, 0, loc) // 2024-11-30 23:30 UTC

	got, err := c.Measurements(context.Background(), "YM", day)
	require.NoError(t, err)
	assert.Equal(t, "YM", got.StationCode)

	temp, ok := got.Variable(32)
	require.True(t, ok)
	latest, ok := temp.Latest()
	require.True(t, ok)
	require.NotNil(t, latest.Value)
	assert.InDelta(t, 12.5, *latest.Value, 1e-9)
	require.NotNil(t, latest.Time)
	assert.Equal(t, time.Date(2024, 11, 30, 10, 0, 0, 0, time.UTC), *latest.Time)
}

func TestValidateKeyUsesCandidate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "new-good-key-1234" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv)
	require.NoError(t, c.ValidateKey(context.Background(), "new-good-key-1234"))
	assert.Equal(t, "abcd-secret-key-wxyz", c.APIKey())

	err := c.ValidateKey(context.Background(), "bad-key-000000")
	assert.ErrorIs(t, err, ErrAuth)
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 30*time.Second, parseRetryAfter("30", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("-1", now))
	assert.Equal(t, 90*time.Second, parseRetryAfter(now.Add(90*time.Second).Format(http.TimeFormat), now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("soon", now))
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "****", maskKey("short"))
	assert.Equal(t, "****", maskKey("12345678"))
	assert.Equal(t, "abcd...wxyz", maskKey("abcd-secret-key-wxyz"))
}
