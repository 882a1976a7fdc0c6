package graph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testLogger returns a quiet logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestClient creates a Client against a test server with a static token
// and an instant sleepFunc so retry tests don't wait.
func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()

	c := NewClient(baseURL, &http.Client{}, StaticTokenSource("test-token"), testLogger(), "spmirror-test/0")
	c.sleepFunc = func(_ context.Context, _ time.Duration) error { return nil }

	return c
}

func TestDo_SendsAuthHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "spmirror-test/0", r.Header.Get("User-Agent"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	resp, err := newTestClient(t, srv.URL).Do(context.Background(), http.MethodGet, "/ping", nil)
	require.NoError(t, err)
	resp.Body.Close()
}

func TestDo_AbsoluteURLBypassesBase(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/absolute/path", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, "http://base.invalid")

	resp, err := c.Do(context.Background(), http.MethodGet, srv.URL+"/absolute/path", nil)
	require.NoError(t, err)
	resp.Body.Close()
}

func TestDo_RetriesOn503ThenSucceeds(t *testing.T) {
	var calls int

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	resp, err := newTestClient(t, srv.URL).Do(context.Background(), http.MethodGet, "/x", nil)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, 3, calls)
}

func TestDo_HonorsRetryAfter(t *testing.T) {
	var (
		calls  int
		slept  []time.Duration
		client *Client
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)

			return
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client = newTestClient(t, srv.URL)
	client.sleepFunc = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	resp, err := client.Do(context.Background(), http.MethodGet, "/x", nil)
	require.NoError(t, err)
	resp.Body.Close()

	require.Len(t, slept, 1)
	assert.Equal(t, 7*time.Second, slept[0])
}

func TestDo_ExhaustsRetries(t *testing.T) {
	var calls int

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Do(context.Background(), http.MethodGet, "/x", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServerError)
	assert.Equal(t, maxRetries+1, calls)
}

func TestDo_NoRetryOn404(t *testing.T) {
	var calls int

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Do(context.Background(), http.MethodGet, "/x", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, calls)

	var ge *GraphError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, http.StatusNotFound, ge.StatusCode)
}

func TestDo_GoneSurfacesSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Do(context.Background(), http.MethodGet, "/x", nil)
	assert.ErrorIs(t, err, ErrGone)
}

func TestDo_TokenFailureIsFatal(t *testing.T) {
	var calls int

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	c.token = failingTokenSource{}

	_, err := c.Do(context.Background(), http.MethodGet, "/x", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuth)
	assert.Zero(t, calls, "no HTTP request should be issued without a token")
}

func TestDo_CancellationStopsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())

	c := newTestClient(t, srv.URL)
	c.sleepFunc = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := c.Do(ctx, http.MethodGet, "/x", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCalcBackoff_Bounds(t *testing.T) {
	c := newTestClient(t, "http://unused.invalid")

	for attempt := range 10 {
		b := c.calcBackoff(attempt)
		assert.Positive(t, b)
		assert.LessOrEqual(t, b, time.Duration(float64(maxBackoff)*(1+jitterFraction)))
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		code int
		want error
	}{
		{http.StatusBadRequest, ErrBadRequest},
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusForbidden, ErrForbidden},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusGone, ErrGone},
		{http.StatusTooManyRequests, ErrThrottled},
		{http.StatusInternalServerError, ErrServerError},
		{http.StatusBadGateway, ErrServerError},
		{http.StatusOK, nil},
	}

	for _, tc := range tests {
		t.Run(fmt.Sprint(tc.code), func(t *testing.T) {
			assert.Equal(t, tc.want, classifyStatus(tc.code)) //nolint:testifylint // sentinel identity
		})
	}
}

type failingTokenSource struct{}

func (failingTokenSource) Token() (string, error) {
	return "", fmt.Errorf("%w: simulated", ErrAuth)
}

// Guard against accidentally buffering whole downloads: Do must hand back
// the live body stream.
func TestDo_BodyIsStreamed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "streamed-bytes")
	}))
	defer srv.Close()

	resp, err := newTestClient(t, srv.URL).Do(context.Background(), http.MethodGet, "/x", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "streamed-bytes", string(data))
}

func TestGraphError_ErrorString(t *testing.T) {
	ge := &GraphError{StatusCode: 429, RequestID: "req-1", Message: "slow down", Err: ErrThrottled}
	assert.Contains(t, ge.Error(), "429")
	assert.Contains(t, ge.Error(), "req-1")
	assert.ErrorIs(t, ge, ErrThrottled)

	var target *GraphError
	assert.True(t, errors.As(ge, &target))
}
