package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/seasonwatch/regs-crawler/internal/regs"
)

func newTestClient(t *testing.T, retries int) *Client {
	t.Helper()
	return New(Config{
		Timeout:    5 * time.Second,
		MaxRetries: retries,
		RetryDelay: 10 * time.Millisecond,
		UserAgent:  "test-agent",
	}, nil, zap.NewNop())
}

func TestFetchHTML(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html><body>deer seasons</body></html>"))
	}))
	defer srv.Close()

	res, err := newTestClient(t, 0).Fetch(context.Background(), regs.FetchRequest{URL: srv.URL})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "text/html", res.ContentType)
	require.Contains(t, string(res.Body), "deer seasons")
}

func TestFetchBlockedStatuses(t *testing.T) {
	t.Parallel()

	for _, code := range []int{403, 429, 451} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(code)
		}))

		_, err := newTestClient(t, 2).Fetch(context.Background(), regs.FetchRequest{URL: srv.URL})
		require.Error(t, err)
		require.ErrorIs(t, err, regs.ErrBlocked)

		var blocked *regs.BlockedError
		require.ErrorAs(t, err, &blocked)
		require.Equal(t, code, blocked.StatusCode)
		require.Contains(t, blocked.SkipReason(), "FETCH_BLOCKED_")
		srv.Close()
	}
}

func TestFetchRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	res, err := newTestClient(t, 2).Fetch(context.Background(), regs.FetchRequest{URL: srv.URL})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.EqualValues(t, 3, calls.Load())
}

func TestFetchRetriesExhausted(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestClient(t, 1).Fetch(context.Background(), regs.FetchRequest{URL: srv.URL})
	require.Error(t, err)
	require.Contains(t, err.Error(), "retries exhausted")
}

func TestFetchBodyCap(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(make([]byte, 2048))
	}))
	defer srv.Close()

	_, err := newTestClient(t, 0).Fetch(context.Background(), regs.FetchRequest{URL: srv.URL, MaxBytes: 1024})
	require.Error(t, err)
	require.True(t, errors.Is(err, regs.ErrTooLarge))
}

func TestFetchHeadProbe(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodHead, r.Method)
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Length", "123456")
	}))
	defer srv.Close()

	res, err := newTestClient(t, 0).Fetch(context.Background(), regs.FetchRequest{URL: srv.URL, HeadOnly: true})
	require.NoError(t, err)
	require.Equal(t, "application/pdf", res.ContentType)
	require.EqualValues(t, 123456, res.ContentLength)
	require.Nil(t, res.Body)
}

func TestIsPDFSniffsMagic(t *testing.T) {
	t.Parallel()

	require.True(t, IsPDF("application/pdf", nil))
	require.True(t, IsPDF("application/octet-stream", []byte("%PDF-1.7")))
	require.False(t, IsPDF("text/html", []byte("<html>")))
}

func TestLimiterWaitHonorsContext(t *testing.T) {
	t.Parallel()

	lim := NewLimiter(0.001, 1)
	require.NoError(t, lim.Wait(context.Background(), "https://example.gov/a"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := lim.Wait(ctx, "https://example.gov/b")
	require.Error(t, err)
}
