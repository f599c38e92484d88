package collyfetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tubemeta/tubemeta/internal/tube"
)

func TestFetchReturnsBodyAndHeaders(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "token", r.Header.Get("X-Test"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	f := New(Config{UserAgent: "tubemeta-test", Timeout: 5 * time.Second})
	resp, err := f.Fetch(context.Background(), tube.FetchRequest{
		URL:     srv.URL,
		Headers: http.Header{"X-Test": []string{"token"}},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, []byte(`{"ok":true}`), resp.Body)
	require.Equal(t, "application/json", resp.Headers.Get("Content-Type"))
	require.Greater(t, resp.Duration, time.Duration(0))
}

func TestFetchSurfacesErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "mirror down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := New(Config{Timeout: 5 * time.Second})
	resp, err := f.Fetch(context.Background(), tube.FetchRequest{URL: srv.URL})
	require.NoError(t, err)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestFetchFailsOnUnreachableHost(t *testing.T) {
	t.Parallel()

	f := New(Config{Timeout: time.Second})
	_, err := f.Fetch(context.Background(), tube.FetchRequest{URL: "http://127.0.0.1:1"})
	require.Error(t, err)
}

func TestFetchHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	blocked := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-blocked
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	defer close(blocked)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	f := New(Config{Timeout: 10 * time.Second})
	_, err := f.Fetch(ctx, tube.FetchRequest{URL: srv.URL})
	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
