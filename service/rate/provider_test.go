package rate

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eastern-cyber/planpay/service/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestProvider(t *testing.T, feeds []config.RateFeed, buffer, fallback float64) *Provider {
	t.Helper()
	p, err := NewProvider(feeds, buffer, fallback, testLogger(), nil)
	require.NoError(t, err)
	return p
}

func TestProviderCurrent(t *testing.T) {
	t.Run("first feed wins", func(t *testing.T) {
		first := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"solana":{"thb":"4.85"}}`))
		}))
		defer first.Close()
		second := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("second feed should not be called when the first succeeds")
		}))
		defer second.Close()

		p := newTestProvider(t, []config.RateFeed{
			{URL: first.URL, Expr: ".solana.thb"},
			{URL: second.URL, Expr: ".price"},
		}, 0.25, 4.35)

		got := p.Current(context.Background())
		assert.False(t, got.Fallback)
		assert.True(t, got.Raw.Equal(decimal.RequireFromString("4.85")), "raw=%s", got.Raw)
		assert.True(t, got.Adjusted.Equal(decimal.RequireFromString("4.6")), "adjusted=%s", got.Adjusted)
	})

	t.Run("falls through to second feed", func(t *testing.T) {
		first := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer first.Close()
		second := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"price":"5.10"}`))
		}))
		defer second.Close()

		p := newTestProvider(t, []config.RateFeed{
			{URL: first.URL, Expr: ".solana.thb"},
			{URL: second.URL, Expr: ".price"},
		}, 0.25, 4.35)

		got := p.Current(context.Background())
		assert.False(t, got.Fallback)
		assert.True(t, got.Raw.Equal(decimal.RequireFromString("5.10")), "raw=%s", got.Raw)
	})

	t.Run("all feeds down uses fallback", func(t *testing.T) {
		down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer down.Close()

		p := newTestProvider(t, []config.RateFeed{
			{URL: down.URL, Expr: ".price"},
		}, 0.25, 4.35)

		got := p.Current(context.Background())
		assert.True(t, got.Fallback)
		assert.Equal(t, "fallback", got.Source)
		assert.True(t, got.Raw.Equal(decimal.RequireFromString("4.35")))
		assert.True(t, got.Adjusted.Equal(decimal.RequireFromString("4.1")), "adjusted=%s", got.Adjusted)
	})

	t.Run("numeric response body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"solana":{"thb":4.85}}`))
		}))
		defer srv.Close()

		p := newTestProvider(t, []config.RateFeed{{URL: srv.URL, Expr: ".solana.thb"}}, 0, 4.35)
		got := p.Current(context.Background())
		assert.False(t, got.Fallback)
		assert.True(t, got.Raw.Equal(decimal.RequireFromString("4.85")))
	})

	t.Run("malformed body falls back", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`not json`))
		}))
		defer srv.Close()

		p := newTestProvider(t, []config.RateFeed{{URL: srv.URL, Expr: ".price"}}, 0, 4.35)
		got := p.Current(context.Background())
		assert.True(t, got.Fallback)
	})

	t.Run("non-positive rate is rejected", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"price":"0"}`))
		}))
		defer srv.Close()

		p := newTestProvider(t, []config.RateFeed{{URL: srv.URL, Expr: ".price"}}, 0, 4.35)
		got := p.Current(context.Background())
		assert.True(t, got.Fallback)
	})

	t.Run("buffer cannot push adjusted below floor", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"price":"0.05"}`))
		}))
		defer srv.Close()

		p := newTestProvider(t, []config.RateFeed{{URL: srv.URL, Expr: ".price"}}, 1.0, 4.35)
		got := p.Current(context.Background())
		assert.True(t, got.Adjusted.Equal(decimal.RequireFromString("0.01")), "adjusted=%s", got.Adjusted)
	})
}

func TestNewProvider(t *testing.T) {
	t.Run("rejects empty feed list", func(t *testing.T) {
		_, err := NewProvider(nil, 0, 4.35, testLogger(), nil)
		assert.Error(t, err)
	})

	t.Run("rejects bad expression", func(t *testing.T) {
		_, err := NewProvider([]config.RateFeed{{URL: "http://example.com", Expr: ".["}}, 0, 4.35, testLogger(), nil)
		assert.Error(t, err)
	})

	t.Run("rejects non-positive fallback", func(t *testing.T) {
		_, err := NewProvider([]config.RateFeed{{URL: "http://example.com", Expr: ".price"}}, 0, 0, testLogger(), nil)
		assert.Error(t, err)
	})
}

func TestPoller(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"price":"4.50"}`))
	}))
	defer srv.Close()

	p := newTestProvider(t, []config.RateFeed{{URL: srv.URL, Expr: ".price"}}, 0.25, 4.35)
	poller := NewPoller(p, 50*time.Millisecond, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	poller.Start(ctx)
	defer poller.Stop()

	// Start performs a synchronous first fetch
	got := poller.Latest()
	assert.False(t, got.FetchedAt.IsZero())
	assert.True(t, got.Raw.Equal(decimal.RequireFromString("4.50")))
	assert.True(t, got.Adjusted.Equal(decimal.RequireFromString("4.25")))
}
