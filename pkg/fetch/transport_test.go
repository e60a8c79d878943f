package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carindex/pkg/utils"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func testEntry() *logrus.Entry {
	return testLogger().WithField("test", true)
}

func TestPlainTransportGet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		fmt.Fprint(w, "hello")
	}))
	defer server.Close()

	tr := NewPlainTransport(server.Client(), "test-agent", nil, testEntry())
	body, err := tr.Get(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))
}

func TestPlainTransportStatusErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		sentinel error
	}{
		{"forbidden", http.StatusForbidden, utils.ErrBlockedRequest},
		{"not found", http.StatusNotFound, utils.ErrClientHTTPError},
		{"server error", http.StatusInternalServerError, utils.ErrServerHTTPError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer server.Close()

			tr := NewPlainTransport(server.Client(), "test-agent", nil, testEntry())
			_, err := tr.Get(context.Background(), server.URL)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.sentinel)
		})
	}
}

func TestPlainTransportPost(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer server.Close()

	tr := NewPlainTransport(server.Client(), "test-agent", nil, testEntry())
	body, err := tr.Post(context.Background(), server.URL, "application/json", []byte(`{"q":1}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
}

func TestImpersonatingTransportRetriesBlocked(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		fmt.Fprint(w, "unblocked")
	}))
	defer server.Close()

	tr := NewImpersonatingTransport("test-agent", 5*time.Second, 2, testEntry())
	defer tr.Close()

	body, err := tr.Get(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "unblocked", string(body))
	assert.Equal(t, int32(2), calls.Load())
}

func TestImpersonatingTransportGivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	tr := NewImpersonatingTransport("test-agent", 5*time.Second, 1, testEntry())
	defer tr.Close()

	_, err := tr.Get(context.Background(), server.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrRetryFailed)
	assert.ErrorIs(t, err, utils.ErrBlockedRequest)
	assert.Equal(t, int32(2), calls.Load()) // initial attempt + 1 retry
}

func TestImpersonatingTransportNoRetryOn404(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	tr := NewImpersonatingTransport("test-agent", 5*time.Second, 3, testEntry())
	defer tr.Close()

	_, err := tr.Get(context.Background(), server.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrClientHTTPError)
	assert.Equal(t, int32(1), calls.Load())
}

func TestImpersonatingTransportSendsBrowserHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		assert.NotEmpty(t, r.Header.Get("Accept-Language"))
		assert.Equal(t, "1", r.Header.Get("Upgrade-Insecure-Requests"))
		fmt.Fprint(w, "ok")
	}))
	defer server.Close()

	tr := NewImpersonatingTransport("test-agent", 5*time.Second, 0, testEntry())
	defer tr.Close()

	_, err := tr.Get(context.Background(), server.URL)
	require.NoError(t, err)
}

func TestImpersonatingTransportClosed(t *testing.T) {
	tr := NewImpersonatingTransport("test-agent", time.Second, 0, testEntry())
	require.NoError(t, tr.Close())

	_, err := tr.Get(context.Background(), "http://example.invalid/")
	assert.ErrorIs(t, err, utils.ErrTransportClosed)
}

func TestCachedTransportServesSecondGetFromCache(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, "cached-body")
	}))
	defer server.Close()

	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	require.NoError(t, err)
	defer db.Close()

	inner := NewPlainTransport(server.Client(), "test-agent", nil, testEntry())
	tr := NewCachedTransport(inner, db, time.Hour, testEntry())

	for i := 0; i < 3; i++ {
		body, err := tr.Get(context.Background(), server.URL)
		require.NoError(t, err)
		assert.Equal(t, "cached-body", string(body))
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestRobotsGateDisallows(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "User-agent: *\nDisallow: /private/\n")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	gate := NewRobotsGate(server.Client(), "test-agent", testEntry())
	assert.True(t, gate.Allowed(context.Background(), server.URL+"/public/page"))
	assert.False(t, gate.Allowed(context.Background(), server.URL+"/private/page"))
}

func TestRobotsGateAllowsOnFetchFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	gate := NewRobotsGate(server.Client(), "test-agent", testEntry())
	assert.True(t, gate.Allowed(context.Background(), server.URL+"/anything"))
}

func TestRateLimiterDelaysSecondRequest(t *testing.T) {
	rl := NewRateLimiter(50*time.Millisecond, testLogger())

	rl.UpdateLastRequestTime("example.com")
	start := time.Now()
	rl.ApplyDelay("example.com", 50*time.Millisecond)
	elapsed := time.Since(start)

	// Jitter is +/-10%, so anything past ~40ms proves the sleep happened
	assert.GreaterOrEqual(t, elapsed, 40*time.Millisecond)
}

func TestRateLimiterNoDelayForNewHost(t *testing.T) {
	rl := NewRateLimiter(time.Second, testLogger())

	start := time.Now()
	rl.ApplyDelay("fresh.example.com", time.Second)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}
