package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/arduino-trader/internal/signal"
)

func TestDispatchAggregate_FiltersAndRateLimits(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := NewDispatcher(SinkConfig{
		Name:            "aggregate",
		URL:             server.URL,
		MinConfidence:   0.5,
		MinStrength:     signal.Weak,
		RateLimitWindow: time.Hour,
	}, nil, time.Second, zerolog.Nop())

	signals := []signal.Signal{
		{AssetID: "bitcoin", Confidence: 0.9, Strength: signal.Strong},
		{AssetID: "ethereum", Confidence: 0.9, Strength: signal.Strong}, // second one rate-limited
	}
	d.DispatchAggregate(context.Background(), signals)

	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDispatchAggregate_LowConfidenceSuppressed(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := NewDispatcher(SinkConfig{
		Name:          "aggregate",
		URL:           server.URL,
		MinConfidence: 0.8,
	}, nil, time.Second, zerolog.Nop())

	d.DispatchAggregate(context.Background(), []signal.Signal{{AssetID: "bitcoin", Confidence: 0.2}})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestDispatch_FailureDoesNotBurnRateLimitWindow(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := NewDispatcher(SinkConfig{
		Name:            "aggregate",
		URL:             server.URL,
		RateLimitWindow: time.Hour,
	}, nil, time.Second, zerolog.Nop())

	sig := signal.Signal{AssetID: "bitcoin", Confidence: 0.9, Strength: signal.Strong}
	d.DispatchAggregate(context.Background(), []signal.Signal{sig})
	d.DispatchAggregate(context.Background(), []signal.Signal{sig})

	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 2 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, d.aggregate.Failures())
}
