package stats

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStatsUpdater(t *testing.T) {
	mux := http.NewServeMux()
	su := NewStatsUpdater(mux)
	assert.NotNil(t, su, "expected StatsUpdater to be non-nil")
	assert.NotNil(t, su.updateChan, "expected updateChan to be initialized")
	handler, pattern := mux.Handler(&http.Request{URL: &url.URL{Path: "/debug/vars"}, Method: http.MethodGet})
	assert.NotNil(t, handler, "expected handler for /debug/vars to be set")
	assert.Equal(t, "GET /debug/vars", pattern, "expected handler to be registered for GET method on /debug/vars")

	// a second updater must not collide with the first
	assert.NotPanics(t, func() { NewStatsUpdater(http.NewServeMux()) })
}

func TestStatsUpdater_IncrDecr(t *testing.T) {
	mux := http.NewServeMux()
	su := NewStatsUpdater(mux)
	su.RegisterMetric(NumActiveSessions)
	su.RegisterMetric(NumActiveSessions)
	su.Run()
	defer su.Stop()

	su.Incr(NumActiveSessions)
	su.Incr(NumActiveSessions)
	su.Decr(NumActiveSessions)

	assert.Eventually(t, func() bool {
		return su.Value(NumActiveSessions) == 1
	}, time.Second, 10*time.Millisecond, "expected counter to settle at 1")

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/debug/vars", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	var body map[string]any
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, float64(1), body[NumActiveSessions], "expected counter in response")
	assert.Contains(t, body, "Uptime", "expected uptime in response")
}

func TestStatsUpdater_StopTwice(t *testing.T) {
	su := NewStatsUpdater(http.NewServeMux())
	su.Run()
	su.Stop()
	assert.NotPanics(t, su.Stop, "expected second stop to be a no-op")
}

func TestStatsUpdater_UpdateAfterStop(t *testing.T) {
	su := NewStatsUpdater(http.NewServeMux())
	su.RegisterMetric(NumActiveRooms)
	su.Run()
	su.Stop()

	// more updates than the queue holds must neither panic nor block
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NotPanics(t, func() {
			for range 2 * cap(su.updateChan) {
				su.Decr(NumActiveRooms)
			}
			su.Incr(NumActiveRooms)
		})
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected updates after stop to return")
	}
}
