package stats

import (
	"expvar"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewStatsUpdater(t *testing.T) {
	mux := http.NewServeMux()
	su := NewStatsUpdater(mux)
	assert.NotNil(t, su, "expected StatsUpdater to be non-nil")
	assert.NotNil(t, su.updateChan, "expected updateChan to be initialized")
	handler, pattern := mux.Handler(&http.Request{URL: &url.URL{Path: "/debug/vars"}, Method: http.MethodGet})
	assert.NotNil(t, handler, "expected handler for /debug/vars to be set")
	assert.Equal(t, "GET /debug/vars", pattern, "expected handler to be registered for GET method on /debug/vars")
}

func TestStatsUpdater_IncrDecr(t *testing.T) {
	su := &StatsUpdater{
		vars:       new(expvar.Map).Init(),
		updateChan: make(chan *metricsUpdateReq, 8),
	}
	su.RegisterMetric("NumActiveConnections")
	su.Run()
	defer su.Stop()

	su.Incr("NumActiveConnections")
	su.Incr("NumActiveConnections")
	su.Decr("NumActiveConnections")

	assert.Eventually(t, func() bool {
		return su.vars.Get("NumActiveConnections").(*expvar.Int).Value() == 1
	}, time.Second, 10*time.Millisecond, "expected metric to settle at 1")
}

func TestStatsUpdater_FullQueueDoesNotBlock(t *testing.T) {
	su := &StatsUpdater{
		vars:       new(expvar.Map).Init(),
		updateChan: make(chan *metricsUpdateReq, 1),
	}
	su.RegisterMetric("NumActiveCalls")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			su.Incr("NumActiveCalls")
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected Incr not to block while the update loop is not running")
	}

	su.Run()
	defer su.Stop()
	assert.Eventually(t, func() bool {
		return su.vars.Get("NumActiveCalls").(*expvar.Int).Value() == 10
	}, time.Second, 10*time.Millisecond, "expected every update to be recorded")
}

func TestStatsUpdater_UpdateAfterStop(t *testing.T) {
	su := &StatsUpdater{
		vars:       new(expvar.Map).Init(),
		updateChan: make(chan *metricsUpdateReq, 8),
	}
	su.RegisterMetric("NumActiveConnections")
	su.Run()
	su.Stop()

	assert.NotPanics(t, func() {
		su.Incr("NumActiveConnections")
		su.Decr("NumActiveConnections")
		su.Decr("NumActiveConnections")
		su.Stop()
	}, "expected updates and a second Stop after Stop not to panic")
	assert.Equal(t, int64(-1), su.vars.Get("NumActiveConnections").(*expvar.Int).Value())
}
