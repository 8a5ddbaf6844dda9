package health

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTracker_NotReadyUntilSet(t *testing.T) {
	tr := NewTracker()
	assert.False(t, tr.Ready())
	assert.False(t, tr.Alive(), "alive requires ready")

	tr.SetReady(true)
	assert.True(t, tr.Ready())
	assert.True(t, tr.Alive())
}

func TestTracker_StoppedIsNotAlive(t *testing.T) {
	tr := NewTracker()
	tr.SetReady(true)
	require_true(t, tr.Alive())

	tr.Stop()
	assert.False(t, tr.Alive())
}

func TestTracker_FatalIsNotAlive(t *testing.T) {
	tr := NewTracker()
	tr.SetReady(true)
	tr.MarkFatal()
	assert.False(t, tr.Alive())
}

func TestTracker_StaleHeartbeatIsNotAlive(t *testing.T) {
	tr := NewTracker()
	tr.SetReady(true)
	tr.lastBeatNs.Store(time.Now().Add(-HeartbeatStaleAfter * 2).UnixNano())
	assert.False(t, tr.Alive())
}

func TestReadyHandler(t *testing.T) {
	tr := NewTracker()

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	w := httptest.NewRecorder()
	ReadyHandler(tr).ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	tr.SetReady(true)
	w = httptest.NewRecorder()
	ReadyHandler(tr).ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func require_true(t *testing.T, ok bool) {
	t.Helper()
	if !ok {
		t.Fatal("expected true")
	}
}
