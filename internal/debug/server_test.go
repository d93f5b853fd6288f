package debug

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadrelay/threadrelay/internal/common/logger"
	"github.com/threadrelay/threadrelay/internal/session"
	"github.com/threadrelay/threadrelay/internal/threadlog"
)

func newTestServer(t *testing.T, tlog *threadlog.Store) *Server {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stdout"})
	require.NoError(t, err)
	return NewServer("127.0.0.1:0", map[string]*session.Manager{}, tlog, log)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 0, body["sessions"])
}

func TestSessionsEmpty(t *testing.T) {
	s := newTestServer(t, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"platforms":{}}`, w.Body.String())
}

func TestThreadLogEndpoint(t *testing.T) {
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stdout"})
	require.NoError(t, err)
	tlog, err := threadlog.NewStore(t.TempDir(), log)
	require.NoError(t, err)
	t.Cleanup(tlog.Close)

	tlog.Log("fake", "fake:t1", threadlog.TypeLifecycle, map[string]any{"phase": "started"})
	tlog.Flush()

	s := newTestServer(t, tlog)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/threadlog/fake/fake:t1", nil)
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"phase":"started"`)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/threadlog/fake/nope", nil)
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
