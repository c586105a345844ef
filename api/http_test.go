package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxbridge/phone-agent/config"
	"github.com/voxbridge/phone-agent/logging"
	"github.com/voxbridge/phone-agent/session"
	"github.com/voxbridge/phone-agent/types"
)

func newTestServer(t *testing.T) (*Server, *session.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ring := logging.NewRingHandler(slog.NewTextHandler(io.Discard, nil), 64)
	log := slog.New(ring)

	devPath := filepath.Join(t.TempDir(), "devices.yaml")
	require.NoError(t, os.WriteFile(devPath, []byte("devices:\n  - name: Assistant\n    extension: \"7000\"\n    voice: en-amy\n"), 0o644))
	devices, err := config.LoadDevices(devPath)
	require.NoError(t, err)

	bus := session.NewManager(log)
	return NewServer(log, bus, nil, devices, ring), bus
}

func do(t *testing.T, r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	w := do(t, s.Router(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestCommandEndpointStatusMapping(t *testing.T) {
	s, bus := newTestServer(t)
	r := s.Router()

	// Unknown call.
	w := do(t, r, http.MethodPost, "/calls/nope/command", `{"type":"hangup"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	bus.Register(&types.CallSession{ID: "c1", CallerID: "1001"})

	// Bad bodies.
	w = do(t, r, http.MethodPost, "/calls/c1/command", `{"type":"dance"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(t, r, http.MethodPost, "/calls/c1/command", `{"type":"speak"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(t, r, http.MethodPost, "/calls/c1/command", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Accepted, then the mailbox is occupied.
	w = do(t, r, http.MethodPost, "/calls/c1/command", `{"type":"speak","text":"hello caller"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	w = do(t, r, http.MethodPost, "/calls/c1/command", `{"type":"hangup"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestListCalls(t *testing.T) {
	s, bus := newTestServer(t)
	call := &types.CallSession{
		ID:        "c1",
		Direction: types.DirectionInbound,
		CallerID:  "1001",
		Device:    types.DeviceConfig{Name: "Assistant"},
	}
	call.SetState(types.StateListening)
	bus.Register(call)

	w := do(t, s.Router(), http.MethodGet, "/calls", "")
	require.Equal(t, http.StatusOK, w.Code)

	var parsed struct {
		Calls []map[string]any `json:"calls"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &parsed))
	require.Len(t, parsed.Calls, 1)
	assert.Equal(t, "c1", parsed.Calls[0]["call_id"])
	assert.Equal(t, "Assistant", parsed.Calls[0]["device"])
	assert.Equal(t, "listening", parsed.Calls[0]["state"])
}

func TestLogsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	s.log.Info("hello from a call", "call_id", "c1")

	w := do(t, s.Router(), http.MethodGet, "/logs?n=10", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "hello from a call")
}

func TestDevicesReload(t *testing.T) {
	s, _ := newTestServer(t)
	w := do(t, s.Router(), http.MethodPost, "/devices/reload", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"devices":1`)
}
