package radio

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/SaemsCodes/offline-radio/internal/mesh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doJSON(t *testing.T, router http.Handler, method, path, body string) (int, map[string]interface{}) {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var payload map[string]interface{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	}
	return rec.Code, payload
}

func TestHTTPAPI(t *testing.T) {
	tests := []struct {
		name     string
		testFunc func(t *testing.T)
	}{
		{"Status", testHTTPStatus},
		{"MeshDiscover", testHTTPMeshDiscover},
		{"QualityRoundTrip", testHTTPQuality},
		{"Mute", testHTTPMute},
		{"AudioStartErrors", testHTTPAudioStartErrors},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.testFunc(t)
		})
	}
}

func testHTTPStatus(t *testing.T) {
	app := newTestApp(t)
	router := NewRouter(app)

	code, payload := doJSON(t, router, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, app.NodeID(), payload["nodeId"])
	assert.Contains(t, payload, "mesh")
}

func testHTTPMeshDiscover(t *testing.T) {
	app := newTestApp(t)
	app.prober.AddNeighbor("peer-1", mesh.Neighbor{Addr: app.receiver.LocalAddr()})
	router := NewRouter(app)

	code, payload := doJSON(t, router, http.MethodPost, "/api/mesh/discover",
		`{"destination": ""}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, false, payload["success"])
	assert.Contains(t, payload["error"], "destination")

	code, payload = doJSON(t, router, http.MethodPost, "/api/mesh/discover",
		`{"destination": "`+app.NodeID()+`"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, payload["error"], "route to self")

	code, payload = doJSON(t, router, http.MethodPost, "/api/mesh/discover",
		`{"destination": "ghost"}`)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, false, payload["success"])

	code, payload = doJSON(t, router, http.MethodPost, "/api/mesh/discover",
		`{"destination": "peer-1"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, payload["success"])
	assert.Equal(t, app.NodeID(), payload["deviceId"])

	route, ok := payload["route"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "peer-1", route["destination"])
	assert.Equal(t, app.receiver.LocalAddr(), route["nextHop"])
	assert.Equal(t, float64(1), route["hopCount"])
}

func testHTTPQuality(t *testing.T) {
	app := newTestApp(t)
	router := NewRouter(app)

	code, payload := doJSON(t, router, http.MethodGet, "/api/audio/quality", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, payload, "current")
	assert.Contains(t, payload, "presets")

	code, _ = doJSON(t, router, http.MethodPost, "/api/audio/quality",
		`{"quality": "studio"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = doJSON(t, router, http.MethodPost, "/api/audio/quality",
		`{"quality": "high"}`)
	require.Equal(t, http.StatusOK, code)

	code, payload = doJSON(t, router, http.MethodGet, "/api/audio/quality", "")
	require.Equal(t, http.StatusOK, code)
	current := payload["current"].(map[string]interface{})
	assert.Equal(t, float64(64), current["bitrate"])
	assert.Equal(t, float64(2), current["channels"])

	// Restore the default for the other tests.
	code, _ = doJSON(t, router, http.MethodPost, "/api/audio/quality",
		`{"quality": "medium"}`)
	require.Equal(t, http.StatusOK, code)
}

func testHTTPMute(t *testing.T) {
	app := newTestApp(t)
	router := NewRouter(app)

	code, payload := doJSON(t, router, http.MethodPost, "/api/audio/mute",
		`{"muted": true}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, payload["muted"])

	code, payload = doJSON(t, router, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, payload["muted"])

	code, _ = doJSON(t, router, http.MethodPost, "/api/audio/mute",
		`{"muted": false}`)
	require.Equal(t, http.StatusOK, code)
}

func testHTTPAudioStartErrors(t *testing.T) {
	app := newTestApp(t)
	router := NewRouter(app)

	code, _ := doJSON(t, router, http.MethodPost, "/api/audio/start",
		`{"destination": ""}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = doJSON(t, router, http.MethodPost, "/api/audio/start",
		`{"destination": "ghost"}`)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = doJSON(t, router, http.MethodGet, "/api/audio/stats", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = doJSON(t, router, http.MethodPost, "/api/audio/stop", "")
	assert.Equal(t, http.StatusConflict, code)
}
