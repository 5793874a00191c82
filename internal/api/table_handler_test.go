package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"probecal/domain/calibration"
	"probecal/internal"
)

func testTable(t *testing.T) *calibration.Table {
	t.Helper()
	spec := calibration.GridSpec{XMin: 0, XMax: 3, YMin: 0, YMax: 2.5, Step: 0.5}
	table, err := calibration.Sample(spec, map[calibration.Variable]calibration.Evaluator{
		calibration.Alpha:         calibration.EvaluatorFunc(func(x, y float64) float64 { return 10 * x }),
		calibration.Beta:          calibration.EvaluatorFunc(func(x, y float64) float64 { return 10 * y }),
		calibration.QOverDp0:      calibration.EvaluatorFunc(func(x, y float64) float64 { return 1 }),
		calibration.MinusSOverDp0: calibration.EvaluatorFunc(func(x, y float64) float64 { return 0.5 }),
	}, "bench")
	require.NoError(t, err)
	return table
}

func testServer(t *testing.T) (*Server, *calibration.Table) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := internal.NewLoggerTo(&bytes.Buffer{}, internal.LogLevelTrace)
	table := testTable(t)
	handler, err := NewTableHandler(table, "bench.h", logger)
	require.NoError(t, err)
	return NewServer(handler, logger), table
}

func get(t *testing.T, s *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	s.Router().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	s, table := testServer(t)
	w := get(t, s, "/healthz")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, table.Fingerprint().String(), body["fingerprint"])
}

func TestGetTable(t *testing.T) {
	s, table := testServer(t)
	w := get(t, s, "/tables")
	require.Equal(t, http.StatusOK, w.Code)

	var body TableInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "bench", body.Prefix)
	assert.Equal(t, "bench.h", body.Source)
	assert.Equal(t, table.Fingerprint().String(), body.Fingerprint)
	require.Len(t, body.Surfaces, 4)
	for i, v := range calibration.Variables {
		assert.Equal(t, v.String(), body.Surfaces[i].Variable)
		assert.Equal(t, calibration.Axis{Size: 7, Step: 0.5, ZeroOffset: 0}, body.Surfaces[i].X)
		assert.Equal(t, calibration.Axis{Size: 6, Step: 0.5, ZeroOffset: 0}, body.Surfaces[i].Y)
	}
}

func TestGetSurface(t *testing.T) {
	s, table := testServer(t)
	w := get(t, s, "/tables/beta")
	require.Equal(t, http.StatusOK, w.Code)

	var body SurfaceBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	want, err := table.Surface(calibration.Beta)
	require.NoError(t, err)
	assert.Equal(t, "beta", body.Variable)
	assert.Equal(t, want.Comment, body.Comment)
	assert.Equal(t, want.Data, body.Data)

	assert.Equal(t, http.StatusNotFound, get(t, s, "/tables/gamma").Code)
}

func TestGetAirData(t *testing.T) {
	s, _ := testServer(t)

	w := get(t, s, "/airdata?dp0=2&dpa=-2&dpb=1&baro=100")
	require.Equal(t, http.StatusOK, w.Code)
	var air calibration.AirData
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &air))
	assert.InDelta(t, -10, air.Alpha, 1e-12)
	assert.InDelta(t, 5, air.Beta, 1e-12)
	assert.InDelta(t, 2, air.Q, 1e-12)
	assert.InDelta(t, 101, air.P, 1e-12)
}

func TestGetAirDataRejectsBadReadings(t *testing.T) {
	s, _ := testServer(t)
	tests := []struct {
		name   string
		target string
		status int
	}{
		{"missing dp0", "/airdata?dpa=1&dpb=1", http.StatusBadRequest},
		{"not a number", "/airdata?dp0=x&dpa=1&dpb=1", http.StatusBadRequest},
		{"zero dp0", "/airdata?dp0=0&dpa=1&dpb=1", http.StatusUnprocessableEntity},
		{"outside table", "/airdata?dp0=1&dpa=5&dpb=0", http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(t, s, tt.target)
			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, w.Body.String(), "error")
		})
	}
}

func TestNewTableHandlerRejectsInvalidTable(t *testing.T) {
	_, err := NewTableHandler(&calibration.Table{Prefix: "bench"}, "", nil)
	assert.Error(t, err)
}
