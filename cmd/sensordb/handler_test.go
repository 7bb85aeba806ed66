package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sensordb/sensordb/sensordb"
	"github.com/sensordb/sensordb/sensordb/backend/local"
	"github.com/sensordb/sensordb/sensordb/encoding"
	"github.com/sensordb/sensordb/sensordb/partition"
)

var testStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func testRouter(t *testing.T) *mux.Router {
	t.Helper()

	dir := t.TempDir()

	// seed one raw partition through a throwaway backend on the same dir
	b, err := local.New(&local.Config{Path: dir}, log.NewNopLogger())
	require.NoError(t, err)

	batch := encoding.NewBatch()
	for i := 0; i < 60; i++ {
		batch.AppendRow(map[string]interface{}{
			encoding.ColumnTimestamp: testStart.Add(time.Duration(i) * time.Second),
			encoding.ColumnSensor:    "temperature",
			encoding.ColumnAsset:     "press-01",
			"temperature":            float64(i),
		})
	}
	data, err := encoding.Marshal(batch)
	require.NoError(t, err)
	require.NoError(t, b.Write(context.Background(), partition.Path(partition.TierRaw, "press-01", "temperature", testStart), data))

	cfg := sensordb.DefaultConfig()
	cfg.Local = &local.Config{Path: dir}

	engine, err := sensordb.New(cfg, log.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(engine.Shutdown)

	router := mux.NewRouter()
	newHandler(engine, sensordb.NewRebuilder(engine, log.NewNopLogger()), log.NewNopLogger()).RegisterRoutes(router)
	return router
}

func get(t *testing.T, router *mux.Router, url string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, url, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestQueryEndpoint(t *testing.T) {
	router := testRouter(t)

	w := get(t, router, "/api/query?sensors=temperature&start=2024-01-01T00:00:00Z&end=2024-01-01T00:01:00Z")
	require.Equal(t, http.StatusOK, w.Code)

	var resp queryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "raw", resp.TierUsed)
	assert.Equal(t, 60, resp.Count)
	assert.Contains(t, resp.Columns, "temperature")
	assert.Contains(t, resp.Columns, "timestamp")
}

func TestQueryEndpointRequiresSensors(t *testing.T) {
	router := testRouter(t)

	w := get(t, router, "/api/query?start=2024-01-01T00:00:00Z&end=2024-01-01T00:01:00Z")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQueryEndpointRejectsBadRange(t *testing.T) {
	router := testRouter(t)

	// end before start fails engine validation
	w := get(t, router, "/api/query?sensors=temperature&start=2024-01-01T00:01:00Z&end=2024-01-01T00:00:00Z")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDiscoveryEndpoints(t *testing.T) {
	router := testRouter(t)

	w := get(t, router, "/api/sensors")
	require.Equal(t, http.StatusOK, w.Code)
	var sensors struct {
		Sensors []string `json:"sensors"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sensors))
	assert.Equal(t, []string{"temperature"}, sensors.Sensors)

	w = get(t, router, "/api/assets")
	require.Equal(t, http.StatusOK, w.Code)
	var assets struct {
		Assets []string `json:"assets"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &assets))
	assert.Equal(t, []string{"press-01"}, assets.Assets)

	w = get(t, router, "/api/timerange?sensors=temperature")
	require.Equal(t, http.StatusOK, w.Code)
	var tr struct {
		Found bool   `json:"found"`
		Min   string `json:"min"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tr))
	assert.True(t, tr.Found)
	assert.Equal(t, "2024-01-01T00:00:00Z", tr.Min)
}

func TestHealthAndReady(t *testing.T) {
	router := testRouter(t)

	w := get(t, router, "/api/health")
	assert.Equal(t, http.StatusOK, w.Code)

	w = get(t, router, "/ready")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStatsEndpoint(t *testing.T) {
	router := testRouter(t)

	get(t, router, "/api/query?sensors=temperature&start=2024-01-01T00:00:00Z&end=2024-01-01T00:01:00Z")

	w := get(t, router, "/api/stats")
	require.Equal(t, http.StatusOK, w.Code)
	var stats struct {
		Queries struct {
			TotalQueries int64 `json:"total_queries"`
		} `json:"queries"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, int64(1), stats.Queries.TotalQueries)
}

func TestParseTime(t *testing.T) {
	ts, err := parseTime("2024-01-01T00:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, testStart, ts)

	ts, err = parseTime("1704067200")
	require.NoError(t, err)
	assert.True(t, ts.Equal(testStart))

	_, err = parseTime("")
	assert.Error(t, err)

	_, err = parseTime("garbage")
	assert.Error(t, err)
}
