package main

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/sensordb/sensordb/sensordb"
	"github.com/sensordb/sensordb/sensordb/encoding"
)

// handler exposes the engine over HTTP. Validation failures map to 400,
// everything else the engine already degrades internally.
type handler struct {
	engine    *sensordb.Engine
	rebuilder *sensordb.Rebuilder
	logger    log.Logger
}

func newHandler(engine *sensordb.Engine, rebuilder *sensordb.Rebuilder, logger log.Logger) *handler {
	return &handler{
		engine:    engine,
		rebuilder: rebuilder,
		logger:    logger,
	}
}

func (h *handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/query", h.QueryHandler).Methods("GET")
	r.HandleFunc("/api/query/raw", h.RawQueryHandler).Methods("GET")
	r.HandleFunc("/api/query/aggregated", h.AggregatedQueryHandler).Methods("GET")

	r.HandleFunc("/api/sensors", h.SensorsHandler).Methods("GET")
	r.HandleFunc("/api/assets", h.AssetsHandler).Methods("GET")
	r.HandleFunc("/api/timerange", h.TimeRangeHandler).Methods("GET")

	r.HandleFunc("/api/stats", h.StatsHandler).Methods("GET")
	r.HandleFunc("/api/cache/clear", h.CacheClearHandler).Methods("POST")

	r.HandleFunc("/api/rebuild", h.RebuildHandler).Methods("POST")
	r.HandleFunc("/api/rebuild/validate", h.ValidateHandler).Methods("GET")

	r.HandleFunc("/api/health", h.HealthHandler).Methods("GET")
	r.HandleFunc("/ready", h.ReadyHandler).Methods("GET")
}

func (h *handler) QueryHandler(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	sensors := splitCSV(params.Get("sensors"))
	if len(sensors) == 0 {
		http.Error(w, "sensors parameter is required", http.StatusBadRequest)
		return
	}
	start, end, err := parseRange(params.Get("start"), params.Get("end"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	q := sensordb.Query{
		Sensors:       sensors,
		Assets:        splitCSV(params.Get("assets")),
		Start:         start,
		End:           end,
		IntervalMS:    parseInt64(params.Get("interval_ms")),
		MaxDatapoints: int(parseInt64(params.Get("max_datapoints"))),
		Aggregation:   params.Get("aggregation"),
	}

	res, err := h.engine.Query(r.Context(), q)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.writeResult(w, res)
}

func (h *handler) RawQueryHandler(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	sensors := splitCSV(params.Get("sensors"))
	if len(sensors) == 0 {
		http.Error(w, "sensors parameter is required", http.StatusBadRequest)
		return
	}
	start, end, err := parseRange(params.Get("start"), params.Get("end"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := h.engine.RawQuery(r.Context(), sensors, splitCSV(params.Get("assets")), start, end)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.writeResult(w, res)
}

func (h *handler) AggregatedQueryHandler(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	sensors := splitCSV(params.Get("sensors"))
	if len(sensors) == 0 {
		http.Error(w, "sensors parameter is required", http.StatusBadRequest)
		return
	}
	start, end, err := parseRange(params.Get("start"), params.Get("end"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := h.engine.AggregatedQuery(r.Context(), sensors, splitCSV(params.Get("assets")), start, end,
		parseInt64(params.Get("interval_ms")), int(parseInt64(params.Get("max_datapoints"))), params.Get("aggregation"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.writeResult(w, res)
}

func (h *handler) SensorsHandler(w http.ResponseWriter, r *http.Request) {
	sensors, err := h.engine.SensorNames(r.Context(), r.URL.Query().Get("asset"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sensors": sensors})
}

func (h *handler) AssetsHandler(w http.ResponseWriter, r *http.Request) {
	assets, err := h.engine.AssetIDs(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"assets": assets})
}

func (h *handler) TimeRangeHandler(w http.ResponseWriter, r *http.Request) {
	sensors := splitCSV(r.URL.Query().Get("sensors"))

	min, max, ok, err := h.engine.TimeRange(r.Context(), sensors)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, map[string]interface{}{"found": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"found": true,
		"min":   min.Format(time.RFC3339),
		"max":   max.Format(time.RFC3339),
	})
}

func (h *handler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"queries": h.engine.QueryStats(),
		"cache":   h.engine.CacheStats(),
	})
}

func (h *handler) CacheClearHandler(w http.ResponseWriter, r *http.Request) {
	h.engine.ClearCache()
	level.Info(h.logger).Log("msg", "caches cleared via api")
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
}

func (h *handler) RebuildHandler(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	// sensors and range are optional, the rebuilder resolves them by discovery
	start, _ := parseTime(params.Get("start"))
	end, _ := parseTime(params.Get("end"))

	report, err := h.rebuilder.Rebuild(r.Context(), splitCSV(params.Get("sensors")), start, end)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *handler) ValidateHandler(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	ctx := r.Context()

	start, _ := parseTime(params.Get("start"))
	end, _ := parseTime(params.Get("end"))
	if start.IsZero() || end.IsZero() {
		lo, hi, ok, err := h.engine.TimeRange(ctx, splitCSV(params.Get("sensors")))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if !ok {
			http.Error(w, "no partitions to validate", http.StatusNotFound)
			return
		}
		start, end = lo, hi.Add(time.Hour)
	}

	reports, err := h.rebuilder.Validate(ctx, splitCSV(params.Get("sensors")), start, end)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"coverage": reports})
}

func (h *handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	report := h.engine.HealthCheck(r.Context())
	code := http.StatusOK
	if !report.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, report)
}

func (h *handler) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready\n"))
}

// queryResponse is the wire shape of a query result. Columns are keyed by
// name; times as RFC3339Nano, missing numbers as null.
type queryResponse struct {
	TierUsed           string                 `json:"tier_used"`
	CacheHit           bool                   `json:"cache_hit"`
	ExecutionTimeMS    int64                  `json:"execution_time_ms"`
	Truncated          bool                   `json:"truncated,omitempty"`
	ActualEndTime      string                 `json:"actual_end_time,omitempty"`
	OriginalDatapoints int                    `json:"original_datapoints"`
	Count              int                    `json:"count"`
	Error              string                 `json:"error,omitempty"`
	Columns            map[string]interface{} `json:"columns"`
}

func (h *handler) writeResult(w http.ResponseWriter, res *sensordb.Result) {
	resp := queryResponse{
		TierUsed:           res.TierUsed,
		CacheHit:           res.CacheHit,
		ExecutionTimeMS:    res.ExecutionTimeMS,
		Truncated:          res.Truncated,
		OriginalDatapoints: res.OriginalDatapoints,
		Count:              res.Count(),
		Error:              res.Error,
		Columns:            columnsJSON(res.Data),
	}
	if !res.ActualEndTime.IsZero() {
		resp.ActualEndTime = res.ActualEndTime.Format(time.RFC3339Nano)
	}
	writeJSON(w, http.StatusOK, resp)
}

func columnsJSON(b *encoding.Batch) map[string]interface{} {
	out := make(map[string]interface{})
	if b == nil {
		return out
	}
	for _, name := range b.ColumnNames() {
		col, _ := b.Column(name)
		switch col.Type {
		case encoding.TypeTime:
			vals := make([]*string, len(col.Times))
			for i, t := range col.Times {
				if t.IsZero() {
					continue
				}
				s := t.Format(time.RFC3339Nano)
				vals[i] = &s
			}
			out[name] = vals
		case encoding.TypeNumber:
			// NaN is not representable in JSON
			vals := make([]*float64, len(col.Numbers))
			for i := range col.Numbers {
				if math.IsNaN(col.Numbers[i]) {
					continue
				}
				vals[i] = &col.Numbers[i]
			}
			out[name] = vals
		case encoding.TypeString:
			out[name] = col.Strings
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseRange(startStr, endStr string) (time.Time, time.Time, error) {
	start, err := parseTime(startStr)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := parseTime(endStr)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

// parseTime accepts RFC3339 or unix epoch seconds.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("missing time parameter")
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, errors.Errorf("unparseable time %q", s)
	}
	return time.Unix(sec, 0).UTC(), nil
}

func parseInt64(s string) int64 {
	if s == "" {
		return 0
	}
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}
