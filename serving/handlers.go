package serving

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/YuminosukeSato/failrisk/dataset"
	"github.com/YuminosukeSato/failrisk/pkg/errors"
	"github.com/YuminosukeSato/failrisk/pkg/log"
)

const requestIDHeader = "X-Request-ID"

// HealthMessage is returned by /health while the model is serving.
const HealthMessage = "Prediction API Running Successfully 🚀"

type ctxKey int

const loggerKey ctxKey = iota

// withRequestID tags every request with an id, taken from the client when it
// sends one.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(requestIDHeader, id)
		logger := s.logger.With(log.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), loggerKey, logger)))
	})
}

func loggerFrom(ctx context.Context, fallback log.Logger) log.Logger {
	if l, ok := ctx.Value(loggerKey).(log.Logger); ok {
		return l
	}
	return fallback
}

type healthResponse struct {
	Message string `json:"message"`
}

type predictResponse struct {
	Status     string `json:"status"`
	Prediction string `json:"prediction"`
}

type bulkRequest struct {
	Records *[]json.RawMessage `json:"records"`
}

type bulkResponse struct {
	TotalRecords int      `json:"total_records"`
	Predictions  []string `json:"predictions"`
}

type errorResponse struct {
	Status string `json:"status"`
	Detail string `json:"detail"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if !s.predictor.Ready() {
		s.metrics.Ready.Set(0)
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Message: "Prediction API is not ready"})
		return
	}
	s.metrics.Ready.Set(1)
	writeJSON(w, http.StatusOK, healthResponse{Message: HealthMessage})
}

func (s *Server) predict(w http.ResponseWriter, r *http.Request) {
	if !s.ready(w, "predict") {
		return
	}
	body, ok := s.readBody(w, r, "predict")
	if !ok {
		return
	}
	record, err := dataset.DecodeRecord(body)
	if err != nil {
		s.reject(w, "predict", http.StatusUnprocessableEntity, "invalid_record", err.Error())
		return
	}

	key := cacheKey(record)
	if s.cache != nil {
		if v, hit := s.cache.Get(key); hit {
			s.metrics.CacheHits.Inc()
			s.metrics.Predictions.Inc()
			loggerFrom(r.Context(), s.logger).Debug("Prediction served from cache", log.CacheHitKey, true)
			writeJSON(w, http.StatusOK, predictResponse{Status: "success", Prediction: v.(string)})
			return
		}
		s.metrics.CacheMisses.Inc()
	}

	labels, err := s.predictor.Predict([]dataset.Record{record})
	if err != nil {
		s.fail(w, r, "predict", err)
		return
	}
	if s.cache != nil {
		s.cache.Add(key, labels[0])
	}
	s.metrics.Predictions.Inc()
	writeJSON(w, http.StatusOK, predictResponse{Status: "success", Prediction: labels[0]})
}

func (s *Server) predictBulk(w http.ResponseWriter, r *http.Request) {
	if !s.ready(w, "predict_bulk") {
		return
	}
	body, ok := s.readBody(w, r, "predict_bulk")
	if !ok {
		return
	}
	var req bulkRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.reject(w, "predict_bulk", http.StatusUnprocessableEntity, "invalid_body", "body must be {\"records\": [...]}: "+err.Error())
		return
	}
	if req.Records == nil {
		s.reject(w, "predict_bulk", http.StatusUnprocessableEntity, "invalid_body", "missing required field(s): records")
		return
	}
	items := *req.Records
	if limit := s.cfg.MaxBulkRecords; limit > 0 && len(items) > limit {
		s.reject(w, "predict_bulk", http.StatusRequestEntityTooLarge, "too_many_records",
			"too many records: "+strconv.Itoa(len(items))+" > "+strconv.Itoa(limit))
		return
	}
	records, err := dataset.DecodeRecords(items)
	if err != nil {
		s.reject(w, "predict_bulk", http.StatusUnprocessableEntity, "invalid_record", err.Error())
		return
	}

	s.metrics.BatchSize.Observe(float64(len(records)))
	labels, err := s.predictor.Predict(records)
	if err != nil {
		s.fail(w, r, "predict_bulk", err)
		return
	}
	s.metrics.Predictions.Add(float64(len(labels)))
	loggerFrom(r.Context(), s.logger).Info("Bulk prediction",
		log.OperationKey, log.OperationPredict,
		log.BatchSizeKey, len(records),
	)
	writeJSON(w, http.StatusOK, bulkResponse{TotalRecords: len(labels), Predictions: labels})
}

func (s *Server) ready(w http.ResponseWriter, route string) bool {
	if s.predictor.Ready() {
		return true
	}
	s.reject(w, route, http.StatusServiceUnavailable, "not_ready", "model is not loaded")
	return false
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request, route string) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.reject(w, route, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large")
		return nil, false
	}
	return body, true
}

// reject answers a client error.
func (s *Server) reject(w http.ResponseWriter, route string, status int, reason, detail string) {
	s.metrics.Failures.WithLabelValues(route, reason).Inc()
	writeJSON(w, status, errorResponse{Status: "error", Detail: detail})
}

// fail answers a prediction failure with a generic body; the cause is only
// logged.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, route string, err error) {
	reason := "prediction"
	if errors.Is(err, errors.ErrNotReady) {
		reason = "not_ready"
	}
	loggerFrom(r.Context(), s.logger).Error("Prediction failed",
		log.RouteKey, route,
		log.ErrAttrKey, err,
	)
	s.metrics.Failures.WithLabelValues(route, reason).Inc()
	writeJSON(w, http.StatusInternalServerError, errorResponse{Status: "error", Detail: "prediction failed"})
}

// cacheKey identifies a record by its feature cells only, so identity fields
// and JSON formatting do not split the cache.
func cacheKey(r dataset.Record) string {
	b, _ := json.Marshal(r.Cells())
	return string(b)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
