package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Tutortoise/traffic-signal-service/apperrors"
	"github.com/Tutortoise/traffic-signal-service/detections"
	"github.com/Tutortoise/traffic-signal-service/logger"
	"github.com/Tutortoise/traffic-signal-service/models"
	"github.com/Tutortoise/traffic-signal-service/pipeline"
	"github.com/Tutortoise/traffic-signal-service/store"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// History reads stored detections and records user feedback about them.
type History interface {
	Find(ctx context.Context, id int64) (store.Record, error)
	Report(ctx context.Context, id int64, actual models.ColorLabel) error
}

// PoolReporter exposes session pool usage for the metrics endpoint.
type PoolReporter interface {
	Metrics() detections.PoolStats
}

type AppState struct {
	Pipeline       *pipeline.Pipeline
	History        History
	Pool           PoolReporter
	MaxBodySize    int64
	RequestTimeout time.Duration
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

type MetricsResponse struct {
	pipeline.Snapshot
	Pool *detections.PoolStats `json:"pool,omitempty"`
}

type reportRequest struct {
	ActualColor string `json:"actual_color"`
}

func (s *AppState) Routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.requestMiddleware)
	r.HandleFunc("/detect", s.handleDetect).Methods(http.MethodPost)
	r.HandleFunc("/detect-color", s.handleDetectColor).Methods(http.MethodPost)
	r.HandleFunc("/detections/{id}", s.handleGetDetection).Methods(http.MethodGet)
	r.HandleFunc("/detections/{id}/report", s.handleReport).Methods(http.MethodPost)
	s.addMonitoringRoutes(r)
	return r
}

func (s *AppState) addMonitoringRoutes(r *mux.Router) {
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
}

// requestMiddleware bounds the request context and body, and logs each
// request once it completes.
func (s *AppState) requestMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := strconv.FormatInt(start.UnixNano(), 10)

		if s.RequestTimeout > 0 {
			ctx, cancel := context.WithTimeout(r.Context(), s.RequestTimeout)
			defer cancel()
			r = r.WithContext(ctx)
		}
		if s.MaxBodySize > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, s.MaxBodySize)
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		logger.WithFields(logrus.Fields{
			"request_id": requestID,
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     rec.status,
			"duration":   time.Since(start).String(),
		}).Info("Handled request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *AppState) handleDetect(w http.ResponseWriter, r *http.Request) {
	imgBytes, err := readImage(r)
	if err != nil {
		sendError(w, err)
		return
	}

	result, err := s.Pipeline.Process(r.Context(), imgBytes)
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, result)
}

func (s *AppState) handleDetectColor(w http.ResponseWriter, r *http.Request) {
	imgBytes, err := readImage(r)
	if err != nil {
		sendError(w, err)
		return
	}

	result, err := s.Pipeline.DetectColor(r.Context(), imgBytes)
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, result)
}

// detectionID resolves the {id} route variable, failing when history is
// disabled or the id is malformed.
func (s *AppState) detectionID(r *http.Request) (int64, error) {
	if s.History == nil {
		return 0, apperrors.NewUnavailableError(MsgHistoryDisabled)
	}
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.NewInvalidInputError(MsgInvalidDetectionID)
	}
	return id, nil
}

func (s *AppState) handleGetDetection(w http.ResponseWriter, r *http.Request) {
	id, err := s.detectionID(r)
	if err != nil {
		sendError(w, err)
		return
	}

	rec, err := s.History.Find(r.Context(), id)
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, rec)
}

func (s *AppState) handleReport(w http.ResponseWriter, r *http.Request) {
	id, err := s.detectionID(r)
	if err != nil {
		sendError(w, err)
		return
	}

	var req reportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, bodyError("invalid JSON body", err))
		return
	}

	actual := models.ColorLabel(strings.ToLower(strings.TrimSpace(req.ActualColor)))
	if err := s.History.Report(r.Context(), id, actual); err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"id": id, "actual_color": actual, "reported": true})
}

func (s *AppState) handleHealth(w http.ResponseWriter, _ *http.Request) {
	sendJSON(w, http.StatusOK, s.Pipeline.Health())
}

func (s *AppState) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	resp := MetricsResponse{Snapshot: s.Pipeline.Snapshot()}
	if s.Pool != nil {
		stats := s.Pool.Metrics()
		resp.Pool = &stats
	}
	sendJSON(w, http.StatusOK, resp)
}

// readImage extracts the image payload from a multipart "image" field, a
// JSON body with a base64 "image" field, or the raw body.
func readImage(r *http.Request) ([]byte, error) {
	contentType := r.Header.Get("Content-Type")

	var (
		data []byte
		err  error
	)
	switch {
	case strings.HasPrefix(contentType, "multipart/form-data"):
		data, err = handleMultipartRequest(r)
	case strings.HasPrefix(contentType, "application/json"):
		data, err = handleJSONRequest(r)
	default:
		data, err = handleRawRequest(r)
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, apperrors.NewMissingInputError(MsgEmptyBody)
	}
	return data, nil
}

func handleJSONRequest(r *http.Request) ([]byte, error) {
	var req struct {
		Image string `json:"image"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, bodyError("invalid JSON body", err)
	}
	if req.Image == "" {
		return nil, apperrors.NewMissingInputError(MsgMissingImageField)
	}
	data, err := base64.StdEncoding.DecodeString(req.Image)
	if err != nil {
		return nil, apperrors.NewInvalidInputError(MsgInvalidBase64)
	}
	return data, nil
}

func handleMultipartRequest(r *http.Request) ([]byte, error) {
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		return nil, bodyError("invalid multipart body", err)
	}

	file, header, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		// A part sent without a filename is parsed as a plain form value.
		if _, ok := r.MultipartForm.Value["image"]; ok {
			return nil, apperrors.NewMissingInputError(MsgEmptyFilename)
		}
		return nil, apperrors.NewMissingInputError(MsgMissingImageField)
	}
	if err != nil {
		return nil, apperrors.NewInvalidInputError(err.Error())
	}
	defer file.Close()

	if emptyFilename(header) {
		return nil, apperrors.NewMissingInputError(MsgEmptyFilename)
	}
	return readAll(file)
}

func emptyFilename(h *multipart.FileHeader) bool {
	return h == nil || strings.TrimSpace(h.Filename) == ""
}

func handleRawRequest(r *http.Request) ([]byte, error) {
	return readAll(r.Body)
}

func readAll(src io.Reader) ([]byte, error) {
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, bodyError("failed to read request body", err)
	}
	return data, nil
}

// bodyError reports an oversized body as 413 and anything else as a
// malformed request.
func bodyError(message string, err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return apperrors.NewPayloadTooLargeError(fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit), err)
	}
	return apperrors.NewInvalidInputError(message + ": " + err.Error())
}

func sendJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.WithError(err).Warn("Failed to encode response")
	}
}

func sendError(w http.ResponseWriter, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		appErr = apperrors.NewInternalError("internal server error", err)
	}

	resp := ErrorResponse{Code: string(appErr.Type), Message: appErr.Message, Details: appErr.Details}
	if appErr.Cause != nil && resp.Details == "" {
		resp.Details = appErr.Cause.Error()
	}

	status := appErr.StatusCode
	entry := logger.WithFields(logrus.Fields{"code": resp.Code, "status": status})
	if status >= http.StatusInternalServerError {
		entry.WithError(err).Error("Request failed")
	} else {
		entry.WithError(err).Debug("Request rejected")
	}
	sendJSON(w, status, resp)
}
