package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/Tutortoise/traffic-signal-service/apperrors"
	"github.com/Tutortoise/traffic-signal-service/detections"
	"github.com/Tutortoise/traffic-signal-service/metrics"
	"github.com/Tutortoise/traffic-signal-service/models"
	"github.com/Tutortoise/traffic-signal-service/pipeline"
	"github.com/Tutortoise/traffic-signal-service/store"
)

type stubDetector struct {
	err error
}

func (d *stubDetector) Infer(_ context.Context, _ image.Image, _ float32) ([]models.RawDetection, error) {
	if d.err != nil {
		return nil, d.err
	}
	return []models.RawDetection{
		{Box: models.Box{X1: 0, Y1: 0, X2: 10, Y2: 130}, Confidence: 0.88, ClassID: 9},
	}, nil
}

func (d *stubDetector) ClassName(id int) string    { return detections.ClassName(id) }
func (d *stubDetector) Device() string             { return "cpu" }
func (d *stubDetector) AcceleratorAvailable() bool { return false }
func (d *stubDetector) Release()                   {}

type stubPool struct{}

func (stubPool) Metrics() detections.PoolStats { return detections.PoolStats{PoolSize: 4} }

type stubHistory struct {
	known map[int64]bool
}

func (h *stubHistory) Find(_ context.Context, id int64) (store.Record, error) {
	if !h.known[id] {
		return store.Record{}, apperrors.NewNotFoundError("detection not found")
	}
	return store.Record{ID: id, ClassName: "traffic light", Color: models.ColorRed, Distance: 4}, nil
}

func (h *stubHistory) Report(_ context.Context, id int64, actual models.ColorLabel) error {
	if actual != models.ColorRed && actual != models.ColorYellow && actual != models.ColorGreen {
		return apperrors.NewInvalidInputError("bad color")
	}
	if !h.known[id] {
		return apperrors.NewNotFoundError("detection not found")
	}
	return nil
}

func newTestState(t *testing.T, det pipeline.Detector) *AppState {
	t.Helper()
	p, err := pipeline.New(pipeline.Options{Detector: det, Latency: metrics.NewLatencyTracker(0.01)})
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	return &AppState{Pipeline: p, Pool: stubPool{}, MaxBodySize: 1 << 20}
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 10, 130))
	for y := 0; y < 130; y++ {
		for x := 0; x < 10; x++ {
			c := color.RGBA{A: 255}
			if y < 43 {
				c.R = 255
			}
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

func multipartBody(t *testing.T, field, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	disposition := `form-data; name="` + field + `"`
	if filename != "" {
		disposition += `; filename="` + filename + `"`
	}
	h.Set("Content-Disposition", disposition)
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatalf("CreatePart: %v", err)
	}
	part.Write(data)
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func serve(s *AppState, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return resp
}

func TestDetectMultipart(t *testing.T) {
	s := newTestState(t, &stubDetector{})
	body, contentType := multipartBody(t, "image", "light.png", testPNG(t))
	req := httptest.NewRequest(http.MethodPost, "/detect", body)
	req.Header.Set("Content-Type", contentType)

	rec := serve(s, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var res models.Result
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Count != 1 || res.Detections[0].Color != models.ColorRed || res.Detections[0].Distance != 4.0 {
		t.Errorf("unexpected result: %+v", res)
	}
	if res.Detections[0].ClassName != "traffic light" || res.Cached {
		t.Errorf("unexpected detection: %+v", res)
	}
}

func TestDetectJSONAndCache(t *testing.T) {
	s := newTestState(t, &stubDetector{})
	payload, _ := json.Marshal(map[string]string{"image": base64.StdEncoding.EncodeToString(testPNG(t))})

	var cached []bool
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/detect", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		rec := serve(s, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
		}
		var res models.Result
		json.NewDecoder(rec.Body).Decode(&res)
		cached = append(cached, res.Cached)
	}
	if cached[0] || !cached[1] {
		t.Errorf("cached flags = %v, want [false true]", cached)
	}
}

func TestDetectInputErrors(t *testing.T) {
	data := testPNG(t)
	missing, missingType := multipartBody(t, "file", "light.png", data)
	noName, noNameType := multipartBody(t, "image", "", data)

	tests := []struct {
		name        string
		body        *bytes.Buffer
		contentType string
		status      int
		code        apperrors.ErrorType
		message     string
	}{
		{"missing field", missing, missingType, http.StatusBadRequest, apperrors.TypeMissingInput, MsgMissingImageField},
		{"empty filename", noName, noNameType, http.StatusBadRequest, apperrors.TypeMissingInput, MsgEmptyFilename},
		{"bad base64", bytes.NewBufferString(`{"image":"***"}`), "application/json", http.StatusBadRequest, apperrors.TypeInvalidInput, MsgInvalidBase64},
		{"empty json image", bytes.NewBufferString(`{}`), "application/json", http.StatusBadRequest, apperrors.TypeMissingInput, MsgMissingImageField},
		{"empty raw body", &bytes.Buffer{}, "application/octet-stream", http.StatusBadRequest, apperrors.TypeMissingInput, MsgEmptyBody},
		{"undecodable", bytes.NewBufferString("definitely not a png"), "image/png", http.StatusBadRequest, apperrors.TypeInvalidImage, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestState(t, &stubDetector{})
			req := httptest.NewRequest(http.MethodPost, "/detect", tt.body)
			req.Header.Set("Content-Type", tt.contentType)

			rec := serve(s, req)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body)
			}
			resp := decodeError(t, rec)
			if resp.Code != string(tt.code) {
				t.Errorf("code = %q, want %q", resp.Code, tt.code)
			}
			if tt.message != "" && resp.Message != tt.message {
				t.Errorf("message = %q, want %q", resp.Message, tt.message)
			}
		})
	}
}

func TestDetectBodyTooLarge(t *testing.T) {
	payload, _ := json.Marshal(map[string]string{"image": base64.StdEncoding.EncodeToString(testPNG(t))})
	tests := []struct {
		name        string
		body        []byte
		contentType string
	}{
		{"raw body", testPNG(t), "image/png"},
		{"json body", payload, "application/json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestState(t, &stubDetector{})
			s.MaxBodySize = 16
			req := httptest.NewRequest(http.MethodPost, "/detect", bytes.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)

			rec := serve(s, req)
			if rec.Code != http.StatusRequestEntityTooLarge {
				t.Fatalf("status = %d, want 413 (%s)", rec.Code, rec.Body)
			}
			if resp := decodeError(t, rec); resp.Code != string(apperrors.TypePayloadTooLarge) {
				t.Errorf("code = %q", resp.Code)
			}
		})
	}
}

func TestSendErrorWrapsForeignErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	sendError(rec, errors.New("connection reset"))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	resp := decodeError(t, rec)
	if resp.Code != string(apperrors.TypeInternal) || resp.Details != "connection reset" {
		t.Errorf("unexpected error body: %+v", resp)
	}
}

func TestDetectDetectorFailure(t *testing.T) {
	s := newTestState(t, &stubDetector{err: errors.New("boom")})
	req := httptest.NewRequest(http.MethodPost, "/detect", bytes.NewReader(testPNG(t)))

	rec := serve(s, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	resp := decodeError(t, rec)
	if resp.Code != string(apperrors.TypeDetectorFailure) || resp.Details != "boom" {
		t.Errorf("unexpected error body: %+v", resp)
	}
}

func TestDetectColorEndpoint(t *testing.T) {
	s := newTestState(t, &stubDetector{})
	req := httptest.NewRequest(http.MethodPost, "/detect-color", bytes.NewReader(testPNG(t)))

	rec := serve(s, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var res models.ColorResult
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.ColorName != string(models.ColorUnknown) || res.Hex == "" {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestState(t, &stubDetector{})

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}
	var h models.Health
	json.NewDecoder(rec.Body).Decode(&h)
	if h.Status != "ok" || h.Device != "cpu" {
		t.Errorf("unexpected health: %+v", h)
	}

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	var m map[string]json.RawMessage
	json.NewDecoder(rec.Body).Decode(&m)
	for _, key := range []string{"cache", "pool"} {
		if _, ok := m[key]; !ok {
			t.Errorf("metrics response missing %q: %v", key, m)
		}
	}
}

func TestReportEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		history  History
		path     string
		body     string
		status   int
	}{
		{"history disabled", nil, "/detections/1/report", `{"actual_color":"red"}`, http.StatusServiceUnavailable},
		{"bad id", &stubHistory{}, "/detections/abc/report", `{"actual_color":"red"}`, http.StatusBadRequest},
		{"bad json", &stubHistory{}, "/detections/1/report", `{`, http.StatusBadRequest},
		{"bad color", &stubHistory{known: map[int64]bool{1: true}}, "/detections/1/report", `{"actual_color":"blue"}`, http.StatusBadRequest},
		{"unknown id", &stubHistory{}, "/detections/7/report", `{"actual_color":"green"}`, http.StatusNotFound},
		{"reported", &stubHistory{known: map[int64]bool{1: true}}, "/detections/1/report", `{"actual_color":" Yellow "}`, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestState(t, &stubDetector{})
			s.History = tt.history
			req := httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")

			rec := serve(s, req)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body)
			}
		})
	}
}

func TestGetDetectionEndpoint(t *testing.T) {
	tests := []struct {
		name    string
		history History
		path    string
		status  int
	}{
		{"history disabled", nil, "/detections/1", http.StatusServiceUnavailable},
		{"bad id", &stubHistory{}, "/detections/0", http.StatusBadRequest},
		{"unknown id", &stubHistory{}, "/detections/9", http.StatusNotFound},
		{"found", &stubHistory{known: map[int64]bool{3: true}}, "/detections/3", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestState(t, &stubDetector{})
			s.History = tt.history

			rec := serve(s, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body)
			}
			if tt.status != http.StatusOK {
				return
			}
			var got store.Record
			if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got.ID != 3 || got.Color != models.ColorRed || got.IsCorrect != nil {
				t.Errorf("unexpected record: %+v", got)
			}
		})
	}
}
