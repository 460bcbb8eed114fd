// Package pipeline turns raw image bytes into enriched traffic-light
// detections: cache lookup, decode, detection, color and distance
// enrichment, cache insert.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"strconv"
	"time"

	"github.com/Tutortoise/traffic-signal-service/apperrors"
	"github.com/Tutortoise/traffic-signal-service/cache"
	"github.com/Tutortoise/traffic-signal-service/classifier"
	"github.com/Tutortoise/traffic-signal-service/colordb"
	"github.com/Tutortoise/traffic-signal-service/distance"
	"github.com/Tutortoise/traffic-signal-service/logger"
	"github.com/Tutortoise/traffic-signal-service/metrics"
	"github.com/Tutortoise/traffic-signal-service/models"
	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
)

const (
	DefaultConfidenceFloor = 0.15
	DefaultFixtureClass    = "traffic light"
)

// Detector is the object-detection model. Infer must be safe for
// concurrent use.
type Detector interface {
	Infer(ctx context.Context, img image.Image, confidenceFloor float32) ([]models.RawDetection, error)
	ClassName(classID int) string
	Device() string
	AcceleratorAvailable() bool
	// Release is called once per fresh inference to let the detector drop
	// transient memory.
	Release()
}

// Recorder persists freshly computed results.
type Recorder interface {
	Record(ctx context.Context, imageHash string, result *models.Result) ([]int64, error)
}

type Options struct {
	Detector        Detector
	Cache           *cache.Store
	Colors          *colordb.Store
	Classifier      classifier.Strategy
	Estimator       distance.Estimator
	// ConfidenceFloor must be in (0,1]; zero selects DefaultConfidenceFloor.
	ConfidenceFloor float64
	FixtureClass    string
	Latency         *metrics.LatencyTracker
	Recorder        Recorder
	CPUFeatures     []string
}

type Pipeline struct {
	detector        Detector
	cache           *cache.Store
	colors          *colordb.Store
	classifier      classifier.Strategy
	estimator       distance.Estimator
	confidenceFloor float32
	fixtureClass    string
	latency         *metrics.LatencyTracker
	recorder        Recorder
	cpuFeatures     []string
}

func New(opts Options) (*Pipeline, error) {
	if opts.Detector == nil {
		return nil, errors.New("pipeline: detector is required")
	}
	p := &Pipeline{
		detector:        opts.Detector,
		cache:           opts.Cache,
		colors:          opts.Colors,
		classifier:      opts.Classifier,
		estimator:       opts.Estimator,
		confidenceFloor: float32(opts.ConfidenceFloor),
		fixtureClass:    opts.FixtureClass,
		latency:         opts.Latency,
		recorder:        opts.Recorder,
		cpuFeatures:     opts.CPUFeatures,
	}
	if p.cache == nil {
		p.cache = cache.New(cache.DefaultCapacity)
	}
	if p.colors == nil {
		p.colors = colordb.Empty()
	}
	if p.classifier == nil {
		p.classifier = classifier.HSVStrategy{}
	}
	if p.estimator == (distance.Estimator{}) {
		p.estimator = distance.Default()
	}
	if p.confidenceFloor <= 0 {
		p.confidenceFloor = DefaultConfidenceFloor
	}
	if p.fixtureClass == "" {
		p.fixtureClass = DefaultFixtureClass
	}
	return p, nil
}

// Process returns the enriched detections for raw. Identical payloads are
// served from the cache with Cached set; failures are never cached.
func (p *Pipeline) Process(ctx context.Context, raw []byte) (*models.Result, error) {
	start := time.Now()
	if len(raw) == 0 {
		return nil, apperrors.NewMissingInputError("no image payload")
	}

	if cached, ok := p.cache.Get(raw); ok {
		cached.Cached = true
		cached.ProcessingTime = time.Since(start).Seconds()
		p.latency.Since(metrics.StageDetectCache, start)
		return cached, nil
	}

	img, err := p.decode(raw)
	if err != nil {
		return nil, err
	}

	inferStart := time.Now()
	found, err := p.detector.Infer(ctx, img, p.confidenceFloor)
	p.latency.Since(metrics.StageInference, inferStart)
	if err != nil {
		return nil, apperrors.NewDetectorFailureError("object detection failed", err)
	}

	enrichStart := time.Now()
	detections := p.enrich(img, found)
	p.latency.Since(metrics.StageEnrich, enrichStart)

	result := &models.Result{
		Count:          len(detections),
		Detections:     detections,
		ProcessingTime: time.Since(start).Seconds(),
		Cached:         false,
	}
	p.cache.Put(raw, result)
	p.detector.Release()
	p.record(ctx, raw, result)

	p.latency.Since(metrics.StageDetect, start)
	logger.WithFields(logrus.Fields{
		"candidates": len(found),
		"count":      result.Count,
		"duration":   time.Since(start).String(),
	}).Debug("Processed image")
	return result, nil
}

func (p *Pipeline) decode(raw []byte) (image.Image, error) {
	start := time.Now()
	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	p.latency.Since(metrics.StageDecode, start)
	if err != nil {
		return nil, apperrors.NewInvalidImageError("failed to decode image", err)
	}
	return img, nil
}

// enrich keeps fixture-class boxes with a non-empty clamped region and
// attaches color and distance. The reported box is the detector's own.
func (p *Pipeline) enrich(img image.Image, found []models.RawDetection) []models.Detection {
	detections := make([]models.Detection, 0, len(found))
	bounds := img.Bounds()
	for _, d := range found {
		name := p.detector.ClassName(d.ClassID)
		if name == "" {
			name = strconv.Itoa(d.ClassID)
		}
		if name != p.fixtureClass {
			continue
		}
		if _, ok := classifier.Clamp(d.Box, bounds); !ok {
			continue
		}

		detections = append(detections, models.Detection{
			Box:        d.Box,
			Confidence: float64(d.Confidence),
			ClassID:    d.ClassID,
			ClassName:  name,
			Color:      p.classifier.Classify(img, d.Box),
			Distance:   p.estimator.Estimate(d.Box),
		})
	}
	return detections
}

func (p *Pipeline) record(ctx context.Context, raw []byte, result *models.Result) {
	if p.recorder == nil || result.Count == 0 {
		return
	}
	ids, err := p.recorder.Record(ctx, cache.Key(raw), result)
	if err != nil {
		logger.WithError(err).Warn("Failed to record detection history")
		return
	}
	logger.WithField("ids", ids).Debug("Recorded detections")
}

// DetectColor samples the center of the image and names the nearest
// reference color.
func (p *Pipeline) DetectColor(ctx context.Context, raw []byte) (*models.ColorResult, error) {
	start := time.Now()
	if len(raw) == 0 {
		return nil, apperrors.NewMissingInputError("no image payload")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, err := p.decode(raw)
	if err != nil {
		return nil, err
	}

	sample := classifier.CenterSample(img)
	result := &models.ColorResult{
		ColorName: string(models.ColorUnknown),
		RGB:       sample,
		Hex:       colordb.Hex(sample),
	}
	if m, ok := p.colors.Nearest(sample); ok {
		match := m.ColorMatch()
		result.ColorName = match.Name
		result.Match = &match
	}
	result.ProcessingTime = time.Since(start).Seconds()
	p.latency.Since(metrics.StageDetectColor, start)
	return result, nil
}

func (p *Pipeline) Health() models.Health {
	return models.Health{
		Status:               "ok",
		Device:               p.detector.Device(),
		DBSize:               p.colors.Len(),
		CacheSize:            p.cache.Len(),
		AcceleratorAvailable: p.detector.AcceleratorAvailable(),
		Classifier:           p.classifier.Name(),
		CPUFeatures:          p.cpuFeatures,
	}
}

// Snapshot is the pipeline's share of the metrics endpoint.
type Snapshot struct {
	Cache   cache.Stats     `json:"cache"`
	Latency []metrics.Stats `json:"latency"`
}

func (p *Pipeline) Snapshot() Snapshot {
	return Snapshot{
		Cache:   p.cache.Stats(),
		Latency: p.latency.GetAllStats(),
	}
}
