// Package metrics keeps per-stage latency distributions for the service.
package metrics

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
)

// Stage names recorded by the pipeline.
const (
	StageDetect      = "detect"
	StageDetectCache = "detect_cached"
	StageDecode      = "decode"
	StageInference   = "inference"
	StageEnrich      = "enrich"
	StageDetectColor = "detect_color"
)

// LatencyTracker keeps one DDSketch per stage. Values are in milliseconds.
type LatencyTracker struct {
	mu               sync.Mutex
	sketches         map[string]*ddsketch.DDSketch
	relativeAccuracy float64
}

func NewLatencyTracker(relativeAccuracy float64) *LatencyTracker {
	return &LatencyTracker{
		sketches:         make(map[string]*ddsketch.DDSketch),
		relativeAccuracy: relativeAccuracy,
	}
}

func (lt *LatencyTracker) Record(stage string, duration time.Duration) {
	if lt == nil {
		return
	}
	lt.mu.Lock()
	defer lt.mu.Unlock()

	sketch, exists := lt.sketches[stage]
	if !exists {
		var err error
		sketch, err = ddsketch.LogUnboundedDenseDDSketch(lt.relativeAccuracy)
		if err != nil {
			sketch, _ = ddsketch.NewDefaultDDSketch(lt.relativeAccuracy)
		}
		lt.sketches[stage] = sketch
	}

	sketch.Add(float64(duration.Microseconds()) / 1000.0)
}

// Since records the time elapsed from start.
func (lt *LatencyTracker) Since(stage string, start time.Time) {
	lt.Record(stage, time.Since(start))
}

type Stats struct {
	Stage string  `json:"stage"`
	Count int64   `json:"count"`
	Min   float64 `json:"min_ms"`
	P50   float64 `json:"p50_ms"`
	P90   float64 `json:"p90_ms"`
	P99   float64 `json:"p99_ms"`
	Max   float64 `json:"max_ms"`
}

func (lt *LatencyTracker) GetStats(stage string) (Stats, error) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	return lt.statsLocked(stage)
}

func (lt *LatencyTracker) statsLocked(stage string) (Stats, error) {
	sketch, exists := lt.sketches[stage]
	if !exists {
		return Stats{}, fmt.Errorf("no data for stage: %s", stage)
	}

	count := sketch.GetCount()
	if count == 0 {
		return Stats{Stage: stage}, nil
	}

	min, _ := sketch.GetMinValue()
	p50, _ := sketch.GetValueAtQuantile(0.50)
	p90, _ := sketch.GetValueAtQuantile(0.90)
	p99, _ := sketch.GetValueAtQuantile(0.99)
	max, _ := sketch.GetMaxValue()

	return Stats{
		Stage: stage,
		Count: int64(count),
		Min:   min,
		P50:   p50,
		P90:   p90,
		P99:   p99,
		Max:   max,
	}, nil
}

// GetAllStats returns stats for every recorded stage, sorted by name.
func (lt *LatencyTracker) GetAllStats() []Stats {
	if lt == nil {
		return nil
	}
	lt.mu.Lock()
	defer lt.mu.Unlock()

	stages := make([]string, 0, len(lt.sketches))
	for stage := range lt.sketches {
		stages = append(stages, stage)
	}
	sort.Strings(stages)

	stats := make([]Stats, 0, len(stages))
	for _, stage := range stages {
		if s, err := lt.statsLocked(stage); err == nil {
			stats = append(stats, s)
		}
	}
	return stats
}

func (s Stats) String() string {
	if s.Count == 0 {
		return fmt.Sprintf("%s: no data", s.Stage)
	}
	return fmt.Sprintf("%s (n=%d): min=%.2fms p50=%.2fms p90=%.2fms p99=%.2fms max=%.2fms",
		s.Stage, s.Count, s.Min, s.P50, s.P90, s.P99, s.Max)
}
