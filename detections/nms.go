package detections

import (
	"math"
	"sort"

	"github.com/Tutortoise/traffic-signal-service/models"
)

// suppress runs greedy per-class non-maximum suppression and returns the
// survivors ordered by confidence, highest first.
func suppress(detections []models.RawDetection, iouThreshold float64, limit int) []models.RawDetection {
	if len(detections) == 0 {
		return []models.RawDetection{}
	}

	sorted := make([]models.RawDetection, len(detections))
	copy(sorted, detections)
	sortDetectionsByConfidence(sorted)

	kept := make([]models.RawDetection, 0, len(sorted))
	suppressed := make([]bool, len(sorted))
	for i := range sorted {
		if suppressed[i] {
			continue
		}
		kept = append(kept, sorted[i])
		if limit > 0 && len(kept) >= limit {
			break
		}
		for j := i + 1; j < len(sorted); j++ {
			if suppressed[j] || sorted[j].ClassID != sorted[i].ClassID {
				continue
			}
			if calculateIOU(sorted[i].Box, sorted[j].Box) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}

func calculateIOU(box1, box2 models.Box) float64 {
	x1 := math.Max(box1.X1, box2.X1)
	y1 := math.Max(box1.Y1, box2.Y1)
	x2 := math.Min(box1.X2, box2.X2)
	y2 := math.Min(box1.Y2, box2.Y2)

	if x2 <= x1 || y2 <= y1 {
		return 0.0
	}

	intersection := (x2 - x1) * (y2 - y1)
	area1 := (box1.X2 - box1.X1) * (box1.Y2 - box1.Y1)
	area2 := (box2.X2 - box2.X1) * (box2.Y2 - box2.Y1)
	union := area1 + area2 - intersection
	if union <= 0 {
		return 0.0
	}

	return intersection / union
}

func sortDetectionsByConfidence(detections []models.RawDetection) {
	sort.SliceStable(detections, func(i, j int) bool {
		return detections[i].Confidence > detections[j].Confidence
	})
}
