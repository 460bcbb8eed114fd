package detections

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/Tutortoise/traffic-signal-service/models"
)

// processPredictions decodes the [1, 84, 8400] YOLOv8 head into boxes in
// original image coordinates. Each anchor contributes at most one box, for
// its best-scoring class, when that score reaches threshold.
func processPredictions(predictions []float32, numAnchors int, threshold float32, originalWidth, originalHeight int) ([]models.RawDetection, error) {
	expectedSize := OutputChannel * numAnchors
	if len(predictions) != expectedSize {
		return nil, fmt.Errorf("unexpected predictions length: got %d, want %d", len(predictions), expectedSize)
	}

	const chunkSize = 512
	numWorkers := runtime.NumCPU()
	jobs := make(chan int, numWorkers)
	results := make(chan []models.RawDetection, numWorkers)

	scaleX := float64(originalWidth) / InputWidth
	scaleY := float64(originalHeight) / InputHeight

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]models.RawDetection, 0, 16)

			for start := range jobs {
				end := min(start+chunkSize, numAnchors)
				for i := start; i < end; i++ {
					classID, score := bestClass(predictions, numAnchors, i)
					if score < threshold {
						continue
					}
					box := calculateBBox(
						predictions[i],
						predictions[numAnchors+i],
						predictions[2*numAnchors+i],
						predictions[3*numAnchors+i],
						scaleX, scaleY,
						float64(originalWidth), float64(originalHeight),
					)
					local = append(local, models.RawDetection{
						Box:        box,
						Confidence: score,
						ClassID:    classID,
					})
				}
			}

			if len(local) > 0 {
				results <- local
			}
		}()
	}

	go func() {
		for i := 0; i < numAnchors; i += chunkSize {
			jobs <- i
		}
		close(jobs)
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	detections := make([]models.RawDetection, 0, 32)
	for chunk := range results {
		detections = append(detections, chunk...)
	}
	return detections, nil
}

func bestClass(predictions []float32, numAnchors, anchor int) (int, float32) {
	best := 0
	bestScore := float32(-1)
	for c := 0; c < NumClasses; c++ {
		s := predictions[(4+c)*numAnchors+anchor]
		if s > bestScore {
			bestScore = s
			best = c
		}
	}
	return best, bestScore
}

// calculateBBox converts a center/size box in network input pixels to
// corners in original image pixels, clipped to the image.
func calculateBBox(cx, cy, w, h float32, scaleX, scaleY, origWidth, origHeight float64) models.Box {
	halfW := float64(w) / 2
	halfH := float64(h) / 2

	return models.Box{
		X1: clip((float64(cx)-halfW)*scaleX, origWidth),
		Y1: clip((float64(cy)-halfH)*scaleY, origHeight),
		X2: clip((float64(cx)+halfW)*scaleX, origWidth),
		Y2: clip((float64(cy)+halfH)*scaleY, origHeight),
	}
}

func clip(v, limit float64) float64 {
	return min(max(v, 0), limit)
}
