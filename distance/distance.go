// Package distance estimates how far a traffic-light fixture is from the
// camera using a pinhole approximation over its pixel height.
package distance

import (
	"math"

	"github.com/Tutortoise/traffic-signal-service/models"
)

const (
	DefaultFixtureHeightM = 0.8
	DefaultFocalLengthPx  = 650.0
)

// Estimator holds the camera calibration. Both values are configuration,
// not measured constants.
type Estimator struct {
	FixtureHeightM float64
	FocalLengthPx  float64
}

func Default() Estimator {
	return Estimator{
		FixtureHeightM: DefaultFixtureHeightM,
		FocalLengthPx:  DefaultFocalLengthPx,
	}
}

// Estimate returns the distance in meters rounded to one decimal place,
// halves to even. Degenerate boxes yield 0.
func (e Estimator) Estimate(box models.Box) float64 {
	h := box.Y2 - box.Y1
	if h <= 0 {
		return 0
	}
	d := e.FixtureHeightM * e.FocalLengthPx / h
	return math.RoundToEven(d*10) / 10
}
