// Package classifier decides which lamp of a traffic-light fixture is lit.
package classifier

import (
	"fmt"
	"image"

	"github.com/Tutortoise/traffic-signal-service/colordb"
	"github.com/Tutortoise/traffic-signal-service/models"
	"github.com/disintegration/imaging"
)

const (
	StrategyHSV   = "hsv"
	StrategyTable = "table"
)

// Strategy classifies the illuminated color inside box. Implementations are
// pure functions of their inputs and safe for concurrent use.
type Strategy interface {
	Classify(img image.Image, box models.Box) models.ColorLabel
	Name() string
}

// New returns the strategy registered under name. The store is only
// consulted by the table strategy and may be empty.
func New(name string, store *colordb.Store) (Strategy, error) {
	switch name {
	case "", StrategyHSV:
		return HSVStrategy{}, nil
	case StrategyTable:
		if store == nil {
			store = colordb.Empty()
		}
		return NewTableStrategy(store), nil
	default:
		return nil, fmt.Errorf("unknown classifier strategy %q", name)
	}
}

// Clamp converts box to integer pixel bounds inside the image. Coordinates
// are truncated toward zero. ok is false when the result is empty.
func Clamp(box models.Box, bounds image.Rectangle) (image.Rectangle, bool) {
	w, h := bounds.Dx(), bounds.Dy()
	x1 := max(0, int(box.X1))
	y1 := max(0, int(box.Y1))
	x2 := min(w, int(box.X2))
	y2 := min(h, int(box.Y2))
	if x2 <= x1 || y2 <= y1 {
		return image.Rectangle{}, false
	}
	return image.Rect(x1, y1, x2, y2).Add(bounds.Min), true
}

func cropRegion(img image.Image, box models.Box) (*image.NRGBA, bool) {
	rect, ok := Clamp(box, img.Bounds())
	if !ok {
		return nil, false
	}
	region := imaging.Crop(img, rect)
	if region.Bounds().Empty() {
		return nil, false
	}
	return region, true
}

type band int

const (
	bandTop band = iota
	bandMiddle
	bandBottom
)

var bandColors = [3]models.ColorLabel{
	bandTop:    models.ColorRed,
	bandMiddle: models.ColorYellow,
	bandBottom: models.ColorGreen,
}

// bandRows splits h rows into top, middle and bottom thirds. The bottom
// band absorbs the remainder; short regions produce empty bands.
func bandRows(h int) [3][2]int {
	sh := h / 3
	return [3][2]int{
		{0, sh},
		{sh, 2 * sh},
		{2 * sh, h},
	}
}
