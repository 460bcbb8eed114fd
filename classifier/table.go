package classifier

import (
	"image"

	"github.com/Tutortoise/traffic-signal-service/colordb"
	"github.com/Tutortoise/traffic-signal-service/models"
)

const (
	activeBrightness   = 100.0
	overrideBrightness = 150.0
)

// TableStrategy matches the mean color of the brightest band against the
// reference table, then lets lamp position overrule a clearly lit top or
// bottom band.
type TableStrategy struct {
	store *colordb.Store
}

func NewTableStrategy(store *colordb.Store) *TableStrategy {
	return &TableStrategy{store: store}
}

func (t *TableStrategy) Name() string { return StrategyTable }

func (t *TableStrategy) Classify(img image.Image, box models.Box) models.ColorLabel {
	region, ok := cropRegion(img, box)
	if !ok {
		return models.ColorUnknown
	}

	bestBand := -1
	bestBrightness := -1.0
	var bestRGB models.RGB
	for i, rows := range bandRows(region.Bounds().Dy()) {
		if rows[1] <= rows[0] {
			continue
		}
		r, g, b := meanRGB(region, rows[0], rows[1])
		brightness := (r + g + b) / 3
		if brightness > bestBrightness && brightness > activeBrightness {
			bestBrightness = brightness
			bestRGB = models.RGB{R: uint8(r), G: uint8(g), B: uint8(b)}
			bestBand = i
		}
	}
	if bestBand < 0 {
		return models.ColorUnknown
	}

	label := models.ColorUnknown
	if m, ok := t.store.Nearest(bestRGB); ok {
		label = colordb.TrafficColor(m.Record.Name)
	}

	if bestBrightness > overrideBrightness {
		switch band(bestBand) {
		case bandTop:
			if label != models.ColorRed {
				return models.ColorRed
			}
		case bandBottom:
			if label != models.ColorGreen {
				return models.ColorGreen
			}
		}
	}
	return label
}

func meanRGB(region *image.NRGBA, y0, y1 int) (float64, float64, float64) {
	w := region.Bounds().Dx()
	var sr, sg, sb float64
	for y := y0; y < y1; y++ {
		row := region.Pix[y*region.Stride : y*region.Stride+w*4]
		for x := 0; x < len(row); x += 4 {
			sr += float64(row[x])
			sg += float64(row[x+1])
			sb += float64(row[x+2])
		}
	}
	n := float64(w * (y1 - y0))
	if n == 0 {
		return 0, 0, 0
	}
	return sr / n, sg / n, sb / n
}
