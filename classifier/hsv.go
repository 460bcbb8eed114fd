package classifier

import (
	"image"

	"github.com/Tutortoise/traffic-signal-service/models"
	"github.com/anthonynsimon/bild/effect"
	"github.com/lucasb-eyer/go-colorful"
)

const (
	minSaturation  = 50
	minValue       = 60
	maskScoreFloor = 5.0
	litIntensity   = 150
	hueScale       = 255.0 / 360.0

	// ITU-R 601 luma weights.
	lumaR = 0.299
	lumaG = 0.587
	lumaB = 0.114
)

// Hue ranges on a 0..255 scale. They overlap on purpose and are scored
// independently.
var hueRanges = [3]struct {
	label models.ColorLabel
	match func(h int) bool
}{
	{models.ColorRed, func(h int) bool { return h < 25 || h > 230 }},
	{models.ColorYellow, func(h int) bool { return h >= 20 && h <= 60 }},
	{models.ColorGreen, func(h int) bool { return h >= 40 && h <= 130 }},
}

// HSVStrategy masks saturated bright pixels by hue over the whole region and
// falls back to the position of the brightest band when no hue dominates.
type HSVStrategy struct{}

func (HSVStrategy) Name() string { return StrategyHSV }

func (s HSVStrategy) Classify(img image.Image, box models.Box) models.ColorLabel {
	region, ok := cropRegion(img, box)
	if !ok {
		return models.ColorUnknown
	}
	if label, decided := hueMaskScore(region); decided {
		return label
	}
	return brightestBand(region)
}

// hueMaskScore reports decided=true when the top score clears the floor.
// An exact tie at the top is decided as unknown.
func hueMaskScore(region *image.NRGBA) (models.ColorLabel, bool) {
	b := region.Bounds()
	total := b.Dx() * b.Dy()
	if total == 0 {
		return models.ColorUnknown, false
	}

	var sums [3]float64
	for y := 0; y < b.Dy(); y++ {
		row := region.Pix[y*region.Stride : y*region.Stride+b.Dx()*4]
		for x := 0; x < len(row); x += 4 {
			hue, sat, val := hsv255(row[x], row[x+1], row[x+2])
			if sat <= minSaturation || val <= minValue {
				continue
			}
			for i, r := range hueRanges {
				if r.match(hue) {
					sums[i] += float64(val)
				}
			}
		}
	}

	best := 0
	for i := 1; i < len(sums); i++ {
		if sums[i] > sums[best] {
			best = i
		}
	}
	score := sums[best] / float64(total)
	if score <= maskScoreFloor {
		return models.ColorUnknown, false
	}
	for i := range sums {
		if i != best && sums[i] == sums[best] {
			return models.ColorUnknown, true
		}
	}
	return hueRanges[best].label, true
}

// hsv255 converts an 8-bit RGB pixel to hue, saturation and value on 0..255.
func hsv255(r, g, b uint8) (int, int, int) {
	c := colorful.Color{R: float64(r) / 255, G: float64(g) / 255, B: float64(b) / 255}
	h, s, _ := c.Hsv()
	v := max(r, g, b)
	return int(h * hueScale), int(s * 255), int(v)
}

func brightestBand(region *image.NRGBA) models.ColorLabel {
	gray := effect.GrayscaleWithWeights(region, lumaR, lumaG, lumaB)
	b := gray.Bounds()
	w := b.Dx()

	best := -1
	bestMax := -1
	for i, rows := range bandRows(b.Dy()) {
		if rows[1] <= rows[0] || w == 0 {
			continue
		}
		peak := 0
		for y := rows[0]; y < rows[1]; y++ {
			off := y * gray.Stride
			for x := 0; x < w; x++ {
				if v := int(gray.Pix[off+x*4]); v > peak {
					peak = v
				}
			}
		}
		if peak > bestMax {
			bestMax = peak
			best = i
		}
	}

	if best < 0 || bestMax <= litIntensity {
		return models.ColorUnknown
	}
	return bandColors[best]
}
