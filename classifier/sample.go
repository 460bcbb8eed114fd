package classifier

import (
	"image"
	"math"

	"github.com/Tutortoise/traffic-signal-service/models"
	"github.com/disintegration/imaging"
)

const centerFraction = 0.1

// CenterSample averages the centered square whose side is a tenth of the
// shorter image dimension, at least one pixel.
func CenterSample(img image.Image) models.RGB {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return models.RGB{}
	}

	side := max(1, int(centerFraction*float64(min(w, h))))
	patch := imaging.CropCenter(img, side, side)

	pb := patch.Bounds()
	var sr, sg, sb float64
	for y := 0; y < pb.Dy(); y++ {
		row := patch.Pix[y*patch.Stride : y*patch.Stride+pb.Dx()*4]
		for x := 0; x < len(row); x += 4 {
			sr += float64(row[x])
			sg += float64(row[x+1])
			sb += float64(row[x+2])
		}
	}
	n := float64(pb.Dx() * pb.Dy())
	return models.RGB{
		R: uint8(math.Round(sr / n)),
		G: uint8(math.Round(sg / n)),
		B: uint8(math.Round(sb / n)),
	}
}
