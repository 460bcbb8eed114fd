package classifier

import (
	"image"
	"image/color"
	"testing"

	"github.com/Tutortoise/traffic-signal-service/colordb"
	"github.com/Tutortoise/traffic-signal-service/models"
)

var (
	black  = color.NRGBA{0, 0, 0, 255}
	white  = color.NRGBA{255, 255, 255, 255}
	red    = color.NRGBA{255, 0, 0, 255}
	green  = color.NRGBA{0, 200, 0, 255}
	amber  = color.NRGBA{255, 160, 0, 255}
	yellow = color.NRGBA{255, 255, 0, 255}
	dim    = color.NRGBA{120, 120, 120, 255}
)

// createInMemoryImage fills a w x h image with fill.
func createInMemoryImage(w, h int, fill color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, fill)
		}
	}
	return img
}

// litBand paints rows [y0, y1) of img with c.
func litBand(img *image.NRGBA, y0, y1 int, c color.Color) *image.NRGBA {
	for y := y0; y < y1; y++ {
		for x := img.Bounds().Min.X; x < img.Bounds().Max.X; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func fullBox(img image.Image) models.Box {
	b := img.Bounds()
	return models.Box{X1: float64(b.Min.X), Y1: float64(b.Min.Y), X2: float64(b.Max.X), Y2: float64(b.Max.Y)}
}

func TestHSVStrategyClassify(t *testing.T) {
	tests := []struct {
		name string
		img  *image.NRGBA
		want models.ColorLabel
	}{
		{"uniform red", createInMemoryImage(10, 30, red), models.ColorRed},
		{"all black", createInMemoryImage(10, 30, black), models.ColorUnknown},
		{"uniform green", createInMemoryImage(10, 30, green), models.ColorGreen},
		{"amber lamp", litBand(createInMemoryImage(10, 30, black), 10, 20, amber), models.ColorYellow},
		{"pure yellow ties yellow and green hues", createInMemoryImage(10, 30, yellow), models.ColorUnknown},
		{"red top third", litBand(createInMemoryImage(10, 130, black), 0, 43, red), models.ColorRed},
		{"white bottom lamp falls back to position", litBand(createInMemoryImage(10, 30, black), 20, 30, white), models.ColorGreen},
		{"white middle lamp falls back to position", litBand(createInMemoryImage(10, 30, black), 10, 20, white), models.ColorYellow},
		{"white top lamp falls back to position", litBand(createInMemoryImage(10, 30, black), 0, 10, white), models.ColorRed},
		{"dim housing", createInMemoryImage(10, 30, dim), models.ColorUnknown},
	}

	s := HSVStrategy{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Classify(tt.img, fullBox(tt.img)); got != tt.want {
				t.Errorf("Classify() = %q, want %q", got, tt.want)
			}
		})
	}
}

// bottomLampWithRedPixels lights the bottom band white and paints n red
// pixels into the first row, so the hue score is 255*n/300.
func bottomLampWithRedPixels(n int) *image.NRGBA {
	img := litBand(createInMemoryImage(10, 30, black), 20, 30, white)
	for x := 0; x < n; x++ {
		img.Set(x, 0, red)
	}
	return img
}

func TestHSVStrategyScoreFloor(t *testing.T) {
	tests := []struct {
		name      string
		redPixels int
		want      models.ColorLabel
	}{
		{"no red pixels", 0, models.ColorGreen},
		{"score 4.25 falls back to brightest band", 5, models.ColorGreen},
		{"score 5.1 clears the floor", 6, models.ColorRed},
		{"full row", 10, models.ColorRed},
	}

	s := HSVStrategy{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := bottomLampWithRedPixels(tt.redPixels)
			if got := s.Classify(img, fullBox(img)); got != tt.want {
				t.Errorf("Classify() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHSVStrategyOverlappingHues(t *testing.T) {
	tests := []struct {
		name    string
		fill    color.NRGBA
		wantHue int
		want    models.ColorLabel
	}{
		{"hue 18 is red only", color.NRGBA{255, 110, 0, 255}, 18, models.ColorRed},
		{"hue 22 is both red and yellow", color.NRGBA{255, 133, 0, 255}, 22, models.ColorUnknown},
		{"hue 42 is both yellow and green", yellow, 42, models.ColorUnknown},
		{"hue 62 is green only", color.NRGBA{136, 255, 0, 255}, 62, models.ColorGreen},
	}

	s := HSVStrategy{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if h, _, _ := hsv255(tt.fill.R, tt.fill.G, tt.fill.B); h != tt.wantHue {
				t.Fatalf("hue = %d, want %d", h, tt.wantHue)
			}
			img := createInMemoryImage(10, 30, tt.fill)
			if got := s.Classify(img, fullBox(img)); got != tt.want {
				t.Errorf("Classify() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHSVStrategyUsesOnlyBoxRegion(t *testing.T) {
	img := createInMemoryImage(40, 30, black)
	for y := 0; y < 30; y++ {
		for x := 20; x < 40; x++ {
			img.Set(x, y, green)
		}
	}

	s := HSVStrategy{}
	if got := s.Classify(img, models.Box{X1: 0, Y1: 0, X2: 20, Y2: 30}); got != models.ColorUnknown {
		t.Errorf("left half = %q, want unknown", got)
	}
	if got := s.Classify(img, models.Box{X1: 20, Y1: 0, X2: 40, Y2: 30}); got != models.ColorGreen {
		t.Errorf("right half = %q, want green", got)
	}
}

func TestClassifyEmptyRegion(t *testing.T) {
	img := createInMemoryImage(10, 10, red)
	store := colordb.New([]colordb.Record{{Name: "Red", R: 255}})

	boxes := []models.Box{
		{X1: 5, Y1: 5, X2: 5, Y2: 9},
		{X1: 20, Y1: 20, X2: 30, Y2: 30},
		{X1: 8, Y1: 8, X2: 2, Y2: 2},
	}
	for _, s := range []Strategy{HSVStrategy{}, NewTableStrategy(store)} {
		for _, box := range boxes {
			if got := s.Classify(img, box); got != models.ColorUnknown {
				t.Errorf("%s: Classify(%+v) = %q, want unknown", s.Name(), box, got)
			}
		}
	}
}

func TestTableStrategyClassify(t *testing.T) {
	store := colordb.New([]colordb.Record{
		{ID: "1", Name: "Red", R: 255, G: 0, B: 0},
		{ID: "2", Name: "Green", R: 0, G: 255, B: 0},
		{ID: "3", Name: "Amber", R: 255, G: 191, B: 0},
		{ID: "4", Name: "Black", R: 0, G: 0, B: 0},
	})

	tests := []struct {
		name  string
		img   *image.NRGBA
		store *colordb.Store
		want  models.ColorLabel
	}{
		{"soft red top lamp", litBand(createInMemoryImage(10, 30, black), 0, 10, color.NRGBA{255, 80, 80, 255}), store, models.ColorRed},
		{"amber middle lamp", litBand(createInMemoryImage(10, 30, black), 10, 20, color.NRGBA{255, 191, 0, 255}), store, models.ColorYellow},
		{"bright top overrides table match", litBand(createInMemoryImage(10, 30, black), 0, 10, color.NRGBA{150, 255, 150, 255}), store, models.ColorRed},
		{"bright bottom overrides amber match", litBand(createInMemoryImage(10, 30, black), 20, 30, white), store, models.ColorGreen},
		{"pure red is too dark to count as lit", litBand(createInMemoryImage(10, 30, black), 0, 10, red), store, models.ColorUnknown},
		{"all dark", createInMemoryImage(10, 30, black), store, models.ColorUnknown},
		{"empty table", litBand(createInMemoryImage(10, 30, black), 10, 20, color.NRGBA{255, 191, 0, 255}), colordb.Empty(), models.ColorUnknown},
		{"empty table keeps positional override", litBand(createInMemoryImage(10, 30, black), 0, 10, white), colordb.Empty(), models.ColorRed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewTableStrategy(tt.store)
			if got := s.Classify(tt.img, fullBox(tt.img)); got != tt.want {
				t.Errorf("Classify() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNew(t *testing.T) {
	for name, want := range map[string]string{"": StrategyHSV, "hsv": StrategyHSV, "table": StrategyTable} {
		s, err := New(name, nil)
		if err != nil {
			t.Fatalf("New(%q) error = %v", name, err)
		}
		if s.Name() != want {
			t.Errorf("New(%q).Name() = %q, want %q", name, s.Name(), want)
		}
	}
	if _, err := New("neural", nil); err == nil {
		t.Error("expected error for unknown strategy")
	}
}

func TestClamp(t *testing.T) {
	bounds := image.Rect(0, 0, 10, 20)

	got, ok := Clamp(models.Box{X1: -5, Y1: -5, X2: 2.9, Y2: 300}, bounds)
	if !ok || got != image.Rect(0, 0, 2, 20) {
		t.Errorf("Clamp() = %v, %v", got, ok)
	}
	if _, ok := Clamp(models.Box{X1: 5, Y1: 5, X2: 5, Y2: 10}, bounds); ok {
		t.Error("zero-width box must be rejected")
	}

	offset := image.Rect(100, 100, 110, 120)
	got, ok = Clamp(models.Box{X1: 1, Y1: 2, X2: 3, Y2: 4}, offset)
	if !ok || got != image.Rect(101, 102, 103, 104) {
		t.Errorf("Clamp() with offset bounds = %v, %v", got, ok)
	}
}

func TestCenterSample(t *testing.T) {
	img := createInMemoryImage(100, 50, color.NRGBA{10, 20, 30, 255})
	// side = int(0.1 * 50) = 5, centered at (47, 22)
	for y := 22; y < 27; y++ {
		for x := 47; x < 52; x++ {
			img.Set(x, y, color.NRGBA{200, 100, 50, 255})
		}
	}

	if got := CenterSample(img); got != (models.RGB{R: 200, G: 100, B: 50}) {
		t.Errorf("CenterSample() = %+v", got)
	}

	tiny := createInMemoryImage(1, 1, color.NRGBA{7, 8, 9, 255})
	if got := CenterSample(tiny); got != (models.RGB{R: 7, G: 8, B: 9}) {
		t.Errorf("CenterSample(1x1) = %+v", got)
	}
}
