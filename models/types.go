package models

import "time"

type ColorLabel string

const (
	ColorRed     ColorLabel = "red"
	ColorYellow  ColorLabel = "yellow"
	ColorGreen   ColorLabel = "green"
	ColorUnknown ColorLabel = "unknown"
)

// Box is an axis-aligned rectangle in image pixel coordinates.
type Box struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// RawDetection is a single box as produced by the detector, before enrichment.
type RawDetection struct {
	Box        Box
	Confidence float32
	ClassID    int
}

type Detection struct {
	Box        Box        `json:"box"`
	Confidence float64    `json:"confidence"`
	ClassID    int        `json:"class_id"`
	ClassName  string     `json:"class_name"`
	Color      ColorLabel `json:"color"`
	Distance   float64    `json:"distance"`
}

// Result is the enriched response for one image. ProcessingTime is in seconds.
type Result struct {
	Count          int         `json:"count"`
	Detections     []Detection `json:"detections"`
	ProcessingTime float64     `json:"processing_time"`
	Cached         bool        `json:"cached"`
}

// Clone returns a deep copy of r.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	out := *r
	out.Detections = make([]Detection, len(r.Detections))
	copy(out.Detections, r.Detections)
	return &out
}

type RGB struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

type ColorMatch struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Hex      string  `json:"hex"`
	RGB      RGB     `json:"rgb"`
	Distance float64 `json:"distance"`
}

type ColorResult struct {
	ColorName      string      `json:"color_name"`
	RGB            RGB         `json:"rgb"`
	Hex            string      `json:"hex"`
	Match          *ColorMatch `json:"match,omitempty"`
	ProcessingTime float64     `json:"processing_time"`
}

type Health struct {
	Status               string   `json:"status"`
	Device               string   `json:"device"`
	DBSize               int      `json:"db_size"`
	CacheSize            int      `json:"cache_size"`
	AcceleratorAvailable bool     `json:"accelerator_available"`
	Classifier           string   `json:"classifier"`
	CPUFeatures          []string `json:"cpu_features,omitempty"`
}

// ProcessingTimings breaks one inference down by stage.
type ProcessingTimings struct {
	Resize      time.Duration
	Preprocess  time.Duration
	Inference   time.Duration
	Postprocess time.Duration
	Suppression time.Duration
	Total       time.Duration
}
