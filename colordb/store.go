// Package colordb holds the named-color reference table used for
// nearest-color lookups.
package colordb

import (
	"math"
	"strings"

	"github.com/Tutortoise/traffic-signal-service/models"
	"github.com/lucasb-eyer/go-colorful"
)

// Record is one row of the reference table.
type Record struct {
	ID   string
	Name string
	Hex  string
	R    uint8
	G    uint8
	B    uint8
}

func (r Record) RGB() models.RGB {
	return models.RGB{R: r.R, G: r.G, B: r.B}
}

// Store is an immutable, insertion-ordered collection of records. It is
// safe for concurrent readers.
type Store struct {
	records []Record
	source  string
}

// New builds a store over a copy of records.
func New(records []Record) *Store {
	rs := make([]Record, len(records))
	copy(rs, records)
	return &Store{records: rs}
}

// Empty returns a store with no records. Lookups against it report no match.
func Empty() *Store {
	return &Store{}
}

func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	return len(s.records)
}

// Source is where the records were loaded from, empty for in-memory stores.
func (s *Store) Source() string {
	if s == nil {
		return ""
	}
	return s.source
}

// Match is the result of a nearest-color lookup.
type Match struct {
	Record   Record
	Distance float64
}

func (m Match) ColorMatch() models.ColorMatch {
	return models.ColorMatch{
		ID:       m.Record.ID,
		Name:     m.Record.Name,
		Hex:      m.Record.Hex,
		RGB:      m.Record.RGB(),
		Distance: m.Distance,
	}
}

// Nearest returns the record with the smallest Euclidean RGB distance to
// the query. The earliest record wins ties. ok is false for an empty store.
func (s *Store) Nearest(q models.RGB) (Match, bool) {
	if s.Len() == 0 {
		return Match{}, false
	}

	best := -1
	bestDist := math.Inf(1)
	for i, rec := range s.records {
		d := rgbDistance(q, rec)
		if d < bestDist {
			bestDist = d
			best = i
		}
	}
	return Match{Record: s.records[best], Distance: bestDist}, true
}

func rgbDistance(q models.RGB, rec Record) float64 {
	dr := float64(q.R) - float64(rec.R)
	dg := float64(q.G) - float64(rec.G)
	db := float64(q.B) - float64(rec.B)
	return math.Sqrt(dr*dr + dg*dg + db*db)
}

var trafficKeywords = []struct {
	label    models.ColorLabel
	keywords []string
}{
	{models.ColorRed, []string{"red", "crimson", "scarlet", "maroon"}},
	{models.ColorYellow, []string{"yellow", "amber", "gold", "orange"}},
	{models.ColorGreen, []string{"green", "lime", "emerald"}},
}

// TrafficColor maps a reference color name onto a traffic-light label by
// keyword. Red keywords are checked first.
func TrafficColor(name string) models.ColorLabel {
	lower := strings.ToLower(name)
	for _, group := range trafficKeywords {
		for _, kw := range group.keywords {
			if strings.Contains(lower, kw) {
				return group.label
			}
		}
	}
	return models.ColorUnknown
}

// Hex renders an RGB triple as an upper-case #RRGGBB string.
func Hex(c models.RGB) string {
	col := colorful.Color{R: float64(c.R) / 255, G: float64(c.G) / 255, B: float64(c.B) / 255}
	return strings.ToUpper(col.Hex())
}
