package types

import (
	"encoding/json"
	"fmt"
	"math"
)

// BoxScale is the side of the normalized frame bounding boxes are expressed in
const BoxScale = 1000

// Percent is a coordinate expressed as a percentage of an image side, always in [0,100]
type Percent float64

// NewPercent clamps v into [0,100]
func NewPercent(v float64) Percent {
	if math.IsNaN(v) {
		return 0
	}
	return Percent(clamp(v, 0, 100))
}

// Fraction returns the percentage as a fraction in [0,1]
func (p Percent) Fraction() float64 {
	return float64(p) / 100
}

// NormalizedPoint is a point inside the displayed image, in percent of its width and height
type NormalizedPoint struct {
	X Percent `json:"x"`
	Y Percent `json:"y"`
}

// NewPoint builds a clamped point
func NewPoint(x, y float64) NormalizedPoint {
	return NormalizedPoint{X: NewPercent(x), Y: NewPercent(y)}
}

func (p NormalizedPoint) String() string {
	return fmt.Sprintf("X:%g%% Y:%g%%", float64(p.X), float64(p.Y))
}

// UnmarshalJSON clamps decoded coordinates
func (p *NormalizedPoint) UnmarshalJSON(data []byte) error {
	var raw struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = NewPoint(raw.X, raw.Y)
	return nil
}

// BoundingBox is a region in the 0..1000 normalized frame used by vision models.
// On the wire it is the array [ymin, xmin, ymax, xmax].
type BoundingBox struct {
	YMin int
	XMin int
	YMax int
	XMax int
}

// FullFrame covers the whole image
var FullFrame = BoundingBox{YMin: 0, XMin: 0, YMax: BoxScale, XMax: BoxScale}

// Normalize clips every bound to [0,1000] and swaps inverted bounds
func (b BoundingBox) Normalize() BoundingBox {
	b.YMin = clampInt(b.YMin, 0, BoxScale)
	b.XMin = clampInt(b.XMin, 0, BoxScale)
	b.YMax = clampInt(b.YMax, 0, BoxScale)
	b.XMax = clampInt(b.XMax, 0, BoxScale)
	if b.XMin > b.XMax {
		b.XMin, b.XMax = b.XMax, b.XMin
	}
	if b.YMin > b.YMax {
		b.YMin, b.YMax = b.YMax, b.YMin
	}
	return b
}

// Valid reports whether the box is inside the frame and not inverted
func (b BoundingBox) Valid() bool {
	return b == b.Normalize()
}

// Empty reports whether the box has no area
func (b BoundingBox) Empty() bool {
	return b.XMax <= b.XMin || b.YMax <= b.YMin
}

// Array returns the wire order [ymin, xmin, ymax, xmax]
func (b BoundingBox) Array() [4]int {
	return [4]int{b.YMin, b.XMin, b.YMax, b.XMax}
}

func (b BoundingBox) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.Array())
}

// UnmarshalJSON accepts a 4-number array; fractional values are rounded
func (b *BoundingBox) UnmarshalJSON(data []byte) error {
	var raw []float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("bbox must be an array of numbers: %w", err)
	}
	if len(raw) != 4 {
		return fmt.Errorf("bbox must have 4 values, got %d", len(raw))
	}
	for _, v := range raw {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("bbox contains a non-finite value")
		}
	}
	*b = BoundingBox{
		YMin: int(math.Round(raw[0])),
		XMin: int(math.Round(raw[1])),
		YMax: int(math.Round(raw[2])),
		XMax: int(math.Round(raw[3])),
	}
	return nil
}

// Languages selects the annotation mode. An empty From means single-language
// mode answering in To; both set means dual-language mode.
type Languages struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Dual reports whether both languages are requested
func (l Languages) Dual() bool {
	return l.From != "" && l.To != ""
}

// Target is the language used for a single-language answer
func (l Languages) Target() string {
	if l.To != "" {
		return l.To
	}
	return l.From
}

// Pair renders the languages the way dictionary entries label them
func (l Languages) Pair() string {
	if !l.Dual() {
		return l.Target()
	}
	return l.From + " -> " + l.To
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
