// Package point turns pointer interactions on a displayed image into
// normalized percentage coordinates.
package point

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/menta2k/visual-dictionary/pkg/types"
)

// ErrInvalidRect is returned when the displayed image rectangle has no area
var ErrInvalidRect = errors.New("image rectangle must have positive width and height")

// Rect is the on-screen rectangle of the rendered image element
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// FromPointer converts a pointer position into a point in percent of rect,
// rounded to whole percents. Positions outside rect clamp to its edges.
func FromPointer(pointerX, pointerY float64, rect Rect) (types.NormalizedPoint, error) {
	if !(rect.Width > 0) || !(rect.Height > 0) {
		return types.NormalizedPoint{}, ErrInvalidRect
	}
	x := math.Round((pointerX - rect.Left) / rect.Width * 100)
	y := math.Round((pointerY - rect.Top) / rect.Height * 100)
	return types.NewPoint(x, y), nil
}

// Parse reads coordinates typed into numeric fields
func Parse(xs, ys string) (types.NormalizedPoint, error) {
	x, err := parsePercent(xs)
	if err != nil {
		return types.NormalizedPoint{}, fmt.Errorf("invalid x: %w", err)
	}
	y, err := parsePercent(ys)
	if err != nil {
		return types.NormalizedPoint{}, fmt.Errorf("invalid y: %w", err)
	}
	return types.NewPoint(x, y), nil
}

func parsePercent(s string) (float64, error) {
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%q is not a finite number", s)
	}
	return v, nil
}

// ToPixels maps a point onto an image of the given pixel size
func ToPixels(p types.NormalizedPoint, width, height int) (int, int) {
	px := int(math.Round(p.X.Fraction() * float64(width)))
	py := int(math.Round(p.Y.Fraction() * float64(height)))
	if px >= width && width > 0 {
		px = width - 1
	}
	if py >= height && height > 0 {
		py = height - 1
	}
	return px, py
}
