package cropper

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"

	"github.com/menta2k/visual-dictionary/pkg/imagesource"
	"github.com/menta2k/visual-dictionary/pkg/types"
)

// ErrEmptyImage is returned for sources without pixels
var ErrEmptyImage = errors.New("source image has no pixels")

// RegionCropper cuts model-reported regions out of source images
type RegionCropper struct {
	config CropConfig
}

// CropConfig holds configuration for thumbnail encoding
type CropConfig struct {
	Format  string
	Quality int
	// MaxSide downsizes thumbnails whose long side exceeds it; 0 keeps crop size
	MaxSide int
}

// New creates a new RegionCropper producing JPEG thumbnails
func New() *RegionCropper {
	return &RegionCropper{
		config: CropConfig{
			Format:  "jpg",
			Quality: 92,
		},
	}
}

// NewWithConfig creates a new RegionCropper with custom configuration
func NewWithConfig(config CropConfig) *RegionCropper {
	return &RegionCropper{config: config}
}

// CropResult contains the result of a cropping operation
type CropResult struct {
	Thumbnail *imagesource.Asset
	// Box is the normalized box actually used
	Box types.BoundingBox
	// Rect is the pixel rectangle cut from the source
	Rect image.Rectangle
}

// Crop cuts bbox out of the source asset and re-encodes it. The box is
// normalized first so inverted or out-of-range bounds never fail the crop.
func (c *RegionCropper) Crop(src *imagesource.Asset, bbox types.BoundingBox) (CropResult, error) {
	img, err := src.Image()
	if err != nil {
		return CropResult{}, fmt.Errorf("failed to decode source image: %w", err)
	}
	return c.CropImage(img, bbox)
}

// CropImage is Crop for an already decoded image
func (c *RegionCropper) CropImage(img image.Image, bbox types.BoundingBox) (CropResult, error) {
	bounds := img.Bounds()
	if bounds.Empty() {
		return CropResult{}, ErrEmptyImage
	}

	box := bbox.Normalize()
	rect := PixelRect(box, bounds)

	var cropped image.Image = imaging.Crop(img, rect)
	if c.config.MaxSide > 0 {
		b := cropped.Bounds()
		if b.Dx() > c.config.MaxSide || b.Dy() > c.config.MaxSide {
			cropped = imaging.Fit(cropped, c.config.MaxSide, c.config.MaxSide, imaging.Lanczos)
		}
	}

	thumb, err := imagesource.FromImage(cropped, c.config.Format, c.config.Quality)
	if err != nil {
		return CropResult{}, fmt.Errorf("failed to encode thumbnail: %w", err)
	}

	return CropResult{Thumbnail: thumb, Box: box, Rect: rect}, nil
}

// PixelRect scales a 0..1000 box onto bounds. The result lies inside bounds
// and is at least one pixel wide and high.
func PixelRect(box types.BoundingBox, bounds image.Rectangle) image.Rectangle {
	box = box.Normalize()
	fw, fh := float64(bounds.Dx()), float64(bounds.Dy())

	x0 := int(math.Round(float64(box.XMin) / types.BoxScale * fw))
	y0 := int(math.Round(float64(box.YMin) / types.BoxScale * fh))
	x1 := int(math.Round(float64(box.XMax) / types.BoxScale * fw))
	y1 := int(math.Round(float64(box.YMax) / types.BoxScale * fh))

	x0, x1 = atLeastOne(x0, x1, bounds.Dx())
	y0, y1 = atLeastOne(y0, y1, bounds.Dy())

	return image.Rect(x0, y0, x1, y1).Add(bounds.Min).Intersect(bounds)
}

func atLeastOne(lo, hi, size int) (int, int) {
	if hi > lo {
		return lo, hi
	}
	if lo >= size {
		lo = size - 1
	}
	if lo < 0 {
		lo = 0
	}
	return lo, lo + 1
}
