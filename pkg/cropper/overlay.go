package cropper

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"

	"github.com/menta2k/visual-dictionary/pkg/point"
	"github.com/menta2k/visual-dictionary/pkg/types"
)

var (
	markerColor = color.NRGBA{255, 0, 0, 255} // selected point
	boxColor    = color.NRGBA{0, 255, 0, 255} // model box
	haloColor   = color.NRGBA{255, 255, 255, 255}
)

// Overlay draws the selected point and, when box is non-nil, the region the
// model reported onto a copy of img.
func Overlay(img image.Image, p types.NormalizedPoint, box *types.BoundingBox) *image.NRGBA {
	nrgba := imaging.Clone(img)
	w := nrgba.Bounds().Dx()
	h := nrgba.Bounds().Dy()
	if w == 0 || h == 0 {
		return nrgba
	}

	stroke := int(math.Max(2, 0.004*float64(minInt(w, h))))
	radius := int(math.Max(5, 0.01*float64(minInt(w, h))))

	if box != nil {
		drawRect(nrgba, PixelRect(*box, nrgba.Bounds()), boxColor, stroke)
	}

	px, py := point.ToPixels(p, w, h)
	drawDot(nrgba, px, py, radius+stroke, haloColor)
	drawDot(nrgba, px, py, radius, markerColor)

	return nrgba
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func drawRect(img *image.NRGBA, r image.Rectangle, c color.NRGBA, stroke int) {
	for s := 0; s < stroke; s++ {
		drawHLine(img, r.Min.Y+s, r.Min.X, r.Max.X, c)
		drawHLine(img, r.Max.Y-1-s, r.Min.X, r.Max.X, c)
		drawVLine(img, r.Min.X+s, r.Min.Y, r.Max.Y, c)
		drawVLine(img, r.Max.X-1-s, r.Min.Y, r.Max.Y, c)
	}
}

func drawDot(img *image.NRGBA, cx, cy, radius int, c color.NRGBA) {
	for dy := -radius; dy <= radius; dy++ {
		half := int(math.Sqrt(float64(radius*radius - dy*dy)))
		drawHLine(img, cy+dy, cx-half, cx+half+1, c)
	}
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	if y < 0 || y >= img.Bounds().Dy() {
		return
	}
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if x1 <= 0 || x0 >= img.Bounds().Dx() {
		return
	}
	if x0 < 0 {
		x0 = 0
	}
	if x1 > img.Bounds().Dx() {
		x1 = img.Bounds().Dx()
	}
	i := y*img.Stride + x0*4
	for x := x0; x < x1; x++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += 4
	}
}

func drawVLine(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	if x < 0 || x >= img.Bounds().Dx() {
		return
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	if y1 <= 0 || y0 >= img.Bounds().Dy() {
		return
	}
	if y0 < 0 {
		y0 = 0
	}
	if y1 > img.Bounds().Dy() {
		y1 = img.Bounds().Dy()
	}
	i := y0*img.Stride + x*4
	for y := y0; y < y1; y++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += img.Stride
	}
}
