package imagesource

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
)

// DefaultMaxBytes caps uploads and downloads
const DefaultMaxBytes = 20 << 20

// Loader builds assets from files, readers and URLs
type Loader struct {
	MaxBytes   int64
	HTTPClient *http.Client
	UserAgent  string
}

// NewLoader creates a loader with default limits
func NewLoader() *Loader {
	return &Loader{
		MaxBytes:   DefaultMaxBytes,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		UserAgent:  "Visual-Dictionary/1.0",
	}
}

// FromReader reads an uploaded file body
func (l *Loader) FromReader(r io.Reader) (*Asset, error) {
	limit := l.maxBytes()
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("image exceeds %d bytes", limit)
	}
	return FromBytes(data)
}

// FromFile loads an image from disk
func (l *Loader) FromFile(path string) (*Asset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image file: %w", err)
	}
	defer f.Close()
	return l.FromReader(f)
}

// FromURL downloads an image over http or https
func (l *Loader) FromURL(ctx context.Context, imageURL string) (*Asset, error) {
	parsedURL, err := url.Parse(imageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme: %s (only http and https are supported)", parsedURL.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if l.UserAgent != "" {
		req.Header.Set("User-Agent", l.UserAgent)
	}

	client := l.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download image: HTTP %d %s", resp.StatusCode, resp.Status)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("URL does not point to an image (Content-Type: %s)", contentType)
	}
	return l.FromReader(resp.Body)
}

// Load accepts a data URL, an http(s) URL or a file path
func (l *Loader) Load(ctx context.Context, source string) (*Asset, error) {
	switch {
	case strings.HasPrefix(source, "data:"):
		return FromDataURL(source)
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		return l.FromURL(ctx, source)
	default:
		return l.FromFile(source)
	}
}

func (l *Loader) maxBytes() int64 {
	if l.MaxBytes > 0 {
		return l.MaxBytes
	}
	return DefaultMaxBytes
}

// Encode writes img in the given format (jpg, png or webp)
func Encode(w io.Writer, img image.Image, format string, quality int) error {
	if quality < 1 || quality > 100 {
		quality = 90
	}
	switch strings.ToLower(format) {
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		return enc.Encode(w, img)
	case "webp":
		return webp.Encode(w, img, &webp.Options{Quality: float32(quality)})
	case "jpg", "jpeg", "":
		return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

// PrepareForModel downscales the asset so its long side fits maxDim and
// re-encodes it for upload to a vision model. maxDim 0 keeps the original size;
// an empty format keeps the source format. An asset that already fits and
// matches format is returned unchanged.
func PrepareForModel(a *Asset, format string, maxDim, quality int) (*Asset, error) {
	if format == "" {
		format = formatOf(a.MediaType())
	}
	img, err := a.Image()
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	fits := maxDim <= 0 || (w <= maxDim && h <= maxDim)
	if fits && sameFormat(a.MediaType(), format) {
		return a, nil
	}
	if !fits {
		if w >= h {
			img = imaging.Resize(img, maxDim, 0, imaging.Lanczos)
		} else {
			img = imaging.Resize(img, 0, maxDim, imaging.Lanczos)
		}
	}
	return FromImage(img, format, quality)
}

// formatOf maps a media type to the Encode format that reproduces it. Types
// Encode cannot write fall back to jpg.
func formatOf(mediaType string) string {
	switch mediaType {
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	}
	return "jpg"
}

func sameFormat(mediaType, format string) bool {
	switch strings.ToLower(format) {
	case "jpg", "jpeg":
		return mediaType == "image/jpeg"
	case "png":
		return mediaType == "image/png"
	case "webp":
		return mediaType == "image/webp"
	}
	return false
}
