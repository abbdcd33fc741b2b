// Package imagesource normalizes uploads, data URLs, remote images and camera
// frames into a single immutable encoded image representation.
package imagesource

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"strings"
	"sync"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// ErrNotImage is returned when the payload is not a decodable image
var ErrNotImage = errors.New("payload is not an image")

// Asset is an encoded image. It is immutable once built; dimensions and pixels
// are resolved lazily and cached.
type Asset struct {
	mediaType string
	data      []byte

	cfgOnce sync.Once
	cfg     image.Config
	cfgErr  error

	imgOnce sync.Once
	img     image.Image
	imgErr  error
}

// FromBytes wraps encoded image bytes, sniffing the media type
func FromBytes(data []byte) (*Asset, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image payload: %w", ErrNotImage)
	}
	mediaType := http.DetectContentType(data)
	if !strings.HasPrefix(mediaType, "image/") {
		return nil, fmt.Errorf("detected %s: %w", mediaType, ErrNotImage)
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return &Asset{mediaType: mediaType, data: buf}, nil
}

// FromDataURL parses a base64 data URL such as the ones browsers produce from FileReader
func FromDataURL(s string) (*Asset, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "data:") {
		return nil, fmt.Errorf("not a data URL")
	}
	comma := strings.IndexByte(s, ',')
	if comma < 0 {
		return nil, fmt.Errorf("malformed data URL: missing payload")
	}
	meta := s[len("data:"):comma]
	if !strings.HasSuffix(meta, ";base64") {
		return nil, fmt.Errorf("data URL must be base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(s[comma+1:])
	if err != nil {
		return nil, fmt.Errorf("failed to decode data URL payload: %w", err)
	}
	return FromBytes(data)
}

// FromImage encodes img into a new asset. Supported formats are jpg, png and webp.
func FromImage(img image.Image, format string, quality int) (*Asset, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, img, format, quality); err != nil {
		return nil, err
	}
	a, err := FromBytes(buf.Bytes())
	if err != nil {
		return nil, err
	}
	a.setImage(img)
	return a, nil
}

// MediaType returns the sniffed MIME type, e.g. image/jpeg
func (a *Asset) MediaType() string {
	return a.mediaType
}

// Bytes returns a copy of the encoded payload
func (a *Asset) Bytes() []byte {
	out := make([]byte, len(a.data))
	copy(out, a.data)
	return out
}

// Len returns the encoded payload size
func (a *Asset) Len() int {
	return len(a.data)
}

// Base64 returns the payload in standard base64
func (a *Asset) Base64() string {
	return base64.StdEncoding.EncodeToString(a.data)
}

// DataURL renders the asset as data:<type>;base64,<payload>
func (a *Asset) DataURL() string {
	return "data:" + a.mediaType + ";base64," + a.Base64()
}

// Config returns the pixel dimensions without decoding the full image
func (a *Asset) Config() (image.Config, error) {
	a.cfgOnce.Do(func() {
		cfg, _, err := image.DecodeConfig(bytes.NewReader(a.data))
		if err != nil {
			// Decoders that cannot read headers alone still give us bounds.
			img, derr := a.Image()
			if derr != nil {
				a.cfgErr = fmt.Errorf("failed to read image dimensions: %w", err)
				return
			}
			b := img.Bounds()
			cfg = image.Config{ColorModel: img.ColorModel(), Width: b.Dx(), Height: b.Dy()}
		}
		a.cfg = cfg
	})
	return a.cfg, a.cfgErr
}

// Image decodes the asset, applying EXIF orientation for camera photos
func (a *Asset) Image() (image.Image, error) {
	a.imgOnce.Do(func() {
		a.img, a.imgErr = decode(a.data)
	})
	return a.img, a.imgErr
}

func (a *Asset) setImage(img image.Image) {
	a.imgOnce.Do(func() { a.img = img })
}

func (a *Asset) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.DataURL())
}

func (a *Asset) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := FromDataURL(s)
	if err != nil {
		return err
	}
	a.mediaType = parsed.mediaType
	a.data = parsed.data
	return nil
}

// decode tries the registered decoders first, then an explicit WebP decode
func decode(data []byte) (image.Image, error) {
	if img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true)); err == nil {
		return img, nil
	}
	if img, err := webp.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	return nil, fmt.Errorf("image: unknown or unsupported format: %w", ErrNotImage)
}
