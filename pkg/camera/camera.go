// Package camera acquires still frames from a camera device. Streams are
// exclusively owned: whoever opens one must close it.
package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net/http"
	"sync"
	"time"

	"github.com/disintegration/imaging"

	"github.com/menta2k/visual-dictionary/pkg/imagesource"
)

var (
	// ErrNotReady means the stream has not produced a frame with real dimensions yet
	ErrNotReady = errors.New("video not ready")
	// ErrPermission wraps failures to acquire the device
	ErrPermission = errors.New("camera access denied")
	// ErrClosed is returned by a stream after Close
	ErrClosed = errors.New("camera stream closed")
)

// Facing selects the camera on multi-camera devices
type Facing string

const (
	FacingEnvironment Facing = "environment"
	FacingUser        Facing = "user"
)

// Constraints are the preferred capture settings
type Constraints struct {
	Facing      Facing
	IdealWidth  int
	IdealHeight int
}

// DefaultConstraints prefers the rear camera at 1920x1080
func DefaultConstraints() Constraints {
	return Constraints{Facing: FacingEnvironment, IdealWidth: 1920, IdealHeight: 1080}
}

// SnapshotQuality is the JPEG quality of captured stills
const SnapshotQuality = 90

// Device opens camera streams
type Device interface {
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// Stream is an open camera. Close stops all tracks and is safe to call twice.
type Stream interface {
	Frame(ctx context.Context) (image.Image, error)
	Close() error
}

// Snapshot reads one frame from s and encodes it as a JPEG asset
func Snapshot(ctx context.Context, s Stream) (*imagesource.Asset, error) {
	frame, err := s.Frame(ctx)
	if err != nil {
		return nil, err
	}
	if frame == nil || frame.Bounds().Empty() {
		return nil, ErrNotReady
	}
	return imagesource.FromImage(frame, "jpg", SnapshotQuality)
}

// Capture opens the device, takes one still and releases the device
func Capture(ctx context.Context, d Device, c Constraints) (*imagesource.Asset, error) {
	s, err := d.Open(ctx, c)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	return Snapshot(ctx, s)
}

// SnapshotDevice reads frames from an HTTP endpoint returning a still image,
// as exposed by IP cameras and phone camera apps.
type SnapshotDevice struct {
	URL    string
	Loader *imagesource.Loader
}

// NewSnapshotDevice creates a device polling url for frames
func NewSnapshotDevice(url string) *SnapshotDevice {
	l := imagesource.NewLoader()
	l.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	return &SnapshotDevice{URL: url, Loader: l}
}

// Open probes the endpoint once; failure to reach it is a permission error
func (d *SnapshotDevice) Open(ctx context.Context, c Constraints) (Stream, error) {
	if d.URL == "" {
		return nil, fmt.Errorf("%w: no snapshot URL configured", ErrPermission)
	}
	s := &snapshotStream{device: d, constraints: c}
	if _, err := s.fetch(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPermission, err)
	}
	return s, nil
}

type snapshotStream struct {
	device      *SnapshotDevice
	constraints Constraints

	mu     sync.Mutex
	closed bool
}

func (s *snapshotStream) Frame(ctx context.Context) (image.Image, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	return s.fetch(ctx)
}

func (s *snapshotStream) fetch(ctx context.Context) (image.Image, error) {
	a, err := s.device.Loader.FromURL(ctx, s.device.URL)
	if err != nil {
		return nil, err
	}
	img, err := a.Image()
	if err != nil {
		return nil, err
	}
	return fitIdeal(img, s.constraints), nil
}

func (s *snapshotStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// fitIdeal scales frames larger than the ideal resolution down to fit it
func fitIdeal(img image.Image, c Constraints) image.Image {
	if c.IdealWidth <= 0 || c.IdealHeight <= 0 {
		return img
	}
	b := img.Bounds()
	long, short := c.IdealWidth, c.IdealHeight
	if short > long {
		long, short = short, long
	}
	w, h := long, short
	if b.Dy() > b.Dx() {
		w, h = short, long
	}
	if b.Dx() <= w && b.Dy() <= h {
		return img
	}
	return imaging.Fit(img, w, h, imaging.Lanczos)
}
