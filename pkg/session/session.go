// Package session holds the state of one analysis screen: the loaded image,
// the selected point, the languages, the camera and the last result.
package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"sync"
	"time"

	"github.com/menta2k/visual-dictionary/pkg/annotate"
	"github.com/menta2k/visual-dictionary/pkg/camera"
	"github.com/menta2k/visual-dictionary/pkg/cropper"
	"github.com/menta2k/visual-dictionary/pkg/dictionary"
	"github.com/menta2k/visual-dictionary/pkg/imagesource"
	"github.com/menta2k/visual-dictionary/pkg/point"
	"github.com/menta2k/visual-dictionary/pkg/types"
)

var (
	// ErrNoImage is returned by operations that need a loaded image
	ErrNoImage = errors.New("Upload image first")
	// ErrBusy is returned while the same kind of operation is still running
	ErrBusy = errors.New("operation already in progress")
	// ErrNothingToSave is returned by Save before a successful analysis
	ErrNothingToSave = errors.New("nothing to save")
	// ErrSuperseded is returned when the image or point changed while a request was in flight
	ErrSuperseded = errors.New("result superseded by a newer selection")
	// ErrNoCamera is returned when no camera device is configured
	ErrNoCamera = errors.New("no camera configured")
	// ErrCameraOff is returned by Capture when the camera is not running
	ErrCameraOff = errors.New("camera is not running")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("session closed")
)

// DefaultTimeout bounds an analysis when the caller's context has no deadline
const DefaultTimeout = 2 * time.Minute

// Annotator is the model call behind Analyze
type Annotator interface {
	Annotate(ctx context.Context, req annotate.Request) (annotate.Result, error)
}

// Cropper cuts the reported region out of the image
type Cropper interface {
	Crop(src *imagesource.Asset, bbox types.BoundingBox) (cropper.CropResult, error)
}

// Observer receives timings of finished operations. mode is "single" or "dual".
type Observer interface {
	ObserveAnalyze(mode string, d time.Duration, err error)
	ObserveSave(err error)
}

// Options wire a session to its collaborators. Annotator is required.
type Options struct {
	Annotator   Annotator
	Cropper     Cropper
	Store       dictionary.Store
	Camera      camera.Device
	Constraints camera.Constraints
	Languages   types.Languages
	Timeout     time.Duration
	Observer    Observer
	// Now is the clock used for entry ids; time.Now when nil
	Now func() time.Time
}

// Outcome is a successful analysis
type Outcome struct {
	annotate.Result
	// Thumbnail is the crop of the reported region, dual mode only
	Thumbnail *imagesource.Asset    `json:"thumbnail,omitempty"`
	Point     types.NormalizedPoint `json:"point"`
	Languages types.Languages       `json:"languages"`
}

// Session is safe for concurrent use. Model and camera calls run without the
// lock held; generation tracks the image and point a result belongs to.
type Session struct {
	opts Options

	mu         sync.Mutex
	img        *imagesource.Asset
	pt         types.NormalizedPoint
	langs      types.Languages
	outcome    *Outcome
	lastErr    string
	generation uint64

	analyzing      bool
	cancelAnalyze  context.CancelFunc
	cameraStarting bool
	capturing      bool
	stream         camera.Stream
	closed         bool
	// lastID is the id of the latest saved entry; ids only move forward
	lastID int64
}

// New creates an empty session
func New(opts Options) *Session {
	if opts.Cropper == nil {
		opts.Cropper = cropper.New()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Constraints == (camera.Constraints{}) {
		opts.Constraints = camera.DefaultConstraints()
	}
	langs := opts.Languages
	if langs.Target() == "" {
		langs = types.Languages{From: "Ukrainian", To: "English"}
	}
	return &Session{opts: opts, langs: langs}
}

// LoadImage replaces the image and clears the result
func (s *Session) LoadImage(img *imagesource.Asset) error {
	if img == nil {
		return ErrNoImage
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.setImageLocked(img)
	return nil
}

func (s *Session) setImageLocked(img *imagesource.Asset) {
	s.img = img
	s.clearLocked()
}

// clearLocked drops the displayed result and invalidates in-flight requests
func (s *Session) clearLocked() {
	s.outcome = nil
	s.lastErr = ""
	s.generation++
}

// SelectPointer selects the point under a pointer event on the displayed image
func (s *Session) SelectPointer(pointerX, pointerY float64, rect point.Rect) (types.NormalizedPoint, error) {
	p, err := point.FromPointer(pointerX, pointerY, rect)
	if err != nil {
		return types.NormalizedPoint{}, err
	}
	return p, s.SetPoint(p)
}

// SetPoint selects a point directly and clears the result
func (s *Session) SetPoint(p types.NormalizedPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.pt = types.NewPoint(float64(p.X), float64(p.Y))
	s.clearLocked()
	return nil
}

// SetLanguages switches the mode; an empty From selects single-language mode
func (s *Session) SetLanguages(langs types.Languages) error {
	if langs.Target() == "" {
		return annotate.ErrNoLanguage
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if langs != s.langs {
		s.langs = langs
		s.clearLocked()
	}
	return nil
}

// Analyze asks the model about the selected point. On failure the error is
// shown inline and the last successful result stays.
func (s *Session) Analyze(ctx context.Context) (*Outcome, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if s.img == nil {
		s.mu.Unlock()
		return nil, ErrNoImage
	}
	if s.analyzing {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	req := annotate.Request{Image: s.img, Point: s.pt, Languages: s.langs}
	gen := s.generation
	if _, ok := ctx.Deadline(); !ok {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancelTimeout()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.analyzing = true
	s.cancelAnalyze = cancel
	s.lastErr = ""
	s.mu.Unlock()

	start := time.Now()
	out, err := s.run(ctx, req)
	s.observeAnalyze(req.Languages, time.Since(start), err)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.analyzing = false
	s.cancelAnalyze = nil
	if s.closed {
		return nil, ErrClosed
	}
	if gen != s.generation {
		return nil, ErrSuperseded
	}
	if err != nil {
		s.lastErr = err.Error()
		log.Printf("Analysis at %s failed: %v", req.Point, err)
		return nil, err
	}
	s.outcome = out
	return out, nil
}

func (s *Session) run(ctx context.Context, req annotate.Request) (*Outcome, error) {
	res, err := s.opts.Annotator.Annotate(ctx, req)
	if err != nil {
		return nil, err
	}
	out := &Outcome{Result: res, Point: req.Point, Languages: req.Languages}
	if res.Dual {
		crop, err := s.opts.Cropper.Crop(req.Image, res.BBox)
		if err != nil {
			return nil, fmt.Errorf("failed to crop region: %w", err)
		}
		out.Thumbnail = crop.Thumbnail
	}
	return out, nil
}

func (s *Session) observeAnalyze(langs types.Languages, d time.Duration, err error) {
	if s.opts.Observer == nil {
		return
	}
	mode := "single"
	if langs.Dual() {
		mode = "dual"
	}
	s.opts.Observer.ObserveAnalyze(mode, d, err)
}

// Save appends the current result to the dictionary
func (s *Session) Save(ctx context.Context) (dictionary.Entry, error) {
	if s.opts.Store == nil {
		return dictionary.Entry{}, errors.New("no dictionary store configured")
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return dictionary.Entry{}, ErrClosed
	}
	out := s.outcome
	full := s.img
	if out == nil || out.Label() == "" {
		s.mu.Unlock()
		return dictionary.Entry{}, ErrNothingToSave
	}
	img := out.Thumbnail
	if img == nil {
		img = full
	}
	entry := dictionary.NewEntry(s.opts.Now(), img, out.Point, out.Label(), out.Languages.Pair())
	if entry.ID <= s.lastID {
		entry.ID = s.lastID + 1
	}
	s.lastID = entry.ID
	s.mu.Unlock()

	err := s.opts.Store.Append(ctx, entry)
	if s.opts.Observer != nil {
		s.opts.Observer.ObserveSave(err)
	}
	if err != nil {
		return dictionary.Entry{}, fmt.Errorf("failed to save entry: %w", err)
	}
	return entry, nil
}

// StartCamera acquires the camera. Starting an already running camera is a no-op.
func (s *Session) StartCamera(ctx context.Context) error {
	if s.opts.Camera == nil {
		return ErrNoCamera
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.cameraStarting {
		s.mu.Unlock()
		return ErrBusy
	}
	if s.stream != nil {
		s.mu.Unlock()
		return nil
	}
	s.cameraStarting = true
	s.mu.Unlock()

	stream, err := s.opts.Camera.Open(ctx, s.opts.Constraints)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cameraStarting = false
	if err != nil {
		s.lastErr = err.Error()
		return err
	}
	if s.closed {
		stream.Close()
		return ErrClosed
	}
	s.stream = stream
	return nil
}

// Capture takes a still from the running camera, loads it as the image and
// releases the camera. A frame that is not ready leaves the camera running.
func (s *Session) Capture(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	stream := s.stream
	if stream == nil {
		s.mu.Unlock()
		return ErrCameraOff
	}
	if s.capturing {
		s.mu.Unlock()
		return ErrBusy
	}
	s.capturing = true
	s.mu.Unlock()

	asset, err := camera.Snapshot(ctx, stream)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.capturing = false
	if s.closed {
		return ErrClosed
	}
	if err != nil {
		s.lastErr = err.Error()
		return err
	}
	s.releaseCameraLocked()
	s.setImageLocked(asset)
	return nil
}

// CancelCamera releases the camera without capturing
func (s *Session) CancelCamera() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseCameraLocked()
}

func (s *Session) releaseCameraLocked() {
	if s.stream == nil {
		return
	}
	if err := s.stream.Close(); err != nil {
		log.Printf("Warning: failed to release camera: %v", err)
	}
	s.stream = nil
}

// Overlay renders the image with the selected point and, for dual results,
// the reported box
func (s *Session) Overlay() (*image.NRGBA, error) {
	s.mu.Lock()
	src, p := s.img, s.pt
	var box *types.BoundingBox
	if s.outcome != nil && s.outcome.Dual {
		b := s.outcome.BBox
		box = &b
	}
	s.mu.Unlock()

	if src == nil {
		return nil, ErrNoImage
	}
	img, err := src.Image()
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return cropper.Overlay(img, p, box), nil
}

// Close cancels a running analysis and releases the camera. It is safe to call twice.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.cancelAnalyze != nil {
		s.cancelAnalyze()
	}
	s.releaseCameraLocked()
	return nil
}
