// Package annotate asks a vision model what is at a point of an image, in one
// or two languages.
package annotate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/menta2k/visual-dictionary/pkg/client"
	"github.com/menta2k/visual-dictionary/pkg/imagesource"
	"github.com/menta2k/visual-dictionary/pkg/types"
)

var (
	// ErrMalformedResponse is returned when a dual-language answer is not the expected JSON object
	ErrMalformedResponse = errors.New("malformed model response")
	// ErrNoImage is returned when no image is supplied
	ErrNoImage = errors.New("no image")
	// ErrNoLanguage is returned when no target language is supplied
	ErrNoLanguage = errors.New("no target language")
)

// Request is one annotation call
type Request struct {
	Image     *imagesource.Asset
	Point     types.NormalizedPoint
	Languages types.Languages
}

// Result is the parsed model answer. Text is set in single-language mode;
// TextFrom, TextTo and BBox in dual-language mode.
type Result struct {
	Text     string            `json:"text,omitempty"`
	TextFrom string            `json:"textFrom,omitempty"`
	TextTo   string            `json:"textTo,omitempty"`
	BBox     types.BoundingBox `json:"bbox"`
	Dual     bool              `json:"dual"`
}

// Label renders the result the way dictionary entries store it
func (r Result) Label() string {
	if r.Dual {
		return r.TextFrom + " - " + r.TextTo
	}
	return r.Text
}

// ImageOptions control how the image is re-encoded before upload
type ImageOptions struct {
	Format  string
	MaxDim  int
	Quality int
}

// Annotator builds prompts and parses answers on top of a VisionClient
type Annotator struct {
	client client.VisionClient
	model  string
	image  ImageOptions
}

// New creates an annotator sending images as they are
func New(c client.VisionClient, model string) *Annotator {
	return &Annotator{client: c, model: model}
}

// NewWithImageOptions creates an annotator that downsizes images before upload
func NewWithImageOptions(c client.VisionClient, model string, opts ImageOptions) *Annotator {
	return &Annotator{client: c, model: model, image: opts}
}

// Model returns the model name requests are sent to
func (a *Annotator) Model() string {
	return a.model
}

// Annotate sends one request and parses the answer according to the mode
// selected by req.Languages. Nothing is retried.
func (a *Annotator) Annotate(ctx context.Context, req Request) (Result, error) {
	if req.Image == nil {
		return Result{}, ErrNoImage
	}
	if req.Languages.Target() == "" {
		return Result{}, ErrNoLanguage
	}

	img, err := a.prepare(req.Image)
	if err != nil {
		return Result{}, fmt.Errorf("failed to prepare image: %w", err)
	}

	if !req.Languages.Dual() {
		prompt := SinglePrompt(req.Point, req.Languages.Target())
		text, err := a.client.SimpleQuery(ctx, a.model, prompt, img)
		if err != nil {
			return Result{}, err
		}
		return Result{Text: strings.TrimSpace(text)}, nil
	}

	prompt := DualPrompt(req.Point, req.Languages)
	raw, err := a.client.JSONQuery(ctx, a.model, prompt, img)
	if err != nil {
		return Result{}, err
	}
	return ParseDual(raw)
}

func (a *Annotator) prepare(img *imagesource.Asset) (*imagesource.Asset, error) {
	if a.image.Format == "" && a.image.MaxDim <= 0 {
		return img, nil
	}
	return imagesource.PrepareForModel(img, a.image.Format, a.image.MaxDim, a.image.Quality)
}
