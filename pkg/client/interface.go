package client

import (
	"context"

	"github.com/menta2k/visual-dictionary/pkg/imagesource"
)

// VisionClient sends one prompt plus one image to a multimodal model
type VisionClient interface {
	// SimpleQuery returns the model's free-form text answer
	SimpleQuery(ctx context.Context, model, prompt string, img *imagesource.Asset) (string, error)
	// JSONQuery asks the backend to constrain the answer to a JSON object and
	// returns the raw message content
	JSONQuery(ctx context.Context, model, prompt string, img *imagesource.Asset) (string, error)
}
