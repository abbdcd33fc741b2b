package annotate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/menta2k/visual-dictionary/pkg/types"
)

type dualPayload struct {
	TextFrom *string            `json:"textFrom"`
	TextTo   *string            `json:"textTo"`
	BBox     *types.BoundingBox `json:"bbox"`
}

// ParseDual decodes a dual-language answer. Code fences around the object are
// tolerated; anything else that is not exactly {textFrom, textTo, bbox} fails.
func ParseDual(raw string) (Result, error) {
	body := stripFences(raw)
	if body == "" {
		return Result{}, fmt.Errorf("%w: empty content", ErrMalformedResponse)
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	var payload dualPayload
	if err := dec.Decode(&payload); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if dec.More() {
		return Result{}, fmt.Errorf("%w: trailing data after JSON object", ErrMalformedResponse)
	}

	switch {
	case payload.TextFrom == nil || strings.TrimSpace(*payload.TextFrom) == "":
		return Result{}, fmt.Errorf("%w: missing textFrom", ErrMalformedResponse)
	case payload.TextTo == nil || strings.TrimSpace(*payload.TextTo) == "":
		return Result{}, fmt.Errorf("%w: missing textTo", ErrMalformedResponse)
	case payload.BBox == nil:
		return Result{}, fmt.Errorf("%w: missing bbox", ErrMalformedResponse)
	}

	return Result{
		TextFrom: strings.TrimSpace(*payload.TextFrom),
		TextTo:   strings.TrimSpace(*payload.TextTo),
		BBox:     *payload.BBox,
		Dual:     true,
	}, nil
}

// stripFences removes markdown code fences models sometimes wrap JSON in
func stripFences(raw string) string {
	raw = strings.TrimSpace(raw)

	// Strip triple-backtick fences if present
	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		} else {
			raw = strings.TrimPrefix(raw, "```")
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	return strings.TrimSpace(raw)
}
