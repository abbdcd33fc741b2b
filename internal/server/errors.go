package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/menta2k/visual-dictionary/pkg/annotate"
	"github.com/menta2k/visual-dictionary/pkg/camera"
	"github.com/menta2k/visual-dictionary/pkg/dictionary"
	"github.com/menta2k/visual-dictionary/pkg/imagesource"
	"github.com/menta2k/visual-dictionary/pkg/openai"
	"github.com/menta2k/visual-dictionary/pkg/point"
	"github.com/menta2k/visual-dictionary/pkg/session"
)

type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps domain errors to HTTP status codes; unknown errors get fallback
func statusFor(err error, fallback int) int {
	switch {
	case errors.Is(err, session.ErrNoImage),
		errors.Is(err, session.ErrNothingToSave),
		errors.Is(err, session.ErrCameraOff),
		errors.Is(err, camera.ErrNotReady),
		errors.Is(err, point.ErrInvalidRect),
		errors.Is(err, imagesource.ErrNotImage),
		errors.Is(err, annotate.ErrNoLanguage),
		errors.Is(err, dictionary.ErrInvalidEntry):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrBusy), errors.Is(err, session.ErrSuperseded):
		return http.StatusConflict
	case errors.Is(err, camera.ErrPermission):
		return http.StatusForbidden
	case errors.Is(err, session.ErrClosed):
		return http.StatusNotFound
	case errors.Is(err, session.ErrNoCamera):
		return http.StatusNotImplemented
	case errors.Is(err, annotate.ErrMalformedResponse):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return http.StatusBadGateway
	}
	return fallback
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Warning: failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	if code >= http.StatusInternalServerError {
		log.Printf("Request failed (%d): %v", code, err)
	}
	writeJSON(w, code, errorResponse{Error: err.Error()})
}
