package session

import (
	"github.com/menta2k/visual-dictionary/pkg/types"
)

// CameraState is the camera part of a View
type CameraState string

const (
	CameraOff      CameraState = "off"
	CameraStarting CameraState = "starting"
	CameraLive     CameraState = "live"
)

// ImageInfo describes the loaded image
type ImageInfo struct {
	MediaType string `json:"mediaType"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Bytes     int    `json:"bytes"`
}

// View is a snapshot of what the screen shows
type View struct {
	Image     *ImageInfo            `json:"image,omitempty"`
	Point     types.NormalizedPoint `json:"point"`
	Languages types.Languages       `json:"languages"`
	Result    *ResultView           `json:"result,omitempty"`
	Error     string                `json:"error,omitempty"`
	Analyzing bool                  `json:"analyzing"`
	Camera    CameraState           `json:"camera"`
}

// ResultView is the displayed result
type ResultView struct {
	Text      string             `json:"text,omitempty"`
	TextFrom  string             `json:"textFrom,omitempty"`
	TextTo    string             `json:"textTo,omitempty"`
	BBox      *types.BoundingBox `json:"bbox,omitempty"`
	Thumbnail string             `json:"thumbnail,omitempty"`
	Label     string             `json:"label"`
}

// View returns the current state
func (s *Session) View() View {
	s.mu.Lock()
	img := s.img
	v := View{
		Point:     s.pt,
		Languages: s.langs,
		Error:     s.lastErr,
		Analyzing: s.analyzing,
		Camera:    CameraOff,
	}
	switch {
	case s.stream != nil:
		v.Camera = CameraLive
	case s.cameraStarting:
		v.Camera = CameraStarting
	}
	if out := s.outcome; out != nil {
		r := &ResultView{
			Text:     out.Text,
			TextFrom: out.TextFrom,
			TextTo:   out.TextTo,
			Label:    out.Label(),
		}
		if out.Dual {
			b := out.BBox
			r.BBox = &b
		}
		if out.Thumbnail != nil {
			r.Thumbnail = out.Thumbnail.DataURL()
		}
		v.Result = r
	}
	s.mu.Unlock()

	if img != nil {
		info := &ImageInfo{MediaType: img.MediaType(), Bytes: img.Len()}
		// Dimensions are resolved lazily and only once per asset
		if cfg, err := img.Config(); err == nil {
			info.Width, info.Height = cfg.Width, cfg.Height
		}
		v.Image = info
	}
	return v
}
