package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/menta2k/visual-dictionary/pkg/imagesource"
	"github.com/menta2k/visual-dictionary/pkg/point"
	"github.com/menta2k/visual-dictionary/pkg/session"
	"github.com/menta2k/visual-dictionary/pkg/types"
)

// maxJSONBody caps JSON bodies; data URLs are about 4/3 of the image size
const maxJSONBody = 32 << 20

type sessionResponse struct {
	ID   string       `json:"id"`
	View session.View `json:"view"`
}

func (srv *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	id, s := srv.create()
	writeJSON(w, http.StatusCreated, sessionResponse{ID: id, View: s.View()})
}

// withSession resolves {id} or answers 404
func (srv *Server) withSession(w http.ResponseWriter, r *http.Request) (string, *session.Session, bool) {
	id := r.PathValue("id")
	s, ok := srv.lookup(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("session %q not found", id))
		return "", nil, false
	}
	return id, s, true
}

func (srv *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id, s, ok := srv.withSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{ID: id, View: s.View()})
}

func (srv *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !srv.remove(id) {
		writeError(w, http.StatusNotFound, fmt.Errorf("session %q not found", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type imageRequest struct {
	DataURL string `json:"dataUrl"`
	URL     string `json:"url"`
}

func (srv *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	id, s, ok := srv.withSession(w, r)
	if !ok {
		return
	}

	asset, err := srv.readImage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.LoadImage(asset); err != nil {
		writeError(w, statusFor(err, http.StatusInternalServerError), err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{ID: id, View: s.View()})
}

// readImage accepts a multipart upload in field "file" or a JSON body with a
// data URL or a remote URL
func (srv *Server) readImage(r *http.Request) (*imagesource.Asset, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		limit := srv.opts.Loader.MaxBytes
		if limit <= 0 {
			limit = imagesource.DefaultMaxBytes
		}
		r.Body = http.MaxBytesReader(nil, r.Body, limit+1<<20)
		file, _, err := r.FormFile("file")
		if err != nil {
			return nil, fmt.Errorf("missing file upload: %w", err)
		}
		defer file.Close()
		return srv.opts.Loader.FromReader(file)
	}

	var req imageRequest
	if err := decodeJSON(r, &req); err != nil {
		return nil, err
	}
	switch {
	case req.DataURL != "":
		return imagesource.FromDataURL(req.DataURL)
	case req.URL != "":
		return srv.opts.Loader.FromURL(r.Context(), req.URL)
	default:
		return nil, errors.New("expected a file upload, dataUrl or url")
	}
}

func (srv *Server) handleCamera(w http.ResponseWriter, r *http.Request) {
	id, s, ok := srv.withSession(w, r)
	if !ok {
		return
	}

	var err error
	switch action := r.PathValue("action"); action {
	case "start":
		err = s.StartCamera(r.Context())
	case "capture":
		err = s.Capture(r.Context())
	case "cancel":
		s.CancelCamera()
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown camera action %q", action))
		return
	}
	if err != nil {
		writeError(w, statusFor(err, http.StatusBadGateway), err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{ID: id, View: s.View()})
}

// coordinate accepts a JSON number or a string such as "30" or "30%"
type coordinate string

func (c *coordinate) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = coordinate(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("coordinate must be a number or string: %w", err)
	}
	*c = coordinate(n.String())
	return nil
}

type pointRequest struct {
	PointerX *float64    `json:"pointerX"`
	PointerY *float64    `json:"pointerY"`
	Rect     *point.Rect `json:"rect"`
	X        *coordinate `json:"x"`
	Y        *coordinate `json:"y"`
}

func (srv *Server) handlePoint(w http.ResponseWriter, r *http.Request) {
	id, s, ok := srv.withSession(w, r)
	if !ok {
		return
	}

	var req pointRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var err error
	switch {
	case req.PointerX != nil && req.PointerY != nil && req.Rect != nil:
		_, err = s.SelectPointer(*req.PointerX, *req.PointerY, *req.Rect)
	case req.X != nil || req.Y != nil:
		var xs, ys string
		if req.X != nil {
			xs = string(*req.X)
		}
		if req.Y != nil {
			ys = string(*req.Y)
		}
		var p types.NormalizedPoint
		if p, err = point.Parse(xs, ys); err == nil {
			err = s.SetPoint(p)
		}
	default:
		err = errors.New("expected pointerX, pointerY and rect, or x and y")
	}
	if err != nil {
		writeError(w, statusFor(err, http.StatusBadRequest), err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{ID: id, View: s.View()})
}

func (srv *Server) handleLanguages(w http.ResponseWriter, r *http.Request) {
	id, s, ok := srv.withSession(w, r)
	if !ok {
		return
	}

	var langs types.Languages
	if err := decodeJSON(r, &langs); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	langs.From = strings.TrimSpace(langs.From)
	langs.To = strings.TrimSpace(langs.To)
	if err := s.SetLanguages(langs); err != nil {
		writeError(w, statusFor(err, http.StatusBadRequest), err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{ID: id, View: s.View()})
}

func (srv *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	id, s, ok := srv.withSession(w, r)
	if !ok {
		return
	}
	if _, err := s.Analyze(r.Context()); err != nil {
		writeError(w, statusFor(err, http.StatusBadGateway), err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{ID: id, View: s.View()})
}

func (srv *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	_, s, ok := srv.withSession(w, r)
	if !ok {
		return
	}
	entry, err := s.Save(r.Context())
	if err != nil {
		writeError(w, statusFor(err, http.StatusInternalServerError), err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (srv *Server) handleOverlay(w http.ResponseWriter, r *http.Request) {
	_, s, ok := srv.withSession(w, r)
	if !ok {
		return
	}
	img, err := s.Overlay()
	if err != nil {
		writeError(w, statusFor(err, http.StatusInternalServerError), err)
		return
	}

	var buf bytes.Buffer
	if err := imagesource.Encode(&buf, img, "jpg", 90); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (srv *Server) handleListDictionary(w http.ResponseWriter, r *http.Request) {
	list, err := srv.opts.Store.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (srv *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid entry id: %w", err))
		return
	}

	found, err := srv.hasEntry(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, fmt.Errorf("entry %d not found", id))
		return
	}
	if err := srv.opts.Store.Remove(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (srv *Server) hasEntry(ctx context.Context, id int64) (bool, error) {
	list, err := srv.opts.Store.List(ctx)
	if err != nil {
		return false, err
	}
	for _, e := range list {
		if e.ID == id {
			return true, nil
		}
	}
	return false, nil
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}
