// Package server exposes analysis sessions and the dictionary over HTTP.
package server

import (
	"context"
	"crypto/rand"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/menta2k/visual-dictionary/internal/logutil"
	"github.com/menta2k/visual-dictionary/internal/metrics"
	"github.com/menta2k/visual-dictionary/pkg/dictionary"
	"github.com/menta2k/visual-dictionary/pkg/imagesource"
	"github.com/menta2k/visual-dictionary/pkg/session"
)

// DefaultSessionTTL is how long an unused session stays open
const DefaultSessionTTL = 30 * time.Minute

// Options wire the server to the rest of the application
type Options struct {
	// NewSession creates the state behind POST /api/sessions
	NewSession func() *session.Session
	Store      dictionary.Store
	Loader     *imagesource.Loader
	Metrics    *metrics.Metrics
	SessionTTL time.Duration
	Now        func() time.Time
}

// Server holds open sessions; idle ones are closed by Sweep
type Server struct {
	opts Options
	mux  *http.ServeMux

	mu       sync.Mutex
	sessions map[string]*tracked
}

type tracked struct {
	s        *session.Session
	lastUsed time.Time
}

// New creates a server; NewSession and Store are required
func New(opts Options) *Server {
	if opts.Loader == nil {
		opts.Loader = imagesource.NewLoader()
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = DefaultSessionTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	srv := &Server{
		opts:     opts,
		mux:      http.NewServeMux(),
		sessions: make(map[string]*tracked),
	}
	srv.routes()
	return srv
}

func (srv *Server) routes() {
	srv.handle("POST /api/sessions", "create_session", srv.handleCreateSession)
	srv.handle("GET /api/sessions/{id}", "get_session", srv.handleGetSession)
	srv.handle("DELETE /api/sessions/{id}", "delete_session", srv.handleDeleteSession)
	srv.handle("POST /api/sessions/{id}/image", "image", srv.handleImage)
	srv.handle("POST /api/sessions/{id}/camera/{action}", "camera", srv.handleCamera)
	srv.handle("POST /api/sessions/{id}/point", "point", srv.handlePoint)
	srv.handle("PUT /api/sessions/{id}/languages", "languages", srv.handleLanguages)
	srv.handle("POST /api/sessions/{id}/analyze", "analyze", srv.handleAnalyze)
	srv.handle("POST /api/sessions/{id}/save", "save", srv.handleSave)
	srv.handle("GET /api/sessions/{id}/overlay", "overlay", srv.handleOverlay)
	srv.handle("GET /api/dictionary", "list_dictionary", srv.handleListDictionary)
	srv.handle("DELETE /api/dictionary/{id}", "delete_entry", srv.handleDeleteEntry)
	srv.handle("GET /healthz", "healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	srv.handle("GET /{$}", "dictionary_page", srv.handleDictionaryPage)
	srv.handle("POST /dictionary/{id}/delete", "dictionary_page_delete", srv.handleDeletePageEntry)
	if srv.opts.Metrics != nil {
		srv.mux.Handle("GET /metrics", srv.opts.Metrics.Handler())
	}
}

// handle registers h under pattern and counts responses per route
func (srv *Server) handle(pattern, route string, h http.HandlerFunc) {
	srv.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		start := time.Now()
		h(rec, r)
		logutil.Debugf("%s %s -> %d (%v)", r.Method, r.URL.Path, rec.code, time.Since(start))
		if srv.opts.Metrics != nil {
			srv.opts.Metrics.ObserveRequest(route, rec.code)
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (srv *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	srv.mux.ServeHTTP(w, r)
}

// Run serves on addr until ctx is cancelled, then closes every session
func (srv *Server) Run(ctx context.Context, addr string) error {
	hs := &http.Server{
		Addr:              addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go srv.sweepLoop(ctx)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Listening on %s", addr)
		errCh <- hs.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		srv.CloseAll()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.CloseAll()
	if err := hs.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (srv *Server) sweepLoop(ctx context.Context) {
	interval := srv.opts.SessionTTL / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			srv.Sweep()
		}
	}
}

func (srv *Server) create() (string, *session.Session) {
	id := newID()
	s := srv.opts.NewSession()

	srv.mu.Lock()
	srv.sessions[id] = &tracked{s: s, lastUsed: srv.opts.Now()}
	srv.mu.Unlock()

	if srv.opts.Metrics != nil {
		srv.opts.Metrics.SessionOpened()
	}
	return id, s
}

func (srv *Server) lookup(id string) (*session.Session, bool) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	t, ok := srv.sessions[id]
	if !ok {
		return nil, false
	}
	t.lastUsed = srv.opts.Now()
	return t.s, true
}

func (srv *Server) remove(id string) bool {
	srv.mu.Lock()
	t, ok := srv.sessions[id]
	delete(srv.sessions, id)
	srv.mu.Unlock()
	if !ok {
		return false
	}
	srv.closeSession(t.s)
	return true
}

func (srv *Server) closeSession(s *session.Session) {
	s.Close()
	if srv.opts.Metrics != nil {
		srv.opts.Metrics.SessionClosed()
	}
}

// Sweep closes sessions unused for longer than the TTL and reports how many
func (srv *Server) Sweep() int {
	cutoff := srv.opts.Now().Add(-srv.opts.SessionTTL)

	srv.mu.Lock()
	var expired []*session.Session
	for id, t := range srv.sessions {
		if t.lastUsed.Before(cutoff) {
			expired = append(expired, t.s)
			delete(srv.sessions, id)
		}
	}
	srv.mu.Unlock()

	for _, s := range expired {
		srv.closeSession(s)
	}
	if len(expired) > 0 {
		log.Printf("Closed %d idle sessions", len(expired))
	}
	return len(expired)
}

// CloseAll closes every open session
func (srv *Server) CloseAll() {
	srv.mu.Lock()
	all := srv.sessions
	srv.sessions = make(map[string]*tracked)
	srv.mu.Unlock()

	for _, t := range all {
		srv.closeSession(t.s)
	}
}

// SessionCount reports the number of open sessions
func (srv *Server) SessionCount() int {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return len(srv.sessions)
}

func newID() string {
	return rand.Text()
}
