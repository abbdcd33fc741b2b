// Package visualdict ties the visual dictionary together: point at something in
// a photo, ask a vision model what it is in one or two languages, and keep the
// answer with a crop of the object.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"fmt"
//		"log"
//
//		visualdict "github.com/menta2k/visual-dictionary"
//		"github.com/menta2k/visual-dictionary/internal/config"
//		"github.com/menta2k/visual-dictionary/pkg/types"
//	)
//
//	func main() {
//		cfg, err := config.Load("")
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		app, err := visualdict.New(context.Background(), cfg)
//		if err != nil {
//			log.Fatal(err)
//		}
//		defer app.Close()
//
//		s, out, err := app.Lookup(context.Background(), "kitchen.jpg",
//			types.NewPoint(30, 40), types.Languages{From: "Ukrainian", To: "English"})
//		if err != nil {
//			log.Fatal(err)
//		}
//		defer s.Close()
//
//		fmt.Println(out.Label())
//	}
//
// The components are:
//
// 1. Image source (pkg/imagesource): loading, sniffing and re-encoding images
// 2. Annotation (pkg/annotate): prompts and answer parsing on top of the
// OpenAI-compatible or Ollama clients
// 3. Cropper (pkg/cropper): thumbnails of the reported region and overlays
// 4. Dictionary (pkg/dictionary): saved entries in a JSON file, MySQL or memory
// 5. Session (pkg/session): one analysis screen with camera capture
package visualdict

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/menta2k/visual-dictionary/internal/config"
	"github.com/menta2k/visual-dictionary/internal/logutil"
	"github.com/menta2k/visual-dictionary/internal/metrics"
	"github.com/menta2k/visual-dictionary/internal/server"
	"github.com/menta2k/visual-dictionary/pkg/annotate"
	"github.com/menta2k/visual-dictionary/pkg/camera"
	"github.com/menta2k/visual-dictionary/pkg/client"
	"github.com/menta2k/visual-dictionary/pkg/cropper"
	"github.com/menta2k/visual-dictionary/pkg/dictionary"
	"github.com/menta2k/visual-dictionary/pkg/imagesource"
	"github.com/menta2k/visual-dictionary/pkg/ollama"
	"github.com/menta2k/visual-dictionary/pkg/openai"
	"github.com/menta2k/visual-dictionary/pkg/session"
	"github.com/menta2k/visual-dictionary/pkg/types"
)

// Version of the visual dictionary
const Version = "1.0.0"

// App holds the components built from one configuration
type App struct {
	cfg       *config.Config
	annotator *annotate.Annotator
	cropper   *cropper.RegionCropper
	store     dictionary.Store
	loader    *imagesource.Loader
	camera    camera.Device
	metrics   *metrics.Metrics
}

// New builds the vision client and dictionary store selected by cfg
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	vc, err := NewVisionClient(cfg.Backend)
	if err != nil {
		return nil, err
	}
	store, err := OpenStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	return NewWithComponents(cfg, vc, store), nil
}

// NewWithComponents builds an app around an existing client and store
func NewWithComponents(cfg *config.Config, vc client.VisionClient, store dictionary.Store) *App {
	loader := imagesource.NewLoader()
	loader.MaxBytes = cfg.Image.MaxBytes

	app := &App{
		cfg: cfg,
		annotator: annotate.NewWithImageOptions(vc, cfg.Backend.Model, annotate.ImageOptions{
			Format:  cfg.Image.UploadFormat,
			MaxDim:  cfg.Image.MaxDim,
			Quality: cfg.Image.Quality,
		}),
		cropper: cropper.NewWithConfig(cropper.CropConfig{
			Format:  cfg.Cropper.Format,
			Quality: cfg.Cropper.Quality,
			MaxSide: cfg.Cropper.MaxSide,
		}),
		store:   store,
		loader:  loader,
		metrics: metrics.New(),
	}
	if cfg.Camera.SnapshotURL != "" {
		app.camera = camera.NewSnapshotDevice(cfg.Camera.SnapshotURL)
	}
	return app
}

// NewVisionClient creates the client for the configured backend
func NewVisionClient(cfg config.BackendConfig) (client.VisionClient, error) {
	switch cfg.Kind {
	case "openai":
		url := cfg.URL
		if url == "" {
			url = openai.DefaultBaseURL
		}
		log.Printf("Using OpenAI-compatible backend at %s (model %s, key %s)", url, cfg.Model, logutil.RedactKey(cfg.APIKey))
		c, err := openai.NewClient(url, cfg.APIKey, cfg.Timeout)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "ollama":
		url := cfg.URL
		if url == "" || url == openai.DefaultBaseURL {
			url = ollama.DefaultURL
		}
		log.Printf("Using Ollama backend at %s (model %s)", url, cfg.Model)
		c, err := ollama.NewClient(url, cfg.Timeout)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Kind)
	}
}

// OpenStore opens the configured dictionary backend
func OpenStore(ctx context.Context, cfg config.StoreConfig) (dictionary.Store, error) {
	switch cfg.Kind {
	case "file":
		logutil.Debugf("Dictionary file: %s", cfg.Path)
		return dictionary.NewFileStore(cfg.Path), nil
	case "mysql":
		s, err := dictionary.OpenMySQL(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "memory":
		return dictionary.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Kind)
	}
}

// OpenDictionary opens only the dictionary store. It needs no inference
// backend, so listing and deleting entries work without an API key.
func OpenDictionary(ctx context.Context, cfg *config.Config) (dictionary.Store, error) {
	if err := cfg.ValidateStore(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return OpenStore(ctx, cfg.Store)
}

// NewSession creates an analysis session with the configured defaults
func (a *App) NewSession() *session.Session {
	return session.New(session.Options{
		Annotator: a.annotator,
		Cropper:   a.cropper,
		Store:     a.store,
		Camera:    a.camera,
		Constraints: camera.Constraints{
			Facing:      camera.Facing(a.cfg.Camera.Facing),
			IdealWidth:  a.cfg.Camera.IdealWidth,
			IdealHeight: a.cfg.Camera.IdealHeight,
		},
		Languages: types.Languages{From: a.cfg.Languages.From, To: a.cfg.Languages.To},
		Timeout:   a.cfg.Backend.Timeout,
		Observer:  a.metrics,
	})
}

// LoadImage reads a file path, http(s) URL or data URL
func (a *App) LoadImage(ctx context.Context, source string) (*imagesource.Asset, error) {
	return a.loader.Load(ctx, source)
}

// Lookup loads source into a new session and analyzes p. The caller owns the
// returned session and must close it.
func (a *App) Lookup(ctx context.Context, source string, p types.NormalizedPoint, langs types.Languages) (*session.Session, *session.Outcome, error) {
	img, err := a.LoadImage(ctx, source)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load image: %w", err)
	}

	s := a.NewSession()
	if err := s.LoadImage(img); err != nil {
		s.Close()
		return nil, nil, err
	}
	if err := s.SetPoint(p); err != nil {
		s.Close()
		return nil, nil, err
	}
	if err := s.SetLanguages(langs); err != nil {
		s.Close()
		return nil, nil, err
	}

	out, err := s.Analyze(ctx)
	if err != nil {
		s.Close()
		return nil, nil, err
	}
	return s, out, nil
}

// Model returns the vision model lookups are sent to
func (a *App) Model() string {
	return a.annotator.Model()
}

// Store returns the dictionary backend
func (a *App) Store() dictionary.Store {
	return a.store
}

// Server returns an HTTP server backed by this app
func (a *App) Server() *server.Server {
	return server.New(server.Options{
		NewSession: a.NewSession,
		Store:      a.store,
		Loader:     a.loader,
		Metrics:    a.metrics,
		SessionTTL: a.cfg.Server.SessionTTL,
	})
}

// Close releases the store when it holds a connection
func (a *App) Close() error {
	if c, ok := a.store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
