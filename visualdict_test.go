package visualdict

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"testing"

	"github.com/menta2k/visual-dictionary/internal/config"
	"github.com/menta2k/visual-dictionary/pkg/dictionary"
	"github.com/menta2k/visual-dictionary/pkg/imagesource"
	"github.com/menta2k/visual-dictionary/pkg/openai"
	"github.com/menta2k/visual-dictionary/pkg/types"
)

type scriptedClient struct {
	text   string
	json   string
	prompt string
}

func (c *scriptedClient) SimpleQuery(ctx context.Context, model, prompt string, img *imagesource.Asset) (string, error) {
	c.prompt = prompt
	return c.text, nil
}

func (c *scriptedClient) JSONQuery(ctx context.Context, model, prompt string, img *imagesource.Asset) (string, error) {
	c.prompt = prompt
	return c.json, nil
}

// createTestImage creates a simple test image with a bright block
func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if x > width/3 && x < 2*width/3 && y > height/3 && y < 2*height/3 {
				img.Set(x, y, color.RGBA{255, 255, 255, 255})
			} else {
				img.Set(x, y, color.RGBA{64, 64, 64, 255})
			}
		}
	}
	return img
}

func dataURL(t *testing.T, width, height int) string {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, createTestImage(width, height)); err != nil {
		t.Fatal(err)
	}
	a, err := imagesource.FromBytes(buf.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	return a.DataURL()
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Backend.APIKey = "sk-test"
	cfg.Store.Kind = "memory"
	return cfg
}

func TestLookupDual(t *testing.T) {
	vc := &scriptedClient{json: `{"textFrom":"чашка","textTo":"cup","bbox":[250,250,750,750]}`}
	app := NewWithComponents(testConfig(), vc, dictionary.NewMemoryStore())
	defer app.Close()

	s, out, err := app.Lookup(context.Background(), dataURL(t, 300, 300), types.NewPoint(50, 50),
		types.Languages{From: "Ukrainian", To: "English"})
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	defer s.Close()

	if out.Label() != "чашка - cup" {
		t.Errorf("Unexpected label %q", out.Label())
	}
	if out.Thumbnail == nil {
		t.Fatal("Expected thumbnail")
	}
	cfg, err := out.Thumbnail.Config()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Width != 150 || cfg.Height != 150 {
		t.Errorf("Expected 150x150 crop, got %dx%d", cfg.Width, cfg.Height)
	}

	if _, err := s.Save(context.Background()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	list, _ := app.Store().List(context.Background())
	if len(list) != 1 || list[0].LanguagePair != "Ukrainian -> English" {
		t.Errorf("Unexpected dictionary %+v", list)
	}
}

func TestLookupSingle(t *testing.T) {
	vc := &scriptedClient{text: " Cup \n"}
	app := NewWithComponents(testConfig(), vc, dictionary.NewMemoryStore())

	s, out, err := app.Lookup(context.Background(), dataURL(t, 40, 40), types.NewPoint(10, 90),
		types.Languages{To: "English"})
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	defer s.Close()
	if out.Label() != "Cup" || out.Thumbnail != nil {
		t.Errorf("Unexpected outcome %+v", out)
	}
}

func TestLookupBadSource(t *testing.T) {
	app := NewWithComponents(testConfig(), &scriptedClient{}, dictionary.NewMemoryStore())
	if _, _, err := app.Lookup(context.Background(), filepath.Join(t.TempDir(), "missing.jpg"),
		types.NewPoint(0, 0), types.Languages{To: "English"}); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestNewVisionClient(t *testing.T) {
	cfg := testConfig()
	vc, err := NewVisionClient(cfg.Backend)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := vc.(*openai.Client); !ok {
		t.Errorf("Expected OpenAI client, got %T", vc)
	}

	cfg.Backend.Kind = "ollama"
	if _, err := NewVisionClient(cfg.Backend); err != nil {
		t.Errorf("Ollama client failed: %v", err)
	}

	cfg.Backend.Kind = "unknown"
	if _, err := NewVisionClient(cfg.Backend); err == nil {
		t.Error("Expected error for unknown backend")
	}
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	s, err := OpenStore(ctx, config.StoreConfig{Kind: "file", Path: filepath.Join(t.TempDir(), "d.json")})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*dictionary.FileStore); !ok {
		t.Errorf("Expected file store, got %T", s)
	}
	if _, err := OpenStore(ctx, config.StoreConfig{Kind: "redis"}); err == nil {
		t.Error("Expected error for unknown store")
	}
}

func TestNewValidates(t *testing.T) {
	cfg := testConfig()
	cfg.Backend.APIKey = ""
	if _, err := New(context.Background(), cfg); err == nil {
		t.Error("Expected invalid configuration error")
	}

	app, err := New(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if app.Server() == nil {
		t.Error("Expected a server")
	}
	if app.Model() != "gpt-5.2" {
		t.Errorf("Expected lookups to use the configured model, got %q", app.Model())
	}
}

func TestOpenDictionaryWithoutKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	cfg := config.Default()
	cfg.Backend.APIKey = ""
	cfg.Store.Kind = "memory"

	ctx := context.Background()
	store, err := OpenDictionary(ctx, cfg)
	if err != nil {
		t.Fatalf("OpenDictionary failed: %v", err)
	}
	img, err := imagesource.FromDataURL(dataURL(t, 20, 20))
	if err != nil {
		t.Fatal(err)
	}
	entry := dictionary.Entry{ID: 42, Image: img, Text: "чашка - cup", LanguagePair: "Ukrainian - English"}
	if err := store.Append(ctx, entry); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := store.Remove(ctx, 42); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	entries, err := store.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected empty dictionary, got %d entries", len(entries))
	}

	cfg.Store.Kind = "redis"
	if _, err := OpenDictionary(ctx, cfg); err == nil {
		t.Error("Expected error for unknown store")
	}
}

func TestGetVersion(t *testing.T) {
	if GetVersion() != Version {
		t.Error("GetVersion mismatch")
	}
}
