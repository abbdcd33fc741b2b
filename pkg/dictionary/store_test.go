package dictionary

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/menta2k/visual-dictionary/pkg/imagesource"
	"github.com/menta2k/visual-dictionary/pkg/types"
)

func testAsset(t *testing.T) *imagesource.Asset {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{255, 0, 0, 255})
	a, err := imagesource.FromImage(img, "png", 0)
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func testEntry(t *testing.T, id int64, text string) Entry {
	e := NewEntry(time.UnixMilli(id), testAsset(t), types.NewPoint(30, 40), text, "Ukrainian -> English")
	if e.ID != id {
		t.Fatalf("Expected id %d, got %d", id, e.ID)
	}
	return e
}

// exerciseStore runs the behaviour every backend shares
func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()

	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if list == nil || len(list) != 0 {
		t.Fatalf("Expected empty non-nil list, got %#v", list)
	}

	for i, text := range []string{"чашка - cup", "стіл - table", "вікно - window"} {
		if err := s.Append(ctx, testEntry(t, int64(1000+i), text)); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	list, err = s.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(list))
	}
	if list[0].Text != "вікно - window" || list[2].Text != "чашка - cup" {
		t.Errorf("Expected most recent first, got %q ... %q", list[0].Text, list[2].Text)
	}
	if list[0].Image == nil || list[0].Image.MediaType() != "image/png" {
		t.Errorf("Expected image to survive storage")
	}
	if list[0].Point != types.NewPoint(30, 40) {
		t.Errorf("Expected point to survive storage, got %v", list[0].Point)
	}

	if err := s.Remove(ctx, 1001); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if err := s.Remove(ctx, 424242); err != nil {
		t.Errorf("Removing an unknown id should not fail: %v", err)
	}
	list, _ = s.List(ctx)
	if len(list) != 2 {
		t.Fatalf("Expected 2 entries after remove, got %d", len(list))
	}
	for _, e := range list {
		if e.ID == 1001 {
			t.Error("Removed entry still listed")
		}
	}

	if err := s.Append(ctx, testEntry(t, 1000, "чашка - mug")); !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("Expected duplicate id to be rejected, got %v", err)
	}
	list, _ = s.List(ctx)
	if len(list) != 2 {
		t.Fatalf("Expected duplicate append to leave 2 entries, got %d", len(list))
	}

	if err := s.Append(ctx, Entry{ID: 1}); !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("Expected ErrInvalidEntry, got %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dictionary.json")
	exerciseStore(t, NewFileStore(path))

	// A second store over the same file sees the same list
	list, err := NewFileStore(path).List(context.Background())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("Expected persisted entries, got %d", len(list))
	}
}

func TestFileStoreFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dictionary.json")
	s := NewFileStore(path)
	if err := s.Append(context.Background(), testEntry(t, 1700000000000, "чашка - cup")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var raw []map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Stored file is not a JSON array: %v", err)
	}
	if len(raw) != 1 {
		t.Fatalf("Expected one record, got %d", len(raw))
	}
	for _, key := range []string{"id", "image", "point", "result", "language", "date"} {
		if _, ok := raw[0][key]; !ok {
			t.Errorf("Missing key %q in stored record", key)
		}
	}
	if raw[0]["language"] != "Ukrainian -> English" {
		t.Errorf("Unexpected language %v", raw[0]["language"])
	}
}

func TestFileStoreEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dictionary.json")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatal(err)
	}
	list, err := NewFileStore(path).List(context.Background())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if list == nil || len(list) != 0 {
		t.Errorf("Expected empty list, got %#v", list)
	}
}

func TestFileStoreCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dictionary.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	s := NewFileStore(path)
	if _, err := s.List(context.Background()); err == nil {
		t.Error("Expected error for corrupt file")
	}
	// A failed read must not overwrite what is there
	if err := s.Append(context.Background(), testEntry(t, 5, "x")); err == nil {
		t.Error("Expected append over corrupt file to fail")
	}
	data, _ := os.ReadFile(path)
	if string(data) != "{not json" {
		t.Errorf("Corrupt file was modified: %q", data)
	}
}

func TestNewEntryDate(t *testing.T) {
	now := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	e := NewEntry(now, nil, types.NewPoint(0, 0), "x", "English")
	if e.CreatedAt != "09.03.2024, 14:05:07" {
		t.Errorf("Unexpected date %q", e.CreatedAt)
	}
	if e.ID != now.UnixMilli() {
		t.Errorf("Unexpected id %d", e.ID)
	}
}
