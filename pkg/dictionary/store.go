// Package dictionary persists saved lookups. Every backend keeps entries
// most-recent-first.
package dictionary

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/menta2k/visual-dictionary/pkg/imagesource"
	"github.com/menta2k/visual-dictionary/pkg/types"
)

// ErrInvalidEntry is returned when an entry cannot be persisted
var ErrInvalidEntry = errors.New("invalid dictionary entry")

// DateLayout formats Entry.CreatedAt
const DateLayout = "02.01.2006, 15:04:05"

// Entry is one saved lookup
type Entry struct {
	// ID is the creation time in Unix milliseconds
	ID           int64                 `json:"id"`
	Image        *imagesource.Asset    `json:"image"`
	Point        types.NormalizedPoint `json:"point"`
	Text         string                `json:"result"`
	LanguagePair string                `json:"language"`
	CreatedAt    string                `json:"date"`
}

// NewEntry stamps an entry with now
func NewEntry(now time.Time, img *imagesource.Asset, p types.NormalizedPoint, text, languagePair string) Entry {
	return Entry{
		ID:           now.UnixMilli(),
		Image:        img,
		Point:        p,
		Text:         text,
		LanguagePair: languagePair,
		CreatedAt:    now.Format(DateLayout),
	}
}

// Validate checks the fields every backend needs
func (e Entry) Validate() error {
	if e.ID <= 0 {
		return fmt.Errorf("%w: id must be positive", ErrInvalidEntry)
	}
	if e.Image == nil {
		return fmt.Errorf("%w: image is required", ErrInvalidEntry)
	}
	if e.Text == "" {
		return fmt.Errorf("%w: text is required", ErrInvalidEntry)
	}
	return nil
}

// Store is the persisted dictionary list
type Store interface {
	// List returns all entries, most recent first; never nil
	List(ctx context.Context) ([]Entry, error)
	// Append puts entry in front of the list. An id already in the list is
	// rejected with ErrInvalidEntry.
	Append(ctx context.Context, entry Entry) error
	// Remove drops the entry with id; unknown ids are not an error
	Remove(ctx context.Context, id int64) error
}

func prepend(list []Entry, e Entry) []Entry {
	out := make([]Entry, 0, len(list)+1)
	out = append(out, e)
	return append(out, list...)
}

func hasID(list []Entry, id int64) bool {
	for _, e := range list {
		if e.ID == id {
			return true
		}
	}
	return false
}

func duplicateID(id int64) error {
	return fmt.Errorf("%w: id %d already exists", ErrInvalidEntry, id)
}

func without(list []Entry, id int64) []Entry {
	out := make([]Entry, 0, len(list))
	for _, e := range list {
		if e.ID != id {
			out = append(out, e)
		}
	}
	return out
}
