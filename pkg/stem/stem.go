// ABOUTME: Stem catalog model shared by every component
// ABOUTME: Defines categories (slots), stem metadata and identifier normalization
package stem

import (
	"fmt"
	"strings"
)

// Category is one of the four fixed track categories. Each category is a slot.
type Category string

const (
	Drums   Category = "Drums"
	Bass    Category = "Bass"
	Melodie Category = "Melodie"
	Vocals  Category = "Vocals"
)

// Categories lists every slot in display order
var Categories = []Category{Drums, Bass, Melodie, Vocals}

// ParseCategory matches a category name case-insensitively
func ParseCategory(s string) (Category, error) {
	s = strings.TrimSpace(s)
	for _, c := range Categories {
		if strings.EqualFold(string(c), s) {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown stem category: %q", s)
}

// Valid reports whether c is one of the four slots
func (c Category) Valid() bool {
	_, err := ParseCategory(string(c))
	return err == nil
}

// Stem is a categorized audio loop as delivered by the catalog service.
// Stems are immutable once fetched.
type Stem struct {
	ID        string   `json:"identifier"`
	Category  Category `json:"category"`
	Name      string   `json:"name"`
	Artist    string   `json:"artist"`
	BPM       float64  `json:"bpm"`
	Key       string   `json:"key"`
	SourceURL string   `json:"sourceUrl"`
}

// NormalizeID returns the case-insensitive cache/lookup key for a stem identifier
func NormalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// NormalizedID returns the normalized identifier of s
func (s Stem) NormalizedID() string {
	return NormalizeID(s.ID)
}

// SameAs reports whether s and other carry the same identifier
func (s Stem) SameAs(other Stem) bool {
	return s.NormalizedID() == other.NormalizedID()
}

// Validate checks the fields every component relies on
func (s Stem) Validate() error {
	if s.NormalizedID() == "" {
		return fmt.Errorf("stem has no identifier")
	}
	if _, err := ParseCategory(string(s.Category)); err != nil {
		return fmt.Errorf("stem %s: %w", s.ID, err)
	}
	return nil
}

// ListByType filters a catalog by exact, case-insensitive category match
func ListByType(catalog []Stem, c Category) []Stem {
	var out []Stem
	for _, s := range catalog {
		if strings.EqualFold(string(s.Category), string(c)) {
			out = append(out, s)
		}
	}
	return out
}

// Find looks up a stem by identifier (case-insensitive)
func Find(catalog []Stem, id string) (Stem, bool) {
	key := NormalizeID(id)
	for _, s := range catalog {
		if s.NormalizedID() == key {
			return s, true
		}
	}
	return Stem{}, false
}
