// ABOUTME: Stem selector mapping the four slots to their assigned stems
// ABOUTME: Local assignments materialize audio and emit one select-stem; remote ones only update state
package selector

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/warpsong/warpsong-go/pkg/stem"
)

// ErrCategoryMismatch is returned when a stem is assigned to a slot of another category
var ErrCategoryMismatch = errors.New("stem category does not match slot")

// Origin tells whether a mutation came from this participant or the channel
type Origin int

const (
	Local Origin = iota
	Remote
)

func (o Origin) String() string {
	if o == Remote {
		return "remote"
	}
	return "local"
}

// Materializer loads a stem's buffer and builds its player for a slot
type Materializer interface {
	Materialize(ctx context.Context, slot stem.Category, s stem.Stem) error
}

// MaterializerFunc adapts a function to Materializer
type MaterializerFunc func(ctx context.Context, slot stem.Category, s stem.Stem) error

func (f MaterializerFunc) Materialize(ctx context.Context, slot stem.Category, s stem.Stem) error {
	return f(ctx, slot, s)
}

// Emitter publishes a local selection to the other participants
type Emitter func(ctx context.Context, slot stem.Category, s stem.Stem) error

// Change describes one slot mutation
type Change struct {
	Slot    stem.Category
	Stem    stem.Stem
	Cleared bool
	Origin  Origin
}

// Selector holds the catalog and the slot map
type Selector struct {
	mu        sync.RWMutex
	catalog   []stem.Stem
	slots     map[stem.Category]stem.Stem
	observers []func(Change)

	materializer Materializer
	emit         Emitter
}

// New creates a selector. Either collaborator may be nil.
func New(materializer Materializer, emit Emitter) *Selector {
	return &Selector{
		slots:        make(map[stem.Category]stem.Stem),
		materializer: materializer,
		emit:         emit,
	}
}

// SetCatalog replaces the catalog
func (s *Selector) SetCatalog(catalog []stem.Stem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog = append([]stem.Stem(nil), catalog...)
}

// Catalog returns a copy of the catalog
func (s *Selector) Catalog() []stem.Stem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]stem.Stem(nil), s.catalog...)
}

// Lookup finds a catalog stem by identifier
func (s *Selector) Lookup(id string) (stem.Stem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return stem.Find(s.catalog, id)
}

// ListByType filters the catalog by category
func (s *Selector) ListByType(c stem.Category) []stem.Stem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return stem.ListByType(s.catalog, c)
}

// OnChange registers an observer called after every slot mutation
func (s *Selector) OnChange(fn func(Change)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// Assign puts st in slot. With Local origin the stem is materialized and exactly
// one selection is emitted, even when loading fails. Remote origin only updates state.
func (s *Selector) Assign(ctx context.Context, slot stem.Category, st stem.Stem, origin Origin) error {
	if !slot.Valid() {
		return fmt.Errorf("invalid slot %q", slot)
	}
	if err := st.Validate(); err != nil {
		return err
	}
	if c, err := stem.ParseCategory(string(st.Category)); err != nil || c != slot {
		return fmt.Errorf("assign %s to %s: %w", st.ID, slot, ErrCategoryMismatch)
	}

	s.mu.Lock()
	s.slots[slot] = st
	observers := append([]func(Change){}, s.observers...)
	s.mu.Unlock()

	log.Printf("Slot %s -> %s (%s)", slot, st.ID, origin)
	notify(observers, Change{Slot: slot, Stem: st, Origin: origin})

	if origin == Remote {
		return nil
	}

	var errs []error
	if s.materializer != nil {
		if err := s.materializer.Materialize(ctx, slot, st); err != nil {
			errs = append(errs, fmt.Errorf("materialize %s: %w", slot, err))
		}
	}
	if s.emit != nil {
		if err := s.emit(ctx, slot, st); err != nil {
			errs = append(errs, fmt.Errorf("emit selection: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Clear removes a slot's assignment
func (s *Selector) Clear(slot stem.Category, origin Origin) {
	s.mu.Lock()
	prev, ok := s.slots[slot]
	delete(s.slots, slot)
	observers := append([]func(Change){}, s.observers...)
	s.mu.Unlock()

	if ok {
		notify(observers, Change{Slot: slot, Stem: prev, Cleared: true, Origin: origin})
	}
}

// Assignment returns the stem in slot
func (s *Selector) Assignment(slot stem.Category) (stem.Stem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.slots[slot]
	return st, ok
}

// Assignments returns a copy of the slot map
func (s *Selector) Assignments() map[stem.Category]stem.Stem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[stem.Category]stem.Stem, len(s.slots))
	for k, v := range s.slots {
		out[k] = v
	}
	return out
}

// Reset drops every assignment and the catalog
func (s *Selector) Reset() {
	s.mu.Lock()
	s.slots = make(map[stem.Category]stem.Stem)
	s.catalog = nil
	s.mu.Unlock()
}

func notify(observers []func(Change), c Change) {
	for _, fn := range observers {
		fn(c)
	}
}
