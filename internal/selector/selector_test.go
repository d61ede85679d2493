// ABOUTME: Tests for the stem selector
// ABOUTME: Tests local versus remote assignment, emission counts and category checks
package selector

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/warpsong/warpsong-go/pkg/stem"
)

type recorder struct {
	mu           sync.Mutex
	materialized []string
	emitted      []string
	failLoad     bool
}

func (r *recorder) Materialize(ctx context.Context, slot stem.Category, s stem.Stem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.materialized = append(r.materialized, s.ID)
	if r.failLoad {
		return errors.New("fetch failed")
	}
	return nil
}

func (r *recorder) emit(ctx context.Context, slot stem.Category, s stem.Stem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emitted = append(r.emitted, s.ID)
	return nil
}

var (
	kick = stem.Stem{ID: "kick01", Category: stem.Drums, Name: "Kick", SourceURL: "http://x/kick.wav"}
	sub  = stem.Stem{ID: "sub01", Category: stem.Bass, Name: "Sub", SourceURL: "http://x/sub.wav"}
)

func TestLocalAssignMaterializesAndEmitsOnce(t *testing.T) {
	rec := &recorder{}
	sel := New(rec, rec.emit)

	if err := sel.Assign(context.Background(), stem.Drums, kick, Local); err != nil {
		t.Fatalf("assign: %v", err)
	}

	if len(rec.materialized) != 1 || len(rec.emitted) != 1 {
		t.Fatalf("expected 1 materialize and 1 emit, got %d/%d", len(rec.materialized), len(rec.emitted))
	}
	if got, ok := sel.Assignment(stem.Drums); !ok || got.ID != "kick01" {
		t.Errorf("expected kick01 in drums, got %v", got)
	}
}

func TestRemoteAssignIsSilent(t *testing.T) {
	rec := &recorder{}
	sel := New(rec, rec.emit)

	var changes []Change
	sel.OnChange(func(c Change) { changes = append(changes, c) })

	if err := sel.Assign(context.Background(), stem.Drums, kick, Remote); err != nil {
		t.Fatalf("assign: %v", err)
	}

	if len(rec.materialized) != 0 || len(rec.emitted) != 0 {
		t.Errorf("expected no side effects for remote origin, got %d/%d", len(rec.materialized), len(rec.emitted))
	}
	if len(changes) != 1 || changes[0].Origin != Remote || changes[0].Stem.ID != "kick01" {
		t.Errorf("expected one remote change notification, got %+v", changes)
	}
}

func TestLocalAssignEmitsDespiteLoadFailure(t *testing.T) {
	rec := &recorder{failLoad: true}
	sel := New(rec, rec.emit)

	err := sel.Assign(context.Background(), stem.Drums, kick, Local)
	if err == nil {
		t.Fatal("expected load error to be reported")
	}
	if len(rec.emitted) != 1 {
		t.Errorf("expected selection still emitted once, got %d", len(rec.emitted))
	}
	if _, ok := sel.Assignment(stem.Drums); !ok {
		t.Error("expected assignment kept")
	}
}

func TestAssignRejectsCategoryMismatch(t *testing.T) {
	rec := &recorder{}
	sel := New(rec, rec.emit)

	err := sel.Assign(context.Background(), stem.Drums, sub, Local)
	if !errors.Is(err, ErrCategoryMismatch) {
		t.Fatalf("expected ErrCategoryMismatch, got %v", err)
	}
	if _, ok := sel.Assignment(stem.Drums); ok {
		t.Error("expected slot to stay empty")
	}
	if len(rec.emitted) != 0 {
		t.Error("expected no emission for a rejected assignment")
	}

	if err := sel.Assign(context.Background(), stem.Category("Keys"), kick, Local); err == nil {
		t.Error("expected invalid slot error")
	}
}

func TestReassignAndClear(t *testing.T) {
	sel := New(nil, nil)
	kick2 := kick
	kick2.ID = "kick02"

	sel.Assign(context.Background(), stem.Drums, kick, Local)
	sel.Assign(context.Background(), stem.Drums, kick2, Remote)
	sel.Assign(context.Background(), stem.Bass, sub, Remote)

	all := sel.Assignments()
	if len(all) != 2 || all[stem.Drums].ID != "kick02" {
		t.Fatalf("expected drums reassigned, got %v", all)
	}

	var cleared []Change
	sel.OnChange(func(c Change) { cleared = append(cleared, c) })
	sel.Clear(stem.Drums, Local)
	sel.Clear(stem.Drums, Local)

	if len(cleared) != 1 || !cleared[0].Cleared {
		t.Errorf("expected a single clear notification, got %+v", cleared)
	}

	sel.SetCatalog([]stem.Stem{kick, sub})
	sel.Reset()
	if len(sel.Assignments()) != 0 || len(sel.Catalog()) != 0 {
		t.Error("expected reset to clear slots and catalog")
	}
}

func TestCatalogQueries(t *testing.T) {
	sel := New(nil, nil)
	sel.SetCatalog([]stem.Stem{kick, sub})

	if got := sel.ListByType(stem.Bass); len(got) != 1 || got[0].ID != "sub01" {
		t.Errorf("expected sub01 for bass, got %v", got)
	}
	if _, ok := sel.Lookup("KICK01"); !ok {
		t.Error("expected case-insensitive lookup")
	}
}
