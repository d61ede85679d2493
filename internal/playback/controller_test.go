// ABOUTME: Tests for the playback controller
// ABOUTME: Tests transitions, partial failures, cancellation and synced late starts
package playback

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/warpsong/warpsong-go/internal/buffercache"
	"github.com/warpsong/warpsong-go/internal/engine"
	"github.com/warpsong/warpsong-go/internal/selector"
	"github.com/warpsong/warpsong-go/pkg/audio"
	"github.com/warpsong/warpsong-go/pkg/audio/decode"
	"github.com/warpsong/warpsong-go/pkg/audio/output"
	"github.com/warpsong/warpsong-go/pkg/stem"
)

type fakeTime struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeTime) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeTime) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

type slotMap struct {
	mu    sync.Mutex
	slots map[stem.Category]stem.Stem
}

func (m *slotMap) Assignments() map[stem.Category]stem.Stem {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[stem.Category]stem.Stem, len(m.slots))
	for k, v := range m.slots {
		out[k] = v
	}
	return out
}

func (m *slotMap) set(s stem.Stem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[s.Category] = s
}

type emission struct {
	playing bool
	at      time.Time
}

type harness struct {
	t       *testing.T
	clock   *fakeTime
	engine  *engine.Engine
	cache   *buffercache.Cache
	slots   *slotMap
	ctrl    *Controller
	srv     *httptest.Server
	blockMu sync.Mutex
	blocked map[string]chan struct{}
	emitMu  sync.Mutex
	emitted []emission
}

// one second of constant signal at 1000Hz for every stem file
var oneSecond = decode.DecoderFunc(func(data []byte) (*audio.Buffer, error) {
	samples := make([]float32, 2000)
	for i := range samples {
		samples[i] = 0.1
	}
	return audio.NewBuffer(1000, 2, samples)
})

func newHarness(t *testing.T, loadTimeout time.Duration) *harness {
	t.Helper()

	h := &harness{
		t:       t,
		clock:   &fakeTime{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
		slots:   &slotMap{slots: make(map[stem.Category]stem.Stem)},
		blocked: make(map[string]chan struct{}),
	}

	h.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.blockMu.Lock()
		ch := h.blocked[r.URL.Path]
		h.blockMu.Unlock()
		if ch != nil {
			select {
			case <-ch:
			case <-r.Context().Done():
				return
			}
		}
		if r.URL.Path == "/missing.wav" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("audio"))
	}))
	t.Cleanup(h.srv.Close)

	h.engine = engine.New(engine.Config{
		SampleRate:   1000,
		StartLatency: 10 * time.Millisecond,
		Now:          h.clock.Now,
		NewDevice: func(sr int) (output.Device, error) {
			return output.NewHeadless(sr), nil
		},
	})
	h.cache = buffercache.New(buffercache.Config{
		Fetcher:     buffercache.NewHTTPFetcher(5*time.Second, ""),
		Decoder:     oneSecond,
		LoadTimeout: loadTimeout,
	})
	h.engine.AttachCache(h.cache)
	t.Cleanup(func() { h.engine.Teardown() })

	h.ctrl = New(Config{
		Engine: h.engine,
		Loader: h.cache,
		Slots:  h.slots,
		Emit: func(ctx context.Context, playing bool, at time.Time) error {
			h.emitMu.Lock()
			defer h.emitMu.Unlock()
			h.emitted = append(h.emitted, emission{playing, at})
			return nil
		},
	})
	return h
}

func (h *harness) block(path string) chan struct{} {
	h.blockMu.Lock()
	defer h.blockMu.Unlock()
	ch := make(chan struct{})
	h.blocked[path] = ch
	return ch
}

func (h *harness) stem(id string, c stem.Category, path string) stem.Stem {
	return stem.Stem{ID: id, Category: c, SourceURL: h.srv.URL + path}
}

func (h *harness) emissions() []emission {
	h.emitMu.Lock()
	defer h.emitMu.Unlock()
	return append([]emission(nil), h.emitted...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestPlayWithNothingAssignedIsNoop(t *testing.T) {
	h := newHarness(t, time.Second)

	if err := h.ctrl.Play(context.Background(), selector.Local); err != nil {
		t.Fatalf("play: %v", err)
	}
	if h.ctrl.State() != Stopped {
		t.Errorf("expected Stopped, got %s", h.ctrl.State())
	}
	if len(h.emissions()) != 0 {
		t.Error("expected no emission")
	}
	if h.engine.Initialized() {
		t.Error("expected engine untouched")
	}
}

func TestPlayStartsEveryReadySlot(t *testing.T) {
	h := newHarness(t, time.Second)
	h.slots.set(h.stem("kick", stem.Drums, "/kick.wav"))
	h.slots.set(h.stem("sub", stem.Bass, "/sub.wav"))

	var states []State
	h.ctrl.OnStateChange(func(s State) { states = append(states, s) })

	if err := h.ctrl.Play(context.Background(), selector.Local); err != nil {
		t.Fatalf("play: %v", err)
	}

	if h.ctrl.State() != Playing {
		t.Fatalf("expected Playing, got %s", h.ctrl.State())
	}
	if len(states) != 2 || states[0] != Preparing || states[1] != Playing {
		t.Errorf("expected Preparing then Playing, got %v", states)
	}

	want := h.clock.Now().Add(10 * time.Millisecond)
	for _, slot := range []stem.Category{stem.Drums, stem.Bass} {
		p, ok := h.engine.Player(slot)
		if !ok || p.State() != engine.PlayerStarted {
			t.Fatalf("expected %s started", slot)
		}
		if !p.StartTime().Equal(want) {
			t.Errorf("%s: expected start at now+latency", slot)
		}
		if !h.ctrl.SlotReady(slot) {
			t.Errorf("expected %s ready", slot)
		}
	}

	em := h.emissions()
	if len(em) != 1 || !em[0].playing || !em[0].at.Equal(want) {
		t.Errorf("expected one playing emission at the clock start, got %+v", em)
	}
}

func TestRemotePlayDoesNotEmit(t *testing.T) {
	h := newHarness(t, time.Second)
	h.slots.set(h.stem("kick", stem.Drums, "/kick.wav"))

	h.ctrl.Play(context.Background(), selector.Remote)
	h.ctrl.Pause(selector.Remote)

	if len(h.emissions()) != 0 {
		t.Errorf("expected no emissions for remote origin, got %d", len(h.emissions()))
	}
}

func TestPlayContainsSlotFailures(t *testing.T) {
	h := newHarness(t, time.Second)
	h.slots.set(h.stem("kick", stem.Drums, "/kick.wav"))
	h.slots.set(h.stem("gone", stem.Vocals, "/missing.wav"))

	err := h.ctrl.Play(context.Background(), selector.Local)
	var loadErr *buffercache.LoadError
	if !errors.As(err, &loadErr) || loadErr.StemID != "gone" {
		t.Fatalf("expected LoadError for gone, got %v", err)
	}

	if h.ctrl.State() != Playing {
		t.Errorf("expected Playing with the ready slot, got %s", h.ctrl.State())
	}
	if h.ctrl.SlotReady(stem.Vocals) {
		t.Error("expected failed slot not ready")
	}
	if p, ok := h.engine.Player(stem.Drums); !ok || p.State() != engine.PlayerStarted {
		t.Error("expected drums playing")
	}
}

func TestPlayWithNoReadySlotStops(t *testing.T) {
	h := newHarness(t, time.Second)
	h.slots.set(h.stem("gone", stem.Vocals, "/missing.wav"))

	if err := h.ctrl.Play(context.Background(), selector.Local); err == nil {
		t.Fatal("expected error")
	}
	if h.ctrl.State() != Stopped {
		t.Errorf("expected Stopped, got %s", h.ctrl.State())
	}
	if len(h.emissions()) != 0 {
		t.Error("expected no emission when nothing plays")
	}
}

func TestPauseStopsEverything(t *testing.T) {
	h := newHarness(t, time.Second)
	h.slots.set(h.stem("kick", stem.Drums, "/kick.wav"))
	h.slots.set(h.stem("sub", stem.Bass, "/sub.wav"))

	h.ctrl.Play(context.Background(), selector.Local)
	h.clock.Advance(500 * time.Millisecond)

	if err := h.ctrl.Pause(selector.Local); err != nil {
		t.Fatalf("pause: %v", err)
	}

	if h.ctrl.State() != Stopped {
		t.Errorf("expected Stopped, got %s", h.ctrl.State())
	}
	for _, slot := range []stem.Category{stem.Drums, stem.Bass} {
		if p, _ := h.engine.Player(slot); p.State() != engine.PlayerStopped {
			t.Errorf("expected %s stopped, got %s", slot, p.State())
		}
	}
	if h.engine.Clock().Position() != 0 || h.engine.Clock().Running() {
		t.Error("expected clock stopped at 0")
	}

	em := h.emissions()
	if len(em) != 2 || em[1].playing {
		t.Errorf("expected a stop emission, got %+v", em)
	}
}

func TestPauseCancelsPreparation(t *testing.T) {
	h := newHarness(t, 5*time.Second)
	release := h.block("/slow.wav")
	h.slots.set(h.stem("slow", stem.Melodie, "/slow.wav"))

	done := make(chan error, 1)
	go func() {
		done <- h.ctrl.Play(context.Background(), selector.Local)
	}()

	waitFor(t, "preparing", func() bool { return h.ctrl.State() == Preparing })
	h.ctrl.Pause(selector.Local)
	close(release)
	<-done

	if h.ctrl.State() != Stopped {
		t.Errorf("expected Stopped after cancellation, got %s", h.ctrl.State())
	}
	if p, ok := h.engine.Player(stem.Melodie); ok && p.State() == engine.PlayerStarted {
		t.Error("expected cancelled preparation to start nothing")
	}
	for _, e := range h.emissions() {
		if e.playing {
			t.Error("expected no playing emission for a cancelled start")
		}
	}
}

func TestMaterializeJoinsInSync(t *testing.T) {
	h := newHarness(t, time.Second)
	h.slots.set(h.stem("kick", stem.Drums, "/kick.wav"))
	h.ctrl.Play(context.Background(), selector.Local)

	// the clock started at latency, so 2.51s later it reads 2.5s
	h.clock.Advance(2510 * time.Millisecond)

	late := h.stem("vox", stem.Vocals, "/vox.wav")
	h.slots.set(late)
	if err := h.ctrl.Materialize(context.Background(), stem.Vocals, late); err != nil {
		t.Fatalf("materialize: %v", err)
	}

	p, ok := h.engine.Player(stem.Vocals)
	if !ok || p.State() != engine.PlayerStarted {
		t.Fatal("expected late stem started")
	}
	if math.Abs(p.StartOffset()-0.51) > 1e-9 {
		t.Errorf("expected offset 0.51 (position mod duration), got %v", p.StartOffset())
	}
}

func TestMaterializeWhileStoppedDoesNotStart(t *testing.T) {
	h := newHarness(t, time.Second)
	s := h.stem("kick", stem.Drums, "/kick.wav")

	if err := h.ctrl.Materialize(context.Background(), stem.Drums, s); err != nil {
		t.Fatalf("materialize: %v", err)
	}
	p, ok := h.engine.Player(stem.Drums)
	if !ok || p.State() != engine.PlayerStopped {
		t.Error("expected a stopped player")
	}
	if !h.ctrl.SlotReady(stem.Drums) {
		t.Error("expected slot ready")
	}
}

func TestReassignKeepsOnePlayer(t *testing.T) {
	h := newHarness(t, time.Second)
	first := h.stem("kick1", stem.Drums, "/kick1.wav")
	second := h.stem("kick2", stem.Drums, "/kick2.wav")

	h.ctrl.Materialize(context.Background(), stem.Drums, first)
	old, _ := h.engine.Player(stem.Drums)
	h.ctrl.Materialize(context.Background(), stem.Drums, second)

	if old.State() != engine.PlayerDisposed {
		t.Errorf("expected previous player disposed, got %s", old.State())
	}
	if h.engine.LivePlayers() != 1 {
		t.Errorf("expected 1 live player, got %d", h.engine.LivePlayers())
	}
}

func TestPartialLoadCompletesInBackground(t *testing.T) {
	h := newHarness(t, 100*time.Millisecond)
	release := h.block("/bass.wav")
	h.slots.set(h.stem("kick", stem.Drums, "/kick.wav"))
	h.slots.set(h.stem("sub", stem.Bass, "/bass.wav"))

	err := h.ctrl.Play(context.Background(), selector.Local)
	var partial *buffercache.PartialLoadError
	if !errors.As(err, &partial) {
		t.Fatalf("expected PartialLoadError reported, got %v", err)
	}
	if h.ctrl.State() != Playing || h.ctrl.SlotReady(stem.Bass) {
		t.Fatal("expected playback with bass still pending")
	}

	close(release)
	waitFor(t, "bass ready", func() bool { return h.ctrl.SlotReady(stem.Bass) })

	p, ok := h.engine.Player(stem.Bass)
	if !ok || p.State() != engine.PlayerStarted {
		t.Error("expected bass to join the running transport")
	}
}

func TestPartialLoadDroppedAfterReassign(t *testing.T) {
	h := newHarness(t, 100*time.Millisecond)
	release := h.block("/slow.wav")
	slow := h.stem("slow", stem.Drums, "/slow.wav")
	fast := h.stem("fast", stem.Drums, "/fast.wav")

	h.ctrl.Materialize(context.Background(), stem.Drums, slow)
	h.ctrl.Materialize(context.Background(), stem.Drums, fast)
	fastPlayer, _ := h.engine.Player(stem.Drums)

	close(release)
	waitFor(t, "slow load cached", func() bool {
		_, ok := h.cache.Get("slow")
		return ok
	})
	time.Sleep(20 * time.Millisecond)

	if p, _ := h.engine.Player(stem.Drums); p != fastPlayer {
		t.Error("expected stale background load to leave the reassigned slot alone")
	}
}

func TestRelease(t *testing.T) {
	h := newHarness(t, time.Second)
	h.slots.set(h.stem("kick", stem.Drums, "/kick.wav"))
	h.ctrl.Play(context.Background(), selector.Local)

	h.ctrl.Release()

	if h.ctrl.State() != Stopped || h.engine.LivePlayers() != 0 || h.ctrl.SlotReady(stem.Drums) {
		t.Error("expected everything released")
	}
	if len(h.emissions()) != 1 {
		t.Error("expected release not to emit")
	}
}
