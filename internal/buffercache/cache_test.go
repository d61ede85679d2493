// ABOUTME: Tests for the stem buffer cache
// ABOUTME: Tests memoization, deduplicated loads, load errors and partial loads
package buffercache

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/warpsong/warpsong-go/pkg/audio"
	"github.com/warpsong/warpsong-go/pkg/audio/decode"
	"github.com/warpsong/warpsong-go/pkg/stem"
)

// fakeDecoder treats any payload as a one second silent buffer
var fakeDecoder = decode.DecoderFunc(func(data []byte) (*audio.Buffer, error) {
	if string(data) == "corrupt" {
		return nil, errors.New("bad data")
	}
	return audio.NewBuffer(1000, 2, make([]float32, 2000))
})

type stemServer struct {
	*httptest.Server
	hits    atomic.Int32
	release chan struct{}
}

func newStemServer(t *testing.T, block bool) *stemServer {
	t.Helper()

	s := &stemServer{}
	if block {
		s.release = make(chan struct{})
	}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		if s.release != nil {
			select {
			case <-s.release:
			case <-r.Context().Done():
				return
			}
		}
		switch r.URL.Path {
		case "/missing.wav":
			http.NotFound(w, r)
		case "/corrupt.wav":
			w.Write([]byte("corrupt"))
		default:
			w.Write([]byte("audio"))
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func newTestCache(timeout time.Duration) *Cache {
	return New(Config{
		Fetcher:     NewHTTPFetcher(5*time.Second, ""),
		Decoder:     fakeDecoder,
		LoadTimeout: timeout,
	})
}

func TestLoadMemoizes(t *testing.T) {
	srv := newStemServer(t, false)
	cache := newTestCache(time.Second)
	defer cache.Close()

	s := stem.Stem{ID: "Kick01", SourceURL: srv.URL + "/kick.wav"}

	h, err := cache.Load(context.Background(), s)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !h.Loaded() || h.Buffer() == nil {
		t.Fatal("expected loaded handle")
	}
	if h.ID() != "kick01" {
		t.Errorf("expected normalized id kick01, got %s", h.ID())
	}

	again, err := cache.Load(context.Background(), stem.Stem{ID: " KICK01 ", SourceURL: srv.URL + "/other.wav"})
	if err != nil {
		t.Fatalf("second load failed: %v", err)
	}
	if again.Buffer() != h.Buffer() {
		t.Error("expected the same buffer for a case-variant id")
	}
	if srv.hits.Load() != 1 {
		t.Errorf("expected 1 fetch, got %d", srv.hits.Load())
	}
	if cache.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", cache.Len())
	}
}

func TestConcurrentLoadsShareOneFetch(t *testing.T) {
	srv := newStemServer(t, true)
	cache := newTestCache(5 * time.Second)
	defer cache.Close()

	s := stem.Stem{ID: "bass02", SourceURL: srv.URL + "/bass.wav"}

	var wg sync.WaitGroup
	buffers := make([]*audio.Buffer, 5)
	for i := range buffers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := cache.Load(context.Background(), s)
			if err != nil {
				t.Errorf("load %d failed: %v", i, err)
				return
			}
			buffers[i] = h.Buffer()
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(srv.release)
	wg.Wait()

	if srv.hits.Load() != 1 {
		t.Errorf("expected 1 fetch, got %d", srv.hits.Load())
	}
	for i, b := range buffers {
		if b == nil || b != buffers[0] {
			t.Errorf("load %d returned a different buffer", i)
		}
	}
}

func TestLoadErrorDoesNotPopulate(t *testing.T) {
	srv := newStemServer(t, false)
	cache := newTestCache(time.Second)
	defer cache.Close()

	tests := []struct {
		name string
		stem stem.Stem
	}{
		{"http 404", stem.Stem{ID: "gone", SourceURL: srv.URL + "/missing.wav"}},
		{"decode failure", stem.Stem{ID: "broken", SourceURL: srv.URL + "/corrupt.wav"}},
		{"no url", stem.Stem{ID: "nourl"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := cache.Load(context.Background(), tt.stem)
			var loadErr *LoadError
			if !errors.As(err, &loadErr) {
				t.Fatalf("expected LoadError, got %v", err)
			}
			if h != nil {
				t.Error("expected nil handle on failure")
			}
			if _, ok := cache.Get(tt.stem.ID); ok {
				t.Error("expected cache to stay empty")
			}
		})
	}

	before := srv.hits.Load()
	cache.Load(context.Background(), tests[0].stem)
	if srv.hits.Load() != before+1 {
		t.Error("expected a failed load to be retried on the next call")
	}
}

func TestPartialLoad(t *testing.T) {
	srv := newStemServer(t, true)
	cache := newTestCache(30 * time.Millisecond)
	defer cache.Close()

	s := stem.Stem{ID: "vox", SourceURL: srv.URL + "/vox.wav"}

	h, err := cache.Load(context.Background(), s)
	var partial *PartialLoadError
	if !errors.As(err, &partial) {
		t.Fatalf("expected PartialLoadError, got %v", err)
	}
	if h == nil || h.Loaded() || h.Buffer() != nil {
		t.Fatal("expected a pending handle")
	}

	close(srv.release)

	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("pending handle never resolved")
	}

	if !h.Loaded() || h.Err() != nil {
		t.Fatalf("expected handle loaded after release, err=%v", h.Err())
	}
	if buf, ok := cache.Get("VOX"); !ok || buf != h.Buffer() {
		t.Error("expected entry stored once the pending load finished")
	}
}

func TestLoadCallerContext(t *testing.T) {
	srv := newStemServer(t, true)
	defer close(srv.release)
	cache := newTestCache(5 * time.Second)
	defer cache.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := cache.Load(ctx, stem.Stem{ID: "slow", SourceURL: srv.URL + "/slow.wav"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestClose(t *testing.T) {
	srv := newStemServer(t, false)
	cache := newTestCache(time.Second)

	s := stem.Stem{ID: "hat", SourceURL: srv.URL + "/hat.wav"}
	if _, err := cache.Load(context.Background(), s); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if err := cache.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if cache.Len() != 0 {
		t.Errorf("expected entries dropped, got %d", cache.Len())
	}

	_, err := cache.Load(context.Background(), s)
	if !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestHTTPFetcherBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte("0123456789"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(time.Second, "secret")
	if _, err := f.Fetch(context.Background(), srv.URL); err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("expected bearer header, got %q", gotAuth)
	}

	f.MaxBytes = 4
	if _, err := f.Fetch(context.Background(), srv.URL); err == nil {
		t.Error("expected size limit error")
	}
}
