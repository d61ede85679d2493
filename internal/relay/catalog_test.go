package relay

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/warpsong/warpsong-go/pkg/stem"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadCatalogDropsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	writeFile(t, path, `[
		{"identifier": "kick01", "category": "Drums", "name": "Kick", "bpm": 130, "sourceUrl": "kick01.wav"},
		{"identifier": "", "category": "Drums"},
		{"identifier": "x", "category": "Cowbell"}
	]`)

	stems, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stems) != 1 || stems[0].ID != "kick01" || stems[0].BPM != 130 {
		t.Errorf("unexpected catalog %+v", stems)
	}

	writeFile(t, path, `{not json`)
	if _, err := LoadCatalog(path); err == nil {
		t.Error("expected parse error")
	}
	if _, err := LoadCatalog(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected read error")
	}
}

func TestScanCatalog(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "drums", "Kick01_128bpm.wav"), "")
	writeFile(t, filepath.Join(dir, "Bass", "sub.flac"), "")
	writeFile(t, filepath.Join(dir, "Bass", "notes.txt"), "")
	writeFile(t, filepath.Join(dir, "Cowbell", "more.wav"), "")
	writeFile(t, filepath.Join(dir, "readme.md"), "")

	stems, err := ScanCatalog(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stems) != 2 {
		t.Fatalf("expected 2 stems, got %+v", stems)
	}

	bass, drums := stems[0], stems[1]
	if bass.ID != "sub" || bass.Category != stem.Bass || bass.SourceURL != "Bass/sub.flac" {
		t.Errorf("unexpected bass stem %+v", bass)
	}
	if drums.ID != "kick01_128bpm" || drums.Category != stem.Drums || drums.Name != "Kick01" || drums.BPM != 128 {
		t.Errorf("unexpected drums stem %+v", drums)
	}
	if drums.SourceURL != "drums/Kick01_128bpm.wav" {
		t.Errorf("expected source url relative to the stems dir, got %q", drums.SourceURL)
	}
	for _, s := range stems {
		if err := s.Validate(); err != nil {
			t.Errorf("scanned stem invalid: %v", err)
		}
	}
}
