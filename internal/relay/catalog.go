// ABOUTME: Catalog file loading for the relay
// ABOUTME: Reads a JSON stem list or scans a stem directory, dropping invalid entries
package relay

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/warpsong/warpsong-go/pkg/stem"
)

// LoadCatalog reads a JSON array of stems from path
func LoadCatalog(path string) ([]stem.Stem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var stems []stem.Stem
	if err := json.Unmarshal(data, &stems); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}

	valid := stems[:0]
	for _, s := range stems {
		if err := s.Validate(); err != nil {
			log.Printf("Skipping catalog entry: %v", err)
			continue
		}
		valid = append(valid, s)
	}
	return valid, nil
}

var bpmSuffix = regexp.MustCompile(`(?i)[_-](\d{2,3})bpm$`)

// ScanCatalog builds a catalog from dir laid out as <Category>/<stem>.<ext>. Source
// URLs are relative to dir, matching the relay's /stems/ file server.
func ScanCatalog(dir string) ([]stem.Stem, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read stems dir: %w", err)
	}

	var stems []stem.Stem
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		category, err := stem.ParseCategory(e.Name())
		if err != nil {
			log.Printf("Skipping directory %s: %v", e.Name(), err)
			continue
		}

		files, err := os.ReadDir(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", e.Name(), err)
		}
		for _, f := range files {
			ext := strings.ToLower(filepath.Ext(f.Name()))
			if f.IsDir() || (ext != ".wav" && ext != ".mp3" && ext != ".flac") {
				continue
			}
			base := strings.TrimSuffix(f.Name(), filepath.Ext(f.Name()))
			s := stem.Stem{
				ID:        stem.NormalizeID(base),
				Category:  category,
				Name:      base,
				SourceURL: path.Join(e.Name(), f.Name()),
			}
			if m := bpmSuffix.FindStringSubmatch(base); m != nil {
				s.BPM, _ = strconv.ParseFloat(m[1], 64)
				s.Name = base[:len(base)-len(m[0])]
			}
			stems = append(stems, s)
		}
	}
	return stems, nil
}
