// ABOUTME: Tests for the stem model
// ABOUTME: Tests category parsing, id normalization and catalog filtering
package stem

import "testing"

func testCatalog() []Stem {
	return []Stem{
		{ID: "kick01", Category: Drums, Name: "Kick"},
		{ID: "Bass02", Category: "bass", Name: "Sub"},
		{ID: "hat03", Category: "DRUMS", Name: "Hats"},
		{ID: "vox01", Category: Vocals, Name: "Hook"},
	}
}

func TestParseCategory(t *testing.T) {
	tests := []struct {
		input   string
		want    Category
		wantErr bool
	}{
		{"Drums", Drums, false},
		{"drums", Drums, false},
		{" MELODIE ", Melodie, false},
		{"vocals", Vocals, false},
		{"Guitar", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseCategory(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestNormalizeID(t *testing.T) {
	if NormalizeID("  Kick01 ") != "kick01" {
		t.Errorf("expected kick01, got %q", NormalizeID("  Kick01 "))
	}

	a := Stem{ID: "KICK01"}
	b := Stem{ID: "kick01"}
	if !a.SameAs(b) {
		t.Error("expected identifiers to match case-insensitively")
	}

	// the musical key is metadata, not the lookup key
	s := Stem{ID: " Pad02 ", Key: "Am"}
	if s.NormalizedID() != "pad02" || s.Key != "Am" {
		t.Errorf("expected pad02 with key Am, got %q %q", s.NormalizedID(), s.Key)
	}
}

func TestListByType(t *testing.T) {
	drums := ListByType(testCatalog(), Drums)
	if len(drums) != 2 {
		t.Fatalf("expected 2 drum stems, got %d", len(drums))
	}
	if drums[0].ID != "kick01" || drums[1].ID != "hat03" {
		t.Errorf("unexpected drum stems: %+v", drums)
	}

	if got := ListByType(testCatalog(), Melodie); len(got) != 0 {
		t.Errorf("expected no melodie stems, got %d", len(got))
	}
}

func TestFind(t *testing.T) {
	s, ok := Find(testCatalog(), "BASS02")
	if !ok {
		t.Fatal("expected to find bass02")
	}
	if s.Name != "Sub" {
		t.Errorf("expected Sub, got %s", s.Name)
	}

	if _, ok := Find(testCatalog(), "missing"); ok {
		t.Error("expected missing stem to be absent")
	}
}

func TestValidate(t *testing.T) {
	if err := (Stem{ID: "kick01", Category: "drums"}).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := (Stem{ID: " ", Category: Drums}).Validate(); err == nil {
		t.Error("expected error for empty identifier")
	}
	if err := (Stem{ID: "x", Category: "Keys"}).Validate(); err == nil {
		t.Error("expected error for unknown category")
	}
}
