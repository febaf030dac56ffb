package generate

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestParseSuggestions(t *testing.T) {
	raw := `{"annotations":[
		{"description":"Burning library","note":"Alexandria fire","imageIndex":0},
		{"description":"Golden compass","note":"Magnetic north","imageIndex":1}
	]}`

	got, err := parseSuggestions(raw, 5, 2)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d suggestions, want 2", len(got))
	}
	if got[0].Description != "Burning library" || got[1].ImageIndex != 1 {
		t.Errorf("got %+v", got)
	}
}

func TestParseSuggestionsToleratesProseAndFences(t *testing.T) {
	raw := "Sure, here are your items:\n```json\n" +
		`{"annotations":[{"description":"Anchor","note":"n","imageIndex":0}]}` +
		"\n```\nLet me know if you need more."

	got, err := parseSuggestions(raw, 5, 1)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if len(got) != 1 || got[0].Description != "Anchor" {
		t.Errorf("got %+v", got)
	}
}

func TestParseSuggestionsClampsImageIndex(t *testing.T) {
	raw := `{"annotations":[
		{"description":"Too high","note":"n","imageIndex":9},
		{"description":"Negative","note":"n","imageIndex":-3}
	]}`

	got, err := parseSuggestions(raw, 5, 3)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if got[0].ImageIndex != 2 {
		t.Errorf("high index clamped to %d, want 2", got[0].ImageIndex)
	}
	if got[1].ImageIndex != 0 {
		t.Errorf("negative index clamped to %d, want 0", got[1].ImageIndex)
	}
}

func TestParseSuggestionsDropsBlankAndCaps(t *testing.T) {
	raw := `{"annotations":[
		{"description":"  ","note":"blank","imageIndex":0},
		{"description":"One","note":"n","imageIndex":0},
		{"description":"Two","note":"n","imageIndex":0},
		{"description":"Three","note":"n","imageIndex":0}
	]}`

	got, err := parseSuggestions(raw, 2, 1)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d suggestions, want 2", len(got))
	}
	if got[0].Description != "One" || got[1].Description != "Two" {
		t.Errorf("got %+v", got)
	}
}

func TestParseSuggestionsBadOutput(t *testing.T) {
	for _, raw := range []string{"", "no json here", "{broken"} {
		if _, err := parseSuggestions(raw, 5, 1); !errors.Is(err, ErrBadModelOutput) {
			t.Errorf("input %q: got %v, want ErrBadModelOutput", raw, err)
		}
	}
}

func TestBuildPrompt(t *testing.T) {
	prompt := buildPrompt("The mitochondria is the powerhouse of the cell.", 7, 3)

	if !strings.Contains(prompt, "exactly 7") {
		t.Error("target count missing from prompt")
	}
	if !strings.Contains(prompt, "0 to 2") {
		t.Error("image index range missing from prompt")
	}
	if !strings.Contains(prompt, "mitochondria") {
		t.Error("notes missing from prompt")
	}
}

func TestGenerateEmptyNotes(t *testing.T) {
	g := NewOllama("http://127.0.0.1:1", "phi3.5")

	// Blank notes short-circuit before any network traffic.
	got, err := g.Generate(context.Background(), "   \n", 5, 1)
	if err != nil {
		t.Fatalf("generate error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d suggestions, want 0", len(got))
	}
}

func TestGenerateUnavailableEngine(t *testing.T) {
	// Port 1 is never listening; Available fails fast.
	g := NewOllama("http://127.0.0.1:1", "phi3.5")

	if _, err := g.Generate(context.Background(), "some notes", 5, 1); !errors.Is(err, ErrEngineUnavailable) {
		t.Errorf("got %v, want ErrEngineUnavailable", err)
	}
}
