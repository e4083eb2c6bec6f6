package responder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/google/generative-ai-go/genai"

	"github.com/ashureev/chat-relay/internal/config"
)

func TestCannedReturnsCatalogEntry(t *testing.T) {
	c, err := NewCanned(DefaultCatalog)
	if err != nil {
		t.Fatalf("NewCanned failed: %v", err)
	}

	for range 50 {
		reply, err := c.Generate(context.Background(), "hi")
		if err != nil {
			t.Fatalf("Generate failed: %v", err)
		}
		if !slices.Contains(DefaultCatalog, reply) {
			t.Fatalf("reply %q not in catalog", reply)
		}
	}
}

func TestCannedIgnoresInput(t *testing.T) {
	c, err := NewCanned(DefaultCatalog, WithPicker(func(int) int { return 3 }))
	if err != nil {
		t.Fatalf("NewCanned failed: %v", err)
	}

	a, _ := c.Generate(context.Background(), "")
	b, _ := c.Generate(context.Background(), "a much longer message with 🚀 emoji")
	if a != b || a != DefaultCatalog[3] {
		t.Errorf("expected both replies to be %q, got %q and %q", DefaultCatalog[3], a, b)
	}
}

func TestCannedBadPickIsGenerationFailure(t *testing.T) {
	c, err := NewCanned(DefaultCatalog, WithPicker(func(n int) int { return n }))
	if err != nil {
		t.Fatalf("NewCanned failed: %v", err)
	}

	_, err = c.Generate(context.Background(), "hi")
	if !errors.Is(err, ErrGenerationFailed) {
		t.Fatalf("expected ErrGenerationFailed, got %v", err)
	}
}

func TestNewCannedRejectsSmallCatalog(t *testing.T) {
	if _, err := NewCanned(DefaultCatalog[:4]); err == nil {
		t.Error("expected error for 4-entry catalog")
	}
	withBlank := append(slices.Clone(DefaultCatalog), "  ")
	if _, err := NewCanned(withBlank); err == nil {
		t.Error("expected error for blank entry")
	}
}

func TestCannedCatalogIsCopied(t *testing.T) {
	src := slices.Clone(DefaultCatalog)
	c, err := NewCanned(src)
	if err != nil {
		t.Fatalf("NewCanned failed: %v", err)
	}
	src[0] = "mutated"

	if c.Catalog()[0] != DefaultCatalog[0] {
		t.Error("catalog should not alias caller slice")
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "responses.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	return path
}

func TestLoadCatalog(t *testing.T) {
	path := writeFile(t, `responses:
  - "one"
  - "two"
  - ""
  - "three"
  - "four"
  - "five"
`)

	got, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("LoadCatalog failed: %v", err)
	}
	want := []string{"one", "two", "three", "four", "five"}
	if !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestLoadCatalogTooFew(t *testing.T) {
	path := writeFile(t, "responses:\n  - one\n  - two\n")
	if _, err := LoadCatalog(path); err == nil {
		t.Error("expected error for short catalog")
	}
}

func TestLoadCatalogMissingFile(t *testing.T) {
	if _, err := LoadCatalog(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestNewFactory(t *testing.T) {
	r, err := New(context.Background(), config.ResponderConfig{Kind: config.ResponderCanned})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, ok := r.(*Canned); !ok {
		t.Errorf("expected *Canned, got %T", r)
	}

	if _, err := New(context.Background(), config.ResponderConfig{Kind: "oracle"}); err == nil {
		t.Error("expected error for unknown kind")
	}
	if _, err := New(context.Background(), config.ResponderConfig{Kind: config.ResponderGemini}); err == nil {
		t.Error("expected error for gemini without key")
	}
}

func TestExtractText(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{Parts: []genai.Part{genai.Text("Hello, "), genai.Text("world")}}},
			{Content: nil},
		},
	}
	if got := extractText(resp); got != "Hello, world" {
		t.Errorf("got %q", got)
	}
	if got := extractText(nil); got != "" {
		t.Errorf("expected empty text for nil response, got %q", got)
	}
}
