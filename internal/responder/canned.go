package responder

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// MinCatalogSize is the smallest catalog NewCanned accepts.
const MinCatalogSize = 5

// DefaultCatalog holds the built-in placeholder replies.
var DefaultCatalog = []string{
	"Hi there! I'm a simulated AI assistant.",
	"Hello! This is a placeholder AI response.",
	"I'm just a dummy function pretending to be AI.",
	"That's an interesting point! Let me think about it...",
	"I understand what you're saying. Please tell me more!",
}

// Canned picks a reply uniformly at random from a fixed catalog. The input
// message does not influence the choice.
type Canned struct {
	catalog []string
	pick    func(n int) int
}

// CannedOption configures a Canned responder.
type CannedOption func(*Canned)

// WithPicker replaces the random index source. pick must return a value in [0, n).
func WithPicker(pick func(n int) int) CannedOption {
	return func(c *Canned) {
		c.pick = pick
	}
}

// NewCanned validates catalog and returns a responder drawing from a copy of it.
func NewCanned(catalog []string, opts ...CannedOption) (*Canned, error) {
	if len(catalog) < MinCatalogSize {
		return nil, fmt.Errorf("catalog has %d responses, need at least %d", len(catalog), MinCatalogSize)
	}
	for i, r := range catalog {
		if strings.TrimSpace(r) == "" {
			return nil, fmt.Errorf("catalog response %d is empty", i)
		}
	}

	c := &Canned{
		catalog: append([]string(nil), catalog...),
		pick:    rand.IntN,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Generate returns one catalog entry.
func (c *Canned) Generate(_ context.Context, input string) (string, error) {
	slog.Debug("Generating canned response", "message_length", len(input))

	i := c.pick(len(c.catalog))
	if i < 0 || i >= len(c.catalog) {
		return "", fmt.Errorf("%w: picker returned index %d for %d responses", ErrGenerationFailed, i, len(c.catalog))
	}
	reply := c.catalog[i]
	if reply == "" {
		return "", fmt.Errorf("%w: empty canned response", ErrGenerationFailed)
	}
	return reply, nil
}

// Catalog returns a copy of the responses Generate draws from.
func (c *Canned) Catalog() []string {
	return append([]string(nil), c.catalog...)
}

type catalogFile struct {
	Responses []string `yaml:"responses"`
}

// LoadCatalog reads a YAML file of the form
//
//	responses:
//	  - "first reply"
//	  - "second reply"
func LoadCatalog(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read responses file: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse responses file: %w", err)
	}

	responses := make([]string, 0, len(file.Responses))
	for _, r := range file.Responses {
		if r = strings.TrimSpace(r); r != "" {
			responses = append(responses, r)
		}
	}
	if len(responses) < MinCatalogSize {
		return nil, fmt.Errorf("responses file %s has %d non-empty responses, need at least %d", path, len(responses), MinCatalogSize)
	}
	return responses, nil
}

var _ Responder = (*Canned)(nil)
