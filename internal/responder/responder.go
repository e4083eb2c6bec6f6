// Package responder produces assistant replies for user messages.
package responder

import (
	"context"
	"errors"
	"fmt"

	"github.com/ashureev/chat-relay/internal/config"
)

// ErrGenerationFailed is wrapped by every error from a Responder that could
// not produce non-empty text.
var ErrGenerationFailed = errors.New("generation failed")

// Responder turns a user message into a reply.
type Responder interface {
	// Generate returns a non-empty reply or an error wrapping ErrGenerationFailed.
	Generate(ctx context.Context, input string) (string, error)
}

// New builds the responder selected by cfg.Kind.
func New(ctx context.Context, cfg config.ResponderConfig) (Responder, error) {
	switch cfg.Kind {
	case config.ResponderCanned, "":
		catalog := DefaultCatalog
		if cfg.ResponsesFile != "" {
			loaded, err := LoadCatalog(cfg.ResponsesFile)
			if err != nil {
				return nil, err
			}
			catalog = loaded
		}
		return NewCanned(catalog)
	case config.ResponderGemini:
		return NewGemini(ctx, cfg.APIKey, cfg.Model, cfg.Timeout)
	default:
		return nil, fmt.Errorf("unknown responder %q", cfg.Kind)
	}
}
