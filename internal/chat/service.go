// Package chat implements the message pipeline: store the user turn,
// generate a reply, store the reply.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/chat-relay/internal/conversationlog"
	"github.com/ashureev/chat-relay/internal/domain"
	"github.com/ashureev/chat-relay/internal/responder"
	"github.com/ashureev/chat-relay/internal/store"
)

// Stage names a step a message reaches. Failures carry the last step reached;
// transcript entries for stored turns carry the step the turn completes.
type Stage string

const (
	StageReceived          Stage = "received"
	StageUserStored        Stage = "user_stored"
	StageResponseGenerated Stage = "response_generated"
	StageDone              Stage = "done"
)

// ValidationError reports a message rejected before any write.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid message: " + e.Reason
}

// ProcessingError wraps a failure with the stage the message had reached.
// A failure after StageUserStored leaves the user turn in the store.
type ProcessingError struct {
	Stage Stage
	Err   error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("process message at %s: %v", e.Stage, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// TurnPublisher is notified of every stored turn.
type TurnPublisher interface {
	PublishTurn(turn domain.Turn) error
}

// Service coordinates the store and the responder.
type Service struct {
	store      store.Store
	responder  responder.Responder
	publisher  TurnPublisher
	transcript conversationlog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher announces stored turns on p.
func WithPublisher(p TurnPublisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

// WithTranscript records stored turns and failures to l.
func WithTranscript(l conversationlog.Logger) Option {
	return func(s *Service) {
		s.transcript = l
	}
}

// NewService creates a chat service.
func NewService(st store.Store, r responder.Responder, opts ...Option) *Service {
	s := &Service{
		store:      st,
		responder:  r,
		transcript: conversationlog.Noop{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PostMessage stores text as a user turn, generates a reply, stores it and
// returns the reply text. Failures are returned as *ValidationError or
// *ProcessingError.
func (s *Service) PostMessage(ctx context.Context, text string) (string, error) {
	reqID := middleware.GetReqID(ctx)

	if text == "" {
		return "", &ValidationError{Reason: "message is empty"}
	}

	userTurn, err := s.store.Append(ctx, domain.AuthorUser, text)
	if err != nil {
		return "", s.fail(reqID, StageReceived, text, err)
	}
	s.stored(reqID, StageUserStored, *userTurn)

	reply, err := s.responder.Generate(ctx, text)
	if err == nil && reply == "" {
		err = fmt.Errorf("%w: empty reply", responder.ErrGenerationFailed)
	}
	if err != nil {
		return "", s.fail(reqID, StageUserStored, text, err)
	}

	replyTurn, err := s.store.Append(ctx, domain.AuthorAssistant, reply)
	if err != nil {
		return "", s.fail(reqID, StageResponseGenerated, reply, err)
	}
	s.stored(reqID, StageDone, *replyTurn)

	slog.Debug("Message processed", "request_id", reqID, "user_turn", userTurn.ID, "reply_turn", replyTurn.ID)
	return replyTurn.Text, nil
}

// History returns every stored turn in order.
func (s *Service) History(ctx context.Context) ([]domain.Turn, error) {
	turns, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	return turns, nil
}

// Since returns turns stored after afterID.
func (s *Service) Since(ctx context.Context, afterID int64) ([]domain.Turn, error) {
	turns, err := s.store.ListSince(ctx, afterID)
	if err != nil {
		return nil, fmt.Errorf("list turns since %d: %w", afterID, err)
	}
	return turns, nil
}

// stored records a persisted turn and the stage it completes.
func (s *Service) stored(reqID string, stage Stage, turn domain.Turn) {
	s.transcript.Log(conversationlog.Entry{
		Timestamp: turn.CreatedAt,
		RequestID: reqID,
		TurnID:    turn.ID,
		Author:    turn.Author.Label(),
		Message:   turn.Text,
		Stage:     string(stage),
	})

	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishTurn(turn); err != nil {
		slog.Warn("Failed to publish turn", "request_id", reqID, "turn_id", turn.ID, "error", err)
	}
}

func (s *Service) fail(reqID string, stage Stage, text string, err error) error {
	s.transcript.Log(conversationlog.Entry{
		RequestID: reqID,
		Author:    failedAuthor(stage).Label(),
		Message:   text,
		Stage:     string(stage),
		Error:     err.Error(),
	})
	return &ProcessingError{Stage: stage, Err: err}
}

func failedAuthor(stage Stage) domain.Author {
	if stage == StageResponseGenerated {
		return domain.AuthorAssistant
	}
	return domain.AuthorUser
}

// IsStorageFailure reports whether err was caused by the store.
func IsStorageFailure(err error) bool {
	return errors.Is(err, store.ErrStorageUnavailable)
}
