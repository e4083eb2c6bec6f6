// Package domain contains core domain types for the chat relay.
package domain

import (
	"fmt"
	"time"
)

// Author identifies who produced a turn.
type Author string

const (
	// AuthorUser marks a turn typed by the person chatting.
	AuthorUser Author = "User"
	// AuthorAssistant marks a generated reply.
	AuthorAssistant Author = "Assistant"
)

// Label returns the name clients see for the author.
func (a Author) Label() string {
	switch a {
	case AuthorAssistant:
		return "AI"
	default:
		return string(a)
	}
}

// ParseAuthor accepts either the stored name or the client label.
func ParseAuthor(s string) (Author, error) {
	switch s {
	case string(AuthorUser):
		return AuthorUser, nil
	case string(AuthorAssistant), "AI":
		return AuthorAssistant, nil
	}
	return "", fmt.Errorf("unknown author %q", s)
}

// Turn is one stored chat message. Turns are never modified after insertion.
type Turn struct {
	ID        int64     `json:"id"`
	Author    Author    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// View is the history representation of a turn.
type View struct {
	ID        int64     `json:"id"`
	User      string    `json:"user"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// View converts the turn to its client representation.
func (t Turn) View() View {
	return View{
		ID:        t.ID,
		User:      t.Author.Label(),
		Message:   t.Text,
		Timestamp: t.CreatedAt,
	}
}

// Views converts turns preserving order. A nil input yields an empty slice.
func Views(turns []Turn) []View {
	out := make([]View, 0, len(turns))
	for _, t := range turns {
		out = append(out, t.View())
	}
	return out
}

// NextTimestamp returns now, or prev when the clock reads earlier than prev.
// Stores use it so a later turn never carries an older timestamp.
func NextTimestamp(prev, now time.Time) time.Time {
	if now.Before(prev) {
		return prev
	}
	return now
}
