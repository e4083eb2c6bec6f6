package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ashureev/chat-relay/internal/domain"
)

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool

	writeMu     sync.Mutex
	lastCreated time.Time
}

// NewPostgres connects to databaseURL and creates the turn table if missing.
func NewPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	if databaseURL == "" {
		return nil, errors.New("postgres store: empty database url")
	}

	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	poolCfg.MaxConns = 25
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.migrate(connectCtx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS chat_turns (
			id BIGSERIAL PRIMARY KEY,
			author TEXT NOT NULL,
			text TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	var last *time.Time
	if err := s.pool.QueryRow(ctx, `SELECT MAX(created_at) FROM chat_turns`).Scan(&last); err != nil {
		return fmt.Errorf("read latest turn timestamp: %w", err)
	}
	if last != nil {
		s.lastCreated = last.UTC()
	}
	return nil
}

// Ping verifies database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Append inserts a turn and returns it with the id assigned by the sequence.
func (s *PostgresStore) Append(ctx context.Context, author domain.Author, text string) (*domain.Turn, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	// Postgres keeps microseconds.
	createdAt := domain.NextTimestamp(s.lastCreated, time.Now().UTC().Truncate(time.Microsecond))

	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO chat_turns (author, text, created_at) VALUES ($1, $2, $3) RETURNING id`,
		string(author), text, createdAt,
	).Scan(&id)
	if err != nil {
		return nil, unavailable("insert turn", err)
	}

	s.lastCreated = createdAt
	return &domain.Turn{ID: id, Author: author, Text: text, CreatedAt: createdAt}, nil
}

// ListAll returns every turn ordered by id.
func (s *PostgresStore) ListAll(ctx context.Context) ([]domain.Turn, error) {
	return s.ListSince(ctx, 0)
}

// ListSince returns turns with id greater than afterID.
func (s *PostgresStore) ListSince(ctx context.Context, afterID int64) ([]domain.Turn, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, author, text, created_at FROM chat_turns WHERE id > $1 ORDER BY id ASC`, afterID)
	if err != nil {
		return nil, unavailable("query turns", err)
	}
	defer rows.Close()

	turns := make([]domain.Turn, 0)
	for rows.Next() {
		var turn domain.Turn
		var author string
		if err := rows.Scan(&turn.ID, &author, &turn.Text, &turn.CreatedAt); err != nil {
			return nil, unavailable("scan turn row", err)
		}
		if turn.Author, err = domain.ParseAuthor(author); err != nil {
			return nil, unavailable("decode turn author", err)
		}
		turn.CreatedAt = turn.CreatedAt.UTC()
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate turns", err)
	}
	return turns, nil
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

var _ Store = (*PostgresStore)(nil)
