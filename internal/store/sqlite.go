package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/chat-relay/internal/domain"
	"github.com/ashureev/chat-relay/internal/shared"
	_ "modernc.org/sqlite"
)

const memoryDSN = ":memory:"

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	retry shared.RetryPolicy

	writeMu     sync.Mutex // serializes appends so ids and timestamps advance together
	lastCreated time.Time
}

// NewSQLite opens (and if needed creates) the SQLite database at dbPath.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	dsn := memoryDSN
	if dbPath != memoryDSN {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		dsn = dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if dbPath == memoryDSN {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db, retry: shared.DefaultRetryPolicy}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	if err := s.loadLastCreated(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS chat_turns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		author TEXT NOT NULL,
		text TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) loadLastCreated() error {
	var last sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(created_at) FROM chat_turns`).Scan(&last); err != nil {
		return fmt.Errorf("read latest turn timestamp: %w", err)
	}
	if last.Valid {
		s.lastCreated = time.Unix(0, last.Int64).UTC()
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Append inserts a turn. The row is committed before Append returns.
func (s *SQLiteStore) Append(ctx context.Context, author domain.Author, text string) (*domain.Turn, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	createdAt := domain.NextTimestamp(s.lastCreated, time.Now().UTC())

	var id int64
	err := shared.RetryOnConflict(ctx, s.retry, "append turn", func() error {
		result, err := s.db.ExecContext(ctx,
			`INSERT INTO chat_turns (author, text, created_at) VALUES (?, ?, ?)`,
			string(author), text, createdAt.UnixNano(),
		)
		if err != nil {
			return err
		}
		id, err = result.LastInsertId()
		return err
	})
	if err != nil {
		return nil, unavailable("insert turn", err)
	}

	s.lastCreated = createdAt
	return &domain.Turn{ID: id, Author: author, Text: text, CreatedAt: createdAt}, nil
}

// ListAll returns every turn ordered by id.
func (s *SQLiteStore) ListAll(ctx context.Context) ([]domain.Turn, error) {
	return s.ListSince(ctx, 0)
}

// ListSince returns turns with id greater than afterID.
func (s *SQLiteStore) ListSince(ctx context.Context, afterID int64) ([]domain.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, author, text, created_at FROM chat_turns WHERE id > ? ORDER BY id ASC`, afterID)
	if err != nil {
		return nil, unavailable("query turns", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close turn rows", "error", closeErr)
		}
	}()

	turns := make([]domain.Turn, 0)
	for rows.Next() {
		var turn domain.Turn
		var author string
		var createdAt int64
		if err := rows.Scan(&turn.ID, &author, &turn.Text, &createdAt); err != nil {
			return nil, unavailable("scan turn row", err)
		}
		if turn.Author, err = domain.ParseAuthor(author); err != nil {
			return nil, unavailable("decode turn author", err)
		}
		turn.CreatedAt = time.Unix(0, createdAt).UTC()
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate turns", err)
	}

	return turns, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

var _ Store = (*SQLiteStore)(nil)
