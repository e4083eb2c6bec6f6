// Package conversationlog writes an asynchronous NDJSON transcript of chat turns.
package conversationlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashureev/chat-relay/internal/config"
)

// Entry is one transcript line.
type Entry struct {
	Timestamp time.Time `json:"ts"`
	RequestID string    `json:"request_id,omitempty"`
	TurnID    int64     `json:"turn_id,omitempty"`
	Author    string    `json:"author"`
	Message   string    `json:"message"`
	Stage     string    `json:"stage,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Logger accepts transcript entries.
type Logger interface {
	Log(Entry)
	Close() error
}

// New returns a file-backed logger when enabled, otherwise a no-op logger.
func New(cfg config.ConversationLogConfig, logger *slog.Logger) (Logger, error) {
	if !cfg.Enabled {
		return Noop{}, nil
	}
	return NewFileLogger(cfg.Path, cfg.QueueSize, logger)
}

// Noop discards every entry.
type Noop struct{}

func (Noop) Log(Entry) {}
func (Noop) Close() error { return nil }

// FileLogger appends entries to a single file from a background goroutine.
// Log never blocks: entries are dropped when the queue is full.
type FileLogger struct {
	queue  chan Entry
	file   *os.File
	logger *slog.Logger

	mu      sync.RWMutex
	closed  bool
	done    chan struct{}
	dropped atomic.Int64
}

// NewFileLogger opens path for appending, creating parent directories.
func NewFileLogger(path string, queueSize int, logger *slog.Logger) (*FileLogger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = 1000
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create conversation log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open conversation log: %w", err)
	}

	l := &FileLogger{
		queue:  make(chan Entry, queueSize),
		file:   f,
		logger: logger,
		done:   make(chan struct{}),
	}
	go l.run()
	return l, nil
}

// Log enqueues e. Entries logged after Close are ignored.
func (l *FileLogger) Log(e Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- e:
	default:
		l.dropped.Add(1)
		l.logger.Warn("Conversation log queue full, dropping entry", "author", e.Author, "turn_id", e.TurnID)
	}
}

func (l *FileLogger) run() {
	defer close(l.done)

	w := bufio.NewWriter(l.file)
	enc := json.NewEncoder(w)
	for e := range l.queue {
		if err := enc.Encode(e); err != nil {
			l.logger.Error("Failed to encode conversation log entry", "error", err)
			continue
		}
		// Flush once the queue is drained so readers see complete lines promptly.
		if len(l.queue) == 0 {
			if err := w.Flush(); err != nil {
				l.logger.Error("Failed to flush conversation log", "error", err)
			}
		}
	}
	if err := w.Flush(); err != nil {
		l.logger.Error("Failed to flush conversation log", "error", err)
	}
}

// Close stops accepting entries, drains the queue and closes the file.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	<-l.done
	if n := l.dropped.Load(); n > 0 {
		l.logger.Warn("Conversation log dropped entries", "count", n)
	}
	return l.file.Close()
}

var (
	_ Logger = Noop{}
	_ Logger = (*FileLogger)(nil)
)
