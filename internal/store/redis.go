package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ashureev/chat-relay/internal/domain"
)

const defaultRedisKeyPrefix = "chat-relay"

// appendScript assigns the id, clamps the timestamp and pushes the encoded
// turn in one step, so list position always matches id order.
//
// KEYS[1] id counter, KEYS[2] turn list, KEYS[3] last timestamp (ms).
// ARGV[1] now (ms), ARGV[2] author, ARGV[3] text.
var appendScript = redis.NewScript(`
local id = redis.call('INCR', KEYS[1])
local ts = tonumber(ARGV[1])
local last = tonumber(redis.call('GET', KEYS[3]) or '0')
if ts < last then
	ts = last
end
redis.call('SET', KEYS[3], ts)
redis.call('RPUSH', KEYS[2], cjson.encode({id = id, author = ARGV[2], text = ARGV[3], created_at_ms = ts}))
return {id, ts}
`)

type redisTurn struct {
	ID          int64  `json:"id"`
	Author      string `json:"author"`
	Text        string `json:"text"`
	CreatedAtMs int64  `json:"created_at_ms"`
}

// RedisStore implements Store on a Redis list.
type RedisStore struct {
	client  *redis.Client
	seqKey  string
	listKey string
	lastKey string
}

// NewRedis connects to redisURL. Keys are namespaced under prefix.
func NewRedis(ctx context.Context, redisURL, prefix string) (*RedisStore, error) {
	if redisURL == "" {
		return nil, errors.New("redis store: empty redis url")
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return newRedisWithClient(client, prefix), nil
}

func newRedisWithClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisKeyPrefix
	}
	return &RedisStore{
		client:  client,
		seqKey:  prefix + ":turns:seq",
		listKey: prefix + ":turns",
		lastKey: prefix + ":turns:last_ms",
	}
}

// Ping verifies the server is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Append stores a turn. Redis timestamps have millisecond precision.
func (s *RedisStore) Append(ctx context.Context, author domain.Author, text string) (*domain.Turn, error) {
	res, err := appendScript.Run(ctx, s.client,
		[]string{s.seqKey, s.listKey, s.lastKey},
		time.Now().UnixMilli(), string(author), text,
	).Int64Slice()
	if err != nil {
		return nil, unavailable("append turn", err)
	}
	if len(res) != 2 {
		return nil, unavailable("append turn", fmt.Errorf("unexpected script reply of length %d", len(res)))
	}

	return &domain.Turn{
		ID:        res[0],
		Author:    author,
		Text:      text,
		CreatedAt: time.UnixMilli(res[1]).UTC(),
	}, nil
}

// ListAll returns every turn in list order.
func (s *RedisStore) ListAll(ctx context.Context) ([]domain.Turn, error) {
	return s.ListSince(ctx, 0)
}

// ListSince returns turns after afterID. Ids are contiguous from 1, so the
// list can be sliced by position.
func (s *RedisStore) ListSince(ctx context.Context, afterID int64) ([]domain.Turn, error) {
	if afterID < 0 {
		afterID = 0
	}
	raw, err := s.client.LRange(ctx, s.listKey, afterID, -1).Result()
	if err != nil {
		return nil, unavailable("read turns", err)
	}

	turns := make([]domain.Turn, 0, len(raw))
	for _, item := range raw {
		var rt redisTurn
		if err := json.Unmarshal([]byte(item), &rt); err != nil {
			return nil, unavailable("decode turn", err)
		}
		if rt.ID <= afterID {
			continue
		}
		author, err := domain.ParseAuthor(rt.Author)
		if err != nil {
			return nil, unavailable("decode turn author", err)
		}
		turns = append(turns, domain.Turn{
			ID:        rt.ID,
			Author:    author,
			Text:      rt.Text,
			CreatedAt: time.UnixMilli(rt.CreatedAtMs).UTC(),
		})
	}
	return turns, nil
}

// Close closes the client.
func (s *RedisStore) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close redis: %w", err)
	}
	return nil
}

var _ Store = (*RedisStore)(nil)
