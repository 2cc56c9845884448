package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// redisSessionSet is the set of all session ids known to the store.
	redisSessionSet = "decepticon:sessions"

	// redisStreamPrefix prefixes the per-session event stream key.
	redisStreamPrefix = "decepticon:session:"

	eventField = "event"
)

// RedisOptions configures the Redis connection for a RedisStore.
type RedisOptions struct {
	// URL is the Redis connection string (e.g., "redis://localhost:6379").
	URL string

	// ConnectTimeout is the maximum time to wait for connection establishment.
	ConnectTimeout time.Duration

	// ReadTimeout is the maximum time to wait for read operations.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum time to wait for write operations.
	WriteTimeout time.Duration
}

// RedisStore persists each session as one Redis stream, using the event
// sequence number as the stream entry ID ("<seq>-0"). Redis rejects
// non-increasing entry IDs, so the stream itself enforces append ordering;
// gaps are additionally checked before each append and on every load.
//
// Streams are a natural fit for the restartable event feed: consumers can
// resume from any offset with XRANGE.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed session store and verifies
// connectivity with a ping.
func NewRedisStore(opts RedisOptions) (*RedisStore, error) {
	if opts.URL == "" {
		opts.URL = "redis://localhost:6379"
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 30 * time.Second
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 30 * time.Second
	}

	parsed, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}
	parsed.DialTimeout = opts.ConnectTimeout
	parsed.ReadTimeout = opts.ReadTimeout
	parsed.WriteTimeout = opts.WriteTimeout

	client := redis.NewClient(parsed)

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func streamKey(sessionID string) string {
	return redisStreamPrefix + sessionID + ":events"
}

// Append writes one event to the session's stream.
func (s *RedisStore) Append(ctx context.Context, sessionID string, ev Event) error {
	key := streamKey(sessionID)

	last, err := s.lastSeq(ctx, key)
	if err != nil {
		return err
	}
	if ev.Seq != last+1 {
		return fmt.Errorf("%w: session %s: got seq %d, want %d",
			ErrOutOfOrderAppend, sessionID, ev.Seq, last+1)
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		ID:     fmt.Sprintf("%d-0", ev.Seq),
		Values: map[string]any{eventField: string(data)},
	}).Err(); err != nil {
		return fmt.Errorf("append event: %w", err)
	}

	if err := s.client.SAdd(ctx, redisSessionSet, sessionID).Err(); err != nil {
		return fmt.Errorf("index session: %w", err)
	}
	return nil
}

// lastSeq returns the sequence number of the newest stream entry, or 0 for an
// empty or missing stream.
func (s *RedisStore) lastSeq(ctx context.Context, key string) (int64, error) {
	entries, err := s.client.XRevRangeN(ctx, key, "+", "-", 1).Result()
	if err != nil {
		return 0, fmt.Errorf("read stream tail: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}
	return parseStreamSeq(entries[0].ID)
}

func parseStreamSeq(id string) (int64, error) {
	for i := 0; i < len(id); i++ {
		if id[i] == '-' {
			seq, err := strconv.ParseInt(id[:i], 10, 64)
			if err != nil {
				return 0, fmt.Errorf("%w: bad stream id %q", ErrStoreCorruption, id)
			}
			return seq, nil
		}
	}
	return 0, fmt.Errorf("%w: bad stream id %q", ErrStoreCorruption, id)
}

// Load returns the session's events in sequence order.
func (s *RedisStore) Load(ctx context.Context, sessionID string) ([]Event, error) {
	key := streamKey(sessionID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("check stream: %w", err)
	}
	if exists == 0 {
		return nil, ErrSessionNotFound
	}

	entries, err := s.client.XRange(ctx, key, "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("read stream: %w", err)
	}

	events := make([]Event, 0, len(entries))
	for _, entry := range entries {
		raw, ok := entry.Values[eventField].(string)
		if !ok {
			return nil, fmt.Errorf("session %s: %w: stream entry %s has no event field",
				sessionID, ErrStoreCorruption, entry.ID)
		}
		var ev Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			return nil, fmt.Errorf("session %s: %w: undecodable event: %v",
				sessionID, ErrStoreCorruption, err)
		}
		events = append(events, ev)
	}

	if err := VerifySequence(events); err != nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, err)
	}
	return events, nil
}

// List returns summaries for every session indexed by the store.
func (s *RedisStore) List(ctx context.Context) ([]Summary, error) {
	ids, err := s.client.SMembers(ctx, redisSessionSet).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	out := make([]Summary, 0, len(ids))
	for _, id := range ids {
		events, err := s.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, summarize(id, events))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
