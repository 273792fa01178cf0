// internal/store/redis.go
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/lexiwars/backend/internal/models"
)

// Key layout, all lobby-scoped:
//   lexiwars:lobby:{id}          -> JSON LobbyInfo
//   lexiwars:lobby:{id}:seats    -> member count (capacity accounting)
//   lexiwars:lobby:{id}:snapshot -> JSON session snapshot (last committed turn)
//   lexiwars:lobby:{id}:chat     -> list of JSON ChatMessage, TTL-expired
//   lexiwars:stats:{userId}      -> hash of accumulated player stats
//   lexiwars:journal             -> mutation journal list

const (
	chatTTL        = 24 * time.Hour
	chatMaxEntries = 200
	journalQueue   = "lexiwars:journal"
)

// reserveSeatScript increments the seat counter only while it is below max.
// Returns 1 on success, 0 when the lobby is full. Running as a Lua script
// makes the check-and-increment atomic: two racing joins for the last seat
// serialize inside Redis and exactly one wins.
var reserveSeatScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local max = tonumber(ARGV[1])
if current >= max then
  return 0
end
redis.call('INCR', KEYS[1])
return 1
`)

// releaseSeatScript decrements the seat counter, clamping at zero.
var releaseSeatScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current <= 0 then
  return 0
end
return redis.call('DECR', KEYS[1])
`)

// Redis is the Gateway implementation backed by a single Redis client.
type Redis struct {
	rdb   *redis.Client
	log   *logrus.Logger
	retry retryPolicy

	// OnDegraded, when set, is invoked on transitions into and out of
	// degraded mode so the caller can notify connected clients.
	OnDegraded func(degraded bool)

	degraded atomic.Bool
}

// ConnectRedis initializes a Redis gateway from environment variables:
//   - REDIS_ADDR (default "localhost:6379")
//   - REDIS_DB (optional, default 0)
func ConnectRedis(logger *logrus.Logger) (*Redis, error) {
	addr := getEnv("REDIS_ADDR", "localhost:6379")
	dbIdx := getEnvInt("REDIS_DB", 0)

	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   dbIdx,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return &Redis{rdb: rdb, log: logger, retry: defaultRetry}, nil
}

// NewRedis wraps an existing client. Used by tests running against miniature
// or containerized Redis instances.
func NewRedis(rdb *redis.Client, logger *logrus.Logger) *Redis {
	return &Redis{rdb: rdb, log: logger, retry: defaultRetry}
}

func lobbyKey(id uuid.UUID) string    { return "lexiwars:lobby:" + id.String() }
func seatsKey(id uuid.UUID) string    { return lobbyKey(id) + ":seats" }
func snapshotKey(id uuid.UUID) string { return lobbyKey(id) + ":snapshot" }
func chatKey(id uuid.UUID) string     { return lobbyKey(id) + ":chat" }
func statsKey(id uuid.UUID) string    { return "lexiwars:stats:" + id.String() }

func (s *Redis) ReserveSeat(ctx context.Context, lobbyID uuid.UUID, max int) (bool, error) {
	var ok bool
	err := s.withRetry(ctx, "reserve seat", func() error {
		res, err := reserveSeatScript.Run(ctx, s.rdb, []string{seatsKey(lobbyID)}, max).Int()
		if err != nil {
			return err
		}
		ok = res == 1
		return nil
	})
	return ok, err
}

func (s *Redis) ReleaseSeat(ctx context.Context, lobbyID uuid.UUID) error {
	return s.withRetry(ctx, "release seat", func() error {
		return releaseSeatScript.Run(ctx, s.rdb, []string{seatsKey(lobbyID)}).Err()
	})
}

func (s *Redis) SaveLobby(ctx context.Context, info models.LobbyInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal lobby %s: %w", info.ID, err)
	}
	return s.withRetry(ctx, "save lobby", func() error {
		return s.rdb.Set(ctx, lobbyKey(info.ID), data, 0).Err()
	})
}

func (s *Redis) DeleteLobby(ctx context.Context, lobbyID uuid.UUID) error {
	return s.withRetry(ctx, "delete lobby", func() error {
		return s.rdb.Del(ctx, lobbyKey(lobbyID), seatsKey(lobbyID), snapshotKey(lobbyID)).Err()
	})
}

// CommitTurn writes the snapshot and stat deltas atomically via MULTI/EXEC.
// Either all keys land or none do, bounding divergence between in-memory and
// persisted truth to the current uncommitted mutation.
func (s *Redis) CommitTurn(ctx context.Context, lobbyID uuid.UUID, snapshot interface{}, stats []PlayerStat) error {
	snapData, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot for lobby %s: %w", lobbyID, err)
	}
	return s.withRetry(ctx, "commit turn", func() error {
		_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, snapshotKey(lobbyID), snapData, 0)
			for _, st := range stats {
				key := statsKey(st.UserID)
				pipe.HIncrByFloat(ctx, key, "warsPoint", st.WarsPointDelta)
				pipe.HIncrByFloat(ctx, key, "prize", st.Prize)
				pipe.HIncrBy(ctx, key, "games", 1)
				if st.Rank == 1 {
					pipe.HIncrBy(ctx, key, "wins", 1)
				}
			}
			return nil
		})
		return err
	})
}

func (s *Redis) LoadSnapshot(ctx context.Context, lobbyID uuid.UUID, out interface{}) (bool, error) {
	data, err := s.rdb.Get(ctx, snapshotKey(lobbyID)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load snapshot for lobby %s: %w", lobbyID, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("decode snapshot for lobby %s: %w", lobbyID, err)
	}
	return true, nil
}

func (s *Redis) AppendChat(ctx context.Context, msg models.ChatMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal chat message: %w", err)
	}
	key := chatKey(msg.LobbyID)
	return s.withRetry(ctx, "append chat", func() error {
		pipe := s.rdb.TxPipeline()
		pipe.LPush(ctx, key, data)
		pipe.LTrim(ctx, key, 0, chatMaxEntries-1)
		pipe.Expire(ctx, key, chatTTL)
		_, err := pipe.Exec(ctx)
		return err
	})
}

func (s *Redis) ChatHistory(ctx context.Context, lobbyID uuid.UUID, limit int64) ([]models.ChatMessage, error) {
	if limit <= 0 || limit > chatMaxEntries {
		limit = chatMaxEntries
	}
	raw, err := s.rdb.LRange(ctx, chatKey(lobbyID), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("chat history for lobby %s: %w", lobbyID, err)
	}
	// LPUSH stores newest first; reverse to oldest-first for replay.
	msgs := make([]models.ChatMessage, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var m models.ChatMessage
		if err := json.Unmarshal([]byte(raw[i]), &m); err != nil {
			s.log.Warnf("store: dropping undecodable chat entry in lobby %s: %v", lobbyID, err)
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// JournalMutation pushes the record onto the journal list. This does not
// block gameplay; failures are logged and swallowed.
func (s *Redis) JournalMutation(ctx context.Context, rec MutationRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal mutation record: %w", err)
	}
	if err := s.rdb.RPush(ctx, journalQueue, data).Err(); err != nil {
		s.log.Warnf("store: journal push failed for lobby %s: %v", rec.LobbyID, err)
		return fmt.Errorf("journal push: %w", err)
	}
	return nil
}

func (s *Redis) Degraded() bool {
	return s.degraded.Load()
}

// withRetry runs op with bounded exponential backoff. Exhausting the budget
// flips the gateway into degraded mode and returns ErrUnavailable; the next
// successful operation flips it back.
func (s *Redis) withRetry(ctx context.Context, what string, op func() error) error {
	var err error
	backoff := s.retry.base
	for attempt := 0; attempt < s.retry.attempts; attempt++ {
		if err = op(); err == nil {
			s.markDegraded(false)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	s.log.Errorf("store: %s failed after %d attempts: %v", what, s.retry.attempts, err)
	s.markDegraded(true)
	return fmt.Errorf("%s: %w", what, ErrUnavailable)
}

func (s *Redis) markDegraded(degraded bool) {
	if s.degraded.Swap(degraded) != degraded && s.OnDegraded != nil {
		s.OnDegraded(degraded)
	}
}

// getEnv is a helper to read an environment variable or return a default value.
func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// getEnvInt is a helper to parse an environment variable as integer, else a default value.
func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
