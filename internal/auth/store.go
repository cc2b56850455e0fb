package auth

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RefreshStore tracks outstanding refresh token ids.
type RefreshStore interface {
	Save(ctx context.Context, jti string, userId int, ttl time.Duration) error
	// Consume atomically removes jti and returns the user it was issued to.
	Consume(ctx context.Context, jti string) (int, bool, error)
	RevokeAll(ctx context.Context, userId int) error
}

type memoryEntry struct {
	userId    int
	expiresAt time.Time
}

type MemoryRefreshStore struct {
	mu     sync.Mutex
	tokens map[string]memoryEntry
	byUser map[int]map[string]struct{}
	now    func() time.Time
}

func NewMemoryRefreshStore() *MemoryRefreshStore {
	return &MemoryRefreshStore{
		tokens: make(map[string]memoryEntry),
		byUser: make(map[int]map[string]struct{}),
		now:    time.Now,
	}
}

func (s *MemoryRefreshStore) Save(ctx context.Context, jti string, userId int, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens[jti] = memoryEntry{userId: userId, expiresAt: s.now().Add(ttl)}
	if s.byUser[userId] == nil {
		s.byUser[userId] = make(map[string]struct{})
	}
	s.byUser[userId][jti] = struct{}{}

	return nil
}

func (s *MemoryRefreshStore) Consume(ctx context.Context, jti string) (int, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.tokens[jti]
	if !ok {
		return 0, false, nil
	}
	s.remove(jti, e.userId)

	if !s.now().Before(e.expiresAt) {
		return 0, false, nil
	}

	return e.userId, true, nil
}

func (s *MemoryRefreshStore) RevokeAll(ctx context.Context, userId int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for jti := range s.byUser[userId] {
		delete(s.tokens, jti)
	}
	delete(s.byUser, userId)

	return nil
}

func (s *MemoryRefreshStore) remove(jti string, userId int) {
	delete(s.tokens, jti)
	if ids, ok := s.byUser[userId]; ok {
		delete(ids, jti)
		if len(ids) == 0 {
			delete(s.byUser, userId)
		}
	}
}

// RedisRefreshStore keeps one key per token id with the token's TTL plus a
// per-user set of ids used for bulk revocation.
type RedisRefreshStore struct {
	client *redis.Client
	prefix string
}

func NewRedisRefreshStore(client *redis.Client, prefix string) *RedisRefreshStore {
	return &RedisRefreshStore{client: client, prefix: prefix}
}

func (s *RedisRefreshStore) tokenKey(jti string) string {
	return s.prefix + "refresh:" + jti
}

func (s *RedisRefreshStore) userKey(userId int) string {
	return s.prefix + "refresh-user:" + strconv.Itoa(userId)
}

func (s *RedisRefreshStore) Save(ctx context.Context, jti string, userId int, ttl time.Duration) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.tokenKey(jti), userId, ttl)
		pipe.SAdd(ctx, s.userKey(userId), jti)
		pipe.Expire(ctx, s.userKey(userId), ttl)
		return nil
	})
	return err
}

func (s *RedisRefreshStore) Consume(ctx context.Context, jti string) (int, bool, error) {
	val, err := s.client.GetDel(ctx, s.tokenKey(jti)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	userId, err := strconv.Atoi(val)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt refresh token entry: %w", err)
	}

	s.client.SRem(ctx, s.userKey(userId), jti)
	return userId, true, nil
}

func (s *RedisRefreshStore) RevokeAll(ctx context.Context, userId int) error {
	ids, err := s.client.SMembers(ctx, s.userKey(userId)).Result()
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(ids)+1)
	for _, jti := range ids {
		keys = append(keys, s.tokenKey(jti))
	}
	keys = append(keys, s.userKey(userId))

	return s.client.Del(ctx, keys...).Err()
}
