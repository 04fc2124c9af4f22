package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/authgate/internal/domain"
	"github.com/example/authgate/internal/observability"
)

// RedisSessionStore keeps all three namespaces in one Redis instance with
// per-key TTLs, plus a per-user set indexing outstanding session keys so
// logout-all does not need a SCAN.
type RedisSessionStore struct {
	client redis.UniversalClient
}

func NewRedisSessionStore(client redis.UniversalClient) *RedisSessionStore {
	return &RedisSessionStore{client: client}
}

func (s *RedisSessionStore) PutSession(ctx context.Context, rec domain.SessionRecord, ttl time.Duration) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal session record: %w", err)
	}
	indexKey := userIndexKey(rec.UserID)
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, sessionKeyPrefix+rec.TokenID, payload, ttl)
	pipe.SAdd(ctx, indexKey, rec.TokenID)
	pipe.Expire(ctx, indexKey, ttl+time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		observability.RecordStoreOperation(ctx, "session", "put", "error")
		return err
	}
	observability.RecordStoreOperation(ctx, "session", "put", "success")
	return nil
}

func (s *RedisSessionStore) GetSession(ctx context.Context, tokenID string) (*domain.SessionRecord, error) {
	raw, err := s.client.Get(ctx, sessionKeyPrefix+tokenID).Result()
	if err == redis.Nil {
		observability.RecordStoreOperation(ctx, "session", "get", "not_found")
		return nil, ErrSessionNotFound
	}
	if err != nil {
		observability.RecordStoreOperation(ctx, "session", "get", "error")
		return nil, err
	}
	observability.RecordStoreOperation(ctx, "session", "get", "success")
	return decodeSessionRecord(raw)
}

// ConsumeSession relies on GETDEL being a single atomic command: two callers
// racing on one jti cannot both observe the record. The user index is cleaned
// up best-effort afterwards; a stale index member is harmless because its
// session key is already gone.
func (s *RedisSessionStore) ConsumeSession(ctx context.Context, tokenID string) (*domain.SessionRecord, error) {
	raw, err := s.client.GetDel(ctx, sessionKeyPrefix+tokenID).Result()
	if err == redis.Nil {
		observability.RecordStoreOperation(ctx, "session", "consume", "not_found")
		return nil, ErrSessionNotFound
	}
	if err != nil {
		observability.RecordStoreOperation(ctx, "session", "consume", "error")
		return nil, err
	}
	rec, err := decodeSessionRecord(raw)
	if err != nil {
		observability.RecordStoreOperation(ctx, "session", "consume", "error")
		return nil, err
	}
	s.client.SRem(ctx, userIndexKey(rec.UserID), tokenID)
	observability.RecordStoreOperation(ctx, "session", "consume", "success")
	return rec, nil
}

func (s *RedisSessionStore) DeleteSession(ctx context.Context, tokenID string) error {
	_, err := s.ConsumeSession(ctx, tokenID)
	if err == ErrSessionNotFound {
		return nil
	}
	return err
}

func (s *RedisSessionStore) ListUserSessions(ctx context.Context, userID uint) ([]domain.SessionRecord, error) {
	tokenIDs, err := s.client.SMembers(ctx, userIndexKey(userID)).Result()
	if err != nil && err != redis.Nil {
		observability.RecordStoreOperation(ctx, "session", "list_user", "error")
		return nil, err
	}
	var records []domain.SessionRecord
	for _, id := range tokenIDs {
		rec, err := s.GetSession(ctx, id)
		if err == ErrSessionNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	observability.RecordStoreOperation(ctx, "session", "list_user", "success")
	return records, nil
}

func (s *RedisSessionStore) ConsumeUserSessions(ctx context.Context, userID uint) ([]domain.SessionRecord, error) {
	indexKey := userIndexKey(userID)
	tokenIDs, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil && err != redis.Nil {
		observability.RecordStoreOperation(ctx, "session", "consume_user", "error")
		return nil, err
	}
	var consumed []domain.SessionRecord
	for _, id := range tokenIDs {
		rec, err := s.ConsumeSession(ctx, id)
		if err == ErrSessionNotFound {
			// Lost a race with a concurrent renew or logout on this jti;
			// either way the id is terminal now.
			continue
		}
		if err != nil {
			return consumed, err
		}
		consumed = append(consumed, *rec)
	}
	if err := s.client.Del(ctx, indexKey).Err(); err != nil {
		observability.RecordStoreOperation(ctx, "session", "consume_user", "error")
		return consumed, err
	}
	observability.RecordStoreOperation(ctx, "session", "consume_user", "success")
	return consumed, nil
}

func (s *RedisSessionStore) BlacklistAccessToken(ctx context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		// Token already past its natural expiry; nothing to revoke.
		return nil
	}
	err := s.client.Set(ctx, blacklistKeyPrefix+tokenID, strconv.FormatInt(time.Now().Unix(), 10), ttl).Err()
	if err != nil {
		observability.RecordStoreOperation(ctx, "blacklist", "put", "error")
		return err
	}
	observability.RecordStoreOperation(ctx, "blacklist", "put", "success")
	return nil
}

func (s *RedisSessionStore) IsAccessTokenBlacklisted(ctx context.Context, tokenID string) (bool, error) {
	n, err := s.client.Exists(ctx, blacklistKeyPrefix+tokenID).Result()
	if err != nil {
		observability.RecordStoreOperation(ctx, "blacklist", "check", "error")
		return false, err
	}
	observability.RecordStoreOperation(ctx, "blacklist", "check", "success")
	return n > 0, nil
}

func (s *RedisSessionStore) PutOAuthState(ctx context.Context, state, payload string, ttl time.Duration) error {
	return s.client.Set(ctx, stateKeyPrefix+state, payload, ttl).Err()
}

func (s *RedisSessionStore) ConsumeOAuthState(ctx context.Context, state string) (string, error) {
	payload, err := s.client.GetDel(ctx, stateKeyPrefix+state).Result()
	if err == redis.Nil {
		return "", ErrStateNotFound
	}
	if err != nil {
		return "", err
	}
	return payload, nil
}

func userIndexKey(userID uint) string {
	return userIndexKeyPrefix + strconv.FormatUint(uint64(userID), 10)
}

func decodeSessionRecord(raw string) (*domain.SessionRecord, error) {
	var rec domain.SessionRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal session record: %w", err)
	}
	return &rec, nil
}
