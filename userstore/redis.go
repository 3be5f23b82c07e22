package userstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/fieldcipher/rotor"
)

// RedisStore keeps users as Redis hashes with username and email uniqueness
// enforced through SETNX index keys.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStore creates a [RedisStore] under the given key prefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "rotor:users"
	}
	return &RedisStore{redis: client, prefix: prefix}
}

func (s *RedisStore) userKey(userID string) string { return s.prefix + ":id:" + userID }
func (s *RedisStore) usernameKey(username string) string {
	return s.prefix + ":name:" + strings.ToLower(username)
}
func (s *RedisStore) emailKey(email string) string {
	return s.prefix + ":email:" + strings.ToLower(email)
}

// CreateUser claims both identifier indexes before writing the row. A lost
// claim on the second index releases the first, so a half-registered user
// never blocks either identifier.
func (s *RedisStore) CreateUser(ctx context.Context, user *rotor.UserRecord) error {
	if user.UserID == "" || user.Username == "" || user.Email == "" {
		return errors.New("userstore: incomplete user record")
	}

	ok, err := s.redis.SetNX(ctx, s.usernameKey(user.Username), user.UserID, 0).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", rotor.ErrStoreUnavailable, err)
	}
	if !ok {
		return rotor.ErrUserExists
	}

	ok, err = s.redis.SetNX(ctx, s.emailKey(user.Email), user.UserID, 0).Result()
	if err != nil {
		_ = s.redis.Del(ctx, s.usernameKey(user.Username)).Err()
		return fmt.Errorf("%w: %v", rotor.ErrStoreUnavailable, err)
	}
	if !ok {
		_ = s.redis.Del(ctx, s.usernameKey(user.Username)).Err()
		return rotor.ErrUserExists
	}

	if err := s.redis.HSet(ctx, s.userKey(user.UserID), userFields(user)).Err(); err != nil {
		_ = s.redis.Del(ctx, s.usernameKey(user.Username), s.emailKey(user.Email)).Err()
		return fmt.Errorf("%w: %v", rotor.ErrStoreUnavailable, err)
	}

	return nil
}

// GetByUsername resolves the username index and loads the row.
func (s *RedisStore) GetByUsername(ctx context.Context, username string) (*rotor.UserRecord, error) {
	userID, err := s.redis.Get(ctx, s.usernameKey(username)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, rotor.ErrUserNotFound
		}
		return nil, fmt.Errorf("%w: %v", rotor.ErrStoreUnavailable, err)
	}
	return s.GetByID(ctx, userID)
}

// GetByID loads a user row.
func (s *RedisStore) GetByID(ctx context.Context, userID string) (*rotor.UserRecord, error) {
	fields, err := s.redis.HGetAll(ctx, s.userKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", rotor.ErrStoreUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, rotor.ErrUserNotFound
	}
	return userFromFields(userID, fields), nil
}

// UpdateLastLogin stamps the last successful login time.
func (s *RedisStore) UpdateLastLogin(ctx context.Context, userID string, lastLogin int64) error {
	exists, err := s.redis.Exists(ctx, s.userKey(userID)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", rotor.ErrStoreUnavailable, err)
	}
	if exists == 0 {
		return rotor.ErrUserNotFound
	}
	if err := s.redis.HSet(ctx, s.userKey(userID), "last_login", lastLogin).Err(); err != nil {
		return fmt.Errorf("%w: %v", rotor.ErrStoreUnavailable, err)
	}
	return nil
}

// ListUsers scans every user row. Operator surface, O(n).
func (s *RedisStore) ListUsers(ctx context.Context) ([]*rotor.UserRecord, error) {
	pattern := s.prefix + ":id:*"
	var (
		cursor uint64
		users  []*rotor.UserRecord
	)

	for {
		keys, next, err := s.redis.Scan(ctx, cursor, pattern, 500).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", rotor.ErrStoreUnavailable, err)
		}
		for _, key := range keys {
			userID := strings.TrimPrefix(key, s.prefix+":id:")
			user, err := s.GetByID(ctx, userID)
			if err != nil {
				if errors.Is(err, rotor.ErrUserNotFound) {
					continue
				}
				return nil, err
			}
			users = append(users, user)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return users, nil
}

func userFields(user *rotor.UserRecord) map[string]interface{} {
	return map[string]interface{}{
		"username":      user.Username,
		"email":         user.Email,
		"password_hash": user.PasswordHash,
		"created_at":    user.CreatedAt,
		"last_login":    user.LastLogin,
	}
}

func userFromFields(userID string, fields map[string]string) *rotor.UserRecord {
	createdAt, _ := strconv.ParseInt(fields["created_at"], 10, 64)
	lastLogin, _ := strconv.ParseInt(fields["last_login"], 10, 64)
	return &rotor.UserRecord{
		UserID:       userID,
		Username:     fields["username"],
		Email:        fields["email"],
		PasswordHash: fields["password_hash"],
		CreatedAt:    createdAt,
		LastLogin:    lastLogin,
	}
}
