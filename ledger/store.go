package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrTokenNotFound is returned when no row exists for a token id.
	ErrTokenNotFound = errors.New("refresh token not found")
	// ErrTokenExpired is returned when the row exists but its logical expiry passed.
	ErrTokenExpired = errors.New("refresh token expired")
	// ErrTokenRevoked is returned when the row's family has been revoked.
	ErrTokenRevoked = errors.New("refresh token revoked")
	// ErrTokenUsed is the replay signal: an already-consumed token was
	// presented again. By the time the caller sees this error the entire
	// family has already been revoked by the rotation script.
	ErrTokenUsed = errors.New("refresh token reuse detected")
	// ErrSecretMismatch is returned when the row exists and is active but the
	// presented secret does not hash to the stored value. Not a replay signal.
	ErrSecretMismatch = errors.New("refresh secret mismatch")
	// ErrRedisUnavailable wraps transport-level Redis failures.
	ErrRedisUnavailable = errors.New("ledger redis unavailable")
)

const (
	rotateStatusNotFound int64 = 0
	rotateStatusExpired  int64 = 1
	rotateStatusRevoked  int64 = 2
	rotateStatusReuse    int64 = 3
	rotateStatusCorrupt  int64 = 4
	rotateStatusMismatch int64 = 5
	rotateStatusRotated  int64 = 6
)

// luaRowHelpers is shared by both scripts: big-endian 64-bit helpers and the
// family revocation loop. Flag arithmetic avoids the bit library so the
// scripts run on any Lua host Redis provides.
const luaRowHelpers = `
local function read_be64(s, i)
  local n = 0
  for k = 0, 7 do
    local b = string.byte(s, i + k)
    if not b then
      return nil
    end
    n = n * 256 + b
  end
  return n
end

local function write_be64(n)
  local b = {}
  for k = 8, 1, -1 do
    b[k] = n % 256
    n = math.floor(n / 256)
  end
  return string.char(b[1], b[2], b[3], b[4], b[5], b[6], b[7], b[8])
end

local function revoke_family(family_key, row_prefix)
  local total = 0
  local newly = 0
  for _, id in ipairs(redis.call("SMEMBERS", family_key)) do
    local key = row_prefix .. id
    if redis.call("EXISTS", key) == 1 then
      total = total + 1
      local flag_str = redis.call("GETRANGE", key, 1, 1)
      local flags = string.byte(flag_str)
      if flags and flags % 2 == 0 then
        redis.call("SETRANGE", key, 1, string.char(flags + 1))
        newly = newly + 1
      end
    end
  end
  return total, newly
end
`

// rotateScript is the single atomic step of the rotation protocol. The
// family set key is derived in-script from the row's own family id (the
// caller cannot know it before the row is read).
//
// KEYS: 1 old row, 2 new row
// ARGV: 1 provided secret hash, 2 next secret hash, 3 now (unix sec),
//
//	4 row TTL ms (expiry + retention), 5 old token id, 6 new token id,
//	7 row key prefix, 8 user key prefix, 9 family key prefix,
//	10 new expires_at (unix sec)
//
// Returns {status, ...}: on reuse {3, total, newly} after revoking the whole
// family in-script; on success {6, user_id, family_id}.
const rotateScript = luaRowHelpers + `
local data = redis.call("GET", KEYS[1])
if not data then
  return {0}
end
if #data < 61 or string.byte(data, 1) ~= 1 then
  return {4}
end

local idx = 59
local ulen = string.byte(data, idx)
if not ulen or #data < idx + ulen then
  return {4}
end
local user_id = string.sub(data, idx + 1, idx + ulen)
idx = idx + 1 + ulen
local flen = string.byte(data, idx)
if not flen or #data < idx + flen then
  return {4}
end
local family_id = string.sub(data, idx + 1, idx + flen)
local family_key = ARGV[9] .. family_id

local flags = string.byte(data, 2)
if flags % 2 == 1 then
  return {2}
end

local now = tonumber(ARGV[3])
local expires_at = read_be64(data, 11)
if not expires_at then
  return {4}
end
if expires_at <= now then
  return {1}
end

if math.floor(flags / 2) % 2 == 1 then
  local total, newly = revoke_family(family_key, ARGV[7])
  return {3, total, newly}
end

if string.sub(data, 27, 58) ~= ARGV[1] then
  return {5}
end

local pttl = redis.call("PTTL", KEYS[1])
if pttl <= 0 then
  return {1}
end

local marked = string.sub(data, 1, 1)
  .. string.char(flags + 2)
  .. string.sub(data, 3, 18)
  .. write_be64(now)
  .. string.sub(data, 27)
redis.call("SET", KEYS[1], marked, "PX", pttl)

local successor = string.char(1)
  .. string.char(0)
  .. write_be64(now)
  .. write_be64(tonumber(ARGV[10]))
  .. write_be64(0)
  .. ARGV[2]
  .. string.char(#user_id) .. user_id
  .. string.char(#family_id) .. family_id
  .. string.char(#ARGV[5]) .. ARGV[5]

local row_ttl = tonumber(ARGV[4])
redis.call("SET", KEYS[2], successor, "PX", row_ttl)
redis.call("SADD", family_key, ARGV[6])
redis.call("PEXPIRE", family_key, row_ttl)
redis.call("PEXPIRE", ARGV[8] .. user_id, row_ttl)

return {6, user_id, family_id}
`

// revokeFamilyScript flips the revoked flag on every row in a family.
// KEYS: 1 family set. ARGV: 1 row key prefix. Returns {total, newly}.
const revokeFamilyScript = luaRowHelpers + `
local total, newly = revoke_family(KEYS[1], ARGV[1])
return {total, newly}
`

var (
	rotateLua       = redis.NewScript(rotateScript)
	revokeFamilyLua = redis.NewScript(revokeFamilyScript)
)

// Store is the Redis-backed token family ledger.
type Store struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
}

// NewStore creates a ledger [Store]. prefix namespaces all keys; retention is
// how long rows remain readable for introspection after their logical expiry.
func NewStore(client redis.UniversalClient, prefix string, retention time.Duration) *Store {
	if prefix == "" {
		prefix = "rl"
	}
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &Store{redis: client, prefix: prefix, retention: retention}
}

func (s *Store) rowKey(tokenID string) string     { return s.prefix + ":t:" + tokenID }
func (s *Store) familyKey(familyID string) string { return s.prefix + ":f:" + familyID }
func (s *Store) userKey(userID string) string     { return s.prefix + ":u:" + userID }
func (s *Store) rowPrefix() string                { return s.prefix + ":t:" }
func (s *Store) userPrefix() string               { return s.prefix + ":u:" }

func (s *Store) rowTTL(ttl time.Duration) time.Duration {
	return ttl + s.retention
}

// CreateFamily starts a new token family for a user: one active row with a
// fresh family id and no predecessor.
func (s *Store) CreateFamily(ctx context.Context, userID string, secretHash [32]byte, ttl time.Duration) (*Token, error) {
	if userID == "" {
		return nil, errors.New("ledger: empty user id")
	}
	if ttl <= 0 {
		return nil, errors.New("ledger: non-positive refresh TTL")
	}

	tokenID, err := NewTokenID()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	tok := &Token{
		TokenID:    tokenID,
		UserID:     userID,
		FamilyID:   uuid.New().String(),
		SecretHash: secretHash,
		CreatedAt:  now.Unix(),
		ExpiresAt:  now.Add(ttl).Unix(),
	}

	data, err := encodeRow(tok)
	if err != nil {
		return nil, err
	}

	rowTTL := s.rowTTL(ttl)
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.rowKey(tok.TokenID), data, rowTTL)
		pipe.SAdd(ctx, s.familyKey(tok.FamilyID), tok.TokenID)
		pipe.PExpire(ctx, s.familyKey(tok.FamilyID), rowTTL)
		pipe.SAdd(ctx, s.userKey(userID), tok.FamilyID)
		pipe.PExpire(ctx, s.userKey(userID), rowTTL)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return tok, nil
}

// Rotate atomically consumes the old token and inserts its successor in the
// same family. The whole check-and-mark-used-and-insert sequence is one Lua
// script: under concurrent calls with the same token id exactly one caller
// gets a successor, the rest observe the reuse path.
//
// Error mapping follows the row state, in precedence order:
// absent ErrTokenNotFound, revoked ErrTokenRevoked, expired ErrTokenExpired,
// already used ErrTokenUsed (family revoked in-script before returning),
// wrong secret ErrSecretMismatch.
func (s *Store) Rotate(ctx context.Context, oldTokenID string, providedHash, nextHash [32]byte, ttl time.Duration) (*Token, error) {
	if ttl <= 0 {
		return nil, errors.New("ledger: non-positive refresh TTL")
	}

	newTokenID, err := NewTokenID()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	expiresAt := now.Add(ttl).Unix()

	result, err := rotateLua.Run(
		ctx,
		s.redis,
		[]string{s.rowKey(oldTokenID), s.rowKey(newTokenID)},
		providedHash[:],
		nextHash[:],
		now.Unix(),
		s.rowTTL(ttl).Milliseconds(),
		oldTokenID,
		newTokenID,
		s.rowPrefix(),
		s.userPrefix(),
		s.prefix+":f:",
		expiresAt,
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	parts, ok := result.([]interface{})
	if !ok || len(parts) == 0 {
		return nil, fmt.Errorf("%w: invalid rotate script response", ErrRedisUnavailable)
	}
	code, ok := parts[0].(int64)
	if !ok {
		return nil, fmt.Errorf("%w: invalid rotate script status", ErrRedisUnavailable)
	}

	switch code {
	case rotateStatusNotFound:
		return nil, ErrTokenNotFound
	case rotateStatusExpired:
		return nil, ErrTokenExpired
	case rotateStatusRevoked:
		return nil, ErrTokenRevoked
	case rotateStatusReuse:
		return nil, ErrTokenUsed
	case rotateStatusCorrupt:
		return nil, ErrRowCorrupt
	case rotateStatusMismatch:
		return nil, ErrSecretMismatch
	case rotateStatusRotated:
		if len(parts) < 3 {
			return nil, fmt.Errorf("%w: missing rotate script payload", ErrRedisUnavailable)
		}
		userID, uok := scriptString(parts[1])
		fid, fok := scriptString(parts[2])
		if !uok || !fok {
			return nil, fmt.Errorf("%w: invalid rotate script payload", ErrRedisUnavailable)
		}
		return &Token{
			TokenID:       newTokenID,
			UserID:        userID,
			FamilyID:      fid,
			PredecessorID: oldTokenID,
			SecretHash:    nextHash,
			CreatedAt:     now.Unix(),
			ExpiresAt:     expiresAt,
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown rotate script status %d", ErrRedisUnavailable, code)
	}
}

// RevokeFamily sets the revoked flag on every row in the family. Idempotent:
// re-revoking reports zero newly revoked rows and no error.
func (s *Store) RevokeFamily(ctx context.Context, familyID string) (RevokeOutcome, error) {
	result, err := revokeFamilyLua.Run(
		ctx,
		s.redis,
		[]string{s.familyKey(familyID)},
		s.rowPrefix(),
	).Result()
	if err != nil {
		return RevokeOutcome{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	parts, ok := result.([]interface{})
	if !ok || len(parts) < 2 {
		return RevokeOutcome{}, fmt.Errorf("%w: invalid revoke script response", ErrRedisUnavailable)
	}
	total, _ := parts[0].(int64)
	newly, _ := parts[1].(int64)
	return RevokeOutcome{Total: int(total), NewlyRevoked: int(newly)}, nil
}

// RevokeFamilyByToken resolves the family of any token row, active or not,
// and revokes it. Supports killing a family via an arbitrary historical token.
func (s *Store) RevokeFamilyByToken(ctx context.Context, tokenID string) (string, RevokeOutcome, error) {
	tok, err := s.Get(ctx, tokenID)
	if err != nil {
		return "", RevokeOutcome{}, err
	}
	outcome, err := s.RevokeFamily(ctx, tok.FamilyID)
	return tok.FamilyID, outcome, err
}

// RevokeAllForUser revokes every family indexed for a user. Admin surface;
// not part of the per-session logout path.
func (s *Store) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	familyIDs, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	revoked := 0
	for _, familyID := range familyIDs {
		outcome, err := s.RevokeFamily(ctx, familyID)
		if err != nil {
			return revoked, err
		}
		if outcome.Total > 0 {
			revoked++
		}
	}
	return revoked, nil
}

// Get reads a raw token row with no state change and no validity mapping.
// Revoked, used, and expired rows all return successfully while they remain
// within the retention window.
func (s *Store) Get(ctx context.Context, tokenID string) (*Token, error) {
	data, err := s.redis.Get(ctx, s.rowKey(tokenID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	tok, err := decodeRow(data)
	if err != nil {
		return nil, err
	}
	tok.TokenID = tokenID
	return tok, nil
}

// Status is the read-only introspection view of a token row.
func (s *Store) Status(ctx context.Context, tokenID string) (*Status, error) {
	tok, err := s.Get(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	return statusOf(tok, time.Now()), nil
}

func statusOf(tok *Token, now time.Time) *Status {
	return &Status{
		TokenID:   tok.TokenID,
		UserID:    tok.UserID,
		FamilyID:  tok.FamilyID,
		Valid:     tok.Active(now),
		Revoked:   tok.Revoked,
		Expired:   tok.Expired(now),
		Used:      tok.Used(),
		CreatedAt: tok.CreatedAt,
		ExpiresAt: tok.ExpiresAt,
		UsedAt:    tok.UsedAt,
	}
}

// FamilyTokens returns every surviving row of a family.
func (s *Store) FamilyTokens(ctx context.Context, familyID string) ([]*Token, error) {
	ids, err := s.redis.SMembers(ctx, s.familyKey(familyID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*Token{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	tokens := make([]*Token, 0, len(ids))
	for _, id := range ids {
		tok, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrTokenNotFound) {
				continue
			}
			return nil, err
		}
		tokens = append(tokens, tok)
	}
	return tokens, nil
}

// AllTokens scans every surviving row. Operator/debug surface, O(n); never
// called on the request hot path.
func (s *Store) AllTokens(ctx context.Context) ([]*Token, error) {
	pattern := s.rowPrefix() + "*"
	var (
		cursor uint64
		tokens []*Token
	)

	for {
		keys, next, err := s.redis.Scan(ctx, cursor, pattern, 1000).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		for _, key := range keys {
			tokenID := strings.TrimPrefix(key, s.rowPrefix())
			tok, err := s.Get(ctx, tokenID)
			if err != nil {
				if errors.Is(err, ErrTokenNotFound) {
					continue
				}
				return nil, err
			}
			tokens = append(tokens, tok)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return tokens, nil
}

// SweepIndexes removes family-set members whose rows have been garbage
// collected by Redis TTLs, and drops empty sets. Auxiliary hygiene only;
// correctness never depends on it.
func (s *Store) SweepIndexes(ctx context.Context) (int, error) {
	pattern := s.prefix + ":f:*"
	var (
		cursor  uint64
		removed int
	)

	for {
		keys, next, err := s.redis.Scan(ctx, cursor, pattern, 1000).Result()
		if err != nil {
			return removed, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		for _, familyKey := range keys {
			ids, err := s.redis.SMembers(ctx, familyKey).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
				return removed, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
			}
			for _, id := range ids {
				exists, err := s.redis.Exists(ctx, s.rowKey(id)).Result()
				if err != nil {
					return removed, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
				}
				if exists == 0 {
					if err := s.redis.SRem(ctx, familyKey, id).Err(); err != nil {
						return removed, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
					}
					removed++
				}
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return removed, nil
}

// scriptString normalizes a Lua reply element. go-redis delivers script
// strings as string or []byte depending on the reply path.
func scriptString(v interface{}) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	default:
		return "", false
	}
}

// Ping reports Redis availability and round-trip latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}
