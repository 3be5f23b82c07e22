package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const testTTL = 30 * time.Minute

func newTestStore(t *testing.T) (*Store, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewStore(rdb, "rl", time.Hour), rdb
}

func newSecretPair(t *testing.T) ([32]byte, [32]byte) {
	t.Helper()

	secret, err := NewSecret()
	if err != nil {
		t.Fatalf("NewSecret failed: %v", err)
	}
	return secret, HashSecret(secret)
}

func activeCount(t *testing.T, s *Store, familyID string) int {
	t.Helper()

	tokens, err := s.FamilyTokens(context.Background(), familyID)
	if err != nil {
		t.Fatalf("FamilyTokens failed: %v", err)
	}
	active := 0
	now := time.Now()
	for _, tok := range tokens {
		if tok.Active(now) {
			active++
		}
	}
	return active
}

func TestCreateFamily(t *testing.T) {
	s, _ := newTestStore(t)
	_, hash := newSecretPair(t)

	tok, err := s.CreateFamily(context.Background(), "user-1", hash, testTTL)
	if err != nil {
		t.Fatalf("CreateFamily failed: %v", err)
	}
	if tok.TokenID == "" || tok.FamilyID == "" {
		t.Fatalf("missing identifiers: %+v", tok)
	}
	if tok.PredecessorID != "" {
		t.Fatal("family root must have no predecessor")
	}

	got, err := s.Get(context.Background(), tok.TokenID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.Active(time.Now()) {
		t.Fatalf("expected active root row: %+v", got)
	}
	if activeCount(t, s, tok.FamilyID) != 1 {
		t.Fatal("expected exactly one active row")
	}
}

func TestRotateChain(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, hash := newSecretPair(t)
	root, err := s.CreateFamily(ctx, "user-1", hash, testTTL)
	if err != nil {
		t.Fatalf("CreateFamily failed: %v", err)
	}

	current := root
	currentHash := hash
	for i := 0; i < 3; i++ {
		_, nextHash := newSecretPair(t)
		next, err := s.Rotate(ctx, current.TokenID, currentHash, nextHash, testTTL)
		if err != nil {
			t.Fatalf("rotation %d failed: %v", i, err)
		}
		if next.FamilyID != root.FamilyID {
			t.Fatalf("rotation left the family: %s != %s", next.FamilyID, root.FamilyID)
		}
		if next.PredecessorID != current.TokenID {
			t.Fatalf("predecessor link broken: %s != %s", next.PredecessorID, current.TokenID)
		}

		// At most one active row per family at every observation point.
		if n := activeCount(t, s, root.FamilyID); n != 1 {
			t.Fatalf("rotation %d: expected 1 active row, got %d", i, n)
		}

		prior, err := s.Get(ctx, current.TokenID)
		if err != nil {
			t.Fatalf("Get prior failed: %v", err)
		}
		if !prior.Used() || prior.Revoked {
			t.Fatalf("prior row should be used, not revoked: %+v", prior)
		}

		current = next
		currentHash = nextHash
	}
}

func TestRotateReuseRevokesWholeFamily(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, hash0 := newSecretPair(t)
	root, err := s.CreateFamily(ctx, "user-1", hash0, testTTL)
	if err != nil {
		t.Fatalf("CreateFamily failed: %v", err)
	}

	_, hash1 := newSecretPair(t)
	successor, err := s.Rotate(ctx, root.TokenID, hash0, hash1, testTTL)
	if err != nil {
		t.Fatalf("first rotation failed: %v", err)
	}

	// Replay: the root token is presented a second time.
	_, hash2 := newSecretPair(t)
	if _, err := s.Rotate(ctx, root.TokenID, hash0, hash2, testTTL); !errors.Is(err, ErrTokenUsed) {
		t.Fatalf("expected ErrTokenUsed, got %v", err)
	}

	// Every row in the family, including the still-fresh successor, is revoked.
	for _, id := range []string{root.TokenID, successor.TokenID} {
		st, err := s.Status(ctx, id)
		if err != nil {
			t.Fatalf("Status(%s) failed: %v", id, err)
		}
		if !st.Revoked {
			t.Fatalf("expected %s revoked after replay", id)
		}
		if st.Valid {
			t.Fatalf("expected %s invalid after replay", id)
		}
	}

	// The revoked successor can no longer rotate.
	_, hash3 := newSecretPair(t)
	if _, err := s.Rotate(ctx, successor.TokenID, hash1, hash3, testTTL); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected ErrTokenRevoked, got %v", err)
	}
}

func TestRotateWrongSecret(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, hash := newSecretPair(t)
	root, err := s.CreateFamily(ctx, "user-1", hash, testTTL)
	if err != nil {
		t.Fatalf("CreateFamily failed: %v", err)
	}

	_, wrongHash := newSecretPair(t)
	_, nextHash := newSecretPair(t)
	if _, err := s.Rotate(ctx, root.TokenID, wrongHash, nextHash, testTTL); !errors.Is(err, ErrSecretMismatch) {
		t.Fatalf("expected ErrSecretMismatch, got %v", err)
	}

	// A guessing attempt must not damage the family.
	if n := activeCount(t, s, root.FamilyID); n != 1 {
		t.Fatalf("expected 1 active row after mismatch, got %d", n)
	}
}

func TestRotateUnknownToken(t *testing.T) {
	s, _ := newTestStore(t)
	_, hash := newSecretPair(t)
	_, nextHash := newSecretPair(t)

	unknown, err := NewTokenID()
	if err != nil {
		t.Fatalf("NewTokenID failed: %v", err)
	}

	if _, err := s.Rotate(context.Background(), unknown, hash, nextHash, testTTL); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound, got %v", err)
	}
}

func TestRotateExpiredToken(t *testing.T) {
	s, rdb := newTestStore(t)
	ctx := context.Background()

	// Craft a row whose logical expiry is in the past but whose Redis TTL
	// (retention window) is still live, as a real expired-but-retained row is.
	_, hash := newSecretPair(t)
	tokenID, err := NewTokenID()
	if err != nil {
		t.Fatalf("NewTokenID failed: %v", err)
	}
	now := time.Now().Unix()
	row, err := encodeRow(&Token{
		UserID:     "user-1",
		FamilyID:   "family-x",
		SecretHash: hash,
		CreatedAt:  now - 3600,
		ExpiresAt:  now - 60,
	})
	if err != nil {
		t.Fatalf("encodeRow failed: %v", err)
	}
	if err := rdb.Set(ctx, s.rowKey(tokenID), row, time.Hour).Err(); err != nil {
		t.Fatalf("seed row failed: %v", err)
	}

	_, nextHash := newSecretPair(t)
	if _, err := s.Rotate(ctx, tokenID, hash, nextHash, testTTL); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}

	st, err := s.Status(ctx, tokenID)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if !st.Expired || st.Valid {
		t.Fatalf("expected expired status: %+v", st)
	}
}

func TestRevokeFamilyIdempotent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, hash := newSecretPair(t)
	root, err := s.CreateFamily(ctx, "user-1", hash, testTTL)
	if err != nil {
		t.Fatalf("CreateFamily failed: %v", err)
	}

	first, err := s.RevokeFamily(ctx, root.FamilyID)
	if err != nil {
		t.Fatalf("RevokeFamily failed: %v", err)
	}
	if first.Total != 1 || first.NewlyRevoked != 1 {
		t.Fatalf("unexpected first outcome: %+v", first)
	}

	second, err := s.RevokeFamily(ctx, root.FamilyID)
	if err != nil {
		t.Fatalf("second RevokeFamily failed: %v", err)
	}
	if second.Total != 1 || second.NewlyRevoked != 0 {
		t.Fatalf("expected idempotent outcome, got %+v", second)
	}
}

func TestRevokeFamilyByHistoricalToken(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, hash0 := newSecretPair(t)
	root, err := s.CreateFamily(ctx, "user-1", hash0, testTTL)
	if err != nil {
		t.Fatalf("CreateFamily failed: %v", err)
	}
	_, hash1 := newSecretPair(t)
	mid, err := s.Rotate(ctx, root.TokenID, hash0, hash1, testTTL)
	if err != nil {
		t.Fatalf("rotation failed: %v", err)
	}
	_, hash2 := newSecretPair(t)
	head, err := s.Rotate(ctx, mid.TokenID, hash1, hash2, testTTL)
	if err != nil {
		t.Fatalf("rotation failed: %v", err)
	}

	// Revoking via the long-consumed root must take down the active head too.
	familyID, outcome, err := s.RevokeFamilyByToken(ctx, root.TokenID)
	if err != nil {
		t.Fatalf("RevokeFamilyByToken failed: %v", err)
	}
	if familyID != root.FamilyID {
		t.Fatalf("resolved wrong family: %s", familyID)
	}
	if outcome.Total != 3 || outcome.NewlyRevoked != 3 {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}

	st, err := s.Status(ctx, head.TokenID)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if !st.Revoked || st.Valid {
		t.Fatalf("active head survived family revocation: %+v", st)
	}
}

func TestStatusIsReadOnly(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, hash := newSecretPair(t)
	root, err := s.CreateFamily(ctx, "user-1", hash, testTTL)
	if err != nil {
		t.Fatalf("CreateFamily failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		st, err := s.Status(ctx, root.TokenID)
		if err != nil {
			t.Fatalf("Status failed: %v", err)
		}
		if !st.Valid || st.Revoked || st.Expired || st.Used {
			t.Fatalf("status mutated state: %+v", st)
		}
	}

	// The row is still rotatable after introspection.
	_, nextHash := newSecretPair(t)
	if _, err := s.Rotate(ctx, root.TokenID, hash, nextHash, testTTL); err != nil {
		t.Fatalf("rotation after status failed: %v", err)
	}
}

func TestConcurrentRotateSingleWinner(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, hash := newSecretPair(t)
	root, err := s.CreateFamily(ctx, "user-1", hash, testTTL)
	if err != nil {
		t.Fatalf("CreateFamily failed: %v", err)
	}

	const n = 16
	var wg sync.WaitGroup
	wg.Add(n)
	results := make(chan error, n)

	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			secret, err := NewSecret()
			if err != nil {
				results <- err
				return
			}
			_, err = s.Rotate(ctx, root.TokenID, hash, HashSecret(secret), testTTL)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var success, reuse, revoked int
	for err := range results {
		switch {
		case err == nil:
			success++
		case errors.Is(err, ErrTokenUsed):
			reuse++
		case errors.Is(err, ErrTokenRevoked):
			revoked++
		default:
			t.Fatalf("unexpected rotate error: %v", err)
		}
	}

	if success != 1 {
		t.Fatalf("expected exactly one rotation winner, got %d", success)
	}
	if reuse+revoked != n-1 {
		t.Fatalf("expected %d replay-class failures, got reuse=%d revoked=%d", n-1, reuse, revoked)
	}

	// The race itself is treated as a replay: the family must end up revoked.
	tokens, err := s.FamilyTokens(ctx, root.FamilyID)
	if err != nil {
		t.Fatalf("FamilyTokens failed: %v", err)
	}
	for _, tok := range tokens {
		if !tok.Revoked {
			t.Fatalf("expected all rows revoked after replay race, token %s is not", tok.TokenID)
		}
	}
}

func TestRevokeAllForUser(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	var families []string
	for i := 0; i < 3; i++ {
		_, hash := newSecretPair(t)
		tok, err := s.CreateFamily(ctx, "user-1", hash, testTTL)
		if err != nil {
			t.Fatalf("CreateFamily failed: %v", err)
		}
		families = append(families, tok.FamilyID)
	}

	n, err := s.RevokeAllForUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("RevokeAllForUser failed: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 families revoked, got %d", n)
	}

	for _, familyID := range families {
		if activeCount(t, s, familyID) != 0 {
			t.Fatalf("family %s still has active rows", familyID)
		}
	}
}

func TestSweepIndexes(t *testing.T) {
	s, rdb := newTestStore(t)
	ctx := context.Background()

	_, hash := newSecretPair(t)
	root, err := s.CreateFamily(ctx, "user-1", hash, testTTL)
	if err != nil {
		t.Fatalf("CreateFamily failed: %v", err)
	}

	// Simulate the row's TTL firing while the family set survives.
	if err := rdb.Del(ctx, s.rowKey(root.TokenID)).Err(); err != nil {
		t.Fatalf("del failed: %v", err)
	}

	removed, err := s.SweepIndexes(ctx)
	if err != nil {
		t.Fatalf("SweepIndexes failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 index entry removed, got %d", removed)
	}

	members, err := rdb.SMembers(ctx, s.familyKey(root.FamilyID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		t.Fatalf("SMembers failed: %v", err)
	}
	if len(members) != 0 {
		t.Fatalf("expected empty family index, got %v", members)
	}
}

func TestAllTokens(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, hash := newSecretPair(t)
		if _, err := s.CreateFamily(ctx, "user-1", hash, testTTL); err != nil {
			t.Fatalf("CreateFamily failed: %v", err)
		}
	}

	tokens, err := s.AllTokens(ctx)
	if err != nil {
		t.Fatalf("AllTokens failed: %v", err)
	}
	if len(tokens) != 4 {
		t.Fatalf("expected 4 rows, got %d", len(tokens))
	}
}

func TestScriptStringNormalization(t *testing.T) {
	tests := []struct {
		name  string
		in    interface{}
		want  string
		valid bool
	}{
		{"string", "fam-1", "fam-1", true},
		{"bytes", []byte("fam-2"), "fam-2", true},
		{"integer", int64(7), "", false},
		{"nil", nil, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := scriptString(tt.in)
			if ok != tt.valid || got != tt.want {
				t.Fatalf("scriptString(%v) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.valid)
			}
		})
	}
}
