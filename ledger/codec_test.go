package ledger

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func TestRowRoundTrip(t *testing.T) {
	secret, err := NewSecret()
	if err != nil {
		t.Fatalf("NewSecret failed: %v", err)
	}

	now := time.Now().Unix()
	in := &Token{
		TokenID:       "ignored-by-codec",
		UserID:        "user-1",
		FamilyID:      "family-1",
		PredecessorID: "prior-token",
		SecretHash:    HashSecret(secret),
		CreatedAt:     now,
		ExpiresAt:     now + 1800,
		UsedAt:        now + 60,
		Revoked:       true,
	}

	data, err := encodeRow(in)
	if err != nil {
		t.Fatalf("encodeRow failed: %v", err)
	}

	out, err := decodeRow(data)
	if err != nil {
		t.Fatalf("decodeRow failed: %v", err)
	}

	if out.UserID != in.UserID || out.FamilyID != in.FamilyID || out.PredecessorID != in.PredecessorID {
		t.Fatalf("identity fields mismatch: %+v", out)
	}
	if out.CreatedAt != in.CreatedAt || out.ExpiresAt != in.ExpiresAt || out.UsedAt != in.UsedAt {
		t.Fatalf("timestamp mismatch: %+v", out)
	}
	if !out.Revoked || !out.Used() {
		t.Fatalf("flag mismatch: %+v", out)
	}
	if !bytes.Equal(out.SecretHash[:], in.SecretHash[:]) {
		t.Fatal("secret hash mismatch")
	}
}

func TestRowRootHasNoPredecessor(t *testing.T) {
	in := &Token{
		UserID:    "user-1",
		FamilyID:  "family-1",
		CreatedAt: 100,
		ExpiresAt: 200,
	}

	data, err := encodeRow(in)
	if err != nil {
		t.Fatalf("encodeRow failed: %v", err)
	}
	out, err := decodeRow(data)
	if err != nil {
		t.Fatalf("decodeRow failed: %v", err)
	}
	if out.PredecessorID != "" {
		t.Fatalf("expected empty predecessor, got %q", out.PredecessorID)
	}
	if out.Revoked || out.Used() {
		t.Fatalf("fresh row should be active: %+v", out)
	}
}

func TestDecodeRowCorrupt(t *testing.T) {
	valid, err := encodeRow(&Token{UserID: "u", FamilyID: "f", CreatedAt: 1, ExpiresAt: 2})
	if err != nil {
		t.Fatalf("encodeRow failed: %v", err)
	}

	cases := map[string][]byte{
		"empty":             {},
		"truncated header":  valid[:20],
		"bad version":       append([]byte{9}, valid[1:]...),
		"truncated tail":    valid[:len(valid)-1],
		"trailing garbage":  append(append([]byte{}, valid...), 0xFF),
		"used flag no time": flagOnly(valid, flagUsed),
	}
	for name, data := range cases {
		if _, err := decodeRow(data); !errors.Is(err, ErrRowCorrupt) {
			t.Fatalf("%s: expected ErrRowCorrupt, got %v", name, err)
		}
	}
}

func flagOnly(valid []byte, flag byte) []byte {
	data := append([]byte{}, valid...)
	data[rowFlagsOffset] = flag
	return data
}

func TestWireRoundTrip(t *testing.T) {
	id, err := NewTokenID()
	if err != nil {
		t.Fatalf("NewTokenID failed: %v", err)
	}
	secret, err := NewSecret()
	if err != nil {
		t.Fatalf("NewSecret failed: %v", err)
	}

	wire, err := EncodeWire(id, secret)
	if err != nil {
		t.Fatalf("EncodeWire failed: %v", err)
	}

	gotID, gotSecret, err := DecodeWire(wire)
	if err != nil {
		t.Fatalf("DecodeWire failed: %v", err)
	}
	if gotID != id {
		t.Fatalf("token id mismatch: %s != %s", gotID, id)
	}
	if gotSecret != secret {
		t.Fatal("secret mismatch")
	}
}

func TestDecodeWireMalformed(t *testing.T) {
	for _, token := range []string{"", "not-base64!!!", "c2hvcnQ"} {
		if _, _, err := DecodeWire(token); !errors.Is(err, ErrWireMalformed) {
			t.Fatalf("expected ErrWireMalformed for %q, got %v", token, err)
		}
	}
}
