package ledger

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// Row layout, version 1. The header is fixed-offset so the rotation and
// revocation scripts can read flags and timestamps and flip state in place
// without parsing the variable tail.
//
//	offset 0      version byte
//	offset 1      flags (bit0 revoked, bit1 used)
//	offset 2-9    created_at, unix seconds, big endian
//	offset 10-17  expires_at
//	offset 18-25  used_at (0 = never used)
//	offset 26-57  sha256 of the refresh secret
//	offset 58-    len-prefixed user_id, family_id, predecessor_id
const (
	rowVersionV1 = 1

	flagRevoked byte = 1 << 0
	flagUsed    byte = 1 << 1

	rowFlagsOffset  = 1
	rowUsedAtOffset = 18
	rowHeaderSize   = 58
)

// ErrRowCorrupt is returned when a row blob fails to decode.
var ErrRowCorrupt = errors.New("ledger row corrupt")

func encodeRow(t *Token) ([]byte, error) {
	if len(t.UserID) > 255 || len(t.FamilyID) > 255 || len(t.PredecessorID) > 255 {
		return nil, errors.New("ledger row field too long")
	}

	var buf bytes.Buffer
	buf.WriteByte(rowVersionV1)

	var flags byte
	if t.Revoked {
		flags |= flagRevoked
	}
	if t.UsedAt != 0 {
		flags |= flagUsed
	}
	buf.WriteByte(flags)

	for _, ts := range []int64{t.CreatedAt, t.ExpiresAt, t.UsedAt} {
		if err := binary.Write(&buf, binary.BigEndian, ts); err != nil {
			return nil, err
		}
	}

	buf.Write(t.SecretHash[:])

	for _, field := range []string{t.UserID, t.FamilyID, t.PredecessorID} {
		buf.WriteByte(byte(len(field)))
		buf.WriteString(field)
	}

	return buf.Bytes(), nil
}

// decodeRow decodes a row blob. TokenID is not stored in the blob (it is
// the Redis key); callers set it after decoding.
func decodeRow(data []byte) (*Token, error) {
	if len(data) < rowHeaderSize+3 {
		return nil, ErrRowCorrupt
	}
	if data[0] != rowVersionV1 {
		return nil, ErrRowCorrupt
	}

	t := &Token{
		Revoked:   data[rowFlagsOffset]&flagRevoked != 0,
		CreatedAt: int64(binary.BigEndian.Uint64(data[2:10])),
		ExpiresAt: int64(binary.BigEndian.Uint64(data[10:18])),
		UsedAt:    int64(binary.BigEndian.Uint64(data[rowUsedAtOffset : rowUsedAtOffset+8])),
	}
	copy(t.SecretHash[:], data[26:58])

	if data[rowFlagsOffset]&flagUsed != 0 && t.UsedAt == 0 {
		return nil, ErrRowCorrupt
	}

	rest := data[rowHeaderSize:]
	fields := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		if len(rest) < 1 {
			return nil, ErrRowCorrupt
		}
		n := int(rest[0])
		rest = rest[1:]
		if len(rest) < n {
			return nil, ErrRowCorrupt
		}
		fields = append(fields, string(rest[:n]))
		rest = rest[n:]
	}
	if len(rest) != 0 {
		return nil, ErrRowCorrupt
	}

	t.UserID, t.FamilyID, t.PredecessorID = fields[0], fields[1], fields[2]
	if t.UserID == "" || t.FamilyID == "" {
		return nil, ErrRowCorrupt
	}

	return t, nil
}
