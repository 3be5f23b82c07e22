package qrlogin

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

const ticketRecordVersionV1 = 1

var (
	// ErrRecordCorrupt is returned when a stored ticket record fails to decode.
	ErrRecordCorrupt = errors.New("qr ticket record corrupt")
	// ErrPayloadMalformed is returned when a scanned payload is not a valid
	// login payload.
	ErrPayloadMalformed = errors.New("malformed qr payload")
)

func encodeTicket(t *Ticket) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(ticketRecordVersionV1)

	var flags byte
	if t.Used {
		flags |= 1
	}
	buf.WriteByte(flags)

	for _, ts := range []int64{t.CreatedAt, t.ExpiresAt, t.UsedAt} {
		if err := binary.Write(&buf, binary.BigEndian, ts); err != nil {
			return nil, err
		}
	}

	for _, field := range []string{t.UserID, t.IssuingIP} {
		if len(field) > 65535 {
			return nil, errors.New("qr ticket field too long")
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(field))); err != nil {
			return nil, err
		}
		buf.WriteString(field)
	}

	return buf.Bytes(), nil
}

// decodeTicket decodes a stored record. The ticket id is the Redis key
// suffix, not part of the record; callers set it after decoding.
func decodeTicket(data []byte) (*Ticket, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil || version != ticketRecordVersionV1 {
		return nil, ErrRecordCorrupt
	}

	flags, err := reader.ReadByte()
	if err != nil {
		return nil, ErrRecordCorrupt
	}

	t := &Ticket{Used: flags&1 != 0}
	for _, dst := range []*int64{&t.CreatedAt, &t.ExpiresAt, &t.UsedAt} {
		if err := binary.Read(reader, binary.BigEndian, dst); err != nil {
			return nil, ErrRecordCorrupt
		}
	}

	for _, dst := range []*string{&t.UserID, &t.IssuingIP} {
		var n uint16
		if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
			return nil, ErrRecordCorrupt
		}
		field := make([]byte, n)
		if _, err := io.ReadFull(reader, field); err != nil {
			return nil, ErrRecordCorrupt
		}
		*dst = string(field)
	}

	if reader.Len() != 0 {
		return nil, ErrRecordCorrupt
	}
	if t.UserID == "" {
		return nil, ErrRecordCorrupt
	}
	if t.Used && t.UsedAt == 0 {
		return nil, ErrRecordCorrupt
	}

	return t, nil
}

// payload is what ends up inside the QR image: a small JSON document,
// base64url encoded so it survives being embedded in URLs.
type payload struct {
	Type      string `json:"type"`
	QRID      string `json:"qr_id"`
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	ExpiresAt int64  `json:"expires_at"`
}

const payloadTypeLogin = "login"

// EncodePayload builds the scannable payload for a ticket.
func EncodePayload(t *Ticket, username string) (string, error) {
	raw, err := json.Marshal(payload{
		Type:      payloadTypeLogin,
		QRID:      t.ID,
		UserID:    t.UserID,
		Username:  username,
		ExpiresAt: t.ExpiresAt,
	})
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodePayload extracts the ticket id from a scanned payload. Unknown
// fields and non-login types are rejected outright.
func DecodePayload(encoded string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrPayloadMalformed
	}

	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()

	var p payload
	if err := dec.Decode(&p); err != nil {
		return "", ErrPayloadMalformed
	}
	if p.Type != payloadTypeLogin || p.QRID == "" {
		return "", ErrPayloadMalformed
	}
	return p.QRID, nil
}
