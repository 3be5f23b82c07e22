package rotor

import (
	"errors"
	"time"

	"github.com/fieldcipher/rotor/password"
)

// Config groups all engine settings. Configure once, pass to the Builder,
// treat as immutable afterwards.
type Config struct {
	JWT      JWTConfig
	Ledger   LedgerConfig
	QR       QRConfig
	Password password.Config
	Audit    AuditConfig
}

// JWTConfig holds access-token signing material and validation policy.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	Secret        []byte // hs256
	PrivateKey    []byte // ed25519
	PublicKey     []byte // ed25519
	Issuer        string
	Leeway        time.Duration
	MaxFutureIAT  time.Duration
}

// LedgerConfig holds token family ledger settings. Retention is how long
// consumed, revoked, and expired rows stay readable for introspection after
// their logical lifetime ends.
type LedgerConfig struct {
	RedisPrefix string
	Retention   time.Duration
}

// QRConfig holds QR login bridge settings.
type QRConfig struct {
	RedisPrefix string
	TicketTTL   time.Duration
	Retention   time.Duration
}

// AuditConfig controls the async audit event pipeline.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// DefaultConfig returns a config suitable for development: short access
// tokens, week-long refresh families, five-minute QR tickets.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: "hs256",
			Issuer:        "rotor",
			Leeway:        30 * time.Second,
		},
		Ledger: LedgerConfig{
			RedisPrefix: "rotor",
			Retention:   24 * time.Hour,
		},
		QR: QRConfig{
			RedisPrefix: "rotor:qr",
			TicketTTL:   5 * time.Minute,
			Retention:   time.Hour,
		},
		Password: password.DefaultConfig(),
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
	}
}

// Validate rejects configs that would produce an unusable or unsafe engine.
func (c *Config) Validate() error {
	if c.JWT.AccessTTL <= 0 {
		return errors.New("config: JWT.AccessTTL must be positive")
	}
	if c.JWT.RefreshTTL <= 0 {
		return errors.New("config: JWT.RefreshTTL must be positive")
	}
	if c.JWT.RefreshTTL <= c.JWT.AccessTTL {
		return errors.New("config: JWT.RefreshTTL must exceed JWT.AccessTTL")
	}

	switch c.JWT.SigningMethod {
	case "", "hs256":
		if len(c.JWT.Secret) < 32 {
			return errors.New("config: hs256 requires a secret of at least 32 bytes")
		}
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 || len(c.JWT.PublicKey) == 0 {
			return errors.New("config: ed25519 requires a key pair")
		}
	default:
		return errors.New("config: unsupported JWT.SigningMethod")
	}

	if c.QR.TicketTTL <= 0 {
		return errors.New("config: QR.TicketTTL must be positive")
	}
	if c.Ledger.Retention < 0 || c.QR.Retention < 0 {
		return errors.New("config: retention windows must not be negative")
	}
	if c.Audit.Enabled && c.Audit.BufferSize < 0 {
		return errors.New("config: Audit.BufferSize must not be negative")
	}

	return nil
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.Secret = cloneBytes(cfg.JWT.Secret)
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
