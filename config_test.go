package rotor

import (
	"testing"
	"time"
)

func validTestConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.Secret = []byte("0123456789abcdef0123456789abcdef")
	return cfg
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{
			name:      "defaults with secret",
			mutate:    func(c *Config) {},
			wantValid: true,
		},
		{
			name: "access ttl zero",
			mutate: func(c *Config) {
				c.JWT.AccessTTL = 0
			},
			wantValid: false,
		},
		{
			name: "refresh ttl not above access ttl",
			mutate: func(c *Config) {
				c.JWT.RefreshTTL = c.JWT.AccessTTL
			},
			wantValid: false,
		},
		{
			name: "hs256 secret too short",
			mutate: func(c *Config) {
				c.JWT.Secret = []byte("short")
			},
			wantValid: false,
		},
		{
			name: "unknown signing method",
			mutate: func(c *Config) {
				c.JWT.SigningMethod = "rs256"
			},
			wantValid: false,
		},
		{
			name: "ed25519 without keys",
			mutate: func(c *Config) {
				c.JWT.SigningMethod = "ed25519"
				c.JWT.Secret = nil
			},
			wantValid: false,
		},
		{
			name: "qr ticket ttl zero",
			mutate: func(c *Config) {
				c.QR.TicketTTL = 0
			},
			wantValid: false,
		},
		{
			name: "negative ledger retention",
			mutate: func(c *Config) {
				c.Ledger.Retention = -time.Hour
			},
			wantValid: false,
		},
		{
			name: "zero retention allowed",
			mutate: func(c *Config) {
				c.Ledger.Retention = 0
				c.QR.Retention = 0
			},
			wantValid: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantValid && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tt.wantValid && err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestCloneConfigIsolatesKeyMaterial(t *testing.T) {
	cfg := validTestConfig()
	clone := cloneConfig(cfg)

	clone.JWT.Secret[0] ^= 0xFF
	if cfg.JWT.Secret[0] == clone.JWT.Secret[0] {
		t.Fatal("clone shares secret backing array")
	}
}
