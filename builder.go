package rotor

import (
	"errors"

	"github.com/fieldcipher/rotor/jwt"
	"github.com/fieldcipher/rotor/ledger"
	"github.com/fieldcipher/rotor/password"
	"github.com/fieldcipher/rotor/qrlogin"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an [Engine]. Configure, then call Build exactly once.
type Builder struct {
	config    Config
	redis     redis.UniversalClient
	users     CredentialStore
	auditSink AuditSink

	built bool
}

// New returns a Builder preloaded with [DefaultConfig].
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

// WithConfig replaces the builder's config.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the Redis client backing the ledger and ticket stores.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithCredentialStore sets the user credential backend.
func (b *Builder) WithCredentialStore(store CredentialStore) *Builder {
	b.users = store
	return b
}

// WithAuditSink sets the audit event receiver. Without one, events go to a
// no-op sink when auditing is enabled.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// Build validates the configuration and wires the engine together.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.users == nil {
		return nil, errors.New("credential store required")
	}

	hasher, err := password.NewHasher(cfg.Password)
	if err != nil {
		return nil, err
	}

	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: signingMethod(cfg.JWT.SigningMethod),
		Secret:        cloneBytes(cfg.JWT.Secret),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Leeway:        cfg.JWT.Leeway,
		MaxFutureIAT:  cfg.JWT.MaxFutureIAT,
	})
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:     cfg,
		jwtManager: jm,
		hasher:     hasher,
		ledger:     ledger.NewStore(b.redis, cfg.Ledger.RedisPrefix, cfg.Ledger.Retention),
		tickets:    qrlogin.NewStore(b.redis, cfg.QR.RedisPrefix, cfg.QR.Retention),
		users:      b.users,
		audit:      newAuditDispatcher(cfg.Audit, b.auditSink),
		metrics:    newMetrics(),
	}

	b.built = true

	return engine, nil
}

func signingMethod(method string) jwt.SigningMethod {
	if method == "ed25519" {
		return jwt.MethodEd25519
	}
	return jwt.MethodHS256
}
