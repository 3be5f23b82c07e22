// Command rotord runs the rotation engine behind its HTTP API.
//
// Configuration is environment driven (a .env file is loaded if present):
//
//	ADDR                listen address (default :8080)
//	REDIS_ADDR          redis address; empty starts an embedded miniredis
//	DATABASE_DSN        postgres DSN for the credential store; empty uses redis
//	JWT_SECRET          hs256 signing secret (>= 32 bytes)
//	JWT_ISSUER          token issuer (default rotor)
//	ACCESS_TOKEN_TTL    e.g. 15m
//	REFRESH_TOKEN_TTL   e.g. 168h
//	QR_TICKET_TTL       e.g. 5m
//	SWEEP_INTERVAL      index sweep cadence (default 10m)
//	SEED_DEMO_USER      "true" registers demo/demo@example.com on boot
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/fieldcipher/rotor"
	"github.com/fieldcipher/rotor/httpapi"
	"github.com/fieldcipher/rotor/userstore"
)

func main() {
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer logger.Sync()

	client, cleanup, err := openRedis(logger)
	if err != nil {
		logger.Fatal("redis unavailable", zap.Error(err))
	}
	defer cleanup()

	users, err := openCredentialStore(client, logger)
	if err != nil {
		logger.Fatal("credential store init failed", zap.Error(err))
	}

	cfg := buildConfig(logger)

	engine, err := rotor.New().
		WithConfig(cfg).
		WithRedis(client).
		WithCredentialStore(users).
		WithAuditSink(rotor.NewJSONWriterSink(os.Stdout)).
		Build()
	if err != nil {
		logger.Fatal("engine build failed", zap.Error(err))
	}
	defer engine.Close()

	if envBool("SEED_DEMO_USER", false) {
		seedDemoUser(engine, logger)
	}

	srvCfg := httpapi.DefaultConfig()
	srvCfg.Addr = envString("ADDR", srvCfg.Addr)
	if origins := envString("ALLOWED_ORIGINS", ""); origins != "" {
		srvCfg.AllowedOrigins = strings.Split(origins, ",")
	}
	server := httpapi.NewServer(engine, logger, srvCfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go runSweeper(ctx, engine, envDuration("SWEEP_INTERVAL", 10*time.Minute, logger), logger)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Run() }()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", zap.Error(err))
	}
}

func buildConfig(logger *zap.Logger) rotor.Config {
	cfg := rotor.DefaultConfig()

	secret := envString("JWT_SECRET", "")
	if secret == "" {
		// Development fallback only. Tokens do not survive restarts.
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			logger.Fatal("entropy unavailable", zap.Error(err))
		}
		secret = hex.EncodeToString(buf)
		logger.Warn("JWT_SECRET not set, generated an ephemeral secret")
	}
	cfg.JWT.Secret = []byte(secret)
	cfg.JWT.Issuer = envString("JWT_ISSUER", cfg.JWT.Issuer)
	cfg.JWT.AccessTTL = envDuration("ACCESS_TOKEN_TTL", cfg.JWT.AccessTTL, logger)
	cfg.JWT.RefreshTTL = envDuration("REFRESH_TOKEN_TTL", cfg.JWT.RefreshTTL, logger)
	cfg.QR.TicketTTL = envDuration("QR_TICKET_TTL", cfg.QR.TicketTTL, logger)

	return cfg
}

func openRedis(logger *zap.Logger) (redis.UniversalClient, func(), error) {
	addr := envString("REDIS_ADDR", "")
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, err
		}
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		logger.Warn("REDIS_ADDR not set, using embedded miniredis", zap.String("addr", mr.Addr()))
		return client, func() {
			_ = client.Close()
			mr.Close()
		}, nil
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    strings.Split(addr, ","),
		Password: envString("REDIS_PASSWORD", ""),
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	logger.Info("connected to redis", zap.String("addr", addr))
	return client, func() { _ = client.Close() }, nil
}

func openCredentialStore(client redis.UniversalClient, logger *zap.Logger) (rotor.CredentialStore, error) {
	dsn := envString("DATABASE_DSN", "")
	if dsn == "" {
		logger.Info("using redis credential store")
		return userstore.NewRedisStore(client, envString("USER_PREFIX", "rotor:users")), nil
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	logger.Info("using postgres credential store")
	return userstore.NewGormStore(db)
}

func seedDemoUser(engine *rotor.Engine, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	user, err := engine.Register(ctx, "demo", "demo@example.com", "demo-password")
	switch {
	case err == nil:
		logger.Info("seeded demo user", zap.String("user_id", user.UserID))
	case errors.Is(err, rotor.ErrUserExists):
		// Already seeded on a previous boot.
	default:
		logger.Warn("demo user seeding failed", zap.Error(err))
	}
}

// runSweeper periodically prunes index entries whose rows have hit their
// Redis TTL. Rows themselves expire on their own.
func runSweeper(ctx context.Context, engine *rotor.Engine, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := engine.Sweep(ctx)
			if err != nil {
				logger.Warn("index sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("index sweep", zap.Int("pruned", n))
			}
		}
	}
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	switch strings.ToLower(envString(key, "")) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func envDuration(key string, fallback time.Duration, logger *zap.Logger) time.Duration {
	raw := envString(key, "")
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		logger.Warn("invalid duration, using default",
			zap.String("key", key), zap.String("value", raw))
		return fallback
	}
	return d
}
