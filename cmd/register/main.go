// Package main registers a batch of crawler accounts against the
// member API, consuming phone numbers from the configured pool.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"stock-order-flow/internal/captcha"
	"stock-order-flow/internal/config"
	"stock-order-flow/internal/domain"
	"stock-order-flow/internal/fingerprint"
	"stock-order-flow/internal/logging"
	"stock-order-flow/internal/phonepool"
	"stock-order-flow/internal/proxy"
	"stock-order-flow/internal/session"
	"stock-order-flow/internal/storage"
	"stock-order-flow/internal/storage/memory"
	"stock-order-flow/internal/storage/migrations"
	pgstore "stock-order-flow/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", ".", "Directory containing config.yaml")
	count := flag.Int("count", 1, "How many accounts to register")
	prefix := flag.String("prefix", "crawler", "Username prefix")
	emailDomain := flag.String("email-domain", "example.com", "Email domain for generated accounts")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	manager, cleanup, err := buildManager(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("build manager", zap.Error(err))
	}
	defer cleanup()

	registered := 0
	for i := 0; i < *count; i++ {
		if ctx.Err() != nil {
			break
		}
		username := fmt.Sprintf("%s_%s", *prefix, randomSuffix())
		creds := session.Credentials{
			Username: username,
			Password: randomSuffix() + randomSuffix(),
			Email:    username + "@" + *emailDomain,
		}

		sess, err := manager.Register(ctx, creds)
		if err != nil {
			logger.Error("registration failed", zap.String("username", username), zap.Error(err))
			continue
		}
		registered++
		logger.Info("account registered",
			zap.String("username", username),
			zap.String("account_id", sess.AccountRef),
			zap.String("session_id", sess.ID),
			zap.Int64("expires_at", sess.ExpiresAt),
		)
	}

	logger.Info("batch done", zap.Int("requested", *count), zap.Int("registered", registered))
	if registered < *count {
		logger.Warn("some registrations failed", zap.Int("failed", *count-registered))
	}
}

func buildManager(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*session.Manager, func(), error) {
	var (
		accountStore storage.AccountStore
		sessionStore storage.SessionStore
		cleanup      = func() {}
	)
	if cfg.Storage.PostgresDSN != "" {
		pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("postgres migrations: %w", err)
		}
		accountStore = pgstore.NewAccountStore(pool)
		sessionStore = pgstore.NewSessionStore(pool)
		cleanup = pool.Close
	} else {
		logger.Warn("no postgres dsn, registered accounts will not survive the process")
		accountStore = memory.NewAccountStore()
		sessionStore = memory.NewSessionStore()
	}

	phones := phonepool.New(cfg.Pools.PhoneMaxUsage, logger.Named("phonepool"))
	for _, number := range cfg.Pools.Phones {
		if err := phones.Add(number, domain.PhoneSourceManual); err != nil {
			logger.Warn("skipping phone from config", zap.String("number", number), zap.Error(err))
		}
	}

	seed := cfg.Pools.FingerprintSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	chain := captcha.NewChain(logger.Named("captcha"))
	for _, sc := range cfg.Captcha {
		switch sc.Name {
		case "ocr":
			chain.Use(captcha.NewOCRSolver(sc.Name, sc.Endpoint, nil), sc.Timeout, sc.MinConfidence)
		case "relay":
			poll := sc.PollInterval
			if poll <= 0 {
				poll = 2 * time.Second
			}
			chain.Use(captcha.NewRelaySolver(sc.Endpoint, sc.APIKey, poll, nil), sc.Timeout, sc.MinConfidence)
		default:
			cleanup()
			return nil, nil, fmt.Errorf("unknown captcha strategy %q", sc.Name)
		}
	}

	var gateway session.Gateway
	if cfg.Providers.MemberAPIBaseURL != "" {
		gateway = session.NewHTTPGateway(cfg.Providers.MemberAPIBaseURL)
	} else {
		logger.Warn("no member api base url, running against the stub gateway")
		gateway = &session.StubGateway{}
	}

	manager := session.New(session.Config{
		TokenTTL:       cfg.Session.TokenTTL,
		AttemptCap:     cfg.Session.AttemptCap,
		BackoffInitial: cfg.Session.BackoffInitial,
		BackoffMax:     cfg.Session.BackoffMax,
	}, session.Deps{
		Gateway:  gateway,
		Sessions: sessionStore,
		Accounts: accountStore,
		Phones:   phones,
		Proxies:  proxy.New(cfg.Pools.Proxies, cfg.Pools.ProxyHealthFloor, logger.Named("proxy")),
		Prints:   fingerprint.New(seed),
		Captchas: chain,
		Logger:   logger.Named("session"),
	})
	return manager, cleanup, nil
}

func randomSuffix() string {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("%08x", time.Now().UnixNano()&0xffffffff)
	}
	return hex.EncodeToString(b[:])
}
