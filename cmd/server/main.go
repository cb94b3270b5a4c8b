// Package main runs the unified quote service:
// - quote/baseinfo/tick aggregation with provider fallback
// - large-order classification
// - crawler account and session management
// - periodic cleanup sweeps, prometheus endpoint
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"stock-order-flow/internal/aggregate"
	"stock-order-flow/internal/cache"
	"stock-order-flow/internal/captcha"
	"stock-order-flow/internal/classify"
	"stock-order-flow/internal/config"
	"stock-order-flow/internal/domain"
	"stock-order-flow/internal/fingerprint"
	"stock-order-flow/internal/logging"
	"stock-order-flow/internal/observability"
	"stock-order-flow/internal/phonepool"
	"stock-order-flow/internal/provider"
	"stock-order-flow/internal/proxy"
	"stock-order-flow/internal/session"
	"stock-order-flow/internal/storage"
	chstore "stock-order-flow/internal/storage/clickhouse"
	"stock-order-flow/internal/storage/memory"
	"stock-order-flow/internal/storage/migrations"
	pgstore "stock-order-flow/internal/storage/postgres"
)

// cst is the exchange timezone; tick timestamps and trading-day bounds
// are interpreted in it.
var cst = time.FixedZone("CST", 8*3600)

// Server wires every component behind the HTTP surface.
type Server struct {
	cfg        *config.Config
	log        *zap.Logger
	agg        *aggregate.Aggregator
	manager    *session.Manager
	phones     *phonepool.Pool
	proxies    *proxy.Rotator
	captchas   *captcha.Chain
	sessions   storage.SessionStore
	tickStore  storage.TickArchive
	orderStore storage.LargeOrderStore
	thresholds []domain.TierThreshold
	started    time.Time
}

func main() {
	configPath := flag.String("config", ".", "Directory containing config.yaml")
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

	srv, cleanup, err := buildServer(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("build server", zap.Error(err))
	}
	defer cleanup()

	httpSrv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go srv.runCleanupLoop(ctx)
	go srv.runTickStream(ctx)
	go func() {
		<-ctx.Done()
		shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", zap.Error(err))
		}
	}()

	logger.Info("server listening", zap.String("addr", cfg.Server.Addr))
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("http server", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func buildServer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Server, func(), error) {
	thresholds, err := tierThresholds(cfg.Classify.Tiers)
	if err != nil {
		return nil, nil, err
	}

	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	// Persistence. Empty DSNs fall back to in-memory stores.
	var (
		accountStore storage.AccountStore
		sessionStore storage.SessionStore
	)
	if cfg.Storage.PostgresDSN != "" {
		pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		cleanups = append(cleanups, pool.Close)
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("postgres migrations: %w", err)
		}
		accountStore = pgstore.NewAccountStore(pool)
		sessionStore = pgstore.NewSessionStore(pool)
	} else {
		logger.Warn("no postgres dsn, accounts and sessions are in-memory")
		accountStore = memory.NewAccountStore()
		sessionStore = memory.NewSessionStore()
	}

	var (
		tickStore  storage.TickArchive
		orderStore storage.LargeOrderStore
	)
	if cfg.Storage.ClickhouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.Storage.ClickhouseDSN)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
		}
		cleanups = append(cleanups, func() { conn.Close() })
		tickStore = chstore.NewTickStore(conn)
		orderStore = chstore.NewLargeOrderStore(conn)
	} else {
		logger.Warn("no clickhouse dsn, tick archive is in-memory")
		tickStore = memory.NewTickArchive()
		orderStore = memory.NewLargeOrderStore()
	}

	// Quote cache.
	var quoteCache cache.Cache
	if cfg.Cache.RedisURL != "" {
		redis, err := cache.NewRedis(ctx, cfg.Cache.RedisURL, cfg.Cache.Prefix)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("connect to redis: %w", err)
		}
		cleanups = append(cleanups, func() { redis.Close() })
		quoteCache = redis
	} else {
		quoteCache = cache.NewMemory()
	}

	// Crawler subsystem.
	phones := phonepool.New(cfg.Pools.PhoneMaxUsage, logger.Named("phonepool"))
	for _, number := range cfg.Pools.Phones {
		if err := phones.Add(number, domain.PhoneSourceManual); err != nil {
			logger.Warn("skipping phone from config", zap.String("number", number), zap.Error(err))
		}
	}
	proxies := proxy.New(cfg.Pools.Proxies, cfg.Pools.ProxyHealthFloor, logger.Named("proxy"))

	seed := cfg.Pools.FingerprintSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	prints := fingerprint.New(seed)

	chain := captcha.NewChain(logger.Named("captcha"))
	for _, sc := range cfg.Captcha {
		solver, err := buildSolver(sc)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		chain.Use(solver, sc.Timeout, sc.MinConfidence)
	}

	var gateway session.Gateway
	if cfg.Providers.MemberAPIBaseURL != "" {
		gateway = session.NewHTTPGateway(cfg.Providers.MemberAPIBaseURL)
	} else {
		logger.Warn("no member api base url, crawler gateway runs in stub mode")
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
		Proxies:  proxies,
		Prints:   prints,
		Captchas: chain,
		Logger:   logger.Named("session"),
	})

	agg, err := buildAggregator(cfg, manager, quoteCache, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	return &Server{
		cfg:        cfg,
		log:        logger,
		agg:        agg,
		manager:    manager,
		phones:     phones,
		proxies:    proxies,
		captchas:   chain,
		sessions:   sessionStore,
		tickStore:  tickStore,
		orderStore: orderStore,
		thresholds: thresholds,
		started:    time.Now(),
	}, cleanup, nil
}

func buildSolver(sc config.CaptchaStrategyConfig) (captcha.Solver, error) {
	switch sc.Name {
	case "ocr":
		return captcha.NewOCRSolver(sc.Name, sc.Endpoint, nil), nil
	case "relay":
		poll := sc.PollInterval
		if poll <= 0 {
			poll = 2 * time.Second
		}
		return captcha.NewRelaySolver(sc.Endpoint, sc.APIKey, poll, nil), nil
	default:
		return nil, fmt.Errorf("unknown captcha strategy %q", sc.Name)
	}
}

// buildAggregator assembles the per-kind fallback chains from the
// configured priority order. Providers contribute only the kinds they
// actually serve.
func buildAggregator(cfg *config.Config, manager *session.Manager, quoteCache cache.Cache, logger *zap.Logger) (*aggregate.Aggregator, error) {
	p := cfg.Providers
	var (
		quotes     []provider.QuoteSource
		baseInfos  []provider.BaseInfoSource
		ticks      []provider.TickSource
		timeshares []provider.TimeshareSource
	)
	for _, name := range p.Priority {
		switch name {
		case "sina":
			quotes = append(quotes, provider.NewSina(p.SinaBaseURL))
		case "tencent":
			t := provider.NewTencent(p.TencentBaseURL)
			quotes = append(quotes, t)
			baseInfos = append(baseInfos, t)
		case "eastmoney":
			e := provider.NewEastmoney(p.EastmoneyBaseURL, p.EastmoneyHistURL)
			ticks = append(ticks, e)
			timeshares = append(timeshares, e)
		case "member":
			if p.MemberAPIBaseURL == "" {
				return nil, fmt.Errorf("provider %q requires member_api_base_url", name)
			}
			revoke := func(sessionID string) {
				if err := manager.Revoke(context.Background(), sessionID); err != nil {
					logger.Warn("revoke after auth rejection", zap.String("session_id", sessionID), zap.Error(err))
				}
			}
			ticks = append(ticks, provider.NewMember(p.MemberAPIBaseURL, manager, revoke))
		default:
			return nil, fmt.Errorf("unknown provider %q in priority list", name)
		}
	}
	if len(quotes) == 0 {
		return nil, errors.New("no quote provider configured")
	}

	opts := []aggregate.Option{
		aggregate.WithQuoteSources(quotes...),
		aggregate.WithBaseInfoSources(baseInfos...),
		aggregate.WithTickSources(ticks...),
		aggregate.WithTimeshareSources(timeshares...),
		aggregate.WithDefaultTimeout(p.DefaultTimeout),
		aggregate.WithCache(quoteCache, p.QuoteTTL),
		aggregate.WithLogger(logger.Named("aggregate")),
	}
	for name, d := range p.Timeouts {
		opts = append(opts, aggregate.WithProviderTimeout(name, d))
	}
	return aggregate.New(opts...), nil
}

func tierThresholds(tiers []config.TierConfig) ([]domain.TierThreshold, error) {
	if len(tiers) == 0 {
		return domain.DefaultTierThresholds(), nil
	}
	out := make([]domain.TierThreshold, 0, len(tiers))
	for _, tc := range tiers {
		out = append(out, domain.TierThreshold{
			Tier:      domain.Tier(tc.Name),
			MinAmount: decimal.NewFromFloat(tc.MinAmount),
		})
	}
	if err := domain.ValidateTierThresholds(out); err != nil {
		return nil, fmt.Errorf("classify.tiers: %w", err)
	}
	return out, nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/quote", s.handleQuote)
	mux.HandleFunc("GET /api/v1/baseinfo", s.handleBaseInfo)
	mux.HandleFunc("GET /api/v1/ticks", s.handleTicks)
	mux.HandleFunc("GET /api/v1/timeshare", s.handleTimeshare)
	mux.HandleFunc("POST /api/v1/classify", s.handleClassify)

	mux.HandleFunc("POST /crawler/register", s.handleRegister)
	mux.HandleFunc("POST /crawler/login", s.handleLogin)
	mux.HandleFunc("GET /crawler/sessions", s.handleSessionList)
	mux.HandleFunc("GET /crawler/sessions/{id}", s.handleSessionGet)
	mux.HandleFunc("DELETE /crawler/sessions/{id}", s.handleSessionRevoke)
	mux.HandleFunc("GET /crawler/phones", s.handlePhoneSnapshot)
	mux.HandleFunc("POST /crawler/phones", s.handlePhoneAdd)
	mux.HandleFunc("POST /crawler/captcha/solve", s.handleCaptchaSolve)
	mux.HandleFunc("POST /crawler/cleanup", s.handleCleanup)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "ok",
			"uptime": time.Since(s.started).String(),
		})
	})
	mux.Handle("GET /metrics", observability.Handler())

	return mux
}

func (s *Server) runCleanupLoop(ctx context.Context) {
	interval := s.cfg.Server.CleanupInterval
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
			if _, err := s.manager.Cleanup(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.log.Warn("cleanup sweep failed", zap.Error(err))
			}
		}
	}
}

// runTickStream archives watched symbols from the websocket feed.
func (s *Server) runTickStream(ctx context.Context) {
	endpoint := s.cfg.Providers.TickStreamEndpoint
	symbols := s.cfg.Providers.WatchSymbols
	if endpoint == "" || len(symbols) == 0 {
		return
	}

	stream, err := provider.NewTickStream(ctx, endpoint, nil, s.log.Named("stream"))
	if err != nil {
		s.log.Error("tick stream connect failed", zap.String("endpoint", endpoint), zap.Error(err))
		return
	}
	defer stream.Close()

	var wg sync.WaitGroup
	for _, symbol := range symbols {
		ch, err := stream.Subscribe(ctx, symbol)
		if err != nil {
			s.log.Error("subscribe failed", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		wg.Add(1)
		go func(symbol string, ch <-chan domain.Tick) {
			defer wg.Done()
			s.archiveStream(ctx, symbol, ch)
		}(symbol, ch)
	}
	wg.Wait()
}

// archiveStream batches streamed ticks into the archive. Flushes on a
// short interval so a quiet symbol never holds ticks back for long.
func (s *Server) archiveStream(ctx context.Context, symbol string, ch <-chan domain.Tick) {
	const batchSize = 256
	batch := make([]domain.Tick, 0, batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := s.tickStore.InsertBulk(context.WithoutCancel(ctx), batch); err != nil {
			s.log.Error("archive stream batch", zap.String("symbol", symbol), zap.Int("ticks", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case tick, ok := <-ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, tick)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// ---- quote endpoints ----

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	quote, trace, err := s.agg.FetchQuote(r.Context(), symbol)
	if err != nil {
		writeFetchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"quote": quote, "trace": trace})
}

func (s *Server) handleBaseInfo(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	info, trace, err := s.agg.FetchBaseInfo(r.Context(), symbol)
	if err != nil {
		writeFetchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"baseinfo": info, "trace": trace})
}

func (s *Server) handleTimeshare(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	date := r.URL.Query().Get("date")
	if date == "" {
		date = time.Now().In(cst).Format("2006-01-02")
	}
	bars, trace, err := s.agg.FetchTimeshare(r.Context(), symbol, date)
	if err != nil {
		writeFetchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"symbol": symbol, "date": date, "bars": bars, "trace": trace})
}

// handleTicks fetches the day's ticks, classifies them and archives
// both sides. from/to are unix millis; they default to the current
// trading day.
func (s *Server) handleTicks(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	from, to, err := parseTimeRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ticks, trace, err := s.agg.FetchTicks(r.Context(), symbol, from, to)
	if err != nil {
		writeFetchError(w, err)
		return
	}

	// Previous close seeds direction inference; classification still
	// works without it.
	prevClose := decimal.Zero
	if quote, _, err := s.agg.FetchQuote(r.Context(), symbol); err == nil {
		prevClose = quote.PrevClose
	}

	start := time.Now()
	result, err := classify.Classify(ticks, s.thresholds, prevClose)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	observability.RecordClassification(len(ticks), result.Malformed, time.Since(start).Seconds())
	for _, o := range result.Orders {
		observability.RecordLargeOrder(string(o.Tier), string(o.Tick.Side))
	}

	go s.archiveClassified(context.WithoutCancel(r.Context()), symbol, ticks, result.Orders)

	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":    symbol,
		"from":      from,
		"to":        to,
		"ticks":     len(ticks),
		"malformed": result.Malformed,
		"orders":    result.Orders,
		"stats":     result.Stats,
		"trace":     trace,
	})
}

func (s *Server) archiveClassified(ctx context.Context, symbol string, ticks []domain.Tick, orders []domain.LargeOrder) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := s.tickStore.InsertBulk(ctx, ticks); err != nil {
		s.log.Error("archive ticks", zap.String("symbol", symbol), zap.Error(err))
	}
	if err := s.orderStore.InsertBulk(ctx, orders); err != nil {
		s.log.Error("archive orders", zap.String("symbol", symbol), zap.Error(err))
	}
}

func parseTimeRange(r *http.Request) (int64, int64, error) {
	now := time.Now().In(cst)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, cst)
	from, to := dayStart.UnixMilli(), now.UnixMilli()

	if v := r.URL.Query().Get("from"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("bad from %q", v)
		}
		from = ms
	}
	if v := r.URL.Query().Get("to"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("bad to %q", v)
		}
		to = ms
	}
	if to < from {
		return 0, 0, fmt.Errorf("to %d before from %d", to, from)
	}
	return from, to, nil
}

// classifyRequest is the POST /api/v1/classify body: a raw tick dump
// classified without touching any provider.
type classifyRequest struct {
	Symbol    string         `json:"symbol"`
	PrevClose string         `json:"prev_close"`
	Ticks     []classifyTick `json:"ticks"`
}

type classifyTick struct {
	Seq    int64  `json:"seq"`
	Time   int64  `json:"time"`
	Price  string `json:"price"`
	Volume int64  `json:"volume"`
	Side   string `json:"side"`
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json: "+err.Error())
		return
	}
	if len(req.Ticks) == 0 {
		writeError(w, http.StatusBadRequest, "ticks are required")
		return
	}

	prevClose := decimal.Zero
	if req.PrevClose != "" {
		var err error
		if prevClose, err = decimal.NewFromString(req.PrevClose); err != nil {
			writeError(w, http.StatusBadRequest, "bad prev_close: "+err.Error())
			return
		}
	}

	ticks := make([]domain.Tick, 0, len(req.Ticks))
	for i, in := range req.Ticks {
		price, err := decimal.NewFromString(in.Price)
		if err != nil {
			// Malformed input ticks are counted, not rejected.
			price = decimal.Zero
		}
		seq := in.Seq
		if seq == 0 {
			seq = int64(i + 1)
		}
		ticks = append(ticks, domain.NewTick(seq, req.Symbol, in.Time, price, in.Volume, domain.Side(in.Side), "upload"))
	}

	start := time.Now()
	result, err := classify.Classify(ticks, s.thresholds, prevClose)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	observability.RecordClassification(len(ticks), result.Malformed, time.Since(start).Seconds())

	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":    req.Symbol,
		"ticks":     len(ticks),
		"malformed": result.Malformed,
		"orders":    result.Orders,
		"stats":     result.Stats,
	})
}

// ---- crawler endpoints ----

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
}

// sessionView is the external session shape; tokens never leave the
// process in full.
type sessionView struct {
	ID           string `json:"id"`
	AccountRef   string `json:"account_ref"`
	Token        string `json:"token"`
	Proxy        string `json:"proxy,omitempty"`
	CreatedAt    int64  `json:"created_at"`
	ExpiresAt    int64  `json:"expires_at"`
	State        string `json:"state"`
	RequestCount int64  `json:"request_count"`
}

func viewOf(s domain.Session) sessionView {
	return sessionView{
		ID:           s.ID,
		AccountRef:   s.AccountRef,
		Token:        maskToken(s.Token),
		Proxy:        s.Proxy,
		CreatedAt:    s.CreatedAt,
		ExpiresAt:    s.ExpiresAt,
		State:        string(s.State),
		RequestCount: s.RequestCount,
	}
}

func maskToken(token string) string {
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + "****" + token[len(token)-4:]
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json: "+err.Error())
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}
	sess, err := s.manager.Register(r.Context(), session.Credentials{
		Username: req.Username,
		Password: req.Password,
		Email:    req.Email,
	})
	if err != nil {
		writeCrawlerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"session": viewOf(sess)})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json: "+err.Error())
		return
	}
	if req.Username == "" {
		writeError(w, http.StatusBadRequest, "username is required")
		return
	}
	sess, err := s.manager.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeCrawlerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": viewOf(sess)})
}

func (s *Server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	views := make([]sessionView, 0)
	for _, state := range []domain.SessionState{domain.SessionActive, domain.SessionExpired, domain.SessionRevoked} {
		list, err := s.sessions.ListByState(r.Context(), state)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		for _, sess := range list {
			views = append(views, viewOf(*sess))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": views})
}

func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown session")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": viewOf(*sess)})
}

func (s *Server) handleSessionRevoke(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Revoke(r.Context(), r.PathValue("id")); err != nil {
		if errors.Is(err, session.ErrUnknownSession) {
			writeError(w, http.StatusNotFound, "unknown session")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (s *Server) handlePhoneSnapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"phones": s.phones.Snapshot()})
}

type phoneAddRequest struct {
	Numbers []string `json:"numbers"`
	Source  string   `json:"source"`
}

func (s *Server) handlePhoneAdd(w http.ResponseWriter, r *http.Request) {
	var req phoneAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json: "+err.Error())
		return
	}
	source := domain.PhoneSource(req.Source)
	if source == "" {
		source = domain.PhoneSourceManual
	}

	added := 0
	rejected := make(map[string]string)
	for _, number := range req.Numbers {
		if err := s.phones.Add(number, source); err != nil {
			rejected[number] = err.Error()
			continue
		}
		added++
	}
	status := http.StatusOK
	if added == 0 && len(rejected) > 0 {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]any{"added": added, "rejected": rejected})
}

type captchaSolveRequest struct {
	Kind    string `json:"kind"`
	Payload string `json:"payload"` // base64 image bytes, or the phone number for sms
}

func (s *Server) handleCaptchaSolve(w http.ResponseWriter, r *http.Request) {
	var req captchaSolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json: "+err.Error())
		return
	}

	var payload []byte
	var kind captcha.Kind
	switch captcha.Kind(req.Kind) {
	case captcha.KindImage:
		kind = captcha.KindImage
		decoded, err := base64.StdEncoding.DecodeString(req.Payload)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad payload: "+err.Error())
			return
		}
		payload = decoded
	case captcha.KindSMS:
		kind = captcha.KindSMS
		payload = []byte(req.Payload)
	default:
		writeError(w, http.StatusBadRequest, "kind must be image or sms")
		return
	}

	sol, err := s.captchas.Solve(r.Context(), payload, kind)
	if err != nil {
		var unsolved *captcha.UnsolvedError
		if errors.As(err, &unsolved) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":    "unsolved",
				"attempts": unsolved.Attempts,
			})
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"solution": sol})
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	report, err := s.manager.Cleanup(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ---- response helpers ----

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers are gone; nothing left to do but log to stderr.
		fmt.Fprintf(os.Stderr, "encode response: %v\n", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeFetchError maps aggregation failures: exhausted fallback chains
// are a gateway problem, cancelled requests are the client's.
func writeFetchError(w http.ResponseWriter, err error) {
	var exhausted *aggregate.NoSourceAvailableError
	switch {
	case errors.As(err, &exhausted):
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":    exhausted.Error(),
			"attempts": exhausted.Attempts,
		})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeCrawlerError(w http.ResponseWriter, err error) {
	var authErr *session.AuthError
	var unsolved *captcha.UnsolvedError
	switch {
	case errors.As(err, &authErr):
		writeError(w, http.StatusUnauthorized, authErr.Error())
	case errors.As(err, &unsolved):
		writeError(w, http.StatusUnprocessableEntity, unsolved.Error())
	case errors.Is(err, storage.ErrDuplicateKey):
		writeError(w, http.StatusConflict, "username already registered")
	case errors.Is(err, phonepool.ErrEmptyPool):
		writeError(w, http.StatusServiceUnavailable, "no phone number available")
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusRequestTimeout, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
