package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	mghttp "github.com/Strob0t/MailGuard/internal/adapter/http"
	"github.com/Strob0t/MailGuard/internal/adapter/httpsource"
	"github.com/Strob0t/MailGuard/internal/adapter/litellm"
	"github.com/Strob0t/MailGuard/internal/adapter/memory"
	mgnats "github.com/Strob0t/MailGuard/internal/adapter/nats"
	"github.com/Strob0t/MailGuard/internal/adapter/natskv"
	mgotel "github.com/Strob0t/MailGuard/internal/adapter/otel"
	"github.com/Strob0t/MailGuard/internal/adapter/postgres"
	"github.com/Strob0t/MailGuard/internal/adapter/ristretto"
	"github.com/Strob0t/MailGuard/internal/adapter/tiered"
	"github.com/Strob0t/MailGuard/internal/adapter/ws"
	"github.com/Strob0t/MailGuard/internal/config"
	"github.com/Strob0t/MailGuard/internal/logger"
	"github.com/Strob0t/MailGuard/internal/middleware"
	"github.com/Strob0t/MailGuard/internal/port/cache"
	"github.com/Strob0t/MailGuard/internal/port/database"
	"github.com/Strob0t/MailGuard/internal/port/narrator"
	"github.com/Strob0t/MailGuard/internal/port/notifier"
	"github.com/Strob0t/MailGuard/internal/port/signalsource"
	"github.com/Strob0t/MailGuard/internal/resilience"
	"github.com/Strob0t/MailGuard/internal/secrets"
	"github.com/Strob0t/MailGuard/internal/service"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	// idempotencyTTL is how long a replayed POST response is kept.
	idempotencyTTL = 24 * time.Hour
	// l1Expire bounds how long a verdict lives in the in-process cache.
	l1Expire = 10 * time.Minute
	// policyDebounce coalesces bursts of policy file writes.
	policyDebounce = 500 * time.Millisecond
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			slog.Error("admin", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := run(os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags, err := config.ParseFlags(args)
	if err != nil {
		return err
	}
	cfg, cfgPath, err := config.LoadWithCLI(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	holder := config.NewHolder(cfg, cfgPath).WithCLI(flags)

	log, closeLog := logger.New(cfg.Logging)
	defer closeLog.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"version", version,
		"port", cfg.Server.Port,
		"policy", cfg.Policy.Name,
		"sources", len(cfg.Sources),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Telemetry ---

	shutdownOTEL, err := mgotel.Setup(ctx, cfg.OTEL, cfg.Logging.Service, version)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTEL(sctx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()
	metrics, err := mgotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}

	// --- Infrastructure ---

	store, pool, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
	}

	queue, err := mgnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Close() }()

	verdictCache, closeCache, err := openCache(ctx, cfg, queue)
	if err != nil {
		return err
	}
	defer closeCache()

	// --- Services ---

	hub := ws.NewHub(originPatterns(cfg.Server.CORSOrigin))
	defer hub.Close()

	policies, err := service.NewPolicyService(cfg)
	if err != nil {
		return fmt.Errorf("policy: %w", err)
	}

	auditor := service.NewAuditRecorder(store, queue, metrics, cfg.Audit.QueueSize, cfg.Audit.Workers)
	defer auditor.Close()

	notifications := service.NewNotificationService(buildNotifiers(cfg.Notifiers), nil)

	gate := service.NewApprovalGate(store, queue, hub, auditor)
	gate.SetNotifications(notifications)
	gate.SetMetrics(metrics)

	dispatcher := service.NewDispatcher(
		mgnats.NewExecutor(queue, newBreaker(cfg.Breaker, "executor", metrics)), gate)
	gate.SetOnApproved(dispatcher.DispatchApproved)

	llm := buildLLM(cfg, metrics)
	var narr narrator.Narrator
	if llm != nil {
		narr = llm
	}

	coord := service.NewCoordinator(store, policies,
		service.NewCollector(cfg.Coordination.MaxParallel, metrics),
		service.NewExplainer(narr, metrics),
		gate, auditor, queue, hub)
	coord.SetCache(verdictCache)
	coord.SetMetrics(metrics)
	coord.SetDispatcher(dispatcher)
	coord.SetSources(buildSources(cfg, queue, metrics))

	// --- Background workers ---

	cancelIntake, err := service.NewIntake(coord, queue).Start(ctx)
	if err != nil {
		return fmt.Errorf("intake: %w", err)
	}
	defer cancelIntake()

	go gate.RunSweeper(ctx, cfg.Approval.SweepInterval)

	reviewers, err := secrets.NewVault(reviewerTokens(holder))
	if err != nil {
		return fmt.Errorf("reviewer tokens: %w", err)
	}
	if reviewers.Len() == 0 {
		slog.Warn("no reviewer tokens configured, approval routes are unauthenticated")
	}

	reload := func() error {
		if err := holder.Reload(); err != nil {
			return err
		}
		next := holder.Get()
		if _, err := policies.Rebuild(next); err != nil {
			return err
		}
		coord.SetSources(buildSources(next, queue, metrics))
		return reviewers.Reload()
	}
	if cfg.Policy.Watch && cfg.Policy.Dir != "" {
		watcher, err := service.NewPolicyWatcher(cfg.Policy.Dir, reload, policyDebounce)
		if err != nil {
			return fmt.Errorf("policy watcher: %w", err)
		}
		watcher.Start(ctx)
		defer watcher.Stop()
	}
	go reloadOnHangup(ctx, reload)

	limiter := middleware.NewRateLimiter(cfg.Server.Rate.RequestsPerSecond, cfg.Server.Rate.Burst)
	limiter.StartCleanup(ctx, time.Minute, cfg.Server.Rate.MaxIdleTime)

	// --- HTTP ---

	reviewerAuth := middleware.ReviewerFunc(reviewers.Tokens)

	r := chi.NewRouter()
	r.Use(mgotel.HTTPMiddleware(cfg.Logging.Service))
	r.Use(mghttp.CORS(cfg.Server.CORSOrigin))
	r.Use(mghttp.SecurityHeaders)
	r.Use(middleware.RequestID)
	r.Use(mghttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/health", healthHandler(pool, queue, llm, hub))
	r.With(reviewerAuth).Get("/ws", hub.HandleWS)

	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(30 * time.Second))
		r.Use(limiter.Handler)
		r.Use(middleware.Idempotency(verdictCache, idempotencyTTL))
		mghttp.MountRoutes(r, &mghttp.Handlers{
			Coordinator: coord,
			Approvals:   gate,
			Policies:    policies,
		}, reviewerAuth)
	})

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		return fmt.Errorf("http server: %w", err)
	}
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	cancelIntake()
	if err := queue.Drain(); err != nil {
		slog.Warn("nats drain", "error", err)
	}
	return nil
}

// openStore connects to PostgreSQL and applies migrations. An empty DSN
// selects the in-memory store.
func openStore(ctx context.Context, cfg *config.Config) (database.Store, *pgxpool.Pool, error) {
	if cfg.Postgres.DSN == "" {
		slog.Warn("postgres dsn empty, using in-memory store")
		return memory.NewStore(), nil, nil
	}
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: %w", err)
	}
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")
	return postgres.NewStore(pool), pool, nil
}

// openCache builds the verdict cache: ristretto in front of a NATS KV
// bucket. Without a bucket the cache is process-local.
func openCache(ctx context.Context, cfg *config.Config, queue *mgnats.Queue) (cache.Cache, func(), error) {
	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB)
	if err != nil {
		return nil, nil, fmt.Errorf("cache l1: %w", err)
	}
	if cfg.NATS.KVBucket == "" {
		return l1, l1.Close, nil
	}
	l2, err := natskv.Open(ctx, queue.JetStream(), cfg.NATS.KVBucket, cfg.Cache.L2TTL)
	if err != nil {
		l1.Close()
		return nil, nil, fmt.Errorf("cache l2: %w", err)
	}
	return tiered.New(l1, l2, l1Expire), l1.Close, nil
}

// buildSources creates one signal source per configured entry, each behind
// its own circuit breaker.
func buildSources(cfg *config.Config, queue *mgnats.Queue, metrics *mgotel.Metrics) []signalsource.Source {
	sources := make([]signalsource.Source, 0, len(cfg.Sources))
	for _, s := range cfg.Sources {
		breaker := newBreaker(cfg.Breaker, "source."+s.Name, metrics)
		switch s.Transport {
		case config.TransportHTTP:
			sources = append(sources, httpsource.New(s.Name, s.URL, s.Timeout, breaker))
		default:
			sources = append(sources, mgnats.NewSource(s.Name, queue, s.Timeout, breaker).WithSubject(s.Subject))
		}
	}
	return sources
}

func newBreaker(cfg config.Breaker, name string, metrics *mgotel.Metrics) *resilience.Breaker {
	return resilience.NewBreaker(cfg.MaxFailures, cfg.Timeout).
		Named(name).
		OnStateChange(func(name, from, to string) {
			slog.Warn("circuit breaker state changed", "breaker", name, "from", from, "to", to)
			metrics.BreakerTransitions.Add(context.Background(), 1, metric.WithAttributes(
				attribute.String("breaker", name),
				attribute.String("to", to),
			))
		})
}

// buildLLM returns the LiteLLM client used as narrator, or nil when no proxy
// is set and the template explanation is used.
func buildLLM(cfg *config.Config, metrics *mgotel.Metrics) *litellm.Client {
	if cfg.LiteLLM.URL == "" {
		return nil
	}
	c := litellm.NewClient(cfg.LiteLLM.URL, cfg.LiteLLM.MasterKey, cfg.LiteLLM.Model)
	c.SetBreaker(newBreaker(cfg.Breaker, "litellm", metrics))
	return c
}

// buildNotifiers instantiates the registered notifiers that have a webhook.
func buildNotifiers(cfg config.Notifiers) []notifier.Notifier {
	settings := make(map[string]map[string]string)
	for name, hook := range map[string]string{
		"slack":   cfg.SlackWebhookURL,
		"discord": cfg.DiscordWebhookURL,
	} {
		if hook != "" {
			settings[name] = map[string]string{notifier.SettingWebhookURL: hook}
		}
	}
	out, err := notifier.Build(settings)
	if err != nil {
		slog.Warn("notifier disabled", "error", err)
	}
	return out
}

// reviewerTokens merges the tokens of the current config with the reviewer
// token file, if one is configured.
func reviewerTokens(holder *config.Holder) secrets.Loader {
	return func() (map[string]string, error) {
		cfg := holder.Get()
		loaders := []secrets.Loader{secrets.StaticLoader(cfg.Approval.ReviewerTokens)}
		if cfg.Approval.ReviewerTokensFile != "" {
			loaders = append(loaders, secrets.FileLoader(cfg.Approval.ReviewerTokensFile))
		}
		return secrets.Merge(loaders...)()
	}
}

// reloadOnHangup reloads config, policies and sources on SIGHUP.
func reloadOnHangup(ctx context.Context, reload func() error) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := reload(); err != nil {
				slog.Error("reload failed, keeping previous config", "error", err)
				continue
			}
			slog.Info("config reloaded")
		}
	}
}

// originPatterns turns the CORS origin into a WebSocket origin pattern.
func originPatterns(origin string) []string {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return nil
	}
	return []string{u.Host}
}

// healthHandler reports dependency status.
// The narrator is optional, so an unreachable model is reported without
// degrading the service.
func healthHandler(pool *pgxpool.Pool, queue *mgnats.Queue, llm *litellm.Client, hub *ws.Hub) http.HandlerFunc {
	type healthStatus struct {
		Status     string `json:"status"`
		Version    string `json:"version"`
		Postgres   string `json:"postgres"`
		NATS       string `json:"nats"`
		Narrator   string `json:"narrator"`
		WebSockets int    `json:"websocket_clients"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		status := healthStatus{
			Status:     "ok",
			Version:    version,
			Postgres:   "memory",
			NATS:       "ok",
			Narrator:   "template",
			WebSockets: hub.ConnectionCount(),
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if pool != nil {
			status.Postgres = "ok"
			if err := pool.Ping(ctx); err != nil {
				status.Postgres = "down"
				status.Status = "degraded"
			}
		}
		if !queue.IsConnected() {
			status.NATS = "down"
			status.Status = "degraded"
		}
		if llm != nil {
			status.Narrator = "ok"
			if ok, err := llm.ModelReachable(ctx); err != nil || !ok {
				status.Narrator = "unreachable"
			}
		}

		code := http.StatusOK
		if status.Status != "ok" {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	}
}
