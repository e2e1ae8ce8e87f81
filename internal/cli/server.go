package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quiz-battle-service/internal/app"
	"quiz-battle-service/internal/config"
	"quiz-battle-service/internal/domain"
	"quiz-battle-service/internal/infra/memory"
	pgstore "quiz-battle-service/internal/infra/postgres"
	redisstore "quiz-battle-service/internal/infra/redis"
	"quiz-battle-service/internal/metrics"
	"quiz-battle-service/internal/telemetry"
	transport "quiz-battle-service/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the battle server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

// backends is what the service runs on, chosen from config.
type backends struct {
	sessions app.SessionRepository
	sources  app.SourceRepository
	ledger   app.Ledger
	notifier app.Notifier
	closers  []func()
}

func (b *backends) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Endpoint:    cfg.Tracing.OTLPEndpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("flush traces failed", "error", err)
		}
	}()

	deps, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close()

	settings := app.DefaultSettings()
	if cfg.Battle.Timer > 0 {
		settings.DefaultTimerSeconds = cfg.Battle.Timer
	}
	if cfg.Battle.CodeAttempts > 0 {
		settings.CodeAttempts = cfg.Battle.CodeAttempts
	}
	settings.Retention = config.TTLDuration(cfg.Battle.Retention, settings.Retention)
	settings.PollInterval = config.TTLDuration(cfg.Battle.PollInterval, settings.PollInterval)

	recorder := metrics.New()
	service := app.NewBattleService(
		deps.sessions,
		app.NewSourceAdapter(deps.sources),
		deps.ledger,
		app.WithSettings(settings),
		app.WithLogger(logger),
		app.WithNotifier(deps.notifier),
		app.WithRecorder(recorder),
		app.WithTracer(otel.Tracer("battle")),
	)

	var limiter *transport.CallerLimiter
	if cfg.RateLimit.RPS > 0 {
		burst := cfg.RateLimit.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = transport.NewCallerLimiter(rate.Limit(cfg.RateLimit.RPS), burst)
	}

	publicURL := cfg.Server.PublicURL
	if publicURL == "" {
		publicURL = "http://localhost:" + finalPort
	}
	router := transport.NewRouter(transport.RouterConfig{
		Service:        service,
		Auth:           transport.NewAuthenticator(cfg.Auth.JWTSecret, logger),
		Limiter:        limiter,
		Metrics:        recorder.Handler(),
		Logger:         logger,
		PublicURL:      publicURL,
		RequestTimeout: config.TTLDuration(cfg.Server.RequestTimeout, 15*time.Second),
	})

	server := &http.Server{
		Addr:              ":" + finalPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	janitor := app.NewJanitor(deps.sessions, config.TTLDuration(cfg.Battle.JanitorInterval, time.Minute), logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting battle service", "port", finalPort, "public_url", publicURL)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		janitor.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newLogger(cfg config.Config) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel()}))
	slog.SetDefault(logger)
	return logger
}

// openBackends picks redis, postgres or in-memory implementations per concern.
// Postgres feeds sources and the ledger whenever configured; sessions live in
// redis unless postgres.store is set, and in memory when neither is available.
func openBackends(ctx context.Context, cfg config.Config, logger *slog.Logger) (*backends, error) {
	deps := &backends{}
	sourceTTL := config.TTLDuration(cfg.Sources.TTL, 10*time.Minute)

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			_ = redisClient.Close()
			return nil, err
		}
		deps.closers = append(deps.closers, func() { _ = redisClient.Close() })
	}

	var loader redisstore.SourceLoader = memory.NewStaticSourceLoader(sampleTopics(), sampleQuizzes())
	deps.ledger = memory.NewLedger(cfg.Ledger.OpeningBalance)

	if cfg.Postgres.URL != "" {
		db := pgstore.OpenDB(cfg.Postgres.URL)
		deps.closers = append(deps.closers, func() { _ = db.Close() })
		group, err := pgstore.Migrate(ctx, db)
		if err != nil {
			deps.close()
			return nil, err
		}
		if !group.IsZero() {
			logger.Info("migrations applied", "group", group.ID)
		}

		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			deps.close()
			return nil, err
		}
		deps.closers = append(deps.closers, pool.Close)
		loader = pgstore.NewSourceLoader(pool)
		deps.ledger = pgstore.NewLedger(pool, cfg.Ledger.OpeningBalance)

		if cfg.Postgres.Store {
			deps.sessions = pgstore.NewSessionStore(db)
		}
	}

	switch {
	case redisClient != nil:
		deps.sources = redisstore.NewSourceRepository(redisClient, loader, sourceTTL)
		deps.notifier = redisstore.NewBroker(redisClient)
		if deps.sessions == nil {
			deps.sessions = redisstore.NewSessionStore(redisClient)
		}
	default:
		deps.sources = memory.NewSourceRepository(loader, sourceTTL)
		deps.notifier = memory.NewBroker()
		if deps.sessions == nil {
			deps.sessions = memory.NewSessionStore()
		}
	}
	return deps, nil
}

// sampleTopics and sampleQuizzes seed the in-memory source loader so the
// service is usable without a database.
func sampleTopics() map[string]domain.Topic {
	return map[string]domain.Topic{
		"topic-1": {
			ID:    "topic-1",
			Title: "Basic arithmetic",
			Questions: []domain.TopicQuestion{
				{Question: "What is 2 + 2?", Options: []string{"3", "4", "5"}, CorrectAnswer: "4"},
				{Question: "What is 3 x 3?", Options: []string{"6", "9", "12"}, CorrectAnswer: "9"},
				{Question: "What is 10 - 7?", Options: []string{"3", "4", "7"}, CorrectAnswer: "3"},
			},
		},
	}
}

func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
			ID:    "quiz-1",
			Title: "Capitals",
			Questions: []domain.QuizQuestion{
				{Text: "Capital of France?", Options: []string{"Lyon", "Paris", "Nice"}, CorrectAnswer: 1, Points: 100},
				{Text: "Capital of Japan?", Options: []string{"Tokyo", "Osaka"}, CorrectAnswer: 0, Points: 100},
			},
		},
	}
}
