package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"quiz-battle-service/internal/app"
	"quiz-battle-service/internal/domain"
	pgstore "quiz-battle-service/internal/infra/postgres"
	infraredis "quiz-battle-service/internal/infra/redis"
	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
)

const openingBalance = 500

func TestWagerBattleEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	db := pgstore.OpenDB(pgURL)
	defer db.Close()
	if _, err := pgstore.Migrate(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	seedSource(t, ctx, db, "quizzes", "quiz-1", sampleQuiz())
	seedSource(t, ctx, db, "topics", "topic-1", sampleTopic())

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	sources := app.NewSourceAdapter(infraredis.NewSourceRepository(redisClient, pgstore.NewSourceLoader(pool), 5*time.Minute))
	ledger := pgstore.NewLedger(pool, openingBalance)

	stores := map[string]app.SessionRepository{
		"redis":    infraredis.NewSessionStore(redisClient),
		"postgres": pgstore.NewSessionStore(db),
	}
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			service := app.NewBattleService(store, sources, ledger, app.WithNotifier(infraredis.NewBroker(redisClient)))
			runWagerBattle(t, ctx, service, ledger, name)
		})
	}
}

func runWagerBattle(t *testing.T, ctx context.Context, service *app.BattleService, ledger *pgstore.Ledger, prefix string) {
	t.Helper()
	host := prefix + "-host"
	alice := domain.Identity{ID: prefix + "-alice", DisplayName: "Alice"}
	bob := domain.Identity{ID: prefix + "-bob", DisplayName: "Bob"}

	session, err := service.Create(ctx, app.CreateRequest{
		HostID:      host,
		Source:      domain.SourceRef{Kind: domain.SourceQuiz, ID: "quiz-1"},
		Mode:        domain.ModeWager,
		WagerAmount: 100,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(session.Questions) != 2 || session.Questions[0].CorrectAnswer != "4" {
		t.Fatalf("unexpected questions %+v", session.Questions)
	}

	for _, who := range []domain.Identity{alice, bob} {
		if _, err := service.Join(ctx, session.Code, who); err != nil {
			t.Fatalf("join %s: %v", who.ID, err)
		}
	}
	if _, err := service.Join(ctx, session.Code, alice); err != nil {
		t.Fatalf("rejoin should be idempotent: %v", err)
	}

	updates, cancel, err := service.Notifier().Subscribe(ctx, session.Code)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	if _, err := service.Start(ctx, session.Code, host); err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case <-updates:
	case <-time.After(5 * time.Second):
		t.Fatalf("expected a change signal after start")
	}

	first := 0
	res, err := service.Submit(ctx, session.Code, alice.ID, "4", &first)
	if err != nil || !res.IsCorrect || res.TotalScore != 100 {
		t.Fatalf("alice first answer: %+v %v", res, err)
	}
	if _, err := service.Submit(ctx, session.Code, alice.ID, "4", &first); !errors.Is(err, domain.ErrAlreadyAnswered) {
		t.Fatalf("expected already answered, got %v", err)
	}
	if _, err := service.Submit(ctx, session.Code, bob.ID, "3", &first); err != nil {
		t.Fatalf("bob first answer: %v", err)
	}

	if _, err := service.Advance(ctx, session.Code, host, 0); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if _, err := service.Advance(ctx, session.Code, host, 0); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("stale advance should lose, got %v", err)
	}
	if _, err := service.Submit(ctx, session.Code, bob.ID, "3", &first); !errors.Is(err, domain.ErrQuestionClosed) {
		t.Fatalf("late answer should be closed, got %v", err)
	}
	if _, err := service.Submit(ctx, session.Code, alice.ID, "6", nil); err != nil {
		t.Fatalf("alice second answer: %v", err)
	}

	result, err := service.Finish(ctx, session.Code, host)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if result.Settlement.TotalPool != 200 || len(result.Settlement.Winners) != 1 || result.Settlement.Winners[0] != alice.ID {
		t.Fatalf("unexpected settlement %+v", result.Settlement)
	}
	if _, err := service.Finish(ctx, session.Code, host); err == nil {
		t.Fatalf("second finish must not settle again")
	}

	assertBalance(t, ctx, ledger, alice.ID, openingBalance-100+200)
	assertBalance(t, ctx, ledger, bob.ID, openingBalance-100)

	view, err := service.Status(ctx, session.Code, bob.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if view.Status != domain.StatusFinished || view.Leaderboard[0].UserID != alice.ID {
		t.Fatalf("unexpected final view %+v", view)
	}
}

func assertBalance(t *testing.T, ctx context.Context, ledger *pgstore.Ledger, userID string, want int) {
	t.Helper()
	got, err := ledger.Balance(ctx, userID)
	if err != nil {
		t.Fatalf("balance %s: %v", userID, err)
	}
	if got != want {
		t.Fatalf("balance %s: expected %d, got %d", userID, want, got)
	}
}

func TestTopicSourceThroughPostgres(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()

	db := pgstore.OpenDB(pgURL)
	defer db.Close()
	if _, err := pgstore.Migrate(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	seedSource(t, ctx, db, "topics", "topic-1", sampleTopic())

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	loader := pgstore.NewSourceLoader(pool)
	topic, err := loader.LoadTopic(ctx, "topic-1")
	if err != nil {
		t.Fatalf("load topic: %v", err)
	}
	if topic.Title != "Arithmetic" || len(topic.Questions) != 1 {
		t.Fatalf("unexpected topic %+v", topic)
	}
	if _, err := loader.LoadQuiz(ctx, "missing"); !errors.Is(err, domain.ErrSourceNotFound) {
		t.Fatalf("expected source not found, got %v", err)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func seedSource(t *testing.T, ctx context.Context, db *bun.DB, table, id string, doc any) {
	t.Helper()
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal %s: %v", id, err)
	}
	query := fmt.Sprintf(`INSERT INTO %s (id, data) VALUES (?, ?::jsonb) ON CONFLICT (id) DO UPDATE SET data=EXCLUDED.data`, table)
	if _, err := db.ExecContext(ctx, query, id, string(data)); err != nil {
		t.Fatalf("insert %s: %v", id, err)
	}
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID: "quiz-1",
		Questions: []domain.QuizQuestion{
			{Text: "What is 2 + 2?", Options: []string{"3", "4", "5"}, CorrectAnswer: 1, Points: 100},
			{Text: "What is 3 + 3?", Options: []string{"6", "7"}, CorrectAnswer: 0, Points: 100},
		},
	}
}

func sampleTopic() domain.Topic {
	return domain.Topic{
		ID:    "topic-1",
		Title: "Arithmetic",
		Questions: []domain.TopicQuestion{
			{Question: "What is 5 - 2?", Options: []string{"2", "3"}, CorrectAnswer: "3"},
		},
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
