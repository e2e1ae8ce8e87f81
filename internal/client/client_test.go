package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"quiz-battle-service/internal/app"
	"quiz-battle-service/internal/domain"
	"quiz-battle-service/internal/infra/memory"
	transport "quiz-battle-service/internal/transport/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(newRouter(t))
	t.Cleanup(srv.Close)
	return srv
}

func newRouter(t *testing.T) http.Handler {
	t.Helper()
	loader := memory.NewStaticSourceLoader(nil, map[string]domain.Quiz{
		"quiz-2": {
			ID: "quiz-2",
			Questions: []domain.QuizQuestion{
				{Text: "2+2", Options: []string{"3", "4"}, CorrectAnswer: 1},
				{Text: "3+3", Options: []string{"6", "7"}, CorrectAnswer: 0},
			},
		},
	})
	service := app.NewBattleService(
		memory.NewSessionStore(),
		app.NewSourceAdapter(memory.NewSourceRepository(loader, time.Minute)),
		memory.NewLedger(100),
	)
	return transport.NewRouter(transport.RouterConfig{
		Service: service,
		Auth:    transport.NewAuthenticator("", nil),
	})
}

func TestClientErrorsUnwrapToDomain(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()
	host := New(srv.URL, domain.Identity{ID: "host", DisplayName: "Host"})

	_, err := host.Status(ctx, "ZZZZZZ")
	assert.True(t, errors.Is(err, domain.ErrSessionNotFound), "got %v", err)

	created, err := host.Create(ctx, CreateRequest{Source: domain.SourceRef{Kind: domain.SourceQuiz, ID: "quiz-2"}})
	require.NoError(t, err)

	_, err = host.Start(ctx, created.Code)
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition), "got %v", err)

	guest := New(srv.URL, domain.Identity{ID: "guest", DisplayName: "Guest"})
	_, err = guest.Finish(ctx, created.Code)
	assert.True(t, errors.Is(err, domain.ErrUnauthorized), "got %v", err)

	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 403, apiErr.Status)
}

func TestHostSynchronizerDrivesBattle(t *testing.T) {
	srv := newServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	host := New(srv.URL, domain.Identity{ID: "host", DisplayName: "Host"})
	created, err := host.Create(ctx, CreateRequest{
		Source:       domain.SourceRef{Kind: domain.SourceQuiz, ID: "quiz-2"},
		TimerSeconds: 1,
	})
	require.NoError(t, err)

	player := New(srv.URL, domain.Identity{ID: "p1", DisplayName: "Player"})
	_, err = player.Join(ctx, created.Code)
	require.NoError(t, err)

	var (
		mu   sync.Mutex
		seen = map[int]bool{}
	)
	driver := NewSynchronizer(host, created.Code, AsHost(1))
	driver.OnView = func(view domain.SessionView, remaining int) {
		if view.Status != domain.StatusInProgress {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if !seen[view.CurrentQuestionIndex] {
			seen[view.CurrentQuestionIndex] = true
			// answer the first question correctly as soon as it opens
			if view.CurrentQuestionIndex == 0 {
				_, _ = player.Submit(ctx, created.Code, "4", 0)
			}
		}
	}

	final, err := driver.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFinished, final.Status)
	assert.Equal(t, 1, final.CurrentQuestionIndex)
	assert.True(t, seen[0] && seen[1], "expected both questions to be shown, saw %v", seen)
	require.Len(t, final.Leaderboard, 1)
	assert.Equal(t, domain.DefaultQuestionPoints, final.Leaderboard[0].Score)
}

func TestParticipantSynchronizerStopsAtFinish(t *testing.T) {
	srv := newServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	host := New(srv.URL, domain.Identity{ID: "host", DisplayName: "Host"})
	created, err := host.Create(ctx, CreateRequest{Source: domain.SourceRef{Kind: domain.SourceQuiz, ID: "quiz-2"}})
	require.NoError(t, err)
	player := New(srv.URL, domain.Identity{ID: "p1", DisplayName: "Player"})
	_, err = player.Join(ctx, created.Code)
	require.NoError(t, err)
	_, err = host.Start(ctx, created.Code)
	require.NoError(t, err)
	_, err = host.Finish(ctx, created.Code)
	require.NoError(t, err)

	final, err := NewSynchronizer(player, created.Code).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFinished, final.Status)
	for _, q := range final.Questions {
		assert.NotEmpty(t, q.CorrectAnswer, "answers are revealed after finish")
	}
}

func TestRemainingCorrectsClockSkew(t *testing.T) {
	server := time.Date(2024, 5, 1, 12, 0, 10, 0, time.UTC)
	started := server.Add(-10 * time.Second)
	view := domain.SessionView{
		ServerTime:           server,
		QuestionStartTime:    &started,
		TimerDurationSeconds: 30,
	}

	// local clock runs five minutes behind the server
	received := server.Add(-5 * time.Minute)
	assert.Equal(t, 20*time.Second, Remaining(view, received, received))
	assert.Equal(t, 15*time.Second, Remaining(view, received, received.Add(5*time.Second)))
	assert.Equal(t, time.Duration(0), Remaining(view, received, received.Add(time.Minute)))
	assert.Equal(t, time.Duration(0), Remaining(domain.SessionView{}, received, received))
}

// flakyGateway answers 503 for the first poll and the first advance, the way a
// restarting proxy in front of the service would.
func flakyGateway(next http.Handler) (http.Handler, *atomic.Int32) {
	var polls, advances, failed atomic.Int32
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/api/battles/") && polls.Add(1) == 1,
			r.Method == http.MethodPatch && strings.HasSuffix(r.URL.Path, "/advance") && advances.Add(1) == 1:
			failed.Add(1)
			http.Error(w, "upstream unavailable", http.StatusServiceUnavailable)
			return
		}
		next.ServeHTTP(w, r)
	}), &failed
}

func TestSynchronizerRetriesTransientFailures(t *testing.T) {
	handler, failed := flakyGateway(newRouter(t))
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	host := New(srv.URL, domain.Identity{ID: "host", DisplayName: "Host"})
	created, err := host.Create(ctx, CreateRequest{
		Source:       domain.SourceRef{Kind: domain.SourceQuiz, ID: "quiz-2"},
		TimerSeconds: 1,
	})
	require.NoError(t, err)
	player := New(srv.URL, domain.Identity{ID: "p1", DisplayName: "Player"})
	_, err = player.Join(ctx, created.Code)
	require.NoError(t, err)

	final, err := NewSynchronizer(host, created.Code, AsHost(1)).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFinished, final.Status)
	assert.Equal(t, int32(2), failed.Load())
}

func TestSynchronizerStopsOnUnknownCode(t *testing.T) {
	srv := newServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	host := New(srv.URL, domain.Identity{ID: "host"})
	_, err := NewSynchronizer(host, "ZZZZZZ", AsHost(1)).Run(ctx)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}
