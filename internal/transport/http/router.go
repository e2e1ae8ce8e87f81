package http

import (
	"log/slog"
	"net/http"
	"time"

	"quiz-battle-service/internal/app"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RouterConfig wires the HTTP surface. Limiter and Metrics are optional.
type RouterConfig struct {
	Service        *app.BattleService
	Auth           *Authenticator
	Limiter        *CallerLimiter
	Metrics        http.Handler
	Logger         *slog.Logger
	PublicURL      string
	RequestTimeout time.Duration
}

// NewRouter returns a configured chi router with all routes.
func NewRouter(cfg RouterConfig) chi.Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	battles := NewBattleHandler(cfg.Service, logger, cfg.PublicURL)
	ws := NewWSHandler(cfg.Service, cfg.Auth, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	// long-lived; kept outside the timeout group
	r.Get("/ws", ws.ServeWS)
	r.Get("/api/battles/{code}/qr.png", battles.handleQR)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
		r.Use(cfg.Auth.Middleware)

		r.Post("/api/battles", battles.handleCreate)
		r.Get("/api/battles/{code}", battles.handleStatus)
		r.Patch("/api/battles/{code}/start", battles.handleStart)
		r.Patch("/api/battles/{code}/advance", battles.handleAdvance)
		r.Patch("/api/battles/{code}/finish", battles.handleFinish)

		// participant writes come from many clients at once
		r.Group(func(r chi.Router) {
			if cfg.Limiter != nil {
				r.Use(cfg.Limiter.Middleware)
			}
			r.Post("/api/battles/{code}/join", battles.handleJoin)
			r.Post("/api/battles/{code}/answers", battles.handleAnswer)
		})
	})
	return r
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
