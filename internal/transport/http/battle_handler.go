package http

import (
	"log/slog"
	"net/http"
	"time"

	"quiz-battle-service/internal/app"
	"quiz-battle-service/internal/domain"
	"github.com/go-chi/chi/v5"
)

// BattleHandler exposes the battle lifecycle over REST.
type BattleHandler struct {
	service   *app.BattleService
	logger    *slog.Logger
	publicURL string
}

func NewBattleHandler(service *app.BattleService, logger *slog.Logger, publicURL string) *BattleHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BattleHandler{service: service, logger: logger, publicURL: publicURL}
}

type createBattleRequest struct {
	Source       domain.SourceRef `json:"source"`
	Mode         domain.Mode      `json:"mode"`
	WagerAmount  int              `json:"wagerAmount"`
	TimerSeconds int              `json:"timerSeconds"`
}

type createBattleResponse struct {
	Code    string             `json:"code"`
	JoinURL string             `json:"joinUrl"`
	Session domain.SessionView `json:"session"`
}

type advanceRequest struct {
	ExpectedIndex *int `json:"expectedIndex"`
}

type answerRequest struct {
	Answer        string `json:"answer"`
	QuestionIndex *int   `json:"questionIndex,omitempty"`
}

func (h *BattleHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	caller := mustIdentity(r)
	var req createBattleRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, h.logger, err)
		return
	}
	if req.Mode == "" {
		req.Mode = domain.ModeClassic
	}

	session, err := h.service.Create(r.Context(), app.CreateRequest{
		HostID:       caller.ID,
		Source:       req.Source,
		Mode:         req.Mode,
		WagerAmount:  req.WagerAmount,
		TimerSeconds: req.TimerSeconds,
	})
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusCreated, createBattleResponse{
		Code:    session.Code,
		JoinURL: h.joinURL(session.Code),
		Session: app.BuildView(session, caller.ID, time.Now(), h.service.Settings().PollInterval),
	})
}

func (h *BattleHandler) handleJoin(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.Join(r.Context(), chi.URLParam(r, "code"), mustIdentity(r))
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (h *BattleHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.Status(r.Context(), chi.URLParam(r, "code"), mustIdentity(r).ID)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (h *BattleHandler) handleStart(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.Start(r.Context(), chi.URLParam(r, "code"), mustIdentity(r).ID)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (h *BattleHandler) handleAdvance(w http.ResponseWriter, r *http.Request) {
	var req advanceRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, h.logger, err)
		return
	}
	if req.ExpectedIndex == nil {
		respondError(w, h.logger, BadRequest("expectedIndex is required"))
		return
	}
	view, err := h.service.Advance(r.Context(), chi.URLParam(r, "code"), mustIdentity(r).ID, *req.ExpectedIndex)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (h *BattleHandler) handleFinish(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Finish(r.Context(), chi.URLParam(r, "code"), mustIdentity(r).ID)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *BattleHandler) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, h.logger, err)
		return
	}
	result, err := h.service.Submit(r.Context(), chi.URLParam(r, "code"), mustIdentity(r).ID, req.Answer, req.QuestionIndex)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *BattleHandler) joinURL(code string) string {
	return h.publicURL + "/battles/" + code
}

// mustIdentity is only used behind Authenticator.Middleware.
func mustIdentity(r *http.Request) domain.Identity {
	id, _ := IdentityFrom(r.Context())
	return id
}
