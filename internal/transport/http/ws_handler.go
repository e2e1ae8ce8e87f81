package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"quiz-battle-service/internal/app"
	"quiz-battle-service/internal/domain"
	"github.com/gorilla/websocket"
)

// WSHandler pushes a fresh SessionView to the client on every battle change.
// Polling GET /api/battles/{code} remains the source of truth; the socket only
// saves clients a round trip.
type WSHandler struct {
	service  *app.BattleService
	auth     *Authenticator
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.BattleService, auth *Authenticator, logger *slog.Logger) *WSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHandler{
		service: service,
		auth:    auth,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ServeWS upgrades GET /ws?code= and streams "session" messages. Clients may
// send {"type":"answer","payload":{"answer":"..","questionIndex":0}}.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	code := domain.NormalizeCode(r.URL.Query().Get("code"))
	if code == "" {
		respondError(w, h.logger, BadRequest("missing code"))
		return
	}
	caller, err := h.auth.Identify(r)
	if err != nil {
		respondJSON(w, http.StatusUnauthorized, NewAPIError(http.StatusUnauthorized, ErrCodeUnauthenticated, err.Error()))
		return
	}
	// fail before the upgrade so unknown codes get a normal 404
	first, err := h.service.Status(r.Context(), code, caller.ID)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	updates, cancel, err := h.service.Notifier().Subscribe(r.Context(), code)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: h.errorPayload(err)})
		return
	}
	defer cancel()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	// single writer; gorilla connections do not support concurrent writes
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Debug("ws write error", "code", code, "error", err)
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case _, ok := <-updates:
				if !ok {
					return
				}
				view, err := h.service.Status(r.Context(), code, caller.ID)
				var msg outboundMessage[any]
				if err != nil {
					msg = outboundMessage[any]{Type: "error", Payload: h.errorPayload(err)}
				} else {
					msg = outboundMessage[any]{Type: "session", Payload: view}
				}
				select {
				case send <- msg:
				case <-closeSignals:
					return
				case <-writerDone:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	// push gives up once the writer stopped on a broken connection
	push := func(msg outboundMessage[any]) {
		select {
		case send <- msg:
		case <-writerDone:
		}
	}
	push(outboundMessage[any]{Type: "session", Payload: first})

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "answer":
			var payload answerRequest
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				push(outboundMessage[any]{Type: "error", Payload: errorPayload{Code: ErrCodeBadRequest, Message: "invalid answer payload"}})
				continue
			}
			result, err := h.service.Submit(r.Context(), code, caller.ID, payload.Answer, payload.QuestionIndex)
			if err != nil {
				push(outboundMessage[any]{Type: "error", Payload: h.errorPayload(err)})
				continue
			}
			push(outboundMessage[any]{Type: "answerResult", Payload: result})
		default:
			push(outboundMessage[any]{Type: "error", Payload: errorPayload{Code: ErrCodeBadRequest, Message: "unsupported message type"}})
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

func (h *WSHandler) errorPayload(err error) errorPayload {
	apiErr := ToAPIError(h.logger, err)
	return errorPayload{Code: apiErr.Code, Message: apiErr.Message}
}
