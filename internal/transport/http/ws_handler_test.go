package http

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"quiz-battle-service/internal/domain"
	"github.com/gorilla/websocket"
)

func TestWebSocketPushesSessionChanges(t *testing.T) {
	srv := newTestServer(t, "", nil)
	code := srv.createBattle(t, domain.ModeClassic, 0)
	if status := srv.do(t, http.MethodPost, "/api/battles/"+code+"/join", "alice", nil, nil); status != http.StatusOK {
		t.Fatalf("join: status %d", status)
	}

	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?code=" + strings.ToLower(code) + "&userId=alice&name=Alice"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Expect the current session first.
	first := readSession(t, conn)
	if first.Status != domain.StatusWaiting || first.Code != code {
		t.Fatalf("unexpected first view %+v", first)
	}

	if status := srv.do(t, http.MethodPatch, "/api/battles/"+code+"/start", "host", nil, nil); status != http.StatusOK {
		t.Fatalf("start: status %d", status)
	}
	started := readSession(t, conn)
	if started.Status != domain.StatusInProgress || started.CurrentQuestion == nil {
		t.Fatalf("expected pushed in-progress view, got %+v", started)
	}
	if started.CurrentQuestion.CorrectAnswer != "" {
		t.Fatalf("participant push must not reveal the open answer")
	}

	// Answer over the socket.
	answer := map[string]any{
		"type":    "answer",
		"payload": map[string]any{"answer": "4", "questionIndex": 0},
	}
	if err := conn.WriteJSON(answer); err != nil {
		t.Fatalf("write answer: %v", err)
	}

	resultSeen := false
	for i := 0; i < 3 && !resultSeen; i++ {
		typ, payload := readNext(t, conn)
		if typ == "answerResult" {
			resultSeen = true
			if payload["isCorrect"] != true {
				t.Fatalf("expected correct answer, got %+v", payload)
			}
		}
	}
	if !resultSeen {
		t.Fatalf("expected answerResult")
	}
}

func TestWebSocketRejectsUnknownCode(t *testing.T) {
	srv := newTestServer(t, "", nil)
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?code=ZZZZZZ&userId=alice"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err == nil {
		t.Fatalf("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %+v", resp)
	}
}

func readSession(t *testing.T, conn *websocket.Conn) domain.SessionView {
	t.Helper()
	var msg struct {
		Type    string             `json:"type"`
		Payload domain.SessionView `json:"payload"`
	}
	for i := 0; i < 5; i++ {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read json: %v", err)
		}
		if msg.Type == "session" {
			return msg.Payload
		}
	}
	t.Fatalf("no session message received")
	return domain.SessionView{}
}

func readNext(t *testing.T, conn *websocket.Conn) (string, map[string]any) {
	t.Helper()
	var msg struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read json: %v", err)
	}
	return msg.Type, msg.Payload
}
