package http

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/dragon-marcel/mat-gwiazda/internal/domain"
	"github.com/gorilla/websocket"
)

func TestWebSocketAssignAndSubmitFlow(t *testing.T) {
	server, store := newTestServer(t, staticContent{})
	defer server.Close()
	user, _ := store.CreateUser(context.Background(), domain.NewUser("Ola"))

	u := "ws" + server.URL[len("http"):] + "/ws?userId=" + user.ID.String()
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	readNext(conn, t, "subscribed")

	if err := conn.WriteJSON(map[string]any{"type": "assign", "payload": map[string]any{"level": 1}}); err != nil {
		t.Fatalf("write assign: %v", err)
	}
	var attemptID string
	for i := 0; i < 4 && attemptID == ""; i++ {
		typ, payload := readNext(conn, t, "")
		if typ == "assigned" {
			attemptID, _ = payload["attemptId"].(string)
		}
	}
	if attemptID == "" {
		t.Fatalf("expected assigned message")
	}

	submit := map[string]any{"type": "submit", "payload": map[string]any{"attemptId": attemptID, "selectedOptionIndex": 1}}
	if err := conn.WriteJSON(submit); err != nil {
		t.Fatalf("write submit: %v", err)
	}

	scoredSeen := false
	progressSeen := false
	for i := 0; i < 5 && !(scoredSeen && progressSeen); i++ {
		typ, payload := readNext(conn, t, "")
		switch typ {
		case "scored":
			scoredSeen = payload["isCorrect"] == true
		case "progress":
			if payload["type"] == domain.EventAttemptFinalized {
				progressSeen = true
			}
		}
	}
	if !scoredSeen || !progressSeen {
		t.Fatalf("expected scored and finalized progress, got scored=%v progress=%v", scoredSeen, progressSeen)
	}

	// a second submit is rejected
	if err := conn.WriteJSON(submit); err != nil {
		t.Fatalf("write submit: %v", err)
	}
	errorSeen := false
	for i := 0; i < 4 && !errorSeen; i++ {
		typ, _ := readNext(conn, t, "")
		errorSeen = typ == "error"
	}
	if !errorSeen {
		t.Fatalf("expected error for repeated submit")
	}
}

func TestWebSocketRejectsMissingUser(t *testing.T) {
	server, _ := newTestServer(t, staticContent{})
	defer server.Close()

	resp, err := http.Get(server.URL + "/ws")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func readNext(conn *websocket.Conn, t *testing.T, expect string) (string, map[string]any) {
	t.Helper()
	var msg struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read json: %v", err)
	}
	if expect != "" && msg.Type != expect {
		t.Fatalf("expected type %s, got %s", expect, msg.Type)
	}
	payload := map[string]any{}
	_ = json.Unmarshal(msg.Payload, &payload)
	return msg.Type, payload
}

func TestDeliverStopsWhenWriterIsGone(t *testing.T) {
	send := make(chan outboundMessage[any], 1)
	writerDone := make(chan struct{})

	if !deliver(send, writerDone, errorMessage("first")) {
		t.Fatalf("expected delivery into a free slot")
	}

	close(writerDone)
	result := make(chan bool, 1)
	go func() { result <- deliver(send, writerDone, errorMessage("second")) }()
	select {
	case ok := <-result:
		if ok {
			t.Fatalf("expected no delivery once the writer stopped")
		}
	case <-time.After(time.Second):
		t.Fatalf("deliver blocked on a full queue after the writer stopped")
	}
}

func TestProgressOnlineFollowsSocket(t *testing.T) {
	server, store := newTestServer(t, staticContent{})
	defer server.Close()
	user, _ := store.CreateUser(context.Background(), domain.NewUser("Ola"))
	path := "/api/v1/progress/online?userId=" + user.ID.String()

	var presence onlineResponse
	do(t, server, http.MethodGet, path, nil, http.StatusOK, &presence)
	if presence.Online || presence.UserID != user.ID {
		t.Fatalf("expected offline before connecting, got %+v", presence)
	}

	conn, _, err := websocket.DefaultDialer.Dial("ws"+server.URL[len("http"):]+"/ws?userId="+user.ID.String(), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	readNext(conn, t, "subscribed")

	do(t, server, http.MethodGet, path, nil, http.StatusOK, &presence)
	if !presence.Online {
		t.Fatalf("expected online while connected")
	}

	conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for {
		do(t, server, http.MethodGet, path, nil, http.StatusOK, &presence)
		if !presence.Online {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected offline after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}

	do(t, server, http.MethodGet, "/api/v1/progress/online?userId=nope", nil, http.StatusBadRequest, nil)
}
