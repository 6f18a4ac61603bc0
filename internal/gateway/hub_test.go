package gateway_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"securechat/internal/auth"
	"securechat/internal/domain"
	"securechat/internal/gateway"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// tokenTable verifies sessions from a fixed token→user map; anything else is
// an invalid session.
type tokenTable map[string]uuid.UUID

func (tt tokenTable) Verify(_ context.Context, token string) (*auth.Session, error) {
	userID, ok := tt[token]
	if !ok {
		return nil, nil
	}
	return &auth.Session{UserID: userID, SessionID: uuid.New()}, nil
}

func setupHub(t *testing.T, verifier auth.Verifier) (*gateway.Hub, *httptest.Server) {
	t.Helper()
	hub := gateway.NewHub(verifier)
	go hub.Run()
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(func() {
		srv.Close()
		hub.Shutdown()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn, out any) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		t.Fatalf("unmarshal frame %s: %v", data, err)
	}
}

func TestInvalidTokenClosesWithUnauthorized(t *testing.T) {
	userID := uuid.New()
	hub, srv := setupHub(t, tokenTable{"good": userID})

	conn := dial(t, srv, "bogus")
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()

	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		t.Fatalf("expected close error, got %v", err)
	}
	if closeErr.Code != gateway.CloseUnauthorized {
		t.Fatalf("expected close code %d, got %d", gateway.CloseUnauthorized, closeErr.Code)
	}
	if n := hub.ConnectionCount(userID); n != 0 {
		t.Fatalf("rejected connection reached the registry: %d", n)
	}
}

func TestHandshakeSendsConnectedFrame(t *testing.T) {
	userID := uuid.New()
	hub, srv := setupHub(t, tokenTable{"good": userID})

	conn := dial(t, srv, "good")
	var frame struct {
		Type string `json:"type"`
	}
	readFrame(t, conn, &frame)
	if frame.Type != gateway.FrameConnected {
		t.Fatalf("expected %s frame first, got %s", gateway.FrameConnected, frame.Type)
	}
	if n := hub.ConnectionCount(userID); n != 1 {
		t.Fatalf("expected one registered connection, got %d", n)
	}
}

func TestMessagePushSkipsSender(t *testing.T) {
	alice, bob := uuid.New(), uuid.New()
	hub, srv := setupHub(t, tokenTable{"alice": alice, "bob": bob})

	aliceConn := dial(t, srv, "alice")
	bobConn := dial(t, srv, "bob")
	var hello struct {
		Type string `json:"type"`
	}
	readFrame(t, aliceConn, &hello)
	readFrame(t, bobConn, &hello)

	low, high := domain.NormalizePair(alice, bob)
	thread := &domain.Thread{ID: uuid.New(), UserLow: low, UserHigh: high}
	msg := &domain.Message{
		ID:          uuid.New(),
		ThreadID:    thread.ID,
		SenderID:    alice,
		Ciphertext:  []byte("ciphertext"),
		WrappedKey:  "wk",
		IV:          "iv",
		Algorithm:   "AES-GCM",
		MessageType: domain.MessageTypeText,
		CreatedAt:   time.Now().UTC(),
	}
	gateway.NewEvents(hub).MessageCreated(thread, msg)

	var frame struct {
		Type    string `json:"type"`
		Message struct {
			ID       uuid.UUID `json:"id"`
			SenderID uuid.UUID `json:"senderId"`
			Content  string    `json:"content"`
		} `json:"message"`
	}
	readFrame(t, bobConn, &frame)
	if frame.Type != gateway.FrameMessage {
		t.Fatalf("expected %s frame, got %s", gateway.FrameMessage, frame.Type)
	}
	if frame.Message.ID != msg.ID || frame.Message.SenderID != alice {
		t.Fatalf("unexpected message frame: %+v", frame.Message)
	}
	if frame.Message.Content != "ciphertext" {
		t.Fatalf("expected opaque ciphertext in frame, got %q", frame.Message.Content)
	}

	// The sender gets nothing back for their own message.
	_ = aliceConn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := aliceConn.ReadMessage(); err == nil {
		t.Fatalf("sender received an echo of their own message")
	}
}

func TestMultiDeviceFanOut(t *testing.T) {
	alice, bob := uuid.New(), uuid.New()
	hub, srv := setupHub(t, tokenTable{"alice": alice, "bob": bob})

	phone := dial(t, srv, "bob")
	laptop := dial(t, srv, "bob")
	var hello struct {
		Type string `json:"type"`
	}
	readFrame(t, phone, &hello)
	readFrame(t, laptop, &hello)
	if n := hub.ConnectionCount(bob); n != 2 {
		t.Fatalf("expected two registered connections, got %d", n)
	}

	low, high := domain.NormalizePair(alice, bob)
	thread := &domain.Thread{ID: uuid.New(), UserLow: low, UserHigh: high}
	gateway.NewEvents(hub).MessageDeleted(thread, uuid.New())

	for _, conn := range []*websocket.Conn{phone, laptop} {
		var frame struct {
			Type string `json:"type"`
		}
		readFrame(t, conn, &frame)
		if frame.Type != gateway.FrameMessageDeleted {
			t.Fatalf("expected %s on every device, got %s", gateway.FrameMessageDeleted, frame.Type)
		}
	}
}

func TestDisconnectLeavesRegistry(t *testing.T) {
	userID := uuid.New()
	hub, srv := setupHub(t, tokenTable{"good": userID})

	conn := dial(t, srv, "good")
	var hello struct {
		Type string `json:"type"`
	}
	readFrame(t, conn, &hello)

	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ConnectionCount(userID) != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("connection still registered after close")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestTypingForwardedToService(t *testing.T) {
	alice, bob := uuid.New(), uuid.New()
	hub, srv := setupHub(t, tokenTable{"alice": alice, "bob": bob})

	threadID := uuid.New()
	forwarded := make(chan uuid.UUID, 1)
	hub.SetTypingFunc(func(_ context.Context, gotThread, gotUser uuid.UUID, isTyping bool) error {
		if gotThread == threadID && gotUser == alice && isTyping {
			forwarded <- gotUser
		}
		return nil
	})

	conn := dial(t, srv, "alice")
	var hello struct {
		Type string `json:"type"`
	}
	readFrame(t, conn, &hello)

	payload := map[string]any{"type": "typing", "threadId": threadID, "isTyping": true}
	if err := conn.WriteJSON(payload); err != nil {
		t.Fatalf("write typing frame: %v", err)
	}

	select {
	case <-forwarded:
	case <-time.After(2 * time.Second):
		t.Fatalf("typing frame never reached the typing func")
	}
}
