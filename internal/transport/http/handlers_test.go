package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"securechat/internal/auth"
	"securechat/internal/gateway"
	"securechat/internal/observability/metrics"
	"securechat/internal/service"
	"securechat/internal/store"
	transport "securechat/internal/transport/http"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestMain(m *testing.M) {
	metrics.MustRegister("securechat-test")
	os.Exit(m.Run())
}

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

func setupServer(t *testing.T, verifier auth.Verifier) *httptest.Server {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	st := store.New(db)
	if err := st.AutoMigrate(context.Background()); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	svc := service.New(st, nil)
	hub := gateway.NewHub(verifier)
	hub.SetTypingFunc(svc.UpdateTyping)
	svc.SetEvents(gateway.NewEvents(hub))
	go hub.Run()

	srv := httptest.NewServer(transport.NewRouter(svc, verifier, hub, transport.RouterConfig{}))
	t.Cleanup(func() {
		srv.Close()
		hub.Shutdown()
	})
	return srv
}

func request(t *testing.T, srv *httptest.Server, method, path, token string, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, srv.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestRequiresAuthentication(t *testing.T) {
	srv := setupServer(t, tokenTable{"good": uuid.New()})

	resp := request(t, srv, http.MethodGet, "/threads", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing token: expected 401, got %d", resp.StatusCode)
	}

	resp = request(t, srv, http.MethodGet, "/threads", "bogus", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("invalid token: expected 401, got %d", resp.StatusCode)
	}

	resp = request(t, srv, http.MethodGet, "/healthz", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz must not require a session, got %d", resp.StatusCode)
	}
}

func TestKeyLifecycle(t *testing.T) {
	alice, bob := uuid.New(), uuid.New()
	srv := setupServer(t, tokenTable{"alice": alice, "bob": bob})

	resp := request(t, srv, http.MethodPost, "/keys", "alice", map[string]string{
		"publicKey":           "alice-pub-pem",
		"encryptedPrivateKey": "alice-backup",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("store keys: expected 201, got %d", resp.StatusCode)
	}

	var own struct {
		PublicKey           string `json:"publicKey"`
		EncryptedPrivateKey string `json:"encryptedPrivateKey"`
	}
	resp = request(t, srv, http.MethodGet, "/keys/my", "alice", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("own keys: expected 200, got %d", resp.StatusCode)
	}
	decodeBody(t, resp, &own)
	if own.PublicKey != "alice-pub-pem" || own.EncryptedPrivateKey != "alice-backup" {
		t.Fatalf("owner view incomplete: %+v", own)
	}

	// Peers see only the public half.
	var peer struct {
		PublicKey           string `json:"publicKey"`
		EncryptedPrivateKey string `json:"encryptedPrivateKey"`
	}
	resp = request(t, srv, http.MethodGet, "/keys/"+alice.String(), "bob", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("public key: expected 200, got %d", resp.StatusCode)
	}
	decodeBody(t, resp, &peer)
	if peer.PublicKey != "alice-pub-pem" {
		t.Fatalf("unexpected public key %q", peer.PublicKey)
	}
	if peer.EncryptedPrivateKey != "" {
		t.Fatalf("private key backup leaked to a peer")
	}

	resp = request(t, srv, http.MethodGet, "/keys/"+uuid.NewString(), "bob", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown user: expected 404, got %d", resp.StatusCode)
	}
}

func TestMessagingFlow(t *testing.T) {
	alice, bob := uuid.New(), uuid.New()
	srv := setupServer(t, tokenTable{"alice": alice, "bob": bob})

	var created struct {
		Thread struct {
			ID string `json:"id"`
		} `json:"thread"`
	}
	resp := request(t, srv, http.MethodPost, "/thread", "alice", map[string]string{"friendId": bob.String()})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create thread: expected 200, got %d", resp.StatusCode)
	}
	decodeBody(t, resp, &created)
	threadID := created.Thread.ID

	// Opening from the other side resolves to the same thread.
	var mirrored struct {
		Thread struct {
			ID string `json:"id"`
		} `json:"thread"`
	}
	resp = request(t, srv, http.MethodPost, "/thread", "bob", map[string]string{"friendId": alice.String()})
	decodeBody(t, resp, &mirrored)
	if mirrored.Thread.ID != threadID {
		t.Fatalf("thread not symmetric: %s vs %s", mirrored.Thread.ID, threadID)
	}

	var sent struct {
		ID string `json:"id"`
	}
	resp = request(t, srv, http.MethodPost, "/send-encrypted", "alice", map[string]any{
		"threadId": threadID,
		"content":  "b64-ciphertext",
		"metadata": map[string]any{
			"type": "text",
			"encryption": map[string]string{
				"wrappedKey": "b64-wrapped-key",
				"iv":         "b64-iv",
				"algorithm":  "AES-GCM",
			},
		},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("send: expected 201, got %d", resp.StatusCode)
	}
	decodeBody(t, resp, &sent)

	var history struct {
		Messages []struct {
			ID         string `json:"id"`
			Content    string `json:"content"`
			WrappedKey string `json:"wrappedKey"`
			Deleted    bool   `json:"deleted"`
		} `json:"messages"`
	}
	resp = request(t, srv, http.MethodGet, "/messages?threadId="+threadID, "bob", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("history: expected 200, got %d", resp.StatusCode)
	}
	decodeBody(t, resp, &history)
	if len(history.Messages) != 1 || history.Messages[0].ID != sent.ID {
		t.Fatalf("unexpected history: %+v", history.Messages)
	}
	if history.Messages[0].Content != "b64-ciphertext" || history.Messages[0].WrappedKey != "b64-wrapped-key" {
		t.Fatalf("envelope not echoed verbatim: %+v", history.Messages[0])
	}

	var unread struct {
		Unread int64 `json:"unread"`
	}
	resp = request(t, srv, http.MethodGet, "/messages/unread?threadId="+threadID, "bob", nil)
	decodeBody(t, resp, &unread)
	if unread.Unread != 1 {
		t.Fatalf("expected 1 unread for bob, got %d", unread.Unread)
	}

	resp = request(t, srv, http.MethodPost, "/read-receipt", "bob", map[string]string{"messageId": sent.ID})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("read receipt: expected 200, got %d", resp.StatusCode)
	}
	resp = request(t, srv, http.MethodGet, "/messages/unread?threadId="+threadID, "bob", nil)
	decodeBody(t, resp, &unread)
	if unread.Unread != 0 {
		t.Fatalf("expected 0 unread after receipt, got %d", unread.Unread)
	}

	// Only the sender may delete for everyone.
	resp = request(t, srv, http.MethodDelete, "/messages/"+sent.ID+"?forEveryone=true", "bob", nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-sender delete: expected 403, got %d", resp.StatusCode)
	}
	resp = request(t, srv, http.MethodDelete, "/messages/"+sent.ID+"?forEveryone=true", "alice", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sender delete: expected 200, got %d", resp.StatusCode)
	}

	history.Messages = nil
	resp = request(t, srv, http.MethodGet, "/messages?threadId="+threadID, "bob", nil)
	decodeBody(t, resp, &history)
	if len(history.Messages) != 1 || !history.Messages[0].Deleted {
		t.Fatalf("expected tombstone in history: %+v", history.Messages)
	}
	if history.Messages[0].Content != "" || history.Messages[0].WrappedKey != "" {
		t.Fatalf("tombstone leaked ciphertext")
	}
}

func TestForeignThreadIsForbidden(t *testing.T) {
	alice, bob, mallory := uuid.New(), uuid.New(), uuid.New()
	srv := setupServer(t, tokenTable{"alice": alice, "bob": bob, "mallory": mallory})

	var created struct {
		Thread struct {
			ID string `json:"id"`
		} `json:"thread"`
	}
	resp := request(t, srv, http.MethodPost, "/thread", "alice", map[string]string{"friendId": bob.String()})
	decodeBody(t, resp, &created)

	resp = request(t, srv, http.MethodGet, "/messages?threadId="+created.Thread.ID, "mallory", nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("outsider history: expected 403, got %d", resp.StatusCode)
	}

	resp = request(t, srv, http.MethodPost, "/send-encrypted", "mallory", map[string]any{
		"threadId": created.Thread.ID,
		"content":  "x",
		"metadata": map[string]any{"type": "text"},
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("outsider send: expected 403, got %d", resp.StatusCode)
	}

	resp = request(t, srv, http.MethodPost, "/thread", "alice", map[string]string{"friendId": alice.String()})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("self thread: expected 400, got %d", resp.StatusCode)
	}
}

func TestFileUploadAndAccess(t *testing.T) {
	alice, bob, mallory := uuid.New(), uuid.New(), uuid.New()
	srv := setupServer(t, tokenTable{"alice": alice, "bob": bob, "mallory": mallory})

	var file struct {
		ID string `json:"id"`
	}
	resp := request(t, srv, http.MethodPost, "/files/upload", "alice", map[string]any{
		"filename":         "blob-1",
		"originalName":     "photo.jpg",
		"encryptedContent": "b64-encrypted-bytes",
		"encryptionKey":    "b64-wrapped-key",
		"iv":               "b64-iv",
		"mimeType":         "image/jpeg",
		"size":             int64(4096),
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload: expected 201, got %d", resp.StatusCode)
	}
	decodeBody(t, resp, &file)

	// The owner can always fetch their own upload.
	resp = request(t, srv, http.MethodGet, "/files/"+file.ID, "alice", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("owner fetch: expected 200, got %d", resp.StatusCode)
	}

	// Unreferenced files stay private to the uploader.
	resp = request(t, srv, http.MethodGet, "/files/"+file.ID, "mallory", nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("outsider fetch: expected 403, got %d", resp.StatusCode)
	}

	// Referencing the file from a shared thread grants the peer access.
	var created struct {
		Thread struct {
			ID string `json:"id"`
		} `json:"thread"`
	}
	resp = request(t, srv, http.MethodPost, "/thread", "alice", map[string]string{"friendId": bob.String()})
	decodeBody(t, resp, &created)
	resp = request(t, srv, http.MethodPost, "/send-encrypted", "alice", map[string]any{
		"threadId": created.Thread.ID,
		"content":  "b64-file-notice",
		"metadata": map[string]any{
			"type":   "file",
			"fileId": file.ID,
			"encryption": map[string]string{
				"wrappedKey": "b64-wrapped-key",
				"iv":         "b64-iv",
				"algorithm":  "AES-GCM",
			},
		},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("file message: expected 201, got %d", resp.StatusCode)
	}

	var fetched struct {
		EncryptedContent string `json:"encryptedContent"`
		OriginalName     string `json:"originalName"`
	}
	resp = request(t, srv, http.MethodGet, "/files/"+file.ID, "bob", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("peer fetch: expected 200, got %d", resp.StatusCode)
	}
	decodeBody(t, resp, &fetched)
	if fetched.EncryptedContent != "b64-encrypted-bytes" || fetched.OriginalName != "photo.jpg" {
		t.Fatalf("unexpected file payload: %+v", fetched)
	}
}
