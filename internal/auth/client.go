package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Client verifies tokens against the external auth service's verify endpoint.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = "http://localhost:8081"
	}
	return &Client{
		baseURL: base,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *Client) Verify(ctx context.Context, token string) (*Session, error) {
	payload := map[string]string{"token": strings.TrimSpace(token)}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/auth/verify", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth verify failed: %s", resp.Status)
	}

	var body struct {
		Valid     bool   `json:"valid"`
		UserID    string `json:"userId"`
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	if !body.Valid {
		return nil, nil
	}

	userID, err := uuid.Parse(body.UserID)
	if err != nil {
		return nil, fmt.Errorf("invalid user id from verify response")
	}
	sessionID, err := uuid.Parse(body.SessionID)
	if err != nil {
		return nil, fmt.Errorf("invalid session id from verify response")
	}
	return &Session{UserID: userID, SessionID: sessionID}, nil
}
