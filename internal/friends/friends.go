// Package friends consumes the external friend-graph collaborator. Thread
// creation asks it whether two users are allowed to message each other.
package friends

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

// Graph answers whether two users may share a direct thread.
type Graph interface {
	IsValidThreadParticipant(ctx context.Context, a, b uuid.UUID) (bool, error)
}

// Client queries the external friend service.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	return &Client{
		baseURL: base,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *Client) IsValidThreadParticipant(ctx context.Context, a, b uuid.UUID) (bool, error) {
	payload := map[string]string{"userA": a.String(), "userB": b.String()}
	data, err := json.Marshal(payload)
	if err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/friends/check", bytes.NewReader(data))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("friend check failed: %s", resp.Status)
	}

	var body struct {
		Valid bool `json:"valid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, err
	}
	return body.Valid, nil
}

// Permissive allows every pair. Used when no friend service is configured.
type Permissive struct{}

func (Permissive) IsValidThreadParticipant(ctx context.Context, a, b uuid.UUID) (bool, error) {
	return a != b, nil
}
