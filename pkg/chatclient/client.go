// Package chatclient is the client-side counterpart of the chat server. It
// owns the keypair, registers key material, encrypts outgoing messages for a
// peer, and decrypts inbound envelopes. All cryptography happens here; the
// server only ever sees the opaque results.
package chatclient

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"securechat/pkg/cryptobox"

	"github.com/google/uuid"
)

const httpTimeout = 10 * time.Second

// Client holds one user's session token and private key. The private key
// never leaves the struct except as a password-encrypted backup.
type Client struct {
	baseURL string
	token   string
	http    *http.Client

	engine  *cryptobox.Engine
	priv    *rsa.PrivateKey
	pubKeys map[uuid.UUID]*rsa.PublicKey // peer public key cache
}

func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:   token,
		http:    &http.Client{Timeout: httpTimeout},
		engine:  cryptobox.New(),
		pubKeys: make(map[uuid.UUID]*rsa.PublicKey),
	}
}

// PrivateKey exposes the loaded key for decrypting history entries.
func (c *Client) PrivateKey() *rsa.PrivateKey { return c.priv }

// RegisterKeys generates a fresh keypair, uploads the public half plus a
// password-encrypted private-key backup, and keeps the private key local.
// The password is independent of the session credential.
func (c *Client) RegisterKeys(ctx context.Context, backupPassword string) error {
	priv, err := c.engine.GenerateKeyPair()
	if err != nil {
		return fmt.Errorf("generate keypair: %w", err)
	}
	pubPEM, err := cryptobox.EncodePublicKey(&priv.PublicKey)
	if err != nil {
		return err
	}
	backup, err := c.engine.ExportEncryptedPrivateKey(priv, backupPassword)
	if err != nil {
		return fmt.Errorf("export private key: %w", err)
	}
	backupJSON, err := json.Marshal(backup)
	if err != nil {
		return err
	}

	body := map[string]string{
		"publicKey":           pubPEM,
		"encryptedPrivateKey": string(backupJSON),
	}
	if err := c.postJSON(ctx, "/keys", body, nil); err != nil {
		return err
	}
	c.priv = priv
	return nil
}

// RestoreKeys pulls the owner's backup from the server and decrypts it with
// the backup password, recovering the private key on a new device.
func (c *Client) RestoreKeys(ctx context.Context, backupPassword string) error {
	var record struct {
		EncryptedPrivateKey string `json:"encryptedPrivateKey"`
	}
	if err := c.getJSON(ctx, "/keys/my", &record); err != nil {
		return err
	}
	var backup cryptobox.PrivateKeyBackup
	if err := json.Unmarshal([]byte(record.EncryptedPrivateKey), &backup); err != nil {
		return fmt.Errorf("malformed key backup: %w", err)
	}
	priv, err := c.engine.ImportEncryptedPrivateKey(backup, backupPassword)
	if err != nil {
		return err
	}
	c.priv = priv
	return nil
}

// PeerPublicKey fetches and caches a peer's public key from the registry.
func (c *Client) PeerPublicKey(ctx context.Context, peerID uuid.UUID) (*rsa.PublicKey, error) {
	if pub, ok := c.pubKeys[peerID]; ok {
		return pub, nil
	}
	var resp struct {
		PublicKey string `json:"publicKey"`
	}
	if err := c.getJSON(ctx, "/keys/"+peerID.String(), &resp); err != nil {
		return nil, err
	}
	pub, err := cryptobox.DecodePublicKey(resp.PublicKey)
	if err != nil {
		return nil, err
	}
	c.pubKeys[peerID] = pub
	return pub, nil
}

// OpenThread returns the direct thread with a friend, creating it on first
// contact. Symmetric between the two users.
func (c *Client) OpenThread(ctx context.Context, friendID uuid.UUID) (uuid.UUID, error) {
	var resp struct {
		Thread struct {
			ID string `json:"id"`
		} `json:"thread"`
	}
	if err := c.postJSON(ctx, "/thread", map[string]string{"friendId": friendID.String()}, &resp); err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(resp.Thread.ID)
}

// SentMessage is the server's echo of a stored message.
type SentMessage struct {
	ID        uuid.UUID `json:"id"`
	ThreadID  uuid.UUID `json:"threadId"`
	CreatedAt time.Time `json:"createdAt"`
}

// SendText encrypts plaintext for the peer and posts it to the thread.
func (c *Client) SendText(ctx context.Context, threadID, peerID uuid.UUID, plaintext string) (SentMessage, error) {
	pub, err := c.PeerPublicKey(ctx, peerID)
	if err != nil {
		return SentMessage{}, err
	}
	env, err := c.engine.EncryptMessage(plaintext, pub)
	if err != nil {
		return SentMessage{}, err
	}

	req := map[string]any{
		"threadId": threadID.String(),
		"content":  env.Ciphertext,
		"metadata": map[string]any{
			"type": "text",
			"encryption": map[string]string{
				"wrappedKey": env.WrappedKey,
				"iv":         env.IV,
				"algorithm":  env.Algorithm,
			},
		},
	}
	var sent SentMessage
	if err := c.postJSON(ctx, "/send-encrypted", req, &sent); err != nil {
		return SentMessage{}, err
	}
	return sent, nil
}

// InboundMessage is a message frame or history entry to decrypt locally.
type InboundMessage struct {
	ID         uuid.UUID `json:"id"`
	ThreadID   uuid.UUID `json:"threadId"`
	SenderID   uuid.UUID `json:"senderId"`
	Content    string    `json:"content"`
	WrappedKey string    `json:"wrappedKey"`
	IV         string    `json:"iv"`
	Algorithm  string    `json:"algorithm"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Decrypt opens an inbound message with the local private key. Failures are
// local-only: render a placeholder, never send anything back.
func (c *Client) Decrypt(msg InboundMessage) (string, error) {
	if c.priv == nil {
		return "", errors.New("chatclient: no private key loaded")
	}
	return c.engine.DecryptMessage(cryptobox.Envelope{
		Ciphertext: msg.Content,
		WrappedKey: msg.WrappedKey,
		IV:         msg.IV,
		Algorithm:  msg.Algorithm,
	}, c.priv)
}

// MarkAsRead posts a read receipt for a message.
func (c *Client) MarkAsRead(ctx context.Context, messageID uuid.UUID) error {
	return c.postJSON(ctx, "/read-receipt", map[string]string{"messageId": messageID.String()}, nil)
}

// History fetches a page of thread messages for local decryption.
func (c *Client) History(ctx context.Context, threadID uuid.UUID, limit, offset int) ([]InboundMessage, error) {
	path := fmt.Sprintf("/messages?threadId=%s&limit=%d&offset=%d", threadID, limit, offset)
	var resp struct {
		Messages []InboundMessage `json:"messages"`
	}
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(resp.Body)
		msg := strings.TrimSpace(string(data))
		if msg == "" {
			msg = resp.Status
		}
		return fmt.Errorf("chatclient: %s %s: %s", req.Method, req.URL.Path, msg)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
