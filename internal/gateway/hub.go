// Package gateway is the realtime push side of the chat service: it
// authenticates websocket connections, keeps the per-user connection
// registry, fans events out, and detects dead peers.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"securechat/internal/auth"
	"securechat/internal/domain"
	"securechat/internal/observability/metrics"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const authTimeout = 5 * time.Second

// TypingFunc validates and re-broadcasts a typing signal received over the
// socket. Wired to the chat service at startup.
type TypingFunc func(ctx context.Context, threadID, userID uuid.UUID, isTyping bool) error

type delivery struct {
	targets []uuid.UUID
	except  uuid.UUID
	payload []byte
}

type countRequest struct {
	userID uuid.UUID
	reply  chan int
}

// Hub owns the connection registry. All registry state is confined to the
// Run goroutine and mutated only through its channels, so concurrent
// connect/disconnect/delivery never race.
type Hub struct {
	verifier auth.Verifier
	typing   TypingFunc

	clients    map[uuid.UUID]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	deliveries chan delivery
	counts     chan countRequest
	shutdown   chan struct{}

	upgrader websocket.Upgrader
}

func NewHub(verifier auth.Verifier) *Hub {
	return &Hub{
		verifier:   verifier,
		clients:    make(map[uuid.UUID]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		deliveries: make(chan delivery, 256),
		counts:     make(chan countRequest),
		shutdown:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser clients connect cross-origin from the dashboard shell;
			// session tokens, not origins, gate access.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// SetTypingFunc wires the typing validator in after construction.
func (h *Hub) SetTypingFunc(fn TypingFunc) { h.typing = fn }

// Run is the registry actor loop. Start exactly once.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			conns, ok := h.clients[client.userID]
			if !ok {
				conns = make(map[*Client]struct{})
				h.clients[client.userID] = conns
			}
			conns[client] = struct{}{}
			metrics.WSConnections.Inc()
		case client := <-h.unregister:
			h.drop(client)
		case d := <-h.deliveries:
			for _, target := range d.targets {
				if target == d.except {
					continue
				}
				for client := range h.clients[target] {
					if !client.enqueue(d.payload) {
						slog.Warn("dropping slow websocket consumer", "user_id", target)
						h.drop(client)
					}
				}
			}
		case req := <-h.counts:
			req.reply <- len(h.clients[req.userID])
		case <-h.shutdown:
			for _, conns := range h.clients {
				for client := range conns {
					h.drop(client)
				}
			}
			return
		}
	}
}

// drop must only be called from the Run goroutine.
func (h *Hub) drop(client *Client) {
	conns, ok := h.clients[client.userID]
	if _, registered := conns[client]; !ok || !registered {
		return
	}
	delete(conns, client)
	if len(conns) == 0 {
		delete(h.clients, client.userID)
	}
	client.setState(StateClosed)
	close(client.send)
	metrics.WSConnections.Dec()
}

// Shutdown closes every open connection with a going-away frame.
func (h *Hub) Shutdown() { close(h.shutdown) }

// ConnectionCount reports how many open connections a user has. Answered by
// the actor loop, so it is exact at the time of the reply.
func (h *Hub) ConnectionCount(userID uuid.UUID) int {
	req := countRequest{userID: userID, reply: make(chan int, 1)}
	h.counts <- req
	return <-req.reply
}

// ServeWS drives the connection state machine: upgrade (Connecting), token
// verification (Authenticating), then registration and the connected frame
// (Open). Authentication failures close with CloseUnauthorized and the
// connection never touches the registry.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	client := newClient(h, conn)

	client.setState(StateAuthenticating)
	token := r.URL.Query().Get("token")
	if token == "" {
		token = bearerToken(r)
	}

	ctx, cancel := context.WithTimeout(r.Context(), authTimeout)
	session, err := h.verifier.Verify(ctx, token)
	cancel()
	if err != nil || session == nil {
		if err != nil {
			slog.Warn("websocket session verification errored", "error", err)
		}
		closeWith(conn, CloseUnauthorized, "invalid session")
		client.setState(StateClosed)
		return
	}
	client.userID = session.UserID

	h.register <- client
	client.setState(StateOpen)

	go client.writePump()
	go client.readPump()

	if payload, err := json.Marshal(connectedFrame{Type: FrameConnected}); err == nil {
		client.enqueue(payload)
	}
	slog.Info("websocket connected", "user_id", client.userID)
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(writeWait)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = conn.Close()
}

// PushToUser queues a frame for every open connection of one user.
func (h *Hub) PushToUser(userID uuid.UUID, payload []byte) {
	h.dispatch(delivery{targets: []uuid.UUID{userID}, except: uuid.Nil, payload: payload})
}

func (h *Hub) broadcastToThread(thread *domain.Thread, except uuid.UUID, payload []byte) {
	p := thread.Participants()
	h.dispatch(delivery{targets: p[:], except: except, payload: payload})
}

func (h *Hub) dispatch(d delivery) {
	select {
	case h.deliveries <- d:
	default:
		// Delivery is best-effort: the durable record is already persisted
		// and clients recover missed events from history on reconnect.
		slog.Warn("delivery queue full, dropping push")
	}
}

func (h *Hub) forwardTyping(userID, threadID uuid.UUID, isTyping bool) {
	if h.typing == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), authTimeout)
	defer cancel()
	if err := h.typing(ctx, threadID, userID, isTyping); err != nil {
		slog.Debug("typing forward rejected", "user_id", userID, "error", err)
	}
}

// Events adapts the hub to the chat service's push interface.
type Events struct {
	hub *Hub
}

func NewEvents(hub *Hub) *Events { return &Events{hub: hub} }

func (e *Events) MessageCreated(thread *domain.Thread, msg *domain.Message) {
	frame := messageFrame{
		Type: FrameMessage,
		Message: messageBody{
			ID:          msg.ID,
			ThreadID:    msg.ThreadID,
			SenderID:    msg.SenderID,
			Content:     string(msg.Ciphertext),
			WrappedKey:  msg.WrappedKey,
			IV:          msg.IV,
			Algorithm:   msg.Algorithm,
			MessageType: msg.MessageType,
			FileID:      msg.FileID,
			CreatedAt:   msg.CreatedAt,
		},
	}
	e.send(thread, msg.SenderID, FrameMessage, frame)
}

func (e *Events) MessageRead(thread *domain.Thread, messageID, readerID uuid.UUID) {
	e.send(thread, readerID, FrameReadReceipt, readReceiptFrame{
		Type:      FrameReadReceipt,
		MessageID: messageID,
		UserID:    readerID,
	})
}

func (e *Events) MessageDeleted(thread *domain.Thread, messageID uuid.UUID) {
	e.send(thread, uuid.Nil, FrameMessageDeleted, messageDeletedFrame{
		Type:      FrameMessageDeleted,
		MessageID: messageID,
	})
}

func (e *Events) Typing(thread *domain.Thread, userID uuid.UUID, isTyping bool) {
	e.send(thread, userID, FrameTyping, typingFrame{
		Type:     FrameTyping,
		ThreadID: thread.ID,
		UserID:   userID,
		IsTyping: isTyping,
	})
}

func (e *Events) send(thread *domain.Thread, except uuid.UUID, frameType string, frame any) {
	payload, err := json.Marshal(frame)
	if err != nil {
		slog.Error("marshal push frame", "type", frameType, "error", err)
		return
	}
	metrics.WSEventsTotal.WithLabelValues(frameType).Inc()
	e.hub.broadcastToThread(thread, except, payload)
}
