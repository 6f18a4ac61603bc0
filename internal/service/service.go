package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"securechat/internal/domain"
	"securechat/internal/friends"
	"securechat/internal/store"

	"github.com/google/uuid"
)

const (
	// Content caps are plaintext-equivalent: encrypted payloads get headroom
	// for ciphertext expansion and base64.
	maxPlainContentLen     = 10_000
	maxEncryptedContentLen = 50_000

	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// Events is the push side of the chat service, satisfied by the realtime
// gateway. Persistence and delivery are decoupled: every method is
// fire-and-forget and a failed push never unwinds a stored write.
type Events interface {
	MessageCreated(thread *domain.Thread, msg *domain.Message)
	MessageRead(thread *domain.Thread, messageID, readerID uuid.UUID)
	MessageDeleted(thread *domain.Thread, messageID uuid.UUID)
	Typing(thread *domain.Thread, userID uuid.UUID, isTyping bool)
}

// noopEvents keeps the service usable without a gateway (tests, batch tools).
type noopEvents struct{}

func (noopEvents) MessageCreated(*domain.Thread, *domain.Message)   {}
func (noopEvents) MessageRead(*domain.Thread, uuid.UUID, uuid.UUID) {}
func (noopEvents) MessageDeleted(*domain.Thread, uuid.UUID)         {}
func (noopEvents) Typing(*domain.Thread, uuid.UUID, bool)           {}

type Service struct {
	store  *store.Store
	graph  friends.Graph
	events Events
	now    func() time.Time
}

func New(st *store.Store, graph friends.Graph) *Service {
	if graph == nil {
		graph = friends.Permissive{}
	}
	return &Service{store: st, graph: graph, events: noopEvents{}, now: time.Now}
}

// SetEvents wires the realtime gateway in after construction; the gateway
// itself needs the service's stores, so the two are linked at startup.
func (s *Service) SetEvents(ev Events) {
	if ev != nil {
		s.events = ev
	}
}

// GetOrCreateDirectThread returns the one thread for the unordered user pair,
// creating it on first contact. Symmetric in its arguments.
func (s *Service) GetOrCreateDirectThread(ctx context.Context, userID, friendID uuid.UUID) (*domain.Thread, error) {
	if userID == uuid.Nil || friendID == uuid.Nil {
		return nil, fmt.Errorf("%w: missing participant", domain.ErrInvalidRequest)
	}
	if userID == friendID {
		return nil, fmt.Errorf("%w: cannot open a thread with yourself", domain.ErrInvalidRequest)
	}
	ok, err := s.graph.IsValidThreadParticipant(ctx, userID, friendID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: users are not connected", domain.ErrForbidden)
	}
	return s.store.Threads().GetOrCreate(ctx, userID, friendID)
}

// Threads lists the caller's threads, newest first.
func (s *Service) Threads(ctx context.Context, userID uuid.UUID) ([]domain.Thread, error) {
	return s.store.Threads().ForUser(ctx, userID)
}

// EncryptionMeta mirrors the wire metadata attached to encrypted sends.
type EncryptionMeta struct {
	WrappedKey string
	IV         string
	Algorithm  string
}

type SendMessageInput struct {
	ThreadID   uuid.UUID
	SenderID   uuid.UUID
	Content    string
	Encryption *EncryptionMeta
	Type       domain.MessageType
	FileID     *uuid.UUID
}

// SendMessage validates and persists a message, then hands it to the gateway
// for fan-out. The returned record is the echo-back the sender renders.
func (s *Service) SendMessage(ctx context.Context, in SendMessageInput) (*domain.Message, error) {
	if in.Content == "" {
		return nil, fmt.Errorf("%w: empty content", domain.ErrInvalidRequest)
	}
	limit := maxPlainContentLen
	if in.Encryption != nil {
		limit = maxEncryptedContentLen
	}
	if len(in.Content) > limit {
		return nil, fmt.Errorf("%w: content exceeds %d characters", domain.ErrInvalidRequest, limit)
	}

	thread, err := s.store.Threads().Get(ctx, in.ThreadID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: thread", domain.ErrNotFound)
		}
		return nil, err
	}
	if !thread.HasParticipant(in.SenderID) {
		return nil, fmt.Errorf("%w: sender is not a thread participant", domain.ErrForbidden)
	}

	msgType := in.Type
	if msgType == "" {
		msgType = domain.MessageTypeText
	}
	if msgType != domain.MessageTypeText && msgType != domain.MessageTypeFile {
		return nil, fmt.Errorf("%w: unknown message type %q", domain.ErrInvalidRequest, msgType)
	}
	if msgType == domain.MessageTypeFile && in.FileID == nil {
		return nil, fmt.Errorf("%w: file message without fileId", domain.ErrInvalidRequest)
	}

	msg := &domain.Message{
		ID:          uuid.New(),
		ThreadID:    thread.ID,
		SenderID:    in.SenderID,
		Ciphertext:  []byte(in.Content),
		MessageType: msgType,
		FileID:      in.FileID,
		CreatedAt:   s.now().UTC(),
	}
	if in.Encryption != nil {
		msg.WrappedKey = in.Encryption.WrappedKey
		msg.IV = in.Encryption.IV
		msg.Algorithm = in.Encryption.Algorithm
	}

	if err := s.store.Messages().Create(ctx, msg); err != nil {
		return nil, err
	}
	s.events.MessageCreated(thread, msg)
	return msg, nil
}

// MessageView is one history entry as served to a particular viewer.
// Tombstoned messages keep their position but carry no content.
type MessageView struct {
	ID          uuid.UUID          `json:"id"`
	ThreadID    uuid.UUID          `json:"threadId"`
	SenderID    uuid.UUID          `json:"senderId"`
	Content     string             `json:"content"`
	WrappedKey  string             `json:"wrappedKey,omitempty"`
	IV          string             `json:"iv,omitempty"`
	Algorithm   string             `json:"algorithm,omitempty"`
	MessageType domain.MessageType `json:"messageType"`
	FileID      *uuid.UUID         `json:"fileId,omitempty"`
	Deleted     bool               `json:"deleted"`
	CreatedAt   time.Time          `json:"createdAt"`
}

func viewOf(m domain.Message) MessageView {
	v := MessageView{
		ID:          m.ID,
		ThreadID:    m.ThreadID,
		SenderID:    m.SenderID,
		MessageType: m.MessageType,
		Deleted:     m.DeletedForEveryone,
		CreatedAt:   m.CreatedAt,
	}
	if !m.DeletedForEveryone {
		v.Content = string(m.Ciphertext)
		v.WrappedKey = m.WrappedKey
		v.IV = m.IV
		v.Algorithm = m.Algorithm
		v.FileID = m.FileID
	}
	return v
}

// History returns a page of a thread's messages for the viewer. The offset
// counts back from the newest message; the page itself is oldest-first since
// clients order by server timestamp anyway.
func (s *Service) History(ctx context.Context, threadID, viewerID uuid.UUID, limit, offset int) ([]MessageView, error) {
	thread, err := s.store.Threads().Get(ctx, threadID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: thread", domain.ErrNotFound)
		}
		return nil, err
	}
	if !thread.HasParticipant(viewerID) {
		return nil, fmt.Errorf("%w: not a thread participant", domain.ErrForbidden)
	}

	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}

	msgs, err := s.store.Messages().Page(ctx, threadID, viewerID, limit, offset)
	if err != nil {
		return nil, err
	}

	views := make([]MessageView, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		views = append(views, viewOf(msgs[i]))
	}
	return views, nil
}

// MarkAsRead records a read receipt. Idempotent: repeats are no-ops and do
// not re-broadcast.
func (s *Service) MarkAsRead(ctx context.Context, messageID, userID uuid.UUID) error {
	msg, err := s.store.Messages().Get(ctx, messageID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return fmt.Errorf("%w: message", domain.ErrNotFound)
		}
		return err
	}
	thread, err := s.store.Threads().Get(ctx, msg.ThreadID)
	if err != nil {
		return err
	}
	if !thread.HasParticipant(userID) {
		return fmt.Errorf("%w: not a thread participant", domain.ErrForbidden)
	}

	created, err := s.store.Receipts().Insert(ctx, messageID, userID, s.now().UTC())
	if err != nil {
		return err
	}
	if created {
		s.events.MessageRead(thread, messageID, userID)
	}
	return nil
}

// DeleteMessage applies "delete for me" (a per-user hide) or, for the sender
// only, "delete for everyone" (a tombstone). Both are irreversible.
func (s *Service) DeleteMessage(ctx context.Context, messageID, userID uuid.UUID, forEveryone bool) error {
	msg, err := s.store.Messages().Get(ctx, messageID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return fmt.Errorf("%w: message", domain.ErrNotFound)
		}
		return err
	}
	thread, err := s.store.Threads().Get(ctx, msg.ThreadID)
	if err != nil {
		return err
	}
	if !thread.HasParticipant(userID) {
		return fmt.Errorf("%w: not a thread participant", domain.ErrForbidden)
	}

	if !forEveryone {
		return s.store.Messages().Hide(ctx, messageID, userID)
	}

	if msg.SenderID != userID {
		return fmt.Errorf("%w: only the sender can delete for everyone", domain.ErrForbidden)
	}
	if err := s.store.Messages().Tombstone(ctx, messageID); err != nil {
		return err
	}
	s.events.MessageDeleted(thread, messageID)
	return nil
}

// UpdateTyping forwards an ephemeral typing signal to the gateway. Nothing is
// persisted; last write wins and clients time the indicator out on their own.
func (s *Service) UpdateTyping(ctx context.Context, threadID, userID uuid.UUID, isTyping bool) error {
	thread, err := s.store.Threads().Get(ctx, threadID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return fmt.Errorf("%w: thread", domain.ErrNotFound)
		}
		return err
	}
	if !thread.HasParticipant(userID) {
		return fmt.Errorf("%w: not a thread participant", domain.ErrForbidden)
	}
	s.events.Typing(thread, userID, isTyping)
	return nil
}

// UnreadCount reports how many messages from the peer the user has not
// receipted in a thread.
func (s *Service) UnreadCount(ctx context.Context, threadID, userID uuid.UUID) (int64, error) {
	thread, err := s.store.Threads().Get(ctx, threadID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return 0, fmt.Errorf("%w: thread", domain.ErrNotFound)
		}
		return 0, err
	}
	if !thread.HasParticipant(userID) {
		return 0, fmt.Errorf("%w: not a thread participant", domain.ErrForbidden)
	}
	return s.store.Messages().UnreadCount(ctx, threadID, userID)
}
