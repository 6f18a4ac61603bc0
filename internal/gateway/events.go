package gateway

import (
	"time"

	"securechat/internal/domain"

	"github.com/google/uuid"
)

// Server→client frame types.
const (
	FrameConnected      = "connected"
	FrameMessage        = "message"
	FrameTyping         = "typing"
	FrameReadReceipt    = "read_receipt"
	FrameMessageDeleted = "message_deleted"
)

// Client→server frame types.
const (
	FramePing = "ping"
)

// CloseUnauthorized is the documented close code sent when the handshake
// token is missing, invalid, or expired. Connections closed with it are never
// registered.
const CloseUnauthorized = 4401

type connectedFrame struct {
	Type string `json:"type"`
}

type messageFrame struct {
	Type    string      `json:"type"`
	Message messageBody `json:"message"`
}

type messageBody struct {
	ID          uuid.UUID          `json:"id"`
	ThreadID    uuid.UUID          `json:"threadId"`
	SenderID    uuid.UUID          `json:"senderId"`
	Content     string             `json:"content"`
	WrappedKey  string             `json:"wrappedKey,omitempty"`
	IV          string             `json:"iv,omitempty"`
	Algorithm   string             `json:"algorithm,omitempty"`
	MessageType domain.MessageType `json:"messageType"`
	FileID      *uuid.UUID         `json:"fileId,omitempty"`
	CreatedAt   time.Time          `json:"createdAt"`
}

type typingFrame struct {
	Type     string    `json:"type"`
	ThreadID uuid.UUID `json:"threadId"`
	UserID   uuid.UUID `json:"userId"`
	IsTyping bool      `json:"isTyping"`
}

type readReceiptFrame struct {
	Type      string    `json:"type"`
	MessageID uuid.UUID `json:"messageId"`
	UserID    uuid.UUID `json:"userId"`
}

type messageDeletedFrame struct {
	Type      string    `json:"type"`
	MessageID uuid.UUID `json:"messageId"`
}

// inboundFrame is the superset of everything a client may send over the
// socket. Unknown types are ignored.
type inboundFrame struct {
	Type     string    `json:"type"`
	ThreadID uuid.UUID `json:"threadId"`
	IsTyping bool      `json:"isTyping"`
}
