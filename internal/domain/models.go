package domain

import (
	"time"

	"github.com/google/uuid"
)

// MessageType distinguishes plain ciphertext messages from file references.
type MessageType string

const (
	MessageTypeText MessageType = "text"
	MessageTypeFile MessageType = "file"
)

// KeyRecord holds a user's public key and the password-encrypted backup of the
// matching private key. One active record per user; re-registration overwrites.
type KeyRecord struct {
	UserID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	PublicKey           string    `gorm:"type:text;not null"`
	EncryptedPrivateKey string    `gorm:"type:text;not null"`
	CreatedAt           time.Time `gorm:"not null;autoCreateTime"`
	UpdatedAt           time.Time `gorm:"not null;autoUpdateTime"`
}

// Thread is a direct conversation between exactly two users. Participants are
// stored in normalized order (UserLow < UserHigh lexicographically) so the
// unordered pair maps to exactly one row.
type Thread struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserLow   uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_threads_pair,priority:1"`
	UserHigh  uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_threads_pair,priority:2"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
}

// Participants returns both member ids.
func (t Thread) Participants() [2]uuid.UUID {
	return [2]uuid.UUID{t.UserLow, t.UserHigh}
}

// HasParticipant reports whether id is a member of the thread.
func (t Thread) HasParticipant(id uuid.UUID) bool {
	return id == t.UserLow || id == t.UserHigh
}

// Peer returns the other participant. The caller must already be a member.
func (t Thread) Peer(id uuid.UUID) uuid.UUID {
	if id == t.UserLow {
		return t.UserHigh
	}
	return t.UserLow
}

// NormalizePair orders two user ids into the canonical (low, high) form used
// as the thread's unique key.
func NormalizePair(a, b uuid.UUID) (low, high uuid.UUID) {
	if a.String() < b.String() {
		return a, b
	}
	return b, a
}

// Message is a stored ciphertext envelope. The server never sees plaintext:
// Ciphertext and WrappedKey are opaque, immutable once created. Only deletion
// state and receipts evolve after creation.
type Message struct {
	ID                 uuid.UUID   `gorm:"type:uuid;primaryKey"`
	ThreadID           uuid.UUID   `gorm:"type:uuid;not null;index:idx_messages_thread_created,priority:1"`
	SenderID           uuid.UUID   `gorm:"type:uuid;not null"`
	Ciphertext         []byte      `gorm:"type:bytea;not null"`
	WrappedKey         string      `gorm:"type:text;not null"`
	IV                 string      `gorm:"type:text;not null"`
	Algorithm          string      `gorm:"type:text;not null"`
	MessageType        MessageType `gorm:"type:text;not null;default:text"`
	FileID             *uuid.UUID  `gorm:"type:uuid"`
	DeletedForEveryone bool        `gorm:"not null;default:false"`
	CreatedAt          time.Time   `gorm:"not null;index:idx_messages_thread_created,priority:2"`
}

// MessageHide records a per-user "delete for me" marker. Idempotent set-add.
type MessageHide struct {
	MessageID uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID    uuid.UUID `gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
}

// ReadReceipt records that a user has viewed a message. At most one per
// (message, user) pair.
type ReadReceipt struct {
	MessageID uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID    uuid.UUID `gorm:"type:uuid;primaryKey"`
	ReadAt    time.Time `gorm:"not null"`
}

// EncryptedFile is an opaque encrypted blob referenced by file messages.
type EncryptedFile struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	OwnerID      uuid.UUID `gorm:"type:uuid;not null;index"`
	Filename     string    `gorm:"type:text;not null"`
	OriginalName string    `gorm:"type:text;not null"`
	Ciphertext   []byte    `gorm:"type:bytea;not null"`
	WrappedKey   string    `gorm:"type:text;not null"`
	IV           string    `gorm:"type:text;not null"`
	MimeType     string    `gorm:"type:text;not null"`
	Size         int64     `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null;autoCreateTime"`
}
