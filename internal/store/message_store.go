package store

import (
	"context"
	"time"

	"securechat/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type MessageStore struct{ db *gorm.DB }

func (s *Store) Messages() *MessageStore { return &MessageStore{db: s.DB} }

func (m *MessageStore) Create(ctx context.Context, msg *domain.Message) error {
	return m.db.WithContext(ctx).Create(msg).Error
}

func (m *MessageStore) Get(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	var msg domain.Message
	if err := m.db.WithContext(ctx).First(&msg, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &msg, nil
}

// Page returns a window of a thread's messages for one viewer, newest first.
// Messages the viewer deleted for themselves are excluded entirely; messages
// deleted for everyone are still returned so the caller can tombstone them.
func (m *MessageStore) Page(ctx context.Context, threadID, viewerID uuid.UUID, limit, offset int) ([]domain.Message, error) {
	var msgs []domain.Message
	tx := m.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Where("NOT EXISTS (SELECT 1 FROM message_hides WHERE message_hides.message_id = messages.id AND message_hides.user_id = ?)", viewerID).
		Order("created_at DESC, id DESC").
		Offset(offset)
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if err := tx.Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// Hide adds a per-user deletion marker. Safe to retry.
func (m *MessageStore) Hide(ctx context.Context, messageID, userID uuid.UUID) error {
	hide := domain.MessageHide{MessageID: messageID, UserID: userID}
	return m.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&hide).Error
}

// HiddenFor reports whether userID has deleted the message for themselves.
func (m *MessageStore) HiddenFor(ctx context.Context, messageID, userID uuid.UUID) (bool, error) {
	var count int64
	err := m.db.WithContext(ctx).
		Model(&domain.MessageHide{}).
		Where("message_id = ? AND user_id = ?", messageID, userID).
		Count(&count).Error
	return count > 0, err
}

// Tombstone marks a message deleted for everyone. The ciphertext row stays so
// receipts and ordering survive, but content is no longer served.
func (m *MessageStore) Tombstone(ctx context.Context, messageID uuid.UUID) error {
	return m.db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("id = ?", messageID).
		Update("deleted_for_everyone", true).Error
}

// UnreadCount counts messages in a thread sent by others that the user has not
// receipted yet.
func (m *MessageStore) UnreadCount(ctx context.Context, threadID, userID uuid.UUID) (int64, error) {
	var count int64
	err := m.db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("thread_id = ? AND sender_id <> ? AND deleted_for_everyone = ?", threadID, userID, false).
		Where("NOT EXISTS (SELECT 1 FROM read_receipts WHERE read_receipts.message_id = messages.id AND read_receipts.user_id = ?)", userID).
		Where("NOT EXISTS (SELECT 1 FROM message_hides WHERE message_hides.message_id = messages.id AND message_hides.user_id = ?)", userID).
		Count(&count).Error
	return count, err
}

type ReceiptStore struct{ db *gorm.DB }

func (s *Store) Receipts() *ReceiptStore { return &ReceiptStore{db: s.DB} }

// Insert records a read receipt. Returns true when the receipt is new; a
// repeat for the same (message, user) pair is a no-op returning false.
func (r *ReceiptStore) Insert(ctx context.Context, messageID, userID uuid.UUID, at time.Time) (bool, error) {
	receipt := domain.ReadReceipt{MessageID: messageID, UserID: userID, ReadAt: at}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&receipt)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *ReceiptStore) ForMessage(ctx context.Context, messageID uuid.UUID) ([]domain.ReadReceipt, error) {
	var receipts []domain.ReadReceipt
	if err := r.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		Order("read_at ASC").
		Find(&receipts).Error; err != nil {
		return nil, err
	}
	return receipts, nil
}
