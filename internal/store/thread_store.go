package store

import (
	"context"

	"securechat/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ThreadStore struct{ db *gorm.DB }

func (s *Store) Threads() *ThreadStore { return &ThreadStore{db: s.DB} }

// GetOrCreate returns the thread for the unordered (a, b) pair, creating it on
// first use. The unique (user_low, user_high) index plus OnConflict DoNothing
// makes concurrent creation converge on one row.
func (t *ThreadStore) GetOrCreate(ctx context.Context, a, b uuid.UUID) (*domain.Thread, error) {
	low, high := domain.NormalizePair(a, b)

	thread := domain.Thread{ID: uuid.New(), UserLow: low, UserHigh: high}
	if err := t.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_low"}, {Name: "user_high"}},
			DoNothing: true,
		}).
		Create(&thread).Error; err != nil {
		return nil, err
	}

	var existing domain.Thread
	if err := t.db.WithContext(ctx).
		First(&existing, "user_low = ? AND user_high = ?", low, high).Error; err != nil {
		return nil, err
	}
	return &existing, nil
}

func (t *ThreadStore) Get(ctx context.Context, id uuid.UUID) (*domain.Thread, error) {
	var thread domain.Thread
	if err := t.db.WithContext(ctx).First(&thread, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &thread, nil
}

// ForUser lists every thread the user participates in, newest first.
func (t *ThreadStore) ForUser(ctx context.Context, userID uuid.UUID) ([]domain.Thread, error) {
	var threads []domain.Thread
	if err := t.db.WithContext(ctx).
		Where("user_low = ? OR user_high = ?", userID, userID).
		Order("created_at DESC").
		Find(&threads).Error; err != nil {
		return nil, err
	}
	return threads, nil
}

// ReferencesFile reports whether any message in a thread involving userID
// points at the given file. Used for file download access control.
func (t *ThreadStore) ReferencesFile(ctx context.Context, fileID, userID uuid.UUID) (bool, error) {
	var count int64
	err := t.db.WithContext(ctx).
		Model(&domain.Message{}).
		Joins("JOIN threads ON threads.id = messages.thread_id").
		Where("messages.file_id = ? AND (threads.user_low = ? OR threads.user_high = ?)", fileID, userID, userID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
