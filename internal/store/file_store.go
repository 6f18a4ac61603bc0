package store

import (
	"context"

	"securechat/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type FileStore struct{ db *gorm.DB }

func (s *Store) Files() *FileStore { return &FileStore{db: s.DB} }

func (f *FileStore) Create(ctx context.Context, file *domain.EncryptedFile) error {
	return f.db.WithContext(ctx).Create(file).Error
}

func (f *FileStore) Get(ctx context.Context, id uuid.UUID) (*domain.EncryptedFile, error) {
	var file domain.EncryptedFile
	if err := f.db.WithContext(ctx).First(&file, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &file, nil
}
