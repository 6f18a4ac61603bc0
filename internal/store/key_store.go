package store

import (
	"context"

	"securechat/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type KeyStore struct{ db *gorm.DB }

func (s *Store) Keys() *KeyStore { return &KeyStore{db: s.DB} }

// Upsert overwrites any prior record for the user. Single active keypair
// policy: re-registration replaces both the public key and the backup.
func (k *KeyStore) Upsert(ctx context.Context, record domain.KeyRecord) error {
	return k.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"public_key":            record.PublicKey,
				"encrypted_private_key": record.EncryptedPrivateKey,
			}),
		}).
		Create(&record).Error
}

func (k *KeyStore) Get(ctx context.Context, userID uuid.UUID) (*domain.KeyRecord, error) {
	var record domain.KeyRecord
	if err := k.db.WithContext(ctx).First(&record, "user_id = ?", userID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &record, nil
}
