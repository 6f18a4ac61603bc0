package store

import (
	"context"
	"errors"

	"securechat/internal/domain"

	"gorm.io/gorm"
)

// ErrRecordNotFound is returned by lookups that match no row. Callers compare
// with errors.Is instead of depending on gorm directly.
var ErrRecordNotFound = errors.New("store: record not found")

type Store struct {
	DB *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{DB: db}
}

func (s *Store) AutoMigrate(ctx context.Context) error {
	return s.DB.WithContext(ctx).AutoMigrate(
		&domain.KeyRecord{},
		&domain.Thread{},
		&domain.Message{},
		&domain.MessageHide{},
		&domain.ReadReceipt{},
		&domain.EncryptedFile{},
	)
}

// WithTx runs fn inside a transaction, handing it a Store bound to the tx.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Store) error) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{DB: tx})
	})
}
