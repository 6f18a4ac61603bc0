package service

import (
	"context"
	"errors"
	"fmt"

	"securechat/internal/domain"
	"securechat/internal/store"

	"github.com/google/uuid"
)

// StoreKeys upserts a user's public key and encrypted private-key backup.
// One active keypair per user; re-registration overwrites the prior record.
func (s *Service) StoreKeys(ctx context.Context, userID uuid.UUID, publicKey, encryptedPrivateKey string) (*domain.KeyRecord, error) {
	if publicKey == "" || encryptedPrivateKey == "" {
		return nil, fmt.Errorf("%w: missing key material", domain.ErrInvalidRequest)
	}
	record := domain.KeyRecord{
		UserID:              userID,
		PublicKey:           publicKey,
		EncryptedPrivateKey: encryptedPrivateKey,
		CreatedAt:           s.now().UTC(),
	}
	if err := s.store.Keys().Upsert(ctx, record); err != nil {
		return nil, err
	}
	return s.store.Keys().Get(ctx, userID)
}

// OwnKeys returns the caller's full record, including the encrypted
// private-key backup. Owner-only by construction: the id comes from the
// verified session, never from the request.
func (s *Service) OwnKeys(ctx context.Context, userID uuid.UUID) (*domain.KeyRecord, error) {
	record, err := s.store.Keys().Get(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: no keys registered", domain.ErrNotFound)
		}
		return nil, err
	}
	return record, nil
}

// PublicKey returns only the public half of a peer's keypair.
func (s *Service) PublicKey(ctx context.Context, userID uuid.UUID) (string, error) {
	record, err := s.store.Keys().Get(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return "", fmt.Errorf("%w: user has no registered keys", domain.ErrNotFound)
		}
		return "", err
	}
	return record.PublicKey, nil
}
