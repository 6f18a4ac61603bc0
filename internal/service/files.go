package service

import (
	"context"
	"errors"
	"fmt"

	"securechat/internal/domain"
	"securechat/internal/store"

	"github.com/google/uuid"
)

const (
	// MaxFileBytes caps the raw (pre-encryption) payload at 10MB.
	MaxFileBytes = 10 << 20
	// MaxEncodedFileBytes is the matching cap on the base64 ciphertext,
	// roughly 13.3MB.
	MaxEncodedFileBytes = (MaxFileBytes + 2) / 3 * 4
)

type UploadFileInput struct {
	Filename     string
	OriginalName string
	Content      string // base64 ciphertext
	WrappedKey   string
	IV           string
	MimeType     string
	Size         int64 // raw payload size as reported by the client
}

// UploadFile persists an opaque encrypted blob. Both the declared raw size
// and the encoded payload are bounded; uploads sit outside the realtime hot
// path by design.
func (s *Service) UploadFile(ctx context.Context, in UploadFileInput, ownerID uuid.UUID) (*domain.EncryptedFile, error) {
	if in.Content == "" || in.WrappedKey == "" || in.IV == "" {
		return nil, fmt.Errorf("%w: missing file payload or wrapping metadata", domain.ErrInvalidRequest)
	}
	if in.Size <= 0 {
		return nil, fmt.Errorf("%w: missing file size", domain.ErrInvalidRequest)
	}
	if in.Size > MaxFileBytes {
		return nil, fmt.Errorf("%w: file exceeds %d bytes", domain.ErrInvalidRequest, MaxFileBytes)
	}
	if int64(len(in.Content)) > MaxEncodedFileBytes {
		return nil, fmt.Errorf("%w: encoded payload exceeds %d bytes", domain.ErrInvalidRequest, MaxEncodedFileBytes)
	}

	file := &domain.EncryptedFile{
		ID:           uuid.New(),
		OwnerID:      ownerID,
		Filename:     in.Filename,
		OriginalName: in.OriginalName,
		Ciphertext:   []byte(in.Content),
		WrappedKey:   in.WrappedKey,
		IV:           in.IV,
		MimeType:     in.MimeType,
		Size:         in.Size,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.Files().Create(ctx, file); err != nil {
		return nil, err
	}
	return file, nil
}

// GetFile serves ciphertext plus wrapping metadata. Readable by the uploader
// and by participants of any thread whose messages reference the file.
func (s *Service) GetFile(ctx context.Context, fileID, requesterID uuid.UUID) (*domain.EncryptedFile, error) {
	file, err := s.store.Files().Get(ctx, fileID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: file", domain.ErrNotFound)
		}
		return nil, err
	}
	if file.OwnerID == requesterID {
		return file, nil
	}
	referenced, err := s.store.Threads().ReferencesFile(ctx, fileID, requesterID)
	if err != nil {
		return nil, err
	}
	if !referenced {
		return nil, fmt.Errorf("%w: no access to file", domain.ErrForbidden)
	}
	return file, nil
}
