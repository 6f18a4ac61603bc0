package cryptobox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rsa"
	"crypto/sha256"
)

const (
	// AlgorithmAESGCM is the algorithm tag carried in every envelope.
	AlgorithmAESGCM = "AES-GCM"

	rsaKeyBits = 2048
	aesKeyLen  = 32 // AES-256
	gcmIVLen   = 12 // 96-bit IV
)

// Provider abstracts the primitive operations so any vetted AES-GCM /
// RSA-OAEP implementation can back the engine. The default is the standard
// library; nothing here hand-rolls a primitive.
type Provider interface {
	GenerateKeyPair() (*rsa.PrivateKey, error)
	WrapKey(key []byte, recipient *rsa.PublicKey) ([]byte, error)
	UnwrapKey(wrapped []byte, priv *rsa.PrivateKey) ([]byte, error)
	Encrypt(plaintext, key, iv []byte) ([]byte, error)
	Decrypt(ciphertext, key, iv []byte) ([]byte, error)
}

// StdProvider implements Provider with crypto/rsa and crypto/aes.
type StdProvider struct{}

func (StdProvider) GenerateKeyPair() (*rsa.PrivateKey, error) {
	return rsa.GenerateKey(randomSource(), rsaKeyBits)
}

func (StdProvider) WrapKey(key []byte, recipient *rsa.PublicKey) ([]byte, error) {
	return rsa.EncryptOAEP(sha256.New(), randomSource(), recipient, key, nil)
}

func (StdProvider) UnwrapKey(wrapped []byte, priv *rsa.PrivateKey) ([]byte, error) {
	key, err := rsa.DecryptOAEP(sha256.New(), nil, priv, wrapped, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return key, nil
}

func (StdProvider) Encrypt(plaintext, key, iv []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, iv, plaintext, nil), nil
}

func (StdProvider) Decrypt(ciphertext, key, iv []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != aesKeyLen {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, ErrInvalidKey
	}
	return cipher.NewGCM(block)
}
