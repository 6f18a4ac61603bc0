// Package cryptobox implements the client-resident hybrid encryption scheme:
// a fresh AES-256-GCM key per payload, wrapped under the recipient's RSA-OAEP
// public key. The server only ever handles the resulting opaque envelopes.
package cryptobox

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"

	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 210_000
	pbkdf2SaltLen    = 16
)

// Envelope is one encrypted payload plus the metadata a recipient needs to
// open it. All fields are base64; exactly one wrapped key per envelope
// (single-recipient scheme).
type Envelope struct {
	Ciphertext string `json:"ciphertext"`
	WrappedKey string `json:"wrappedKey"`
	IV         string `json:"iv"`
	Algorithm  string `json:"algorithm"`
}

// PrivateKeyBackup is a password-encrypted export of a private key, safe to
// store server-side. The password never leaves the client.
type PrivateKeyBackup struct {
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
	Salt       string `json:"salt"`
	Iterations int    `json:"iterations"`
}

type Engine struct {
	provider Provider
}

func New() *Engine { return &Engine{provider: StdProvider{}} }

// NewWithProvider builds an engine on a caller-supplied primitive provider.
func NewWithProvider(p Provider) *Engine { return &Engine{provider: p} }

func (e *Engine) GenerateKeyPair() (*rsa.PrivateKey, error) {
	return e.provider.GenerateKeyPair()
}

// Encrypt seals an arbitrary payload for the recipient: fresh AES key and IV
// per call, AES key wrapped under the recipient's public key. Used for both
// text messages and file contents.
func (e *Engine) Encrypt(plaintext []byte, recipient *rsa.PublicKey) (Envelope, error) {
	if recipient == nil {
		return Envelope{}, ErrInvalidKey
	}
	key := make([]byte, aesKeyLen)
	if err := readRandom(key); err != nil {
		return Envelope{}, err
	}
	iv := make([]byte, gcmIVLen)
	if err := readRandom(iv); err != nil {
		return Envelope{}, err
	}

	ciphertext, err := e.provider.Encrypt(plaintext, key, iv)
	if err != nil {
		return Envelope{}, err
	}
	wrapped, err := e.provider.WrapKey(key, recipient)
	if err != nil {
		return Envelope{}, err
	}

	return Envelope{
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		WrappedKey: base64.StdEncoding.EncodeToString(wrapped),
		IV:         base64.StdEncoding.EncodeToString(iv),
		Algorithm:  AlgorithmAESGCM,
	}, nil
}

// Decrypt opens an envelope with the recipient's private key. Any tamper,
// truncation, or key mismatch surfaces as ErrDecryptionFailed.
func (e *Engine) Decrypt(env Envelope, priv *rsa.PrivateKey) ([]byte, error) {
	if priv == nil {
		return nil, ErrInvalidKey
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	wrapped, err := base64.StdEncoding.DecodeString(env.WrappedKey)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	iv, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	if len(iv) != gcmIVLen {
		return nil, ErrDecryptionFailed
	}

	key, err := e.provider.UnwrapKey(wrapped, priv)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	plaintext, err := e.provider.Decrypt(ciphertext, key, iv)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// EncryptMessage seals a UTF-8 message for the recipient.
func (e *Engine) EncryptMessage(plaintext string, recipient *rsa.PublicKey) (Envelope, error) {
	return e.Encrypt([]byte(plaintext), recipient)
}

// DecryptMessage opens a message envelope and returns the UTF-8 plaintext.
func (e *Engine) DecryptMessage(env Envelope, priv *rsa.PrivateKey) (string, error) {
	plaintext, err := e.Decrypt(env, priv)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// ExportEncryptedPrivateKey wraps the PKCS#8 export of priv with a key derived
// from the password via PBKDF2-SHA256. The result is what the server stores as
// the owner-only key backup.
func (e *Engine) ExportEncryptedPrivateKey(priv *rsa.PrivateKey, password string) (PrivateKeyBackup, error) {
	if priv == nil {
		return PrivateKeyBackup{}, ErrInvalidKey
	}
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return PrivateKeyBackup{}, err
	}

	salt := make([]byte, pbkdf2SaltLen)
	if err := readRandom(salt); err != nil {
		return PrivateKeyBackup{}, err
	}
	iv := make([]byte, gcmIVLen)
	if err := readRandom(iv); err != nil {
		return PrivateKeyBackup{}, err
	}

	key := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)
	ciphertext, err := e.provider.Encrypt(der, key, iv)
	if err != nil {
		return PrivateKeyBackup{}, err
	}

	return PrivateKeyBackup{
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		IV:         base64.StdEncoding.EncodeToString(iv),
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Iterations: pbkdf2Iterations,
	}, nil
}

// ImportEncryptedPrivateKey reverses ExportEncryptedPrivateKey. A wrong
// password fails the GCM tag check and returns ErrWrongPassphrase.
func (e *Engine) ImportEncryptedPrivateKey(backup PrivateKeyBackup, password string) (*rsa.PrivateKey, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(backup.Ciphertext)
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	iv, err := base64.StdEncoding.DecodeString(backup.IV)
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	salt, err := base64.StdEncoding.DecodeString(backup.Salt)
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	iterations := backup.Iterations
	if iterations <= 0 {
		iterations = pbkdf2Iterations
	}

	key := pbkdf2.Key([]byte(password), salt, iterations, aesKeyLen, sha256.New)
	der, err := e.provider.Decrypt(ciphertext, key, iv)
	if err != nil {
		return nil, ErrWrongPassphrase
	}

	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	priv, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, ErrInvalidKey
	}
	return priv, nil
}
