package cryptobox

import "errors"

var (
	// ErrDecryptionFailed covers every authentication failure: wrong key,
	// truncated data, or any flipped bit tripping the GCM tag check. It is
	// deliberately opaque and must never be logged with key material.
	ErrDecryptionFailed = errors.New("cryptobox: message authentication failed")
	// ErrWrongPassphrase is returned when a private-key backup cannot be
	// opened with the supplied password.
	ErrWrongPassphrase = errors.New("cryptobox: wrong passphrase")
	ErrInvalidKey      = errors.New("cryptobox: invalid key material")
	ErrPayloadTooLarge = errors.New("cryptobox: payload exceeds size bound")
)
