// Package encryption provides authenticated encryption for everything the
// verifier writes to local storage. A single symmetric key is derived or
// generated once at startup and held in memory only.
package encryption

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// KeySize is the symmetric key size for XChaCha20-Poly1305
	KeySize = chacha20poly1305.KeySize

	// default parameters from https://pkg.go.dev/golang.org/x/crypto/argon2
	argon2Time    = 1
	argon2Memory  = 64 * 1024
	argon2Threads = 4

	// fixed, versioned salt so a passphrase derives the same key across restarts
	argon2Salt = "vc-verifier-argon2-salt-v1"
)

// CryptoError indicates a cryptographic environment failure: using the service
// before initialization, or an integrity-tag mismatch on decryption. It is
// distinct from a verification verdict and must be handled by the caller.
type CryptoError struct {
	Op  string
	Err error
}

func (e *CryptoError) Error() string {
	if e.Err == nil {
		return e.Op
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err.Error())
}

func (e *CryptoError) Unwrap() error {
	return e.Err
}

// Service performs XChaCha20-Poly1305 encryption with an HMAC-SHA256 integrity
// tag computed over the ciphertext (encrypt-then-MAC). The encryption and MAC
// keys are independent halves of the service key material.
type Service struct {
	mu     sync.RWMutex
	encKey []byte
	macKey []byte
}

func NewService() *Service {
	return &Service{}
}

// Initialize derives or generates the service key material. With an empty
// passphrase a random key is generated; otherwise the key is derived with
// argon2id so the same passphrase re-opens previously written data.
// Re-initialization while a key is held is a programming error and fails fast.
func (s *Service) Initialize(passphrase string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.encKey != nil {
		return &CryptoError{Op: "encryption service already initialized"}
	}

	keyMaterial := make([]byte, 2*KeySize)
	if passphrase == "" {
		if _, err := rand.Read(keyMaterial); err != nil {
			return &CryptoError{Op: "generating service key", Err: err}
		}
	} else {
		keyMaterial = argon2.IDKey([]byte(passphrase), []byte(argon2Salt), argon2Time, argon2Memory, argon2Threads, 2*KeySize)
	}

	s.encKey = keyMaterial[:KeySize]
	s.macKey = keyMaterial[KeySize:]
	return nil
}

// InitializeWithEncodedKey installs previously exported key material, for
// reopening a store whose key was generated rather than passphrase-derived.
func (s *Service) InitializeWithEncodedKey(encoded string) error {
	keyMaterial, err := base58.Decode(encoded)
	if err != nil {
		return &CryptoError{Op: "decoding service key", Err: err}
	}
	if len(keyMaterial) != 2*KeySize {
		return &CryptoError{Op: fmt.Sprintf("service key must be %d bytes, got %d", 2*KeySize, len(keyMaterial))}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.encKey != nil {
		return &CryptoError{Op: "encryption service already initialized"}
	}
	s.encKey = keyMaterial[:KeySize]
	s.macKey = keyMaterial[KeySize:]
	return nil
}

// ExportKey returns the base58-encoded service key material.
func (s *Service) ExportKey() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.encKey == nil {
		return "", &CryptoError{Op: "encryption service not initialized"}
	}
	return base58.Encode(append(append([]byte(nil), s.encKey...), s.macKey...)), nil
}

// Encrypt seals the plaintext with a fresh random nonce bound into the
// ciphertext, and returns a separate integrity tag over the ciphertext.
func (s *Service) Encrypt(plaintext []byte) (ciphertext, tag []byte, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.encKey == nil {
		return nil, nil, &CryptoError{Op: "encryption service not initialized"}
	}

	aead, err := chacha20poly1305.NewX(s.encKey)
	if err != nil {
		return nil, nil, &CryptoError{Op: "creating aead", Err: err}
	}

	// nonce prefixes the ciphertext, leaving room for the sealed data
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err = rand.Read(nonce); err != nil {
		return nil, nil, &CryptoError{Op: "generating nonce", Err: err}
	}

	ciphertext = aead.Seal(nonce, nonce, plaintext, nil)
	return ciphertext, s.computeTag(ciphertext), nil
}

// Decrypt verifies the integrity tag before any decryption is attempted and
// fails closed on mismatch. No partially decrypted data is ever returned.
func (s *Service) Decrypt(ciphertext, tag []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.encKey == nil {
		return nil, &CryptoError{Op: "encryption service not initialized"}
	}

	if !hmac.Equal(s.computeTag(ciphertext), tag) {
		return nil, &CryptoError{Op: "integrity tag mismatch: data tampered or corrupt"}
	}

	aead, err := chacha20poly1305.NewX(s.encKey)
	if err != nil {
		return nil, &CryptoError{Op: "creating aead", Err: err}
	}
	if len(ciphertext) < aead.NonceSize() {
		return nil, &CryptoError{Op: "ciphertext too short"}
	}

	nonce, sealed := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, &CryptoError{Op: "decrypting data", Err: errors.Wrap(err, "aead open")}
	}
	return plaintext, nil
}

func (s *Service) computeTag(ciphertext []byte) []byte {
	mac := hmac.New(sha256.New, s.macKey)
	mac.Write(ciphertext)
	return mac.Sum(nil)
}
