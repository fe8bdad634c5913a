package kvstore

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const sealInfo = "clinic-console session store v1"

// SealedStore encrypts every value before handing it to the inner store.
// The storage key is bound as associated data, so values cannot be swapped
// between keys. Values that no longer decrypt read as absent.
type SealedStore struct {
	inner  Store
	aead   cipher.AEAD
	logger *slog.Logger
}

// NewSealedStore derives an XChaCha20-Poly1305 key from secret.
func NewSealedStore(inner Store, secret string, logger *slog.Logger) (*SealedStore, error) {
	if len(secret) < 16 {
		return nil, errors.New("session encryption key must be at least 16 bytes")
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(sealInfo)), key); err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &SealedStore{inner: inner, aead: aead, logger: logger.With("component", "kvstore.sealed")}, nil
}

func (s *SealedStore) Get(ctx context.Context, key string) (string, bool, error) {
	encoded, ok, err := s.inner.Get(ctx, key)
	if err != nil || !ok {
		return "", false, err
	}
	plaintext, err := s.open(key, encoded)
	if err != nil {
		s.logger.Warn("discarding undecryptable session value", "key", key, "error", err)
		return "", false, nil
	}
	return plaintext, true, nil
}

func (s *SealedStore) Set(ctx context.Context, key, value string) error {
	encoded, err := s.seal(key, value)
	if err != nil {
		return err
	}
	return s.inner.Set(ctx, key, encoded)
}

func (s *SealedStore) Delete(ctx context.Context, keys ...string) error {
	return s.inner.Delete(ctx, keys...)
}

func (s *SealedStore) Ping(ctx context.Context) error {
	return s.inner.Ping(ctx)
}

func (s *SealedStore) seal(key, plaintext string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	payload := s.aead.Seal(nonce, nonce, []byte(plaintext), []byte(key))
	return base64.RawURLEncoding.EncodeToString(payload), nil
}

func (s *SealedStore) open(key, encoded string) (string, error) {
	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	nonceSize := s.aead.NonceSize()
	if len(payload) < nonceSize {
		return "", errors.New("invalid sealed payload")
	}
	nonce, ciphertext := payload[:nonceSize], payload[nonceSize:]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, []byte(key))
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

var _ Store = (*SealedStore)(nil)
