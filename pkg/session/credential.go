package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultCredentialKey is the storage key of a single-user client.
const DefaultCredentialKey = "token"

// CredentialStorage is the durable key/value surface holding raw credentials.
// Absence of a key means anonymous; LoadCredential reports it with found=false.
type CredentialStorage interface {
	LoadCredential(ctx context.Context, key string) (credential string, found bool, err error)
	SaveCredential(ctx context.Context, key string, credential string) error
	DeleteCredential(ctx context.Context, key string) error
}

// CredentialSlot binds a storage to one key. It is the only writer-facing
// handle the Store uses and doubles as the API client's credential source, so
// every request reads the persisted value rather than a cached copy.
type CredentialSlot struct {
	storage CredentialStorage
	key     string
}

// NewCredentialSlot validates and builds a slot.
func NewCredentialSlot(storage CredentialStorage, key string) (CredentialSlot, error) {
	if storage == nil {
		return CredentialSlot{}, fmt.Errorf("%w: credential storage is nil", ErrInvalidStoreConfig)
	}
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return CredentialSlot{}, fmt.Errorf("%w: credential key is empty", ErrInvalidStoreConfig)
	}
	return CredentialSlot{storage: storage, key: trimmed}, nil
}

// Key returns the storage key.
func (slot CredentialSlot) Key() string {
	return slot.key
}

// Credential returns the persisted credential or "" when none is stored.
func (slot CredentialSlot) Credential(ctx context.Context) (string, error) {
	credential, found, err := slot.Load(ctx)
	if err != nil || !found {
		return "", err
	}
	return credential, nil
}

// Load reads the persisted credential.
func (slot CredentialSlot) Load(ctx context.Context) (string, bool, error) {
	credential, found, err := slot.storage.LoadCredential(ctx, slot.key)
	if err != nil {
		return "", false, err
	}
	credential = strings.TrimSpace(credential)
	if !found || credential == "" {
		return "", false, nil
	}
	return credential, true, nil
}

// Save persists credential under the slot's key.
func (slot CredentialSlot) Save(ctx context.Context, credential string) error {
	return slot.storage.SaveCredential(ctx, slot.key, credential)
}

// Clear removes the persisted credential.
func (slot CredentialSlot) Clear(ctx context.Context) error {
	return slot.storage.DeleteCredential(ctx, slot.key)
}

func (slot CredentialSlot) valid() bool {
	return slot.storage != nil && slot.key != ""
}

// CredentialExpiry reads the exp claim of a JWT credential without verifying
// its signature. It is for display only; the remote API remains the judge of
// validity. ok is false for opaque or claim-less credentials.
func CredentialExpiry(credential string) (expiresAt time.Time, ok bool) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(credential, claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time.UTC(), true
}
