// Package redisstore keeps credentials in Redis so several portal replicas
// share one view of who is logged in.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/bankportal/pkg/bankapi"
	"github.com/MarkoPoloResearchLab/bankportal/pkg/session"
	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces every credential key.
const DefaultKeyPrefix = "bankportal:credential:"

// expiredCredentialTTL applies to JWT credentials whose exp claim has passed.
const expiredCredentialTTL = time.Second

const (
	errorOperationStore    = "store"
	errorSubjectCredential = "credential"
	errorCodeDelete        = "delete"
	errorCodeLoad          = "load"
	errorCodeSave          = "save"
)

// Store implements session.CredentialStorage over a Redis client.
type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	clock  func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithKeyPrefix replaces DefaultKeyPrefix.
func WithKeyPrefix(prefix string) Option {
	return func(store *Store) {
		store.prefix = prefix
	}
}

// WithTTL bounds how long an opaque credential is kept. JWT credentials
// expire with their exp claim regardless of this value.
func WithTTL(ttl time.Duration) Option {
	return func(store *Store) {
		if ttl > 0 {
			store.ttl = ttl
		}
	}
}

// WithClock overrides the time source used to compute expirations.
func WithClock(clock func() time.Time) Option {
	return func(store *Store) {
		if clock != nil {
			store.clock = clock
		}
	}
}

// New wraps an existing client.
func New(client *redis.Client, options ...Option) *Store {
	store := &Store{client: client, prefix: DefaultKeyPrefix, clock: time.Now}
	for _, option := range options {
		option(store)
	}
	return store
}

// Dial parses a redis:// URL and verifies connectivity.
func Dial(ctx context.Context, url string, options ...Option) (*Store, error) {
	if url == "" {
		return nil, fmt.Errorf("redis url is required")
	}
	parsed, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(parsed)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return New(client, options...), nil
}

func (store *Store) LoadCredential(ctx context.Context, key string) (string, bool, error) {
	value, err := store.client.Get(ctx, store.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapStoreError(errorCodeLoad, err)
	}
	return value, true, nil
}

func (store *Store) SaveCredential(ctx context.Context, key string, credential string) error {
	if err := store.client.Set(ctx, store.prefix+key, credential, store.expiration(credential)).Err(); err != nil {
		return wrapStoreError(errorCodeSave, err)
	}
	return nil
}

func (store *Store) DeleteCredential(ctx context.Context, key string) error {
	if err := store.client.Del(ctx, store.prefix+key).Err(); err != nil {
		return wrapStoreError(errorCodeDelete, err)
	}
	return nil
}

// Close closes the underlying client.
func (store *Store) Close() error {
	return store.client.Close()
}

// expiration returns the exp claim's remaining lifetime for JWT credentials,
// expiredCredentialTTL once that has passed, and the configured TTL (0 means
// no expiry) for opaque ones.
func (store *Store) expiration(credential string) time.Duration {
	expiresAt, ok := session.CredentialExpiry(credential)
	if !ok {
		return store.ttl
	}
	if remaining := expiresAt.Sub(store.clock()); remaining > expiredCredentialTTL {
		return remaining
	}
	return expiredCredentialTTL
}

func wrapStoreError(code string, err error) error {
	return bankapi.WrapError(errorOperationStore, errorSubjectCredential, code, err)
}
