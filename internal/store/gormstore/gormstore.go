// Package gormstore persists credentials in a SQL database through GORM.
// The same code serves SQLite files for the CLI and PostgreSQL for shared portals.
package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/bankportal/pkg/bankapi"
	"github.com/MarkoPoloResearchLab/bankportal/pkg/session"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	errorOperationStore    = "store"
	errorSubjectCredential = "credential"
	errorSubjectSchema     = "schema"
	errorCodeDelete        = "delete"
	errorCodeLoad          = "load"
	errorCodeMigrate       = "migrate"
	errorCodeSave          = "save"
	errorCodePurge         = "purge"
	columnKey              = "key"
	columnValue            = "value"
	columnExpiresAt        = "expires_at"
	columnUpdatedAt        = "updated_at"
)

// Store implements session.CredentialStorage using GORM.
type Store struct {
	db      *gorm.DB
	clock   func() time.Time
	onClose func()
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the time source used for timestamps and purges.
func WithClock(clock func() time.Time) Option {
	return func(store *Store) {
		if clock != nil {
			store.clock = clock
		}
	}
}

// WithOnClose registers a release hook run after the connection pool closes.
func WithOnClose(release func()) Option {
	return func(store *Store) {
		store.onClose = release
	}
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB, options ...Option) *Store {
	store := &Store{db: db, clock: func() time.Time { return time.Now().UTC() }}
	for _, option := range options {
		option(store)
	}
	return store
}

// Migrate creates or updates the credentials table.
func (store *Store) Migrate(ctx context.Context) error {
	if err := store.db.WithContext(ctx).AutoMigrate(&Credential{}); err != nil {
		return wrapStoreError(errorSubjectSchema, errorCodeMigrate, err)
	}
	return nil
}

func (store *Store) LoadCredential(ctx context.Context, key string) (string, bool, error) {
	var row Credential
	err := store.db.WithContext(ctx).Where(columnKey+" = ?", key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapStoreError(errorSubjectCredential, errorCodeLoad, err)
	}
	return row.Value, true, nil
}

// SaveCredential upserts the credential and records its JWT expiry when one is readable.
func (store *Store) SaveCredential(ctx context.Context, key string, credential string) error {
	now := store.clock()
	row := Credential{Key: key, Value: credential, CreatedAt: now, UpdatedAt: now}
	if expiresAt, ok := session.CredentialExpiry(credential); ok {
		row.ExpiresAt = &expiresAt
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: columnKey}},
			DoUpdates: clause.AssignmentColumns([]string{columnValue, columnExpiresAt, columnUpdatedAt}),
		}).
		Create(&row).Error
	if err != nil {
		return wrapStoreError(errorSubjectCredential, errorCodeSave, err)
	}
	return nil
}

func (store *Store) DeleteCredential(ctx context.Context, key string) error {
	if err := store.db.WithContext(ctx).Where(columnKey+" = ?", key).Delete(&Credential{}).Error; err != nil {
		return wrapStoreError(errorSubjectCredential, errorCodeDelete, err)
	}
	return nil
}

// PurgeExpired removes credentials whose recorded expiry has passed and
// returns how many rows were deleted. Opaque credentials are never purged.
func (store *Store) PurgeExpired(ctx context.Context) (int64, error) {
	result := store.db.WithContext(ctx).
		Where(columnExpiresAt+" IS NOT NULL AND "+columnExpiresAt+" <= ?", store.clock()).
		Delete(&Credential{})
	if result.Error != nil {
		return 0, wrapStoreError(errorSubjectCredential, errorCodePurge, result.Error)
	}
	return result.RowsAffected, nil
}

// Close releases the underlying connection pool.
func (store *Store) Close() error {
	if store.onClose != nil {
		defer store.onClose()
	}
	sqlDB, err := store.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func wrapStoreError(subject string, code string, err error) error {
	return bankapi.WrapError(errorOperationStore, subject, code, err)
}
