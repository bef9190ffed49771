package gormstore

import "time"

// Credential mirrors the credentials table: one bearer credential per slot key.
type Credential struct {
	Key       string     `gorm:"primaryKey;size:191"`
	Value     string     `gorm:"type:text;not null"`
	ExpiresAt *time.Time `gorm:"index"`
	CreatedAt time.Time  `gorm:"not null"`
	UpdatedAt time.Time  `gorm:"not null"`
}

func (Credential) TableName() string { return "credentials" }
