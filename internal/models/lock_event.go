package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// LockEvent records one section lock transition for a document.
type LockEvent struct {
	ID           string            `gorm:"primaryKey;type:uuid" json:"id"`
	DocumentID   string            `gorm:"not null;index:idx_lock_events_document_created,priority:1" json:"document_id"`
	SectionID    string            `gorm:"not null;size:256" json:"section"`
	ConnectionID string            `gorm:"index" json:"connection_id"`
	UserID       string            `gorm:"index" json:"user_id"`
	Username     string            `json:"username"`
	Action       string            `gorm:"not null;index" json:"action"`
	Details      datatypes.JSONMap `gorm:"type:json" json:"details,omitempty"`
	CreatedAt    time.Time         `gorm:"index:idx_lock_events_document_created,priority:2" json:"created_at"`
}

func (e *LockEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}
