// Package history persists section lock transitions and serves them back for
// auditing.
package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/charlesng35/sectionlock/internal/collab"
	"github.com/charlesng35/sectionlock/internal/models"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Store reads and writes lock events.
type Store struct {
	db *gorm.DB
}

// NewStore constructs a Store using the provided database handle.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("history store: db is required")
	}
	return &Store{db: db}, nil
}

// Save persists a batch of lock events in one statement.
func (s *Store) Save(ctx context.Context, events ...collab.LockEvent) error {
	if len(events) == 0 {
		return nil
	}

	rows := make([]models.LockEvent, 0, len(events))
	for _, e := range events {
		rows = append(rows, toModel(e))
	}

	if err := s.db.WithContext(ensureContext(ctx)).Create(&rows).Error; err != nil {
		return fmt.Errorf("history store: save events: %w", err)
	}
	return nil
}

// List returns the most recent events for a document, newest first, together with
// the total number of stored events for it. A non-positive limit selects the default.
func (s *Store) List(ctx context.Context, documentID string, limit int) ([]models.LockEvent, int64, error) {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return nil, 0, errors.New("history store: document id is required")
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	var (
		events []models.LockEvent
		total  int64
	)

	query := s.db.WithContext(ensureContext(ctx)).
		Model(&models.LockEvent{}).
		Where("document_id = ?", documentID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("history store: count events: %w", err)
	}

	if err := query.
		Order("created_at DESC").
		Limit(limit).
		Find(&events).Error; err != nil {
		return nil, 0, fmt.Errorf("history store: list events: %w", err)
	}

	return events, total, nil
}

// CleanupOlderThan deletes events created before cutoff and returns how many rows
// were removed.
func (s *Store) CleanupOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ensureContext(ctx)).
		Where("created_at < ?", cutoff).
		Delete(&models.LockEvent{})
	if result.Error != nil {
		return 0, fmt.Errorf("history store: cleanup events: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func toModel(e collab.LockEvent) models.LockEvent {
	row := models.LockEvent{
		DocumentID:   e.DocumentID,
		SectionID:    e.SectionID,
		ConnectionID: e.ConnectionID,
		UserID:       e.UserID,
		Username:     e.Username,
		Action:       e.Action,
		CreatedAt:    e.At,
	}
	if e.HeldFor > 0 {
		row.Details = datatypes.JSONMap{"held_for_ms": e.HeldFor.Milliseconds()}
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}
	return row
}

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
