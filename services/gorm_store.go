// services/gorm_store.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rps-match-service/models"

	"gorm.io/gorm"
)

// updatableColumns are written by every compare-and-set. id, player_a,
// wager and created_at never change after creation.
var updatableColumns = []string{
	"status", "player_b",
	"commit_a", "commit_b", "reveal_a", "reveal_b",
	"commit_deadline", "reveal_deadline",
	"winner", "version", "updated_at",
}

// GormStore is the Postgres-backed MatchStore.
type GormStore struct {
	DB *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{DB: db}
}

// AutoMigrate creates or updates the matches and audit_logs tables.
func (s *GormStore) AutoMigrate() error {
	return s.DB.AutoMigrate(&models.Match{}, &models.AuditLog{})
}

func (s *GormStore) Create(ctx context.Context, m *models.Match, audit *models.AuditLog) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(m).Error; err != nil {
			return fmt.Errorf("insert match: %w", err)
		}
		if audit != nil {
			if err := tx.Create(audit).Error; err != nil {
				return fmt.Errorf("insert audit log: %w", err)
			}
		}
		return nil
	})
}

func (s *GormStore) Get(ctx context.Context, id string) (*models.Match, error) {
	var m models.Match
	if err := s.DB.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMatchNotFound
		}
		return nil, fmt.Errorf("load match %s: %w", id, err)
	}
	return &m, nil
}

// Update relies on the row lock Postgres takes for UPDATE: a concurrent
// writer holding the same expected version blocks, then re-evaluates the
// WHERE clause against the committed row and matches zero rows.
func (s *GormStore) Update(ctx context.Context, next *models.Match, expectedVersion int64, audit *models.AuditLog) error {
	row := next.Clone()
	row.Version = expectedVersion + 1
	row.UpdatedAt = time.Now()

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Match{}).
			Where("id = ? AND version = ?", next.ID, expectedVersion).
			Select(updatableColumns).
			Updates(row)
		if res.Error != nil {
			return fmt.Errorf("update match %s: %w", next.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&models.Match{}).Where("id = ?", next.ID).Count(&count).Error; err != nil {
				return fmt.Errorf("recheck match %s: %w", next.ID, err)
			}
			if count == 0 {
				return ErrMatchNotFound
			}
			return ErrConflict
		}
		if audit != nil {
			if err := tx.Create(audit).Error; err != nil {
				return fmt.Errorf("insert audit log: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	next.Version = row.Version
	next.UpdatedAt = row.UpdatedAt
	return nil
}

func (s *GormStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var ids []string
	q := s.DB.WithContext(ctx).Model(&models.Match{}).
		Where("(status = ? AND commit_deadline < ?) OR (status = ? AND reveal_deadline < ?)",
			models.StatusCommitPhase, now, models.StatusRevealPhase, now).
		Order("updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list expired matches: %w", err)
	}
	return ids, nil
}

func (s *GormStore) AuditTrail(ctx context.Context, matchID string) ([]models.AuditLog, error) {
	var rows []models.AuditLog
	if err := s.DB.WithContext(ctx).
		Where("match_id = ?", matchID).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load audit trail %s: %w", matchID, err)
	}
	return rows, nil
}
