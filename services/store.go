// services/store.go
package services

import (
	"context"
	"errors"
	"time"

	"rps-match-service/models"
)

var (
	// ErrMatchNotFound is returned by a MatchStore when no row has the id.
	ErrMatchNotFound = errors.New("store: match not found")

	// ErrConflict means the row changed since it was read; the caller should
	// re-read and recompute.
	ErrConflict = errors.New("store: version conflict")
)

// MatchStore persists matches and their audit trail. Update is a
// compare-and-set on Match.Version: it succeeds only if the stored version
// still equals expectedVersion, and stores next with Version+1. The audit
// row, when given, is appended atomically with the match write.
type MatchStore interface {
	Create(ctx context.Context, m *models.Match, audit *models.AuditLog) error
	Get(ctx context.Context, id string) (*models.Match, error)
	Update(ctx context.Context, next *models.Match, expectedVersion int64, audit *models.AuditLog) error
	// ListExpired returns ids of matches in commit or reveal phase whose
	// current deadline is before now.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]string, error)
	AuditTrail(ctx context.Context, matchID string) ([]models.AuditLog, error)
}
