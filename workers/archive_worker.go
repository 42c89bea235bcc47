// workers/archive_worker.go
package workers

import (
	"context"
	"fmt"
	"path"
	"time"

	"rps-match-service/models"
	"rps-match-service/services"

	"github.com/charmbracelet/log"
)

// ObjectWriter stores a JSON document under a key. utils.R2Client satisfies it.
type ObjectWriter interface {
	PutJSON(ctx context.Context, key string, v any) error
}

// MatchSource is the slice of MatchService the archiver reads from.
type MatchSource interface {
	Get(ctx context.Context, matchID string) (*models.Match, error)
	AuditTrail(ctx context.Context, matchID string) ([]models.AuditLog, error)
}

// MatchArchive is the document written for every finished match.
type MatchArchive struct {
	Match      *models.Match     `json:"match"`
	Audit      []models.AuditLog `json:"audit"`
	ArchivedAt time.Time         `json:"archived_at"`
}

// ArchiveWorker copies completed and cancelled matches, with their audit
// trail, to object storage for external reconciliation.
type ArchiveWorker struct {
	hub     *services.Hub
	source  MatchSource
	writer  ObjectWriter
	prefix  string
	timeout time.Duration
	logger  *log.Logger
}

func NewArchiveWorker(hub *services.Hub, source MatchSource, writer ObjectWriter, prefix string, logger *log.Logger) *ArchiveWorker {
	return &ArchiveWorker{
		hub:     hub,
		source:  source,
		writer:  writer,
		prefix:  prefix,
		timeout: 30 * time.Second,
		logger:  logger.WithPrefix("archive"),
	}
}

// Start consumes terminal events until ctx is done.
func (w *ArchiveWorker) Start(ctx context.Context) error {
	sub := w.hub.SubscribeAll()
	defer w.hub.Unsubscribe(sub)

	w.logger.Info("Archive worker running", "prefix", w.prefix)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.C:
			if !ok {
				return nil
			}
			if !ev.Terminal() {
				continue
			}
			if err := w.Archive(ctx, ev.MatchID); err != nil {
				w.logger.Error("Failed to archive match", "match", ev.MatchID, "error", err)
			}
		}
	}
}

// Archive uploads one match snapshot and its audit trail.
func (w *ArchiveWorker) Archive(ctx context.Context, matchID string) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	m, err := w.source.Get(ctx, matchID)
	if err != nil {
		return fmt.Errorf("load match: %w", err)
	}
	if !m.Status.Terminal() {
		return fmt.Errorf("match %s is %s, not terminal", matchID, m.Status)
	}
	audit, err := w.source.AuditTrail(ctx, matchID)
	if err != nil {
		return fmt.Errorf("load audit trail: %w", err)
	}

	key := ArchiveKey(w.prefix, matchID)
	if err := w.writer.PutJSON(ctx, key, MatchArchive{
		Match:      m,
		Audit:      audit,
		ArchivedAt: time.Now().UTC(),
	}); err != nil {
		return err
	}
	w.logger.Debug("Archived match", "match", matchID, "key", key, "auditRows", len(audit))
	return nil
}

// ArchiveKey returns the object key for a match.
func ArchiveKey(prefix, matchID string) string {
	return path.Join(prefix, matchID+".json")
}
