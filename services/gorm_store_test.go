package services

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"rps-match-service/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const gormMatchID = "5b7c2d1e-8f4a-4c3b-9e2d-1a0b3c4d5e6f"

const updateMatchSQL = `UPDATE "matches" SET "status"=\$1,"player_b"=\$2,"commit_a"=\$3,"commit_b"=\$4,"reveal_a"=\$5,"reveal_b"=\$6,"commit_deadline"=\$7,"reveal_deadline"=\$8,"winner"=\$9,"version"=\$10,"updated_at"=\$11 WHERE \(?id = \$12 AND version = \$13\)?`

func newMockGormStore(t *testing.T) (*GormStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	return NewGormStore(gdb), mock
}

// commitPhaseMatch is a joined match where only A has committed.
func commitPhaseMatch() *models.Match {
	deadline := time.Date(2025, 1, 1, 12, 1, 0, 0, time.UTC)
	return &models.Match{
		ID:             gormMatchID,
		Status:         models.StatusCommitPhase,
		PlayerA:        walletA,
		PlayerB:        ptr(walletB),
		CommitA:        ptr("digest-a"),
		CommitDeadline: &deadline,
		Version:        3,
	}
}

func updateArgs(expectedVersion int64) []driver.Value {
	return []driver.Value{
		"commit_phase",
		walletB,
		"digest-a",
		nil, // commit_b
		nil, // reveal_a
		nil, // reveal_b
		sqlmock.AnyArg(),
		nil, // reveal_deadline
		nil, // winner
		expectedVersion + 1,
		sqlmock.AnyArg(),
		gormMatchID,
		expectedVersion,
	}
}

func TestGormStoreUpdateWritesRowAndAuditTogether(t *testing.T) {
	store, mock := newMockGormStore(t)
	next := commitPhaseMatch()

	mock.ExpectBegin()
	mock.ExpectExec(updateMatchSQL).
		WithArgs(updateArgs(3)...).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO "audit_logs"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectCommit()

	audit := auditRow(gormMatchID, models.AuditCommit, walletA, map[string]any{"wallet": walletA})
	require.NoError(t, store.Update(context.Background(), next, 3, audit))
	assert.Equal(t, int64(4), next.Version)
	assert.False(t, next.UpdatedAt.IsZero())
	assert.Equal(t, uint64(7), audit.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStoreUpdateVersionMiss(t *testing.T) {
	tests := []struct {
		name  string
		count int
		want  error
	}{
		{"row moved on", 1, ErrConflict},
		{"row missing", 0, ErrMatchNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockGormStore(t)
			next := commitPhaseMatch()

			mock.ExpectBegin()
			mock.ExpectExec(updateMatchSQL).
				WithArgs(updateArgs(3)...).
				WillReturnResult(sqlmock.NewResult(0, 0))
			mock.ExpectQuery(`SELECT count\(\*\) FROM "matches" WHERE id = \$1`).
				WithArgs(gormMatchID).
				WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(tt.count))
			mock.ExpectRollback()

			audit := auditRow(gormMatchID, models.AuditCommit, walletA, nil)
			err := store.Update(context.Background(), next, 3, audit)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, int64(3), next.Version, "version only moves on success")
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestGormStoreUpdateDriverError(t *testing.T) {
	store, mock := newMockGormStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(updateMatchSQL).WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := store.Update(context.Background(), commitPhaseMatch(), 3, nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrConflict)
	assert.Contains(t, err.Error(), "update match "+gormMatchID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStoreGet(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		store, mock := newMockGormStore(t)
		mock.ExpectQuery(`SELECT \* FROM "matches" WHERE id = \$1`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "status", "player_a", "wager", "version"}).
				AddRow(gormMatchID, "waiting_for_players", walletA, "250", 2))

		m, err := store.Get(context.Background(), gormMatchID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusWaitingForPlayers, m.Status)
		assert.Equal(t, walletA, m.PlayerA)
		assert.Equal(t, "250", m.Wager.String())
		assert.Equal(t, int64(2), m.Version)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing", func(t *testing.T) {
		store, mock := newMockGormStore(t)
		mock.ExpectQuery(`SELECT \* FROM "matches" WHERE id = \$1`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		_, err := store.Get(context.Background(), gormMatchID)
		assert.ErrorIs(t, err, ErrMatchNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
