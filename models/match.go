// models/match.go
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MatchStatus is the lifecycle phase of a match.
type MatchStatus string

const (
	StatusWaitingForPlayers MatchStatus = "waiting_for_players"
	StatusCommitPhase       MatchStatus = "commit_phase"
	StatusRevealPhase       MatchStatus = "reveal_phase"
	StatusCompleted         MatchStatus = "completed"
	StatusCancelled         MatchStatus = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s MatchStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Match is one wagered rock-paper-scissors game between two wallets.
// Version is bumped by every accepted write and backs the store's
// compare-and-set.
type Match struct {
	ID      string          `gorm:"primaryKey;type:uuid" json:"id"`
	Status  MatchStatus     `gorm:"type:varchar(32);not null;index" json:"status"`
	PlayerA string          `gorm:"type:varchar(128);not null;index" json:"player_a"`
	PlayerB *string         `gorm:"type:varchar(128);index" json:"player_b,omitempty"`
	Wager   decimal.Decimal `gorm:"type:numeric(78,0);not null" json:"wager"`

	// 🔒 Commit-reveal slots, each written at most once
	CommitA *string `gorm:"type:text" json:"commit_a,omitempty"`
	CommitB *string `gorm:"type:text" json:"commit_b,omitempty"`
	RevealA *Choice `gorm:"type:varchar(16)" json:"reveal_a,omitempty"`
	RevealB *Choice `gorm:"type:varchar(16)" json:"reveal_b,omitempty"`

	// ⏱️ Absolute deadlines, fixed when the phase is entered
	CommitDeadline *time.Time `gorm:"index" json:"commit_deadline,omitempty"`
	RevealDeadline *time.Time `gorm:"index" json:"reveal_deadline,omitempty"`

	Winner *string `gorm:"type:varchar(128);index" json:"winner,omitempty"`

	Version   int64     `gorm:"not null;default:0" json:"-"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// Side identifies which seat a wallet occupies.
type Side uint8

const (
	SideNone Side = iota
	SideA
	SideB
)

// SideOf returns the seat held by wallet. A wallet seated twice resolves to A.
func (m *Match) SideOf(wallet string) Side {
	switch {
	case m.PlayerA == wallet:
		return SideA
	case m.PlayerB != nil && *m.PlayerB == wallet:
		return SideB
	default:
		return SideNone
	}
}

// CommitSlot returns a pointer to the commit field for side.
func (m *Match) CommitSlot(side Side) **string {
	if side == SideA {
		return &m.CommitA
	}
	return &m.CommitB
}

// RevealSlot returns a pointer to the reveal field for side.
func (m *Match) RevealSlot(side Side) **Choice {
	if side == SideA {
		return &m.RevealA
	}
	return &m.RevealB
}

// Clone returns a deep copy so callers can compute a next snapshot without
// touching the one they read.
func (m *Match) Clone() *Match {
	if m == nil {
		return nil
	}
	c := *m
	c.PlayerB = cloneString(m.PlayerB)
	c.CommitA = cloneString(m.CommitA)
	c.CommitB = cloneString(m.CommitB)
	c.Winner = cloneString(m.Winner)
	c.RevealA = cloneChoice(m.RevealA)
	c.RevealB = cloneChoice(m.RevealB)
	c.CommitDeadline = cloneTime(m.CommitDeadline)
	c.RevealDeadline = cloneTime(m.RevealDeadline)
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneChoice(c *Choice) *Choice {
	if c == nil {
		return nil
	}
	v := *c
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
