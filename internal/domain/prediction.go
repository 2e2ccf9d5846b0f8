package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// PredictionStatus is the settlement lifecycle state of a prediction.
type PredictionStatus string

const (
	StatusActive      PredictionStatus = "active"
	StatusClosed      PredictionStatus = "closed"
	StatusCooldown    PredictionStatus = "cooldown"
	StatusUnderReview PredictionStatus = "under_review"
	StatusConfirmed   PredictionStatus = "confirmed"
	StatusDisputed    PredictionStatus = "disputed"
)

// Terminal reports whether no transition leaves the status.
func (s PredictionStatus) Terminal() bool {
	return s == StatusConfirmed || s == StatusDisputed
}

// Valid reports whether s is a known status.
func (s PredictionStatus) Valid() bool {
	switch s {
	case StatusActive, StatusClosed, StatusCooldown, StatusUnderReview, StatusConfirmed, StatusDisputed:
		return true
	}
	return false
}

const (
	MinOptions = 2
	MaxOptions = 10
)

// NoWinner marks a prediction that has not been resolved yet.
const NoWinner = -1

// PredictionParams are the creator-supplied fields of a new prediction.
type PredictionParams struct {
	Title       string
	Description string
	Options     []string
	Expiry      time.Time
	FeePercent  uint64
}

// OptionStats aggregates the stakes placed on one option.
type OptionStats struct {
	Label       string
	TotalStaked *uint256.Int
	Bettors     int
}

// Bet is one stake placed by an account.
type Bet struct {
	Option  int
	Amount  *uint256.Int
	Claimed bool
}

// Prediction is a read-only view of a prediction.
type Prediction struct {
	ID               uint64
	Creator          common.Address
	Ledger           common.Address
	Title            string
	Description      string
	Options          []OptionStats
	CreatedAt        time.Time
	Expiry           time.Time
	FeePercent       uint64
	Status           PredictionStatus
	WinningOption    int
	CooldownDeadline time.Time
	ReportCount      int
	Participants     int
	TotalPool        *uint256.Int
	DisputeReason    string
	CreatorFee       *uint256.Int
	CreatorFeePaid   bool
}

// PredictionFilter narrows prediction listings.
type PredictionFilter struct {
	Creator *common.Address
	Status  PredictionStatus
	Limit   int
	Offset  int
}
