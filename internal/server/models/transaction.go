package models

import "time"

// CreditTransaction describes one committed balance change. Amount is
// negative for a deduction. It is not stored.
type CreditTransaction struct {
	ID               string
	UserID           string
	Amount           int64
	ResultingBalance int64
	Tier             Tier
	CommittedAt      time.Time
}
