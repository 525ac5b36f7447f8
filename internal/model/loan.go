package model

import "time"

// Loan records one copy lent to one patron.
type Loan struct {
	ID             string     `json:"id" db:"id"`
	OrganizationID string     `json:"organization_id" db:"organization_id"`
	ItemID         string     `json:"item_id" db:"item_id"`
	UserID         string     `json:"user_id" db:"user_id"`
	CheckedOutAt   time.Time  `json:"checked_out_at" db:"checked_out_at"`
	DueAt          time.Time  `json:"due_at" db:"due_at"`
	ReturnedAt     *time.Time `json:"returned_at,omitempty" db:"returned_at"`
	RenewedCount   int        `json:"renewed_count" db:"renewed_count"`
	Status         string     `json:"status" db:"status"`
}

// Loan statuses.
const (
	LoanStatusOpen   = "open"
	LoanStatusClosed = "closed"
)

// DaysOverdue returns the number of whole days the loan is past due at now,
// and false if it is not overdue.
func (l *Loan) DaysOverdue(now time.Time) (int, bool) {
	if l.Status != LoanStatusOpen || !l.DueAt.Before(now) {
		return 0, false
	}
	return int(now.Sub(l.DueAt) / (24 * time.Hour)), true
}
