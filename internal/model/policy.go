package model

// Policy is the lending rule set for one audience role of an organization.
type Policy struct {
	ID               string `json:"id" db:"id"`
	OrganizationID   string `json:"organization_id" db:"organization_id"`
	Code             string `json:"code" db:"code"`
	AudienceRole     string `json:"audience_role" db:"audience_role"`
	LoanDays         int    `json:"loan_days" db:"loan_days"`
	MaxLoans         int    `json:"max_loans" db:"max_loans"`
	MaxRenewals      int    `json:"max_renewals" db:"max_renewals"`
	MaxHolds         int    `json:"max_holds" db:"max_holds"`
	HoldPickupDays   int    `json:"hold_pickup_days" db:"hold_pickup_days"`
	OverdueBlockDays int    `json:"overdue_block_days" db:"overdue_block_days"`
	IsActive         bool   `json:"is_active" db:"is_active"`
}
