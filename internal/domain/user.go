package domain

import "time"

// User represents an authenticated account holding a prepaid credit balance.
// The balance is mutated only through the credit ledger and never goes
// negative.
type User struct {
	ID        string    `json:"id"`
	Credits   int       `json:"credits"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
