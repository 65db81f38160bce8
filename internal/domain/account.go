package domain

import "time"

// Account is the billing entity owning jobs and a credit balance. Balances
// are mutated only through AccountRepository.AdjustBalance.
type Account struct {
	ID            string
	Email         string
	DisplayName   string
	Country       string
	CreditBalance int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
