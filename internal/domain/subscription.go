package domain

import "time"

// Subscription holds the billing-owned state the ledger reads to resolve an
// identity's effective daily limit. Owned by the billing subsystem; the core
// never writes it.
type Subscription struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	IdentityID  string     `gorm:"size:64;uniqueIndex;not null" json:"identity_id"`
	PlanType    string     `gorm:"size:32;not null" json:"plan_type"`
	TrialEndsAt *time.Time `gorm:"index" json:"trial_ends_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// IsTrialing reports whether the trial window is still open at now.
func (s *Subscription) IsTrialing(now time.Time) bool {
	return s.TrialEndsAt != nil && now.Before(*s.TrialEndsAt)
}

// Plan is one entry of the plan catalog. Entries without a price reference are
// not sellable and are filtered out by consumers, not by the catalog itself.
type Plan struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	PlanType   string    `gorm:"size:32;uniqueIndex;not null" json:"plan_type"`
	DailyLimit int       `gorm:"not null;default:0" json:"daily_limit"`
	PriceRef   string    `gorm:"size:128" json:"price_ref,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
