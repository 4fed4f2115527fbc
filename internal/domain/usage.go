package domain

import "time"

// UsageRecord is the per-identity, per-day interaction counter. Exactly one
// record exists per (identity, day); the counter only moves forward within a
// day and a new day starts with a fresh record.
type UsageRecord struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	IdentityID       string    `gorm:"size:64;not null;uniqueIndex:ux_usage_identity_day,priority:1" json:"identity_id"`
	UsageDate        string    `gorm:"size:10;not null;uniqueIndex:ux_usage_identity_day,priority:2" json:"usage_date"`
	InteractionCount int       `gorm:"not null;default:0" json:"interaction_count"`
	DailyLimit       int       `gorm:"not null;default:0" json:"daily_limit"`
	TrialOverride    bool      `gorm:"not null;default:false" json:"trial_override"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// DayKey formats t in loc as the calendar-day key used by UsageRecord.
func DayKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}

// NextDayStart returns the first instant of the calendar day after t in loc,
// i.e. when today's counters stop applying.
func NextDayStart(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1)
}
