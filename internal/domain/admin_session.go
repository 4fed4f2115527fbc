package domain

import "time"

// AdminSession is a privileged session issued on admin login, independent of
// the regular identity system. Expired and revoked sessions stay in storage as
// an audit trail until the retention cleanup deletes them.
type AdminSession struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	TokenHash string     `gorm:"size:128;uniqueIndex;not null" json:"-"`
	UserAgent string     `gorm:"size:512" json:"user_agent"`
	IP        string     `gorm:"size:64" json:"ip"`
	ExpiresAt time.Time  `gorm:"index;not null" json:"expires_at"`
	RevokedAt *time.Time `gorm:"index" json:"revoked_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Valid reports whether the session authorizes admin access at now.
func (s *AdminSession) Valid(now time.Time) bool {
	return s.RevokedAt == nil && !now.After(s.ExpiresAt)
}
