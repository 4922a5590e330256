package users

import (
	"strings"
	"time"
)

// User is the account row consumed by magic-link authentication.
type User struct {
	ID                 string     `gorm:"column:id;primaryKey;size:190;not null"`
	Email              string     `gorm:"column:email;size:320;not null;uniqueIndex"`
	MagicLinkToken     *string    `gorm:"column:magic_link_token;size:190;index"`
	MagicLinkExpiresAt *time.Time `gorm:"column:magic_link_expires_at"`
	LastLogin          *time.Time `gorm:"column:last_login"`
	CreatedAt          time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing users.
func (User) TableName() string {
	return "users"
}

// MagicLinkExpired reports whether the stored link expired before now.
// A link without an expiry is treated as expired.
func (u User) MagicLinkExpired(now time.Time) bool {
	if u.MagicLinkExpiresAt == nil {
		return true
	}
	return u.MagicLinkExpiresAt.Before(now)
}

func normalizeEmail(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
