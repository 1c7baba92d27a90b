package refreshtoken

import (
	"time"
)

const (
	ReasonRotated       = "rotated"
	ReasonLogout        = "logout"
	ReasonLogoutAll     = "logout_all"
	ReasonReuseDetected = "reuse_detected"
)

// RefreshToken is the persisted record of one issued refresh secret. Only the
// digest of the secret is stored. Rows are revoked, never deleted by the token
// flows; PurgeExpired is the only delete path.
type RefreshToken struct {
	ID             uint       `json:"id" gorm:"primaryKey"`
	UserID         uint       `json:"user_id" gorm:"not null;index"`
	FamilyID       string     `json:"family_id" gorm:"size:36;not null;index"`
	TokenHash      string     `json:"-" gorm:"uniqueIndex;size:64;not null"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      time.Time  `json:"expires_at" gorm:"not null;index"`
	CreatedByIP    string     `json:"created_by_ip" gorm:"size:64"`
	DeviceInfo     string     `json:"device_info" gorm:"size:255"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty" gorm:"index"`
	RevokedByIP    string     `json:"revoked_by_ip,omitempty" gorm:"size:64"`
	ReplacedByHash string     `json:"-" gorm:"size:64"`
	RevokeReason   string     `json:"revoke_reason,omitempty" gorm:"size:32"`
}

func (RefreshToken) TableName() string {
	return "refresh_tokens"
}

func (t *RefreshToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

func (t *RefreshToken) IsRevoked() bool {
	return t.RevokedAt != nil
}

// IsActive reports whether the token may still be exchanged.
func (t *RefreshToken) IsActive(now time.Time) bool {
	return !t.IsRevoked() && !t.IsExpired(now)
}

type IssuedToken struct {
	Token     string
	Record    *RefreshToken
	ExpiresAt time.Time
}

type RotationResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	UserID       uint
	Username     string
	FamilyID     string
}
