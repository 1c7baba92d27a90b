package user

import "time"

type User struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	Username     string    `json:"username" gorm:"uniqueIndex;size:64;not null"`
	Email        string    `json:"email" gorm:"uniqueIndex;size:255;not null"`
	PasswordHash string    `json:"-" gorm:"size:255;not null"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	Profile *UserProfile `json:"profile,omitempty" gorm:"constraint:OnDelete:CASCADE"`
	Wallet  *Wallet      `json:"wallet,omitempty" gorm:"constraint:OnDelete:CASCADE"`
}

type UserProfile struct {
	ID            uint       `json:"id" gorm:"primaryKey"`
	UserID        uint       `json:"user_id" gorm:"uniqueIndex;not null"`
	DisplayName   string     `json:"display_name" gorm:"size:100"`
	Experience    int64      `json:"experience" gorm:"not null;default:0"`
	Level         int        `json:"level" gorm:"not null;default:1"`
	CurrentStreak int        `json:"current_streak" gorm:"not null;default:0"`
	LongestStreak int        `json:"longest_streak" gorm:"not null;default:0"`
	LastActiveAt  *time.Time `json:"last_active_at"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

type Wallet struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	UserID    uint      `json:"user_id" gorm:"uniqueIndex;not null"`
	Balance   int64     `json:"balance" gorm:"not null;default:0"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Models lists the tables owned by this package, in migration order.
func Models() []any {
	return []any{&User{}, &UserProfile{}, &Wallet{}}
}
