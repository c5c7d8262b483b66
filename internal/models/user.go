package models

import "time"

// User roles.
const (
	// RoleUser is the default role for self-registered accounts.
	RoleUser = "user"
	// RoleAdmin grants access to the admin API.
	RoleAdmin = "admin"
)

// User represents an end-user account stored in the database.
type User struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Email    string `gorm:"type:varchar(150);not null;uniqueIndex"` // Unique login email.
	Password string `gorm:"type:text;not null"`                     // Hashed password.
	Role     string `gorm:"type:varchar(20);not null;default:user"` // Account role.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// IsAdmin reports whether the user carries the admin role.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}
