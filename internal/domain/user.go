package domain

import "time"

// User is an account that can create or be assigned tickets. The pipeline
// acts through a dedicated system user.
type User struct {
	ID           int64
	Email        string
	Name         string
	PasswordHash string
	Department   *string
	IsActive     bool
	IsAdmin      bool
	CreatedAt    time.Time
}
