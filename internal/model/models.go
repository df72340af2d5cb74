// Package model defines data structure.
package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// User is an account known to the identity directory. Email doubles as the
// login name.
type User struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Email     string    `db:"email" json:"email"`
	FirstName *string   `db:"first_name" json:"first_name,omitempty"`
	LastName  *string   `db:"last_name" json:"last_name,omitempty"`
	FullName  *string   `db:"full_name" json:"full_name,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// DisplayName is the full name when set, the email otherwise.
func (u User) DisplayName() string {
	if u.FullName != nil && strings.TrimSpace(*u.FullName) != "" {
		return *u.FullName
	}
	return u.Email
}
