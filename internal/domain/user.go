// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"math/rand/v2"
)

const (
	MinGuestUserID int64 = 1e15
	MaxGuestUserID int64 = 3e15
)

var ErrUserIDOutOfRange = errors.New("user id out of range")

type UserID int64

type User struct {
	ID   UserID `json:"id"`
	Name string `json:"name,omitempty"`
}

// NewGuestUserID picks a random anonymous id in [1e15, 3e15).
func NewGuestUserID() UserID {
	return UserID(MinGuestUserID + rand.Int64N(MaxGuestUserID-MinGuestUserID))
}

// ValidateUserID accepts zero (meaning "generate one") and any positive id.
func ValidateUserID(id int64) error {
	if id < 0 {
		return ErrUserIDOutOfRange
	}
	return nil
}
