// Package domain holds the battle entities and the rules they carry.
package domain

import "errors"

const MaxUserIDLen = 36

var (
	ErrUserIDEmpty   = errors.New("user id empty")
	ErrUserIDTooLong = errors.New("user id too long")
)

type UserID string

type User struct {
	ID     UserID `json:"id"`
	Handle string `json:"handle"`
	Name   string `json:"name"`
}

// ValidUserID checks ids accepted from the control surface before they reach the backend.
func ValidUserID(id UserID) error {
	if len(id) == 0 {
		return ErrUserIDEmpty
	}
	if len(id) > MaxUserIDLen {
		return ErrUserIDTooLong
	}
	return nil
}
