package domain

import (
	"errors"
	"net/mail"
	"strings"
)

var (
	ErrInvalidName  = errors.New("invalid_name")
	ErrInvalidEmail = errors.New("invalid_email")
	ErrInvalidPhone = errors.New("invalid_phone")
	ErrExists       = errors.New("customer_already_exists")
)

// Normalize trims the profile and checks the fields a claim requires.
func (p Profile) Normalize() (Profile, error) {
	out := Profile{
		Name:  strings.TrimSpace(p.Name),
		Email: strings.ToLower(strings.TrimSpace(p.Email)),
		Phone: strings.TrimSpace(p.Phone),
	}
	if out.Name == "" || len(out.Name) > 255 {
		return Profile{}, ErrInvalidName
	}
	if out.Email == "" || len(out.Email) > 255 {
		return Profile{}, ErrInvalidEmail
	}
	if addr, err := mail.ParseAddress(out.Email); err != nil || addr.Address != out.Email {
		return Profile{}, ErrInvalidEmail
	}
	if len(out.Phone) > 32 {
		return Profile{}, ErrInvalidPhone
	}
	return out, nil
}
