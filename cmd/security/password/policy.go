package password

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Policy violations returned by Validate and Hash.
var (
	ErrPasswordTooShort = errors.New("password too short")
	ErrPasswordTooLong  = errors.New("password too long")
	ErrWeakPassword     = errors.New("weak password")
)

// trivialPasswords are rejected outright when RejectVeryWeak is set.
var trivialPasswords = map[string]struct{}{
	"password": {}, "password1": {}, "password123": {},
	"123456": {}, "12345678": {}, "123456789": {},
	"qwerty": {}, "qwerty123": {}, "letmein": {}, "11111111": {},
}

// Validate checks the length bounds (in runes) and, optionally, rejects
// trivially guessable passwords.
func (c Config) Validate(password string) error {
	switch n := utf8.RuneCountInString(password); {
	case n < c.Policy.MinLength:
		return ErrPasswordTooShort
	case n > c.Policy.MaxLength:
		return ErrPasswordTooLong
	}
	if c.Policy.RejectVeryWeak && trivial(password) {
		return ErrWeakPassword
	}
	return nil
}

// trivial catches a single repeated character, short all-digit PINs and a
// small denylist. It is not a strength estimator.
func trivial(pw string) bool {
	s := strings.TrimSpace(pw)
	if s == "" {
		return true
	}
	if _, ok := trivialPasswords[strings.ToLower(s)]; ok {
		return true
	}

	first, _ := utf8.DecodeRuneInString(s)
	repeated, digits := true, true
	for _, r := range s {
		repeated = repeated && r == first
		digits = digits && unicode.IsDigit(r)
	}
	return repeated || (digits && utf8.RuneCountInString(s) < 12)
}
