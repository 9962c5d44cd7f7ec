package utils

import (
	"errors"
	"regexp"
	"unicode"
)

var usernameRe = regexp.MustCompile(`^[a-zA-Z0-9._-]{3,32}$`)

// ValidateUsername enforces the account naming policy: 3-32 characters
// from the letters, digits, dot, underscore and hyphen set.
func ValidateUsername(name string) error {
	if !usernameRe.MatchString(name) {
		return errors.New("username must be 3-32 characters of letters, digits, '.', '_' or '-'")
	}
	return nil
}

// ValidatePassword enforces the password policy: 12-128 characters with at
// least one lowercase letter, one uppercase letter and one digit.
func ValidatePassword(pw string) error {
	if len(pw) < 12 || len(pw) > 128 {
		return errors.New("password must be 12-128 characters long")
	}
	var lower, upper, digit bool
	for _, r := range pw {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !lower || !upper || !digit {
		return errors.New("password must contain lowercase, uppercase and digit characters")
	}
	return nil
}
