// Package validation holds the account rules applied to credentials the
// portal creates itself.
package validation

import (
	"fmt"
	"regexp"
	"unicode"
)

const (
	minPasswordLength = 12
	maxPasswordLength = 128
)

var usernameRegex = regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9_.-]{1,148}[A-Za-z0-9])$`)

// ValidatePassword enforces length and character-class rules. Length is
// counted in runes.
func ValidatePassword(password string) error {
	n := len([]rune(password))
	if n < minPasswordLength || n > maxPasswordLength {
		return fmt.Errorf("password must be %d-%d characters", minPasswordLength, maxPasswordLength)
	}

	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			special = true
		}
	}
	if !upper || !lower || !digit || !special {
		return fmt.Errorf("password needs an upper-case letter, a lower-case letter, a digit and a symbol")
	}
	return nil
}

// ValidateUsername accepts 3-150 letters, digits, dots, dashes and
// underscores, starting and ending with a letter or digit.
func ValidateUsername(username string) error {
	if !usernameRegex.MatchString(username) {
		return fmt.Errorf("username must be 3-150 letters, digits, '.', '-' or '_' and start and end with a letter or digit")
	}
	return nil
}
