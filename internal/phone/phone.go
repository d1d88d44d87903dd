// Package phone normalizes WhatsApp numbers to E.164.
package phone

import (
	"errors"
	"regexp"
	"strings"
)

// ErrInvalidNumber is returned for input that cannot be normalized to E.164.
var ErrInvalidNumber = errors.New("invalid phone number")

var e164 = regexp.MustCompile(`^\+[1-9][0-9]{7,15}$`)

// NormalizeE164 converts local-format input to E.164. Bare 10-digit numbers
// are assumed Indian (+91); 12-digit numbers starting with 91 get a plus.
// Anything that does not end up matching E.164 is rejected.
func NormalizeE164(input string) (string, error) {
	digits := stripNonDigits(input)

	var normalized string
	switch {
	case len(digits) == 12 && strings.HasPrefix(digits, "91"):
		normalized = "+" + digits
	case len(digits) == 10:
		normalized = "+91" + digits
	case len(digits) > 10:
		normalized = "+" + digits
	default:
		normalized = input
	}

	if !e164.MatchString(normalized) {
		return "", ErrInvalidNumber
	}

	return normalized, nil
}

// Valid reports whether a number is already strict E.164.
func Valid(number string) bool {
	return e164.MatchString(number)
}

// Display renders an Indian E.164 number with the conventional 5-5 split.
func Display(number string) string {
	if strings.HasPrefix(number, "+91") && len(number) == 13 {
		rest := number[3:]
		return "+91 " + rest[:5] + " " + rest[5:]
	}
	return number
}

func stripNonDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
