// Package phone normalizes caller phone numbers to the canonical
// ten-digit XXX-XXX-XXXX form used throughout the service.
package phone

import (
	"strings"

	"github.com/pkg/errors"
)

// ErrInvalidNumber is returned when a number cannot be normalized to
// exactly ten digits.
var ErrInvalidNumber = errors.New("phone number must contain exactly 10 digits")

// Format strips non-digit characters, drops a leading country-code 1
// from an eleven-digit number, and formats the result as XXX-XXX-XXXX.
// Inputs that do not reduce to exactly ten digits are rejected.
func Format(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	if len(digits) == 11 && digits[0] == '1' {
		digits = digits[1:]
	}
	if len(digits) != 10 {
		return "", errors.Wrapf(ErrInvalidNumber, "got %d digits from %q", len(digits), raw)
	}

	return digits[:3] + "-" + digits[3:6] + "-" + digits[6:], nil
}
