package phone

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidPhone is returned for input that does not match a known Kenyan mobile shape.
var ErrInvalidPhone = errors.New("invalid phone number")

const countryCode = "254"

// Normalize maps local phone formats to the canonical 2547XXXXXXXX form.
// Accepted shapes after stripping non-digits:
//   - 712345678    (9 digits, leading 7)
//   - 0712345678   (10 digits, leading 07)
//   - 254712345678 (12 digits, leading 254)
func Normalize(input string) (string, error) {
	var b strings.Builder
	for _, r := range input {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case len(digits) == 9 && digits[0] == '7':
		return countryCode + digits, nil
	case len(digits) == 10 && strings.HasPrefix(digits, "07"):
		return countryCode + digits[1:], nil
	case len(digits) == 12 && strings.HasPrefix(digits, countryCode):
		return digits, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPhone, input)
}

// NormalizeAny accepts the loosely typed values JSON bodies carry (string or number).
func NormalizeAny(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return Normalize(t)
	case float64:
		return Normalize(strconv.FormatFloat(t, 'f', 0, 64))
	case int:
		return Normalize(strconv.Itoa(t))
	case int64:
		return Normalize(strconv.FormatInt(t, 10))
	case nil:
		return "", fmt.Errorf("%w: empty", ErrInvalidPhone)
	}
	return Normalize(fmt.Sprint(v))
}
