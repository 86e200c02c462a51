package shortcode

import (
	"errors"
	"fmt"
)

// ErrInvalidAlias is returned for custom aliases that cannot be used as a code
var ErrInvalidAlias = errors.New("invalid alias")

// reserved collide with fixed routes
var reserved = map[string]struct{}{
	"api":    {},
	"health": {},
}

// ValidateAlias checks a user supplied alias: minLen..maxLen characters from
// [A-Za-z0-9_-], and not a reserved path segment.
func ValidateAlias(alias string, minLen, maxLen int) error {
	if len(alias) < minLen || len(alias) > maxLen {
		return fmt.Errorf("%w: length must be between %d and %d", ErrInvalidAlias, minLen, maxLen)
	}
	for i := 0; i < len(alias); i++ {
		c := alias[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '_', c == '-':
		default:
			return fmt.Errorf("%w: character %q not allowed", ErrInvalidAlias, c)
		}
	}
	if _, ok := reserved[alias]; ok {
		return fmt.Errorf("%w: %q is reserved", ErrInvalidAlias, alias)
	}
	return nil
}
