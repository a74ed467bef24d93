package storage

import (
	"fmt"
	"regexp"
)

var identifierRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// ValidateIdentifier checks a table or column name before it is placed in SQL text.
// Values are always bound; only identifiers go through here.
func ValidateIdentifier(name string) error {
	if !identifierRe.MatchString(name) {
		return fmt.Errorf("%w: identifier %q", ErrInvalidInput, name)
	}
	return nil
}
