package utils

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	identifierRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:\-]{0,127}$`)
	controlRegex    = regexp.MustCompile(`[\x00-\x1f\x7f]`)
)

// ValidateIdentifier checks document, budget, actor and attempt ids
func ValidateIdentifier(field, id string) error {
	if !identifierRegex.MatchString(id) {
		return fmt.Errorf("invalid %s: %q", field, id)
	}
	return nil
}

// SanitizeString removes control characters and surrounding whitespace
func SanitizeString(s string) string {
	return strings.TrimSpace(controlRegex.ReplaceAllString(s, ""))
}
