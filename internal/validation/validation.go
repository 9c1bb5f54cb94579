// Package validation validates the identifiers that end up in file names and
// the free-text tags stamped on every row.
package validation

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// =============================================================================
// Name Validation
// =============================================================================

// NameRules defines the validation rules for names used as path components.
type NameRules struct {
	MinLength    int
	MaxLength    int
	AllowDots    bool
	AllowHyphens bool
	AllowUnders  bool
}

// SubjectRules returns the rules for subject identifiers. A subject becomes a
// directory and part of every container name.
func SubjectRules() NameRules {
	return NameRules{
		MinLength:    1,
		MaxLength:    64,
		AllowDots:    true,
		AllowHyphens: true,
		AllowUnders:  true,
	}
}

// SensorRules returns the rules for sensor names.
func SensorRules() NameRules {
	return NameRules{
		MinLength:    1,
		MaxLength:    32,
		AllowHyphens: true,
		AllowUnders:  true,
	}
}

// ValidateName validates a name according to the given rules.
func ValidateName(name string, rules NameRules) error {
	if n := utf8.RuneCountInString(name); n < rules.MinLength {
		return fmt.Errorf("name too short: minimum %d characters required", rules.MinLength)
	} else if n > rules.MaxLength {
		return fmt.Errorf("name too long: maximum %d characters allowed", rules.MaxLength)
	}

	if name == "." || name == ".." {
		return fmt.Errorf("name cannot be '.' or '..'")
	}
	if strings.HasPrefix(name, ".") {
		return fmt.Errorf("name cannot start with '.'")
	}

	for i, r := range name {
		if r < 32 || r == 127 {
			return fmt.Errorf("name cannot contain control characters at position %d", i)
		}
		if r == '/' || r == '\\' {
			return fmt.Errorf("name cannot contain path separators at position %d", i)
		}
		if !isAllowedNameChar(r, rules) {
			return fmt.Errorf("invalid character '%c' at position %d", r, i)
		}
	}
	return nil
}

func isAllowedNameChar(r rune, rules NameRules) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case '.':
		return rules.AllowDots
	case '-':
		return rules.AllowHyphens
	case '_':
		return rules.AllowUnders
	}
	return false
}

// ValidateSubject validates a subject identifier.
func ValidateSubject(subject string) error {
	return ValidateName(subject, SubjectRules())
}

// ValidateSensor validates a sensor name.
func ValidateSensor(sensor string) error {
	return ValidateName(sensor, SensorRules())
}

// =============================================================================
// Tag Validation
// =============================================================================

// MaxTagLength bounds event markers and conditions. Every row carries both
// tags, so long tags inflate the container.
const MaxTagLength = 128

// ValidateTag validates an event marker or condition. Tags are free text;
// the empty tag is allowed and control characters are not, since exports
// are line oriented.
func ValidateTag(tag string) error {
	if !utf8.ValidString(tag) {
		return fmt.Errorf("tag is not valid UTF-8")
	}
	if n := utf8.RuneCountInString(tag); n > MaxTagLength {
		return fmt.Errorf("tag too long: %d characters, maximum %d", n, MaxTagLength)
	}
	for i, r := range tag {
		if unicode.IsControl(r) {
			return fmt.Errorf("tag cannot contain control characters at position %d", i)
		}
	}
	return nil
}

// NormalizeTag trims surrounding whitespace from a tag.
func NormalizeTag(tag string) string {
	return strings.TrimSpace(tag)
}
