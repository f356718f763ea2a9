package vault

import (
	"fmt"
	"regexp"
	"unicode/utf8"
)

// Passphrase length limits, counted in characters.
const (
	MinPassphraseLength = 8
	MaxPassphraseLength = 128
)

// PassphraseStrength represents the estimated strength of a passphrase
type PassphraseStrength int

const (
	PassphraseWeak PassphraseStrength = iota
	PassphraseFair
	PassphraseGood
	PassphraseStrong
)

// String returns a human-readable representation of passphrase strength
func (s PassphraseStrength) String() string {
	switch s {
	case PassphraseWeak:
		return "weak"
	case PassphraseFair:
		return "fair"
	case PassphraseGood:
		return "good"
	case PassphraseStrong:
		return "strong"
	default:
		return "unknown"
	}
}

// PassphraseValidationResult contains the result of passphrase validation
type PassphraseValidationResult struct {
	Valid    bool               // Whether the passphrase meets the length limits
	Strength PassphraseStrength // Estimated strength
	Warnings []string           // Suggestions for improvement (not errors)
}

var (
	upperRe   = regexp.MustCompile(`[A-Z]`)
	lowerRe   = regexp.MustCompile(`[a-z]`)
	digitRe   = regexp.MustCompile(`\d`)
	specialRe = regexp.MustCompile(`[^A-Za-z0-9]`)
)

// ValidatePassphrase checks a new passphrase before Setup.
// Only the length limits are hard requirements; complexity produces warnings.
func ValidatePassphrase(passphrase string) *PassphraseValidationResult {
	result := &PassphraseValidationResult{
		Valid:    true,
		Strength: PassphraseFair,
	}

	n := utf8.RuneCountInString(passphrase)
	if n < MinPassphraseLength {
		result.Valid = false
		result.Strength = PassphraseWeak
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("Passphrase must be at least %d characters", MinPassphraseLength))
		return result
	}
	if n > MaxPassphraseLength {
		result.Valid = false
		result.Strength = PassphraseWeak
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("Passphrase must be at most %d characters", MaxPassphraseLength))
		return result
	}

	complexity := 0
	for _, re := range []*regexp.Regexp{upperRe, lowerRe, digitRe, specialRe} {
		if re.MatchString(passphrase) {
			complexity++
		}
	}

	if complexity < 2 && n < 16 {
		result.Warnings = append(result.Warnings,
			"Consider mixing upper and lower case, numbers or symbols, or using several words")
	}
	if n < 12 {
		result.Warnings = append(result.Warnings,
			"Longer passphrases (12+ characters) are more secure")
	}

	switch {
	case complexity >= 3 && n >= 16, n >= 24:
		result.Strength = PassphraseStrong
	case complexity >= 2 && n >= 12:
		result.Strength = PassphraseGood
	case complexity >= 2 || n >= 12:
		result.Strength = PassphraseFair
	default:
		result.Strength = PassphraseWeak
	}

	return result
}
