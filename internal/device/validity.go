package device

import (
	"regexp"
	"strings"
)

// MinLength is the shortest fingerprint accepted by Classify.
const MinLength = 20

// Validity grades a fingerprint candidate.
type Validity int

const (
	Invalid Validity = iota
	Suspicious
	Valid
)

func (v Validity) String() string {
	switch v {
	case Valid:
		return "valid"
	case Suspicious:
		return "suspicious"
	default:
		return "invalid"
	}
}

var hexPattern = regexp.MustCompile(`^[A-Fa-f0-9]{20,}$`)

// Classify returns Invalid for empty or short candidates, Suspicious for
// candidates that are long enough but not hex, and Valid otherwise.
func Classify(candidate string) Validity {
	trimmed := strings.TrimSpace(candidate)
	if len(trimmed) < MinLength {
		return Invalid
	}
	if !hexPattern.MatchString(trimmed) {
		return Suspicious
	}
	return Valid
}

// IsValid is the permissive check: a suspicious candidate passes.
func IsValid(candidate string) bool {
	return Classify(candidate) != Invalid
}
