package diag

import (
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Severity defines the category of a diagnostic.
type Severity uint8

const (
	// SevFatal is reported by the validator when it cannot continue with a file.
	SevFatal Severity = iota
	// SevError is a validator error.
	SevError
	// SevWarning is a validator warning.
	SevWarning
	// SevUsage is a validator usage hint.
	SevUsage
	// SevInfo is an informational validator message.
	SevInfo
	// SevToolVersion carries the validator's own version banner.
	SevToolVersion
	// SevTargetVersion carries the format version whose rules were applied.
	SevTargetVersion
	// SevInternalError denotes a wrapper-side failure (launch, parse, timeout).
	SevInternalError
)

var severityNames = [...]string{
	SevFatal:         "FATAL",
	SevError:         "ERROR",
	SevWarning:       "WARNING",
	SevUsage:         "USAGE",
	SevInfo:          "INFO",
	SevToolVersion:   "TOOL_VERSION",
	SevTargetVersion: "TARGET_VERSION",
	SevInternalError: "INTERNAL_ERROR",
}

// Severities lists every severity in declaration order.
func Severities() []Severity {
	return []Severity{
		SevFatal, SevError, SevWarning, SevUsage, SevInfo,
		SevToolVersion, SevTargetVersion, SevInternalError,
	}
}

func (s Severity) String() string {
	if int(s) < len(severityNames) {
		return severityNames[s]
	}
	return "UNKNOWN"
}

// Label is the display form used in rendered diagnostics ("TOOL VERSION").
func (s Severity) Label() string {
	return strings.ReplaceAll(s.String(), "_", " ")
}

// IsProblem reports whether the severity should fail a validation.
func (s Severity) IsProblem() bool {
	switch s {
	case SevFatal, SevError, SevInternalError:
		return true
	}
	return false
}

// ParseSeverity maps a tag to a Severity. Matching is case-sensitive, the
// validator always prints upper-case tags.
func ParseSeverity(tag string) (Severity, bool) {
	for i, name := range severityNames {
		if name == tag {
			return Severity(i), true
		}
	}
	return SevInternalError, false
}

// SeverityFromTag maps a tag printed by the validator (FATAL, ERROR, WARNING,
// USAGE, INFO). Any other tag becomes SevInternalError and a warning is
// logged instead of failing.
func SeverityFromTag(tag string, log *zap.Logger) Severity {
	sev, ok := ParseSeverity(tag)
	if ok && sev <= SevInfo {
		return sev
	}
	if log != nil {
		log.Warn("illegal severity tag", zap.String("tag", tag))
	}
	return SevInternalError
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(text []byte) error {
	sev, ok := ParseSeverity(string(text))
	if !ok {
		return &UnknownSeverityError{Tag: string(text)}
	}
	*s = sev
	return nil
}

// UnknownSeverityError is returned when decoding a severity name that is not
// part of the taxonomy.
type UnknownSeverityError struct {
	Tag string
}

func (e *UnknownSeverityError) Error() string {
	return "unknown severity " + strconv.Quote(e.Tag)
}
