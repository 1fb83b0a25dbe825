package admission

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownKind is returned when parsing a feedback kind that isn't recognized.
var ErrUnknownKind = errors.New("unknown feedback kind")

// Kind identifies a congestion signal that can be reported to an Engine via Feedback.
type Kind int

const (
	// QueueDelay is the time, in milliseconds, that a request spent queued before processing started.
	QueueDelay Kind = iota

	// CPU is the CPU utilization, from 0 to 1.
	CPU

	// ErrorRate is the rate of failed requests, from 0 to 1.
	ErrorRate

	kindCount
)

// Kinds returns all feedback kinds.
func Kinds() []Kind {
	return []Kind{QueueDelay, CPU, ErrorRate}
}

func (k Kind) String() string {
	switch k {
	case QueueDelay:
		return "queue_delay"
	case CPU:
		return "cpu"
	case ErrorRate:
		return "error_rate"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Valid returns whether the kind is known.
func (k Kind) Valid() bool {
	return k >= QueueDelay && k < kindCount
}

// ParseKind parses a kind from its String form, else returns ErrUnknownKind.
func ParseKind(s string) (Kind, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for _, kind := range Kinds() {
		if kind.String() == normalized {
			return kind, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}
