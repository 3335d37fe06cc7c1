// Package streams watches streaming platforms for entities that go live and announces
// each transition once.
//
// A Monitor polls a Provider on a fixed interval for the names in a watch-list, diffs
// the reported live set against the previous poll (Diff) and only announces streams
// whose start time lies inside the freshness window (Fresh). The live set starts empty
// on boot, so the freshness check is what keeps a restart from re-announcing streams
// that were already running.
package streams

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Snapshot is one live stream as reported by a Provider during a single poll.
type Snapshot struct {
	// Name is the watch-list identity of the entity (normalized).
	Name        string
	DisplayName string
	Title       string
	StartedAt   time.Time
	URL         string
}

// Label returns the name to show in chat.
func (s Snapshot) Label() string {
	if s.DisplayName != "" {
		return s.DisplayName
	}
	return s.Name
}

// Provider reports which of the given entities are currently live.
type Provider interface {
	// Platform is a short lowercase identifier, e.g. "twitch".
	Platform() string
	// LiveStreams returns a snapshot for every name that is live right now.
	// Names that are offline are simply absent.
	LiveStreams(ctx context.Context, names []string) ([]Snapshot, error)
}

// Validator distinguishes real entities from typos before they are stored.
type Validator interface {
	// Validate returns the subset of names the platform knows, normalized.
	Validate(ctx context.Context, names []string) ([]string, error)
}

// Kind classifies provider failures.
type Kind int

const (
	// KindTransient covers network errors and timeouts; the monitor backs off.
	KindTransient Kind = iota
	// KindPermanent covers non-2xx responses and malformed payloads; the monitor
	// skips the cycle at its normal interval.
	KindPermanent
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// ProviderError is the typed failure returned by Provider implementations.
type ProviderError struct {
	Kind   Kind
	Op     string
	Status int // HTTP status when the provider answered
	Err    error
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Op, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Transient wraps err as a KindTransient ProviderError.
func Transient(op string, err error) error {
	return &ProviderError{Kind: KindTransient, Op: op, Err: err}
}

// Permanent wraps err as a KindPermanent ProviderError.
func Permanent(op string, status int, err error) error {
	return &ProviderError{Kind: KindPermanent, Op: op, Status: status, Err: err}
}

// Classify returns the Kind of err. Anything that is not a ProviderError (timeouts,
// connection resets, DNS failures) is transient.
func Classify(err error) Kind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindTransient
}
