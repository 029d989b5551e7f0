// Package intents defines the predicted-intent types produced by the external
// intent classifier and the slot comparison policy used during reconciliation.
package intents

import (
	"context"
	"sort"
	"strings"
)

// Slots maps slot names to the values extracted from an utterance.
type Slots map[string]string

// Clone returns an independent copy of the slot mapping.
func (s Slots) Clone() Slots {
	if s == nil {
		return nil
	}
	cloned := make(Slots, len(s))
	for name, value := range s {
		cloned[name] = value
	}
	return cloned
}

// Guess is the classifier's top hypothesis for a transcript. The orchestrator
// treats it as an opaque input keyed by the source sequence number.
type Guess struct {
	Intent      string
	Probability float64
	Slots       Slots
	Seq         uint64
}

// Classifier is the external intent classification collaborator. Classify is
// synchronous; callers bound it with a context deadline.
type Classifier interface {
	Classify(ctx context.Context, transcript string) (*Guess, error)
}

// EqualityPolicy controls how slot values are compared when matching a
// speculative task against the finalized utterance.
type EqualityPolicy int

const (
	// EqualityExact compares slot values byte for byte.
	EqualityExact EqualityPolicy = iota
	// EqualityFoldCase compares slot values after Unicode case folding. This
	// is the default: recognizers routinely differ from classifiers in
	// casing ("dhulikhel" vs "Dhulikhel") while meaning the same slot value.
	EqualityFoldCase
)

// Match reports whether two slot mappings are equal under the policy. A
// single differing slot name or value is a mismatch.
func (p EqualityPolicy) Match(a, b Slots) bool {
	if len(a) != len(b) {
		return false
	}
	for name, valueA := range a {
		valueB, ok := b[name]
		if !ok {
			return false
		}
		switch p {
		case EqualityFoldCase:
			if !strings.EqualFold(valueA, valueB) {
				return false
			}
		default:
			if valueA != valueB {
				return false
			}
		}
	}
	return true
}

// CacheKey builds the canonical cache key for a (intent, slots, scope)
// triple. Slot pairs are sorted so the key is order independent.
func CacheKey(intent string, slots Slots, scope string) string {
	pairs := make([]string, 0, len(slots))
	for name, value := range slots {
		pairs = append(pairs, name+"="+strings.ToLower(value))
	}
	sort.Strings(pairs)

	var key strings.Builder
	key.WriteString(intent)
	key.WriteByte(':')
	key.WriteString(strings.Join(pairs, "|"))
	key.WriteByte(':')
	if scope == "" {
		scope = "global"
	}
	key.WriteString(scope)
	return key.String()
}
