// Package transcripts defines the recognized-speech types the orchestrator
// consumes from the speech frontend.
package transcripts

import (
	"strings"
	"time"
)

// Token is a single recognized word with its timing and confidence.
type Token struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// PartialTranscript is a point-in-time recognition hypothesis. It is never
// mutated after creation; a newer hypothesis supersedes it with a higher
// sequence number. Final marks the terminal hypothesis for the utterance.
type PartialTranscript struct {
	Tokens     []Token
	Seq        uint64
	Final      bool
	ReceivedAt time.Time
}

// New creates a transcript hypothesis stamped with the current time.
func New(seq uint64, final bool, tokens ...Token) PartialTranscript {
	return PartialTranscript{
		Tokens:     tokens,
		Seq:        seq,
		Final:      final,
		ReceivedAt: time.Now(),
	}
}

// Text joins the recognized tokens into the hypothesis text.
func (p PartialTranscript) Text() string {
	words := make([]string, 0, len(p.Tokens))
	for _, token := range p.Tokens {
		words = append(words, token.Word)
	}
	return strings.Join(words, " ")
}

// Duration is the span from the first token's start to the last token's end.
func (p PartialTranscript) Duration() time.Duration {
	if len(p.Tokens) == 0 {
		return 0
	}
	return p.Tokens[len(p.Tokens)-1].End - p.Tokens[0].Start
}

// MinConfidence returns the lowest per-token confidence, or zero when the
// hypothesis is empty.
func (p PartialTranscript) MinConfidence() float64 {
	if len(p.Tokens) == 0 {
		return 0
	}
	minimum := p.Tokens[0].Confidence
	for _, token := range p.Tokens[1:] {
		if token.Confidence < minimum {
			minimum = token.Confidence
		}
	}
	return minimum
}
