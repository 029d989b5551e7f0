// Package wire defines the JSON envelopes that carry transcripts, intent
// guesses, and reconciliation outcomes across the session boundary. The
// orchestrator core is transport agnostic; this package is the one place the
// documented encodings live.
package wire

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aria-voice/aria-core/core/intents"
	"github.com/aria-voice/aria-core/core/reconcile"
	"github.com/aria-voice/aria-core/core/transcripts"
)

// Envelope type tags.
const (
	TypeASRPartial     = "asr_partial"
	TypeSpeculation    = "speculation"
	TypeReconciliation = "reconciliation"
	TypeError          = "error"
)

// TokenTiming is one recognized word with its offsets in seconds.
type TokenTiming struct {
	Word       string  `json:"w"`
	Start      float64 `json:"s"`
	End        float64 `json:"e"`
	Confidence float64 `json:"c"`
}

// ASRPartial is a partial or final transcript crossing the session boundary.
type ASRPartial struct {
	T     string        `json:"t"`
	Text  string        `json:"text"`
	TS    []TokenTiming `json:"ts"`
	Final bool          `json:"final"`
	Seq   uint64        `json:"seq"`
}

// Speculation is a classifier guess crossing the session boundary.
type Speculation struct {
	T      string            `json:"t"`
	Intent string            `json:"intent"`
	P      float64           `json:"p"`
	Slots  map[string]string `json:"slots"`
	Seq    uint64            `json:"seq"`
}

// Reconciliation is the outcome of a finalized utterance, sent to the client.
type Reconciliation struct {
	T       string            `json:"t"`
	Intent  string            `json:"intent"`
	Slots   map[string]string `json:"slots,omitempty"`
	Source  string            `json:"source"`
	Payload any               `json:"payload,omitempty"`
	// TTFAMillis is the orchestrator's end-of-speech to first-audio time.
	TTFAMillis int64 `json:"ttfa_ms"`
}

// Error is a user-visible failure, only ever produced by the fallback path.
type Error struct {
	T       string `json:"t"`
	Message string `json:"message"`
}

// FromTranscript encodes a transcript as an asr_partial envelope.
func FromTranscript(transcript transcripts.PartialTranscript) ASRPartial {
	timings := make([]TokenTiming, 0, len(transcript.Tokens))
	for _, token := range transcript.Tokens {
		timings = append(timings, TokenTiming{
			Word:       token.Word,
			Start:      token.Start.Seconds(),
			End:        token.End.Seconds(),
			Confidence: token.Confidence,
		})
	}
	return ASRPartial{
		T:     TypeASRPartial,
		Text:  transcript.Text(),
		TS:    timings,
		Final: transcript.Final,
		Seq:   transcript.Seq,
	}
}

// Transcript decodes the envelope into the core transcript type.
func (p ASRPartial) Transcript() transcripts.PartialTranscript {
	tokens := make([]transcripts.Token, 0, len(p.TS))
	for _, timing := range p.TS {
		tokens = append(tokens, transcripts.Token{
			Word:       timing.Word,
			Start:      time.Duration(timing.Start * float64(time.Second)),
			End:        time.Duration(timing.End * float64(time.Second)),
			Confidence: timing.Confidence,
		})
	}
	return transcripts.New(p.Seq, p.Final, tokens...)
}

// FromGuess encodes a classifier guess as a speculation envelope.
func FromGuess(guess intents.Guess) Speculation {
	return Speculation{
		T:      TypeSpeculation,
		Intent: guess.Intent,
		P:      guess.Probability,
		Slots:  guess.Slots,
		Seq:    guess.Seq,
	}
}

// Guess decodes the envelope into the core guess type.
func (s Speculation) Guess() intents.Guess {
	return intents.Guess{
		Intent:      s.Intent,
		Probability: s.P,
		Slots:       intents.Slots(s.Slots).Clone(),
		Seq:         s.Seq,
	}
}

// FromResult encodes a reconciliation outcome for the client.
func FromResult(result reconcile.Result) Reconciliation {
	return Reconciliation{
		T:          TypeReconciliation,
		Intent:     result.Intent,
		Slots:      result.Slots,
		Source:     string(result.Source),
		Payload:    result.Payload,
		TTFAMillis: result.TimeToFirstAudio.Milliseconds(),
	}
}

// NewError builds a user-visible error envelope.
func NewError(message string) Error {
	return Error{T: TypeError, Message: message}
}

// Decode parses one envelope by its type tag and returns the concrete
// envelope struct.
func Decode(data []byte) (any, error) {
	var tag struct {
		T string `json:"t"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, fmt.Errorf("failed to parse envelope: %w", err)
	}

	switch tag.T {
	case TypeASRPartial:
		var envelope ASRPartial
		if err := json.Unmarshal(data, &envelope); err != nil {
			return nil, fmt.Errorf("failed to parse asr_partial envelope: %w", err)
		}
		return envelope, nil
	case TypeSpeculation:
		var envelope Speculation
		if err := json.Unmarshal(data, &envelope); err != nil {
			return nil, fmt.Errorf("failed to parse speculation envelope: %w", err)
		}
		return envelope, nil
	case TypeReconciliation:
		var envelope Reconciliation
		if err := json.Unmarshal(data, &envelope); err != nil {
			return nil, fmt.Errorf("failed to parse reconciliation envelope: %w", err)
		}
		return envelope, nil
	case TypeError:
		var envelope Error
		if err := json.Unmarshal(data, &envelope); err != nil {
			return nil, fmt.Errorf("failed to parse error envelope: %w", err)
		}
		return envelope, nil
	default:
		return nil, fmt.Errorf("unknown envelope type %q", tag.T)
	}
}
