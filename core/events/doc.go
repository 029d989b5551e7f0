// Package events defines the typed orchestration event contract.
//
// Event kinds are grouped by receiver-facing namespaces:
//
//   - user_input.*
//   - speculation.*
//   - reconciliation.*
//   - session.*
//
// Semantics used across the package:
//
//   - Partial: mutable point-in-time transcript snapshot that can change.
//   - Final: terminal immutable transcript or payload for the utterance.
//   - Speculative: work begun on a predicted intent before the user has
//     finished speaking; it may be cancelled or discarded at any time.
//
// user_input events
//
//   - UserSpeechStarted (user_input.speech_started): speech activity began.
//   - UserSpeechEnded (user_input.speech_ended): speech activity ended.
//   - UserTranscriptPartial (user_input.transcript_partial): mutable partial
//     transcript snapshot with its source sequence number.
//   - UserTranscriptFinal (user_input.transcript_final): terminal transcript
//     for the utterance.
//
// speculation events
//
//   - SpeculationTriggered (speculation.triggered): the confidence gate fired
//     and a speculative task was registered.
//   - SpeculationCancelled (speculation.cancelled): a speculative task was
//     cancelled before completing.
//   - SpeculationCompleted (speculation.completed): a speculative task
//     finished inside its budget and its result was cached.
//   - SpeculationFailed (speculation.failed): a speculative task failed or
//     overran its budget; never user visible on its own.
//   - SpeculationShed (speculation.shed): a gate trigger was suppressed
//     because the process was shedding load.
//
// reconciliation events
//
//   - ReconciliationHit (reconciliation.hit): the finalized utterance matched
//     a speculative result exactly.
//   - ReconciliationMiss (reconciliation.miss): no usable speculation; the
//     fallback path was taken.
//
// session events
//
//   - SessionStateChanged (session.state_changed): the session moved between
//     lifecycle states.
//   - SessionBargeIn (session.barge_in): the user spoke while a response was
//     playing.
//   - ResponseStarted (session.response_started): response delivery began.
//   - ResponseEnded (session.response_ended): response delivery finished or
//     was cut short.
package events
