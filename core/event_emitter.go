package orchestration

import "github.com/aria-voice/aria-core/core/events"

type eventEmitter func(events.Event)

func noopEventEmitter(events.Event) {}

// Callbacks groups the optional per-kind observer hooks. Nil callbacks are
// skipped.
type Callbacks struct {
	OnPartialTranscript  func(transcript string, seq uint64)
	OnFinalTranscript    func(transcript string, seq uint64)
	OnSpeculationStarted func(taskID, intent string)
	OnSpeculationSettled func(taskID, intent string, completed bool)
	OnReconciled         func(intent, source string)
	OnStateChanged       func(sessionID, from, to string)
	OnBargeIn            func(sessionID string)
	OnResponseEnded      func(sessionID string, interrupted bool)
}

func newCallbackEventEmitter(callbacks Callbacks) eventEmitter {
	return func(event events.Event) {
		switch typedEvent := event.(type) {
		case events.UserTranscriptPartial:
			if callbacks.OnPartialTranscript != nil {
				callbacks.OnPartialTranscript(typedEvent.Transcript, typedEvent.Seq)
			}
		case events.UserTranscriptFinal:
			if callbacks.OnFinalTranscript != nil {
				callbacks.OnFinalTranscript(typedEvent.Transcript, typedEvent.Seq)
			}
		case events.SpeculationTriggered:
			if callbacks.OnSpeculationStarted != nil {
				callbacks.OnSpeculationStarted(typedEvent.TaskID, typedEvent.Intent)
			}
		case events.SpeculationCompleted:
			if callbacks.OnSpeculationSettled != nil {
				callbacks.OnSpeculationSettled(typedEvent.TaskID, typedEvent.Intent, true)
			}
		case events.SpeculationCancelled:
			if callbacks.OnSpeculationSettled != nil {
				callbacks.OnSpeculationSettled(typedEvent.TaskID, typedEvent.Intent, false)
			}
		case events.SpeculationFailed:
			if callbacks.OnSpeculationSettled != nil {
				callbacks.OnSpeculationSettled(typedEvent.TaskID, typedEvent.Intent, false)
			}
		case events.ReconciliationHit:
			if callbacks.OnReconciled != nil {
				callbacks.OnReconciled(typedEvent.Intent, "speculative-hit")
			}
		case events.ReconciliationMiss:
			if callbacks.OnReconciled != nil {
				callbacks.OnReconciled(typedEvent.Intent, "fresh-computed")
			}
		case events.SessionStateChanged:
			if callbacks.OnStateChanged != nil {
				callbacks.OnStateChanged(typedEvent.SessionID, typedEvent.From, typedEvent.To)
			}
		case events.SessionBargeIn:
			if callbacks.OnBargeIn != nil {
				callbacks.OnBargeIn(typedEvent.SessionID)
			}
		case events.ResponseEnded:
			if callbacks.OnResponseEnded != nil {
				callbacks.OnResponseEnded(typedEvent.SessionID, typedEvent.Interrupted)
			}
		}
	}
}
