package events

const (
	// KindSessionStateChanged identifies session lifecycle transitions.
	KindSessionStateChanged Kind = "session.state_changed"
	// KindSessionBargeIn identifies the user speaking over a playing response.
	KindSessionBargeIn Kind = "session.barge_in"
	// KindResponseStarted identifies the start of response delivery.
	KindResponseStarted Kind = "session.response_started"
	// KindResponseEnded identifies response delivery finishing or being cut short.
	KindResponseEnded Kind = "session.response_ended"
)

// SessionStateChanged marks a session moving between lifecycle states.
type SessionStateChanged struct {
	Base
	SessionID string
	From      string
	To        string
}

// NewSessionStateChanged creates a session state changed event.
func NewSessionStateChanged(sessionID, from, to string) SessionStateChanged {
	return SessionStateChanged{Base: NewBase(KindSessionStateChanged), SessionID: sessionID, From: from, To: to}
}

// SessionBargeIn marks the user starting to speak while a response was
// playing.
type SessionBargeIn struct {
	Base
	SessionID string
}

// NewSessionBargeIn creates a barge-in event.
func NewSessionBargeIn(sessionID string) SessionBargeIn {
	return SessionBargeIn{Base: NewBase(KindSessionBargeIn), SessionID: sessionID}
}

// ResponseStarted marks response delivery beginning, with the source that
// produced the payload.
type ResponseStarted struct {
	Base
	SessionID string
	Source    string
}

// NewResponseStarted creates a response started event.
func NewResponseStarted(sessionID, source string) ResponseStarted {
	return ResponseStarted{Base: NewBase(KindResponseStarted), SessionID: sessionID, Source: source}
}

// ResponseEnded marks response delivery finishing, whether played to the end
// or interrupted.
type ResponseEnded struct {
	Base
	SessionID   string
	Interrupted bool
}

// NewResponseEnded creates a response ended event.
func NewResponseEnded(sessionID string, interrupted bool) ResponseEnded {
	return ResponseEnded{Base: NewBase(KindResponseEnded), SessionID: sessionID, Interrupted: interrupted}
}
