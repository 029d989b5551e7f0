// Package websocket exposes orchestration sessions over a websocket endpoint.
// Each connection owns exactly one session: inbound messages are the asr_partial
// and speculation envelopes from the wire package, outbound messages are
// reconciliation outcomes and user-visible errors.
package websocket

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"

	orchestration "github.com/aria-voice/aria-core/core"
	"github.com/aria-voice/aria-core/core/intents"
	"github.com/aria-voice/aria-core/core/reconcile"
	"github.com/aria-voice/aria-core/core/transcripts"
	"github.com/aria-voice/aria-core/core/wire"
	"github.com/aria-voice/aria-core/internal/utils"
)

// sessionConn is the slice of the session surface the envelope loop needs.
type sessionConn interface {
	IngestPartial(ctx context.Context, transcript transcripts.PartialTranscript) error
	IngestGuess(ctx context.Context, guess intents.Guess) error
	Finalize(ctx context.Context, final transcripts.PartialTranscript, guess *intents.Guess) (*reconcile.Result, error)
	Close()
}

// Handler upgrades HTTP requests into session websockets.
type Handler struct {
	orchestrator *orchestration.Orchestrator
	upgrader     websocket.Upgrader
	sessionOpts  []orchestration.SessionOption
}

// NewHandler builds a websocket handler over the given orchestrator. The
// session options are applied to every session the handler opens.
func NewHandler(orchestrator *orchestration.Orchestrator, opts ...orchestration.SessionOption) *Handler {
	return &Handler{
		orchestrator: orchestrator,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		sessionOpts: opts,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Failed to upgrade websocket connection", "error", err)
		return
	}
	defer conn.Close()

	session := h.orchestrator.OpenSession(h.sessionOpts...)
	defer session.Close()

	ctx, span := tracer.Start(r.Context(), "websocket session")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", session.ID))

	state := newConnState(session)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Error("Websocket read failed", "error", err, "session_id", session.ID)
			}
			return
		}

		response, err := state.handleMessage(ctx, data)
		if err != nil {
			logger.Info("Dropped inbound message", "error", err, "session_id", session.ID)
			continue
		}
		if response == nil {
			continue
		}
		if err := conn.WriteJSON(response); err != nil {
			logger.Error("Websocket write failed", "error", err, "session_id", session.ID)
			return
		}
	}
}

// connState tracks the per-connection decoding state: the last guess the
// session accepted, so finalization can hand it to reconciliation without a
// second classification pass.
type connState struct {
	session   sessionConn
	lastGuess *intents.Guess
}

func newConnState(session sessionConn) *connState {
	return &connState{session: session}
}

// handleMessage decodes one inbound envelope, applies it to the session, and
// returns the outbound envelope to send, if any. A returned error means the
// message was dropped; the connection stays up.
func (c *connState) handleMessage(ctx context.Context, data []byte) (any, error) {
	envelope, err := wire.Decode(data)
	if err != nil {
		return nil, err
	}

	switch envelope := envelope.(type) {
	case wire.ASRPartial:
		transcript := envelope.Transcript()
		if !transcript.Final {
			return nil, c.session.IngestPartial(ctx, transcript)
		}

		guess := c.lastGuess
		c.lastGuess = nil
		result, err := c.session.Finalize(ctx, transcript, guess)
		if err != nil {
			logger.Error("Finalization failed", "error", err)
			return wire.NewError("failed to complete the request"), nil
		}
		return wire.FromResult(*result), nil
	case wire.Speculation:
		guess := envelope.Guess()
		if err := c.session.IngestGuess(ctx, guess); err != nil {
			return nil, err
		}
		c.lastGuess = utils.Ptr(guess)
		return nil, nil
	default:
		return nil, fmt.Errorf("unexpected inbound envelope type %T", envelope)
	}
}
