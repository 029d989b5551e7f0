// Package deepgram adapts a live Deepgram transcription stream into the
// ordered PartialTranscript stream the orchestrator ingests.
package deepgram

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/gorilla/websocket"

	"github.com/aria-voice/aria-core/core/transcripts"
)

// Callbacks deliver the adapted transcript stream. Nil callbacks are
// skipped.
type Callbacks struct {
	OnSpeechStarted func()
	OnPartial       func(transcript PartialResult)
	OnFinal         func(transcript PartialResult)
}

// PartialResult is one adapted recognizer snapshot: words with offsets and
// confidences plus the monotone sequence number the orchestrator's ordering
// check relies on.
type PartialResult struct {
	Words []Word
	Seq   uint64
	Final bool
}

// Transcript converts the snapshot into the transcript type the
// orchestrator's session ingests.
func (r PartialResult) Transcript() transcripts.PartialTranscript {
	tokens := make([]transcripts.Token, 0, len(r.Words))
	for _, word := range r.Words {
		tokens = append(tokens, transcripts.Token{
			Word:       word.Word,
			Start:      word.Start,
			End:        word.End,
			Confidence: word.Confidence,
		})
	}
	return transcripts.New(r.Seq, r.Final, tokens...)
}

// Word is one recognized word with offsets relative to stream start.
type Word struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// Client is a Deepgram live-transcription connection.
type Client struct {
	Language   string
	SampleRate int
	Encoding   string

	callbacks Callbacks

	connMu sync.Mutex
	conn   *websocket.Conn

	seq         uint64
	accumulated []Word
}

// NewClient creates a client for the given language. Zero values fall back
// to linear16 at 16kHz.
func NewClient(language string) *Client {
	return &Client{
		Language:   language,
		SampleRate: 16000,
		Encoding:   "linear16",
	}
}

// Stream opens the websocket and reads messages until ctx is done or the
// stream closes. Transcripts are delivered through the callbacks.
func (c *Client) Stream(ctx context.Context, callbacks Callbacks) error {
	apiKey, ok := os.LookupEnv("DEEPGRAM_API_KEY")
	if !ok {
		return fmt.Errorf("deepgram api key not found")
	}

	listenURL, _ := url.Parse("wss://api.deepgram.com/v1/listen")
	queryParams := listenURL.Query()
	queryParams.Set("encoding", c.Encoding)
	queryParams.Set("sample_rate", strconv.Itoa(c.SampleRate))
	queryParams.Set("channels", "1")
	queryParams.Set("model", "nova-3")
	queryParams.Set("language", c.Language)
	queryParams.Set("interim_results", "true")
	queryParams.Set("utterance_end_ms", "1000")
	queryParams.Set("endpointing", "300")
	queryParams.Set("vad_events", "true")
	listenURL.RawQuery = queryParams.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(listenURL.String(),
		http.Header{"Authorization": {"Token " + apiKey}})
	if err != nil {
		return fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}

	c.callbacks = callbacks
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	go c.readAndProcessMessages(ctx, conn)
	return nil
}

// SendAudio forwards one audio frame to the recognizer.
func (c *Client) SendAudio(audio []byte) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("deepgram stream is not open")
	}
	if err := c.conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		return fmt.Errorf("failed to write to deepgram client: %w", err)
	}
	return nil
}

// Close ends the stream.
func (c *Client) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.WriteJSON(struct {
		Type string `json:"type"`
	}{Type: string(api.TypeCloseStreamResponse)})
	c.conn.Close()
	c.conn = nil
	if err != nil {
		return fmt.Errorf("failed to close deepgram stream: %w", err)
	}
	return nil
}

func (c *Client) readAndProcessMessages(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			c.Close()
			return
		default:
		}

		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if err.Error() != "websocket: close 1000 (normal)" {
				log.Println("Failed to read deepgram websocket message", "error", err)
			}
			c.connMu.Lock()
			c.conn = nil
			c.connMu.Unlock()
			conn.Close()
			return
		}
		if msgType != websocket.BinaryMessage {
			c.processMessage(msg)
		}
	}
}
