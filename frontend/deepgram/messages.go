package deepgram

import (
	"encoding/json"
	"log"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
)

func (c *Client) processMessage(msg []byte) {
	var parsedMsg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg, &parsedMsg); err != nil {
		log.Println("Failed to unmarshal deepgram message", "error", err)
		return
	}

	switch api.TypeResponse(parsedMsg.Type) {
	case api.TypeMessageResponse:
		var msgResp api.MessageResponse
		if err := json.Unmarshal(msg, &msgResp); err != nil {
			log.Println("Failed to unmarshal deepgram message", err)
			return
		}
		c.processTranscript(msgResp)

	case api.TypeUtteranceEndResponse:
		var msgResp api.UtteranceEndResponse
		if err := json.Unmarshal(msg, &msgResp); err != nil {
			log.Println("Failed to unmarshal deepgram message", err)
			return
		}
		c.flushFinal()

	case api.TypeSpeechStartedResponse:
		if c.callbacks.OnSpeechStarted != nil {
			c.callbacks.OnSpeechStarted()
		}
	}
}

func (c *Client) processTranscript(msgResp api.MessageResponse) {
	if len(msgResp.Channel.Alternatives) == 0 {
		return
	}
	words := adaptWords(msgResp.Channel.Alternatives[0])
	if len(words) == 0 {
		return
	}

	if msgResp.IsFinal {
		// A finalized segment: the words won't change anymore, so they join
		// the utterance accumulator.
		c.accumulated = append(c.accumulated, words...)
		if msgResp.SpeechFinal {
			c.flushFinal()
			return
		}
		c.emitPartial(c.accumulated)
		return
	}

	// Interim words are a mutable tail on top of the accumulated segments.
	snapshot := make([]Word, 0, len(c.accumulated)+len(words))
	snapshot = append(snapshot, c.accumulated...)
	snapshot = append(snapshot, words...)
	c.emitPartial(snapshot)
}

func (c *Client) emitPartial(words []Word) {
	if c.callbacks.OnPartial == nil {
		return
	}
	c.seq++
	c.callbacks.OnPartial(PartialResult{Words: words, Seq: c.seq})
}

func (c *Client) flushFinal() {
	if len(c.accumulated) == 0 {
		return
	}
	words := c.accumulated
	c.accumulated = nil
	if c.callbacks.OnFinal == nil {
		return
	}
	c.seq++
	c.callbacks.OnFinal(PartialResult{Words: words, Seq: c.seq, Final: true})
}

func adaptWords(alternative api.Alternative) []Word {
	words := make([]Word, 0, len(alternative.Words))
	for _, word := range alternative.Words {
		words = append(words, Word{
			Word:       word.Word,
			Start:      time.Duration(word.Start * float64(time.Second)),
			End:        time.Duration(word.End * float64(time.Second)),
			Confidence: word.Confidence,
		})
	}
	return words
}
