package deepgram

import (
	"testing"
	"time"
)

const interimMessage = `{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"what's the wea","confidence":0.7,"words":[{"word":"what's","start":0.0,"end":0.3,"confidence":0.91},{"word":"the","start":0.3,"end":0.45,"confidence":0.97},{"word":"wea","start":0.45,"end":0.7,"confidence":0.62}]}]}}`

const finalSegmentMessage = `{"type":"Results","is_final":true,"speech_final":false,"channel":{"alternatives":[{"transcript":"what's the weather","confidence":0.92,"words":[{"word":"what's","start":0.0,"end":0.3,"confidence":0.95},{"word":"the","start":0.3,"end":0.45,"confidence":0.97},{"word":"weather","start":0.45,"end":0.8,"confidence":0.94}]}]}}`

const speechFinalMessage = `{"type":"Results","is_final":true,"speech_final":true,"channel":{"alternatives":[{"transcript":"in Dhulikhel","confidence":0.9,"words":[{"word":"in","start":0.8,"end":0.9,"confidence":0.96},{"word":"Dhulikhel","start":0.9,"end":1.4,"confidence":0.89}]}]}}`

const utteranceEndMessage = `{"type":"UtteranceEnd","last_word_end":1.4}`

func TestInterimMessagesBecomeSequencedPartials(t *testing.T) {
	client := NewClient("en-US")
	var partials []PartialResult
	client.callbacks = Callbacks{
		OnPartial: func(partial PartialResult) { partials = append(partials, partial) },
	}

	client.processMessage([]byte(interimMessage))
	client.processMessage([]byte(interimMessage))

	if len(partials) != 2 {
		t.Fatalf("expected 2 partials, got %d", len(partials))
	}
	if partials[0].Seq != 1 || partials[1].Seq != 2 {
		t.Fatalf("expected monotone sequence numbers, got %d then %d", partials[0].Seq, partials[1].Seq)
	}
	if partials[0].Final {
		t.Fatal("interim partials must not be final")
	}
	if got := partials[0].Words[2]; got.Word != "wea" || got.Start != 450*time.Millisecond {
		t.Fatalf("unexpected adapted word: %+v", got)
	}
}

func TestFinalizedSegmentsAccumulateIntoTheUtterance(t *testing.T) {
	client := NewClient("en-US")
	var finals []PartialResult
	client.callbacks = Callbacks{
		OnFinal: func(final PartialResult) { finals = append(finals, final) },
	}

	client.processMessage([]byte(finalSegmentMessage))
	client.processMessage([]byte(speechFinalMessage))

	if len(finals) != 1 {
		t.Fatalf("expected one final transcript, got %d", len(finals))
	}
	if !finals[0].Final {
		t.Fatal("expected the flushed transcript to be final")
	}
	if len(finals[0].Words) != 5 {
		t.Fatalf("expected all 5 words of the utterance, got %d", len(finals[0].Words))
	}
	if finals[0].Words[4].Word != "Dhulikhel" {
		t.Fatalf("expected the last segment's words appended, got %q", finals[0].Words[4].Word)
	}
}

func TestUtteranceEndFlushesPendingSegments(t *testing.T) {
	client := NewClient("en-US")
	var finals []PartialResult
	client.callbacks = Callbacks{
		OnFinal: func(final PartialResult) { finals = append(finals, final) },
	}

	client.processMessage([]byte(finalSegmentMessage))
	client.processMessage([]byte(utteranceEndMessage))
	client.processMessage([]byte(utteranceEndMessage))

	if len(finals) != 1 {
		t.Fatalf("expected exactly one flush, got %d", len(finals))
	}
	if len(finals[0].Words) != 3 {
		t.Fatalf("expected the pending segment's words, got %d", len(finals[0].Words))
	}
}

func TestSpeechStartedInvokesCallback(t *testing.T) {
	client := NewClient("en-US")
	started := 0
	client.callbacks = Callbacks{OnSpeechStarted: func() { started++ }}

	client.processMessage([]byte(`{"type":"SpeechStarted","timestamp":0.1}`))

	if started != 1 {
		t.Fatalf("expected one speech-started callback, got %d", started)
	}
}

func TestPartialResultConvertsToAnOrchestratorTranscript(t *testing.T) {
	result := PartialResult{
		Words: []Word{
			{Word: "what's", Start: 0, End: 300 * time.Millisecond, Confidence: 0.95},
			{Word: "the", Start: 300 * time.Millisecond, End: 450 * time.Millisecond, Confidence: 0.97},
		},
		Seq:   3,
		Final: true,
	}

	transcript := result.Transcript()
	if transcript.Seq != 3 || !transcript.Final {
		t.Fatalf("unexpected transcript metadata: %+v", transcript)
	}
	if transcript.Text() != "what's the" {
		t.Fatalf("unexpected transcript text: %q", transcript.Text())
	}
	if transcript.Tokens[1].End != 450*time.Millisecond {
		t.Fatalf("unexpected token timing: %v", transcript.Tokens[1].End)
	}
}
