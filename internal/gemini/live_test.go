package gemini

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/genai"
)

func TestToEventCollectsAudioAndTranscripts(t *testing.T) {
	t.Parallel()

	msg := &genai.LiveServerMessage{
		ServerContent: &genai.LiveServerContent{
			ModelTurn: &genai.Content{Parts: []*genai.Part{
				{InlineData: &genai.Blob{Data: []byte{1, 2}, MIMEType: "audio/pcm;rate=24000"}},
				{Text: "ignored"},
				{InlineData: &genai.Blob{Data: []byte{3, 4}, MIMEType: "audio/pcm;rate=24000"}},
			}},
			InputTranscription:  &genai.Transcription{Text: "hello"},
			OutputTranscription: &genai.Transcription{Text: "hi"},
			TurnComplete:        true,
		},
	}

	ev := toEvent(msg)
	if len(ev.Audio) != 2 {
		t.Fatalf("got %d audio chunks, want 2", len(ev.Audio))
	}
	if ev.InputText != "hello" || ev.OutputText != "hi" || !ev.TurnComplete || ev.Interrupted {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestToEventWithoutServerContent(t *testing.T) {
	t.Parallel()

	ev := toEvent(&genai.LiveServerMessage{})
	if len(ev.Audio) != 0 || ev.TurnComplete || ev.Interrupted {
		t.Fatalf("expected empty event, got %+v", ev)
	}
}

func TestNewClientRequiresKey(t *testing.T) {
	t.Parallel()

	_, err := NewClient(context.Background(), "")
	if !errors.Is(err, ErrMissingKey) {
		t.Fatalf("NewClient(\"\") = %v, want ErrMissingKey", err)
	}
}
