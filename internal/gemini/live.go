package gemini

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"github.com/sistemas-dev/sistemas/internal/audio"
	"github.com/sistemas-dev/sistemas/internal/voice"
)

// Connect implements voice.Connector over a genai live session configured for
// spoken replies with both transcriptions enabled.
func (c *Client) Connect(ctx context.Context, cfg voice.ConnectConfig) (voice.Conn, error) {
	lc := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		},
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	}
	if cfg.SystemInstruction != "" {
		lc.SystemInstruction = genai.NewContentFromText(cfg.SystemInstruction, genai.RoleUser)
	}

	session, err := c.api.Live.Connect(ctx, cfg.Model, lc)
	if err != nil {
		return nil, fmt.Errorf("live connect: %w", err)
	}
	return &liveConn{session: session}, nil
}

type liveConn struct {
	session *genai.Session
}

func (l *liveConn) Send(ctx context.Context, blob audio.Blob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	in := genai.LiveRealtimeInput{}
	b := &genai.Blob{Data: blob.Data, MIMEType: blob.MIMEType}
	if strings.HasPrefix(blob.MIMEType, "image/") {
		in.Video = b
	} else {
		in.Audio = b
	}
	return l.session.SendRealtimeInput(in)
}

// Receive returns io.EOF once the remote end closes the socket cleanly.
func (l *liveConn) Receive() (voice.Event, error) {
	msg, err := l.session.Receive()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return voice.Event{}, io.EOF
		}
		return voice.Event{}, err
	}
	return toEvent(msg), nil
}

func (l *liveConn) Close() error {
	return l.session.Close()
}

func toEvent(msg *genai.LiveServerMessage) voice.Event {
	var ev voice.Event
	sc := msg.ServerContent
	if sc == nil {
		return ev
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p != nil && p.InlineData != nil && len(p.InlineData.Data) > 0 {
				ev.Audio = append(ev.Audio, p.InlineData.Data)
			}
		}
	}
	if sc.InputTranscription != nil {
		ev.InputText = sc.InputTranscription.Text
	}
	if sc.OutputTranscription != nil {
		ev.OutputText = sc.OutputTranscription.Text
	}
	ev.Interrupted = sc.Interrupted
	ev.TurnComplete = sc.TurnComplete
	return ev
}
