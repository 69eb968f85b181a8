package live

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/sistemas-dev/sistemas/internal/audio"
	"github.com/sistemas-dev/sistemas/internal/catalog"
	"github.com/sistemas-dev/sistemas/internal/config"
	"github.com/sistemas-dev/sistemas/internal/domain"
	"github.com/sistemas-dev/sistemas/internal/session"
	"github.com/sistemas-dev/sistemas/internal/voice"
)

type streamConn struct {
	sent   chan audio.Blob
	events chan voice.Event
	closed chan struct{}
	once   sync.Once
}

func newStreamConn() *streamConn {
	return &streamConn{
		sent:   make(chan audio.Blob, 16),
		events: make(chan voice.Event),
		closed: make(chan struct{}),
	}
}

func (c *streamConn) Send(_ context.Context, blob audio.Blob) error {
	c.sent <- blob
	return nil
}

func (c *streamConn) Receive() (voice.Event, error) {
	select {
	case ev := <-c.events:
		return ev, nil
	case <-c.closed:
		return voice.Event{}, io.EOF
	}
}

func (c *streamConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

type streamConnector struct {
	conn *streamConn

	mu   sync.Mutex
	got  voice.ConnectConfig
	keys []string
}

func (f *streamConnector) Connect(_ context.Context, cfg voice.ConnectConfig) (voice.Conn, error) {
	f.mu.Lock()
	f.got = cfg
	f.mu.Unlock()
	return f.conn, nil
}

type voiceServer struct {
	*httptest.Server
	sessions  *session.Manager
	connector *streamConnector
}

func newVoiceServer(t *testing.T) *voiceServer {
	t.Helper()

	cfg := &config.Config{CredentialSource: config.CredentialUser}
	cfg.Voice = config.VoiceConfig{
		Model:            "voice-model",
		Voice:            "Zephyr",
		InputSampleRate:  16000,
		OutputSampleRate: 24000,
		SnapshotInterval: time.Hour,
	}

	vs := &voiceServer{
		sessions:  session.NewManager(catalog.Default(), nil),
		connector: &streamConnector{conn: newStreamConn()},
	}
	connectors := func(_ context.Context, key string) (voice.Connector, error) {
		vs.connector.mu.Lock()
		vs.connector.keys = append(vs.connector.keys, key)
		vs.connector.mu.Unlock()
		return vs.connector, nil
	}

	r := chi.NewRouter()
	NewWebSocketHandler(vs.sessions, NewSessionManager(), connectors, cfg).RegisterRoutes(r)
	vs.Server = httptest.NewServer(r)
	t.Cleanup(vs.Close)
	return vs
}

func (vs *voiceServer) url(query string) string {
	return "ws" + strings.TrimPrefix(vs.URL, "http") + "/ws/voice?" + query
}

type browser struct {
	t    *testing.T
	conn *websocket.Conn
}

func (b *browser) expect(typ string) outbound {
	b.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		mt, data, err := b.conn.Read(ctx)
		if err != nil {
			b.t.Fatalf("waiting for %q: %v", typ, err)
		}
		if mt != websocket.MessageText {
			continue
		}
		var msg outbound
		if err := json.Unmarshal(data, &msg); err != nil {
			b.t.Fatalf("bad message %s: %v", data, err)
		}
		if msg.Type == typ {
			return msg
		}
	}
}

func (b *browser) expectState(state string) {
	b.t.Helper()
	for {
		if m := b.expect(msgState); m.State == state {
			return
		}
	}
}

func (b *browser) send(v interface{}) {
	b.t.Helper()
	data, _ := json.Marshal(v)
	if err := b.conn.Write(context.Background(), websocket.MessageText, data); err != nil {
		b.t.Fatalf("write failed: %v", err)
	}
}

func (b *browser) answerOpen(device string) {
	b.t.Helper()
	m := b.expect(msgOpen)
	if m.Device != device {
		b.t.Fatalf("opened %q, want %q", m.Device, device)
	}
	b.send(inbound{Type: msgOpened, Device: device})
}

func pcm(samples int) []byte {
	out := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(1000))
	}
	return out
}

func TestVoiceSocketSession(t *testing.T) {
	vs := newVoiceServer(t)
	s, err := vs.sessions.Create(context.Background(), "url-shortener")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, vs.url("session_id="+s.ID+"&key=AIzaVoiceKey"), nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	b := &browser{t: t, conn: conn}

	b.expectState("idle")
	b.send(inbound{Type: msgStart})
	b.answerOpen(deviceCapture)
	b.answerOpen(devicePlayback)
	b.answerOpen(deviceMicrophone)
	b.expectState("active")

	vs.connector.mu.Lock()
	got, keys := vs.connector.got, vs.connector.keys
	vs.connector.mu.Unlock()
	if got.Model != "voice-model" || got.Voice != "Zephyr" {
		t.Fatalf("connect config = %+v", got)
	}
	if len(keys) != 1 || keys[0] != "AIzaVoiceKey" {
		t.Fatalf("connector built with keys %v", keys)
	}

	frame := audio.EncodeFloat32LE(make([]float32, audio.FrameSize))
	if err := conn.Write(ctx, websocket.MessageBinary, frame); err != nil {
		t.Fatalf("write frame failed: %v", err)
	}
	select {
	case blob := <-vs.connector.conn.sent:
		if blob.MIMEType != audio.PCMMIMEType(16000) || len(blob.Data) != audio.FrameSize*2 {
			t.Fatalf("sent %s with %d bytes", blob.MIMEType, len(blob.Data))
		}
	case <-ctx.Done():
		t.Fatal("microphone frame never reached the connection")
	}

	vs.connector.conn.events <- voice.Event{Audio: [][]byte{pcm(480)}}
	if m := b.expect(msgAudio); m.ID == 0 || len(m.Data) != 480*4 {
		t.Fatalf("unexpected audio message id=%d bytes=%d", m.ID, len(m.Data))
	}

	vs.connector.conn.events <- voice.Event{InputText: "use a hash", OutputText: "Which hash?", TurnComplete: true}
	deadline := time.Now().Add(5 * time.Second)
	for s.Transcript.Len() < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	entries := s.Transcript.All()
	if len(entries) != 3 || entries[1].Role != domain.RoleUser || entries[2].Content != "Which hash?" {
		t.Fatalf("transcript = %+v", entries)
	}

	b.send(inbound{Type: msgStop})
	b.expectState("idle")
	select {
	case <-vs.connector.conn.closed:
	default:
		t.Fatal("connection still open after stop")
	}
}

// settle answers every device open until the pong for a ping sent after the
// last control message arrives, and returns the last reported state.
func (b *browser) settle() string {
	b.t.Helper()
	b.send(inbound{Type: msgPing})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	last := ""
	for {
		mt, data, err := b.conn.Read(ctx)
		if err != nil {
			b.t.Fatalf("settling: %v", err)
		}
		if mt != websocket.MessageText {
			continue
		}
		var msg outbound
		if err := json.Unmarshal(data, &msg); err != nil {
			b.t.Fatalf("bad message %s: %v", data, err)
		}
		switch msg.Type {
		case msgOpen:
			b.send(inbound{Type: msgOpened, Device: msg.Device})
		case msgState:
			last = msg.State
		case msgPong:
			if last == "idle" {
				return last
			}
			b.send(inbound{Type: msgPing})
		}
	}
}

func TestVoiceSocketStopRightAfterStart(t *testing.T) {
	vs := newVoiceServer(t)
	s, err := vs.sessions.Create(context.Background(), "whatsapp-clone")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, vs.url("session_id="+s.ID+"&key=AIzaKey"), nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	b := &browser{t: t, conn: conn}

	b.expectState("idle")
	for round := 0; round < 20; round++ {
		b.send(inbound{Type: msgStart})
		b.send(inbound{Type: msgStop})
		b.settle()

		time.Sleep(20 * time.Millisecond)
		if ctrl := s.Voice(); ctrl == nil || ctrl.State() != voice.Idle {
			t.Fatalf("round %d: voice session still running after stop", round)
		}
	}
}

func TestVoiceSocketRejectsBeforeUpgrade(t *testing.T) {
	vs := newVoiceServer(t)
	s, err := vs.sessions.Create(context.Background(), "rate-limiter")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"unknown session", "session_id=missing&key=AIzaKey", http.StatusNotFound},
		{"missing key", "session_id=" + s.ID, http.StatusUnauthorized},
		{"malformed key", "session_id=" + s.ID + "&key=sk-123", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_, resp, err := websocket.Dial(ctx, vs.url(tt.query), nil)
			if err == nil {
				t.Fatal("expected Dial to fail")
			}
			if resp == nil || resp.StatusCode != tt.want {
				t.Fatalf("resp = %v, want status %d", resp, tt.want)
			}
		})
	}
}

func TestVoiceSocketSceneUpdatesBoard(t *testing.T) {
	vs := newVoiceServer(t)
	s, err := vs.sessions.Create(context.Background(), "netflix-clone")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, vs.url("session_id="+s.ID+"&key=AIzaKey"), nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	b := &browser{t: t, conn: conn}

	b.expectState("idle")
	b.send(map[string]interface{}{
		"type":     msgScene,
		"elements": []map[string]string{{"type": "ellipse", "text": "CDN"}},
	})
	b.send(inbound{Type: msgPing})
	b.expect(msgPong)

	if got := s.Board.Summary(); !strings.Contains(got, `- ellipse labeled "CDN"`) {
		t.Fatalf("board summary = %q", got)
	}
}
