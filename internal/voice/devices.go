package voice

import (
	"context"

	"github.com/sistemas-dev/sistemas/internal/audio"
	"github.com/sistemas-dev/sistemas/internal/domain"
)

// State is the lifecycle state of a voice session.
type State int

const (
	Idle State = iota
	Opening
	Active
	Closing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Opening:
		return "opening"
	case Active:
		return "active"
	case Closing:
		return "closing"
	default:
		return "unknown"
	}
}

// Capture is an audio processing context running at the input rate.
type Capture interface {
	Close() error
}

// Source is one scheduled playback buffer.
type Source interface {
	Stop()
}

// Playback is an audio output context with its own clock.
type Playback interface {
	// CurrentTime is the context clock in seconds.
	CurrentTime() float64
	// Schedule starts buf at the given clock time.
	Schedule(buf *audio.Buffer, at float64) (Source, error)
	Close() error
}

// Microphone delivers captured mono samples at the capture rate. The channel
// is closed when the device goes away.
type Microphone interface {
	Chunks() <-chan []float32
	Close() error
}

// Devices acquires the audio hardware for one session.
type Devices interface {
	OpenCapture(ctx context.Context, sampleRate int) (Capture, error)
	OpenPlayback(ctx context.Context, sampleRate int) (Playback, error)
	OpenMicrophone(ctx context.Context) (Microphone, error)
}

// Event is one inbound message from the streaming connection.
type Event struct {
	Audio        [][]byte
	Interrupted  bool
	InputText    string
	OutputText   string
	TurnComplete bool
}

// Conn is an open bidirectional streaming connection.
type Conn interface {
	// Send delivers one realtime input blob; the MIME type tells audio from images.
	Send(ctx context.Context, blob audio.Blob) error
	// Receive blocks for the next event. It returns an error once the
	// connection is closed.
	Receive() (Event, error)
	Close() error
}

// ConnectConfig describes the streaming session to open.
type ConnectConfig struct {
	Model             string
	SystemInstruction string
	Voice             string
}

// Connector opens streaming connections.
type Connector interface {
	Connect(ctx context.Context, cfg ConnectConfig) (Conn, error)
}

// Snapshotter returns the latest JPEG image of the canvas, if any.
type Snapshotter interface {
	Snapshot() ([]byte, bool)
}

// Transcript receives committed turns.
type Transcript interface {
	Append(entry domain.Entry) int
}

// Observer is notified from the session goroutine. Implementations must not
// call Stop synchronously.
type Observer interface {
	StateChanged(s State)
	CanvasSynced()
	Failed(err error)
}

type nopObserver struct{}

func (nopObserver) StateChanged(State) {}
func (nopObserver) CanvasSynced()      {}
func (nopObserver) Failed(error)       {}

type noSnapshots struct{}

func (noSnapshots) Snapshot() ([]byte, bool) { return nil, false }
