package live

import "github.com/sistemas-dev/sistemas/internal/scene"

// Messages sent to the browser.
const (
	msgOpen         = "open"
	msgClose        = "close"
	msgAudio        = "audio"
	msgAudioStop    = "audio_stop"
	msgState        = "state"
	msgCanvasSynced = "canvas_synced"
	msgError        = "error"
	msgPong         = "pong"
)

// Messages received from the browser. Microphone samples arrive as binary
// frames of little-endian float32.
const (
	msgStart       = "start"
	msgStop        = "stop"
	msgOpened      = "opened"
	msgDeviceError = "device_error"
	msgClock       = "clock"
	msgScene       = "scene"
	msgPing        = "ping"
)

// Device names used by open and close.
const (
	deviceCapture    = "capture"
	devicePlayback   = "playback"
	deviceMicrophone = "microphone"
)

type outbound struct {
	Type       string  `json:"type"`
	Device     string  `json:"device,omitempty"`
	SampleRate int     `json:"sample_rate,omitempty"`
	ID         uint64  `json:"id,omitempty"`
	Start      float64 `json:"start,omitempty"`
	Data       []byte  `json:"data,omitempty"`
	State      string  `json:"state,omitempty"`
	Message    string  `json:"message,omitempty"`
	Cause      string  `json:"cause,omitempty"`
}

type inbound struct {
	Type     string          `json:"type"`
	Device   string          `json:"device,omitempty"`
	Name     string          `json:"name,omitempty"`
	Message  string          `json:"message,omitempty"`
	Time     float64         `json:"time,omitempty"`
	Ready    *bool           `json:"ready,omitempty"`
	Elements []scene.Element `json:"elements,omitempty"`
	Snapshot []byte          `json:"snapshot,omitempty"`
}
