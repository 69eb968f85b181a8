// Package live bridges a browser's audio devices to a voice session over a
// WebSocket. The browser keeps the real capture and playback contexts; the
// server drives them with open, audio and close messages.
package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/containerd/errdefs"

	"github.com/sistemas-dev/sistemas/internal/audio"
	"github.com/sistemas-dev/sistemas/internal/voice"
)

// ErrDisconnected is returned when the browser goes away mid-handshake.
var ErrDisconnected = fmt.Errorf("browser disconnected: %w", errdefs.ErrUnavailable)

const micQueue = 32

// sender is the part of Outbox the bridge writes through.
type sender interface {
	Send(msg outbound)
}

// Bridge implements voice.Devices and voice.Observer for one socket.
type Bridge struct {
	out    sender
	logger *slog.Logger
	now    func() time.Time
	ids    atomic.Uint64

	mu       sync.Mutex
	pending  map[string]chan inbound
	playback *playback
	mic      *microphone
	closed   bool
}

// NewBridge creates a bridge writing through out.
func NewBridge(out sender, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		out:     out,
		logger:  logger,
		now:     time.Now,
		pending: make(map[string]chan inbound),
	}
}

// OpenCapture asks the browser for an input context at sampleRate.
func (b *Bridge) OpenCapture(ctx context.Context, sampleRate int) (voice.Capture, error) {
	if _, err := b.open(ctx, deviceCapture, sampleRate); err != nil {
		return nil, err
	}
	return &remoteDevice{bridge: b, name: deviceCapture}, nil
}

// OpenPlayback asks the browser for an output context at sampleRate. The
// reply carries the context clock, which later clock messages keep in sync.
func (b *Bridge) OpenPlayback(ctx context.Context, sampleRate int) (voice.Playback, error) {
	reply, err := b.open(ctx, devicePlayback, sampleRate)
	if err != nil {
		return nil, err
	}
	p := &playback{remoteDevice: remoteDevice{bridge: b, name: devicePlayback}, now: b.now}
	p.sync(reply.Time)

	b.mu.Lock()
	b.playback = p
	b.mu.Unlock()
	return p, nil
}

// OpenMicrophone asks the browser to start streaming microphone frames.
func (b *Bridge) OpenMicrophone(ctx context.Context) (voice.Microphone, error) {
	if _, err := b.open(ctx, deviceMicrophone, 0); err != nil {
		return nil, err
	}
	m := &microphone{remoteDevice: remoteDevice{bridge: b, name: deviceMicrophone}, chunks: make(chan []float32, micQueue)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(m.chunks)
		return nil, ErrDisconnected
	}
	b.mic = m
	return m, nil
}

func (b *Bridge) open(ctx context.Context, device string, sampleRate int) (inbound, error) {
	reply := make(chan inbound, 1)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return inbound{}, ErrDisconnected
	}
	b.pending[device] = reply
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		if b.pending[device] == reply {
			delete(b.pending, device)
		}
		b.mu.Unlock()
	}()

	b.out.Send(outbound{Type: msgOpen, Device: device, SampleRate: sampleRate})

	select {
	case msg, ok := <-reply:
		if !ok {
			return inbound{}, ErrDisconnected
		}
		if msg.Type == msgDeviceError {
			return msg, &voice.DeviceError{
				Device: device,
				Cause:  voice.CauseFromName(msg.Name),
				Err:    errors.New(msg.Name + ": " + msg.Message),
			}
		}
		return msg, nil
	case <-ctx.Done():
		b.out.Send(outbound{Type: msgClose, Device: device})
		return inbound{}, ctx.Err()
	}
}

// Deliver routes a device reply or clock update from the browser.
func (b *Bridge) Deliver(msg inbound) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch msg.Type {
	case msgClock:
		if b.playback != nil {
			b.playback.sync(msg.Time)
		}
	case msgOpened, msgDeviceError:
		reply, ok := b.pending[msg.Device]
		if !ok {
			b.logger.Debug("Unexpected device reply", "device", msg.Device, "type", msg.Type)
			return
		}
		delete(b.pending, msg.Device)
		reply <- msg
	}
}

// DeliverAudio hands one binary float32 frame to the open microphone. Frames
// are dropped when no microphone is open or the session loop is behind.
func (b *Bridge) DeliverAudio(data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mic == nil {
		return
	}
	select {
	case b.mic.chunks <- audio.DecodeFloat32LE(data):
	default:
		b.logger.Debug("Dropping microphone frame", "bytes", len(data))
	}
}

// Disconnect fails pending handshakes and ends the microphone stream.
func (b *Bridge) Disconnect() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for device, reply := range b.pending {
		close(reply)
		delete(b.pending, device)
	}
	if b.mic != nil {
		b.mic.end()
		b.mic = nil
	}
	b.playback = nil
}

// StateChanged implements voice.Observer.
func (b *Bridge) StateChanged(s voice.State) {
	b.out.Send(outbound{Type: msgState, State: s.String()})
}

// CanvasSynced implements voice.Observer.
func (b *Bridge) CanvasSynced() {
	b.out.Send(outbound{Type: msgCanvasSynced})
}

// Failed implements voice.Observer.
func (b *Bridge) Failed(err error) {
	msg := outbound{Type: msgError, Message: err.Error()}
	var de *voice.DeviceError
	if errors.As(err, &de) {
		msg.Device = de.Device
		msg.Cause = de.Cause.String()
	}
	b.out.Send(msg)
}

type remoteDevice struct {
	bridge *Bridge
	name   string
	once   sync.Once
}

func (d *remoteDevice) Close() error {
	d.once.Do(func() {
		d.bridge.out.Send(outbound{Type: msgClose, Device: d.name})
	})
	return nil
}

type playback struct {
	remoteDevice
	now func() time.Time

	mu   sync.Mutex
	base float64
	at   time.Time
}

// sync anchors the local estimate of the browser clock.
func (p *playback) sync(t float64) {
	p.mu.Lock()
	p.base, p.at = t, p.now()
	p.mu.Unlock()
}

func (p *playback) CurrentTime() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.base + p.now().Sub(p.at).Seconds()
}

func (p *playback) Schedule(buf *audio.Buffer, at float64) (voice.Source, error) {
	if buf.Frames() == 0 {
		return nil, fmt.Errorf("empty audio buffer: %w", errdefs.ErrInvalidArgument)
	}
	id := p.bridge.ids.Add(1)
	p.bridge.out.Send(outbound{
		Type:  msgAudio,
		ID:    id,
		Start: at,
		Data:  audio.EncodeFloat32LE(buf.Channels[0]),
	})
	return &source{bridge: p.bridge, id: id}, nil
}

func (p *playback) Close() error {
	b := p.bridge
	b.mu.Lock()
	if b.playback == p {
		b.playback = nil
	}
	b.mu.Unlock()
	return p.remoteDevice.Close()
}

type source struct {
	bridge *Bridge
	id     uint64
	once   sync.Once
}

func (s *source) Stop() {
	s.once.Do(func() {
		s.bridge.out.Send(outbound{Type: msgAudioStop, ID: s.id})
	})
}

type microphone struct {
	remoteDevice
	chunks chan []float32
	ended  bool
}

func (m *microphone) Chunks() <-chan []float32 { return m.chunks }

// end closes the chunk stream. Callers hold the bridge lock.
func (m *microphone) end() {
	if !m.ended {
		m.ended = true
		close(m.chunks)
	}
}

func (m *microphone) Close() error {
	b := m.bridge
	b.mu.Lock()
	if b.mic == m {
		b.mic = nil
	}
	m.end()
	b.mu.Unlock()
	return m.remoteDevice.Close()
}
