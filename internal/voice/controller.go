// Package voice runs the live voice session: microphone frames and canvas
// snapshots stream up, spoken replies are scheduled for gapless playback, and
// transcriptions are committed to the transcript once per turn.
package voice

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sistemas-dev/sistemas/internal/audio"
	"github.com/sistemas-dev/sistemas/internal/domain"
	"github.com/sistemas-dev/sistemas/internal/interview"
)

// SnapshotMIMEType is the MIME type of canvas stills sent to the model.
const SnapshotMIMEType = "image/jpeg"

// Options tunes a Controller.
type Options struct {
	Model            string
	Voice            string
	Instruction      string
	InputRate        int
	OutputRate       int
	FrameSize        int
	SnapshotInterval time.Duration
	SendQueue        int
}

// DefaultOptions returns the interviewer's voice defaults.
func DefaultOptions() Options {
	return Options{
		Model:            "gemini-2.5-flash-native-audio-preview-12-2025",
		Voice:            "Zephyr",
		Instruction:      interview.VoiceInstruction(),
		InputRate:        audio.InputSampleRate,
		OutputRate:       audio.OutputSampleRate,
		FrameSize:        audio.FrameSize,
		SnapshotInterval: 2 * time.Second,
		SendQueue:        16,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Model == "" {
		o.Model = d.Model
	}
	if o.Voice == "" {
		o.Voice = d.Voice
	}
	if o.Instruction == "" {
		o.Instruction = d.Instruction
	}
	if o.InputRate <= 0 {
		o.InputRate = d.InputRate
	}
	if o.OutputRate <= 0 {
		o.OutputRate = d.OutputRate
	}
	if o.FrameSize <= 0 {
		o.FrameSize = d.FrameSize
	}
	if o.SnapshotInterval <= 0 {
		o.SnapshotInterval = d.SnapshotInterval
	}
	if o.SendQueue <= 0 {
		o.SendQueue = d.SendQueue
	}
	return o
}

// Deps are the collaborators a Controller drives.
type Deps struct {
	Devices    Devices
	Connector  Connector
	Snapshots  Snapshotter
	Transcript Transcript
	Observer   Observer
}

// Controller owns at most one live voice session at a time.
type Controller struct {
	deps   Deps
	opts   Options
	logger *slog.Logger

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
}

// NewController creates an Idle controller. A nil logger uses slog.Default().
func NewController(deps Deps, opts Options, logger *slog.Logger) *Controller {
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if deps.Snapshots == nil {
		deps.Snapshots = noSnapshots{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{deps: deps, opts: opts.withDefaults(), logger: logger}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start acquires devices and the streaming connection, then returns with the
// session Active. On failure everything acquired so far is released and the
// controller is Idle again. The session outlives ctx; use Stop to end it.
func (c *Controller) Start(ctx context.Context) error {
	acquire, err := c.begin(ctx)
	if err != nil {
		return err
	}
	return acquire()
}

// Begin enters Opening before it returns and finishes acquisition in the
// background, passing Start's result to report. A Cancel or Stop issued after
// Begin returns always applies to this session.
func (c *Controller) Begin(ctx context.Context, report func(error)) error {
	acquire, err := c.begin(ctx)
	if err != nil {
		return err
	}
	go func() {
		err := acquire()
		if report != nil {
			report(err)
		}
	}()
	return nil
}

func (c *Controller) begin(ctx context.Context) (func() error, error) {
	c.mu.Lock()
	if c.state != Idle {
		c.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	life, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	c.state, c.cancel, c.done = Opening, cancel, done
	c.mu.Unlock()
	c.deps.Observer.StateChanged(Opening)

	return func() error {
		h, err := c.open(life)
		if life.Err() != nil {
			if h != nil {
				h.release(c.logger)
			}
			c.finish(done)
			return ErrStopped
		}
		if err != nil {
			cancel()
			c.logger.Warn("Voice session failed to open", "error", err)
			c.deps.Observer.Failed(err)
			c.finish(done)
			return err
		}

		c.setState(Active)
		c.logger.Info("Voice session active", "model", c.opts.Model, "voice", c.opts.Voice)
		go c.run(life, h, done)
		return nil
	}, nil
}

// Stop ends the session and waits until every resource is released. It is
// safe to call in any state and more than once. During Opening it cancels
// acquisition.
func (c *Controller) Stop() {
	<-c.Cancel()
}

// Cancel asks the current session to end without waiting. The returned
// channel is closed once the controller is Idle.
func (c *Controller) Cancel() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Idle {
		return closedChan
	}
	c.cancel()
	return c.done
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.deps.Observer.StateChanged(s)
}

func (c *Controller) finish(done chan struct{}) {
	c.mu.Lock()
	c.state = Idle
	c.cancel()
	c.cancel, c.done = nil, nil
	c.mu.Unlock()
	close(done)
	c.deps.Observer.StateChanged(Idle)
}

// open acquires capture, playback, microphone and connection in that order.
func (c *Controller) open(ctx context.Context) (*handle, error) {
	h := &handle{framer: audio.NewFramer(c.opts.FrameSize)}

	capture, err := c.deps.Devices.OpenCapture(ctx, c.opts.InputRate)
	if err != nil {
		return nil, asDeviceError("capture context", err)
	}
	h.capture = capture

	playback, err := c.deps.Devices.OpenPlayback(ctx, c.opts.OutputRate)
	if err != nil {
		h.release(c.logger)
		return nil, asDeviceError("playback context", err)
	}
	h.playback = playback

	mic, err := c.deps.Devices.OpenMicrophone(ctx)
	if err != nil {
		h.release(c.logger)
		return nil, asDeviceError("microphone", err)
	}
	h.mic = mic

	conn, err := c.deps.Connector.Connect(ctx, ConnectConfig{
		Model:             c.opts.Model,
		SystemInstruction: c.opts.Instruction,
		Voice:             c.opts.Voice,
	})
	if err != nil {
		h.release(c.logger)
		return nil, &ConnectionError{Err: err}
	}
	h.conn = conn
	return h, nil
}

// run is the only goroutine touching h once the session is Active.
func (c *Controller) run(ctx context.Context, h *handle, done chan struct{}) {
	ioCtx, cancelIO := context.WithCancel(ctx)
	events := make(chan Event)
	failures := make(chan error, 2)
	outbox := make(chan audio.Blob, c.opts.SendQueue)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		receive(ioCtx, h.conn, events, failures)
	}()
	go func() {
		defer wg.Done()
		send(ioCtx, h.conn, outbox, failures)
	}()

	ticker := time.NewTicker(c.opts.SnapshotInterval)
	chunks := h.mic.Chunks()

	var failure error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case chunk, ok := <-chunks:
			if !ok {
				c.logger.Warn("Microphone stream ended", "dropped_samples", h.framer.Pending())
				h.framer.Reset()
				chunks = nil
				continue
			}
			for _, frame := range h.framer.Push(chunk) {
				c.enqueue(outbox, audio.Encode(frame, c.opts.InputRate))
			}
		case <-ticker.C:
			img, ok := c.deps.Snapshots.Snapshot()
			if !ok {
				continue
			}
			if c.enqueue(outbox, audio.Blob{Data: img, MIMEType: SnapshotMIMEType}) {
				c.deps.Observer.CanvasSynced()
			}
		case ev := <-events:
			c.apply(h, ev)
		case err := <-failures:
			if errors.Is(err, io.EOF) {
				c.logger.Info("Voice connection closed by remote")
			} else {
				failure = &LiveError{Err: err}
			}
			break loop
		}
	}

	c.setState(Closing)
	ticker.Stop()
	cancelIO()
	h.release(c.logger)
	wg.Wait()

	if failure != nil {
		c.logger.Warn("Voice session ended with error", "error", failure)
		c.deps.Observer.Failed(failure)
	}
	c.finish(done)
}

// enqueue never blocks; a full queue drops the blob.
func (c *Controller) enqueue(outbox chan<- audio.Blob, blob audio.Blob) bool {
	select {
	case outbox <- blob:
		return true
	default:
		c.logger.Debug("Dropping realtime input", "mime", blob.MIMEType, "bytes", len(blob.Data))
		return false
	}
}

func (c *Controller) apply(h *handle, ev Event) {
	for _, data := range ev.Audio {
		buf := audio.Decode(data, c.opts.OutputRate, 1)
		if buf.Frames() == 0 {
			continue
		}
		now := h.playback.CurrentTime()
		h.prune(now)
		at := max(h.cursor, now)
		src, err := h.playback.Schedule(buf, at)
		if err != nil {
			c.logger.Warn("Failed to schedule playback", "error", err)
			continue
		}
		h.cursor = at + buf.Seconds()
		h.sources = append(h.sources, scheduled{src: src, end: h.cursor})
	}

	if ev.Interrupted {
		h.interrupt()
	}

	h.userText.WriteString(ev.InputText)
	h.modelText.WriteString(ev.OutputText)

	if ev.TurnComplete {
		h.commit(c.deps.Transcript)
	}
}

func receive(ctx context.Context, conn Conn, events chan<- Event, failures chan<- error) {
	for {
		ev, err := conn.Receive()
		if err != nil {
			if ctx.Err() == nil {
				failures <- err
			}
			return
		}
		select {
		case events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

func send(ctx context.Context, conn Conn, outbox <-chan audio.Blob, failures chan<- error) {
	for {
		select {
		case <-ctx.Done():
			return
		case blob := <-outbox:
			if err := conn.Send(ctx, blob); err != nil {
				if ctx.Err() == nil {
					failures <- err
				}
				return
			}
		}
	}
}

type scheduled struct {
	src Source
	end float64
}

// handle is the set of resources held by one Active session.
type handle struct {
	capture  Capture
	playback Playback
	mic      Microphone
	conn     Conn

	framer  *audio.Framer
	sources []scheduled
	cursor  float64

	userText  strings.Builder
	modelText strings.Builder
}

// playbackSkew is how far the local estimate of the playback clock may run
// ahead of the device before a finished source is forgotten.
const playbackSkew = 1.0

func (h *handle) prune(now float64) {
	live := h.sources[:0]
	for _, s := range h.sources {
		if s.end+playbackSkew > now {
			live = append(live, s)
		}
	}
	h.sources = live
}

func (h *handle) interrupt() {
	for _, s := range h.sources {
		s.src.Stop()
	}
	h.sources = nil
	h.cursor = 0
}

func (h *handle) commit(t Transcript) {
	if text := strings.TrimSpace(h.userText.String()); text != "" {
		t.Append(domain.NewEntry(domain.RoleUser, text))
	}
	if text := strings.TrimSpace(h.modelText.String()); text != "" {
		t.Append(domain.NewEntry(domain.RoleAssistant, text))
	}
	h.userText.Reset()
	h.modelText.Reset()
}

// release closes whatever was acquired, in reverse order. Uncommitted
// transcription is dropped.
func (h *handle) release(logger *slog.Logger) {
	if h.conn != nil {
		if err := h.conn.Close(); err != nil {
			logger.Debug("Closing voice connection", "error", err)
		}
	}
	h.interrupt()
	if h.mic != nil {
		if err := h.mic.Close(); err != nil {
			logger.Debug("Closing microphone", "error", err)
		}
	}
	if h.playback != nil {
		if err := h.playback.Close(); err != nil {
			logger.Debug("Closing playback context", "error", err)
		}
	}
	if h.capture != nil {
		if err := h.capture.Close(); err != nil {
			logger.Debug("Closing capture context", "error", err)
		}
	}
	h.userText.Reset()
	h.modelText.Reset()
}
