package voice

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/containerd/errdefs"

	"github.com/sistemas-dev/sistemas/internal/audio"
	"github.com/sistemas-dev/sistemas/internal/domain"
	"github.com/sistemas-dev/sistemas/internal/transcript"
)

type closeCounter struct {
	mu     sync.Mutex
	closed int
}

func (c *closeCounter) Close() error {
	c.mu.Lock()
	c.closed++
	c.mu.Unlock()
	return nil
}

func (c *closeCounter) Closed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeSource struct {
	mu      sync.Mutex
	stopped bool
}

func (s *fakeSource) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

func (s *fakeSource) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

type scheduledCall struct {
	at     float64
	length float64
	src    *fakeSource
}

type fakePlayback struct {
	closeCounter
	clockMu sync.Mutex
	clock   float64
	calls   []scheduledCall
}

func (p *fakePlayback) CurrentTime() float64 {
	p.clockMu.Lock()
	defer p.clockMu.Unlock()
	return p.clock
}

func (p *fakePlayback) SetClock(t float64) {
	p.clockMu.Lock()
	p.clock = t
	p.clockMu.Unlock()
}

func (p *fakePlayback) Schedule(buf *audio.Buffer, at float64) (Source, error) {
	src := &fakeSource{}
	p.clockMu.Lock()
	p.calls = append(p.calls, scheduledCall{at: at, length: buf.Seconds(), src: src})
	p.clockMu.Unlock()
	return src, nil
}

func (p *fakePlayback) Calls() []scheduledCall {
	p.clockMu.Lock()
	defer p.clockMu.Unlock()
	return append([]scheduledCall(nil), p.calls...)
}

type fakeMic struct {
	closeCounter
	chunks chan []float32
}

func (m *fakeMic) Chunks() <-chan []float32 { return m.chunks }

type fakeDevices struct {
	capture  *closeCounter
	playback *fakePlayback
	mic      *fakeMic

	captureRate int

	captureErr  error
	playbackErr error
	micErr      error
}

func newFakeDevices() *fakeDevices {
	return &fakeDevices{
		capture:  &closeCounter{},
		playback: &fakePlayback{},
		mic:      &fakeMic{chunks: make(chan []float32, 8)},
	}
}

func (d *fakeDevices) OpenCapture(_ context.Context, rate int) (Capture, error) {
	d.captureRate = rate
	if d.captureErr != nil {
		return nil, d.captureErr
	}
	return d.capture, nil
}

func (d *fakeDevices) OpenPlayback(context.Context, int) (Playback, error) {
	if d.playbackErr != nil {
		return nil, d.playbackErr
	}
	return d.playback, nil
}

func (d *fakeDevices) OpenMicrophone(context.Context) (Microphone, error) {
	if d.micErr != nil {
		return nil, d.micErr
	}
	return d.mic, nil
}

type fakeConn struct {
	closeOnce sync.Once
	closed    chan struct{}
	events    chan Event
	fail      chan error
	sent      chan audio.Blob
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		closed: make(chan struct{}),
		events: make(chan Event),
		fail:   make(chan error, 1),
		sent:   make(chan audio.Blob, 64),
	}
}

func (c *fakeConn) Send(_ context.Context, blob audio.Blob) error {
	c.sent <- blob
	return nil
}

func (c *fakeConn) Receive() (Event, error) {
	select {
	case ev := <-c.events:
		return ev, nil
	case err := <-c.fail:
		return Event{}, err
	case <-c.closed:
		return Event{}, io.EOF
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

type fakeConnector struct {
	conn    *fakeConn
	err     error
	block   bool
	entered chan struct{}
	calls   int
	got     ConnectConfig
}

func (f *fakeConnector) Connect(ctx context.Context, cfg ConnectConfig) (Conn, error) {
	f.calls++
	f.got = cfg
	if f.block {
		close(f.entered)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.conn, nil
}

type fakeSnapshots struct{ img []byte }

func (f fakeSnapshots) Snapshot() ([]byte, bool) { return f.img, len(f.img) > 0 }

type recordingObserver struct {
	mu     sync.Mutex
	states []State
	synced int
	errs   []error
}

func (o *recordingObserver) StateChanged(s State) {
	o.mu.Lock()
	o.states = append(o.states, s)
	o.mu.Unlock()
}

func (o *recordingObserver) CanvasSynced() {
	o.mu.Lock()
	o.synced++
	o.mu.Unlock()
}

func (o *recordingObserver) Failed(err error) {
	o.mu.Lock()
	o.errs = append(o.errs, err)
	o.mu.Unlock()
}

func (o *recordingObserver) Errors() []error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]error(nil), o.errs...)
}

func (o *recordingObserver) Synced() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.synced
}

type testRig struct {
	ctrl      *Controller
	devices   *fakeDevices
	connector *fakeConnector
	conn      *fakeConn
	store     *transcript.Store
	observer  *recordingObserver
}

func newRig(opts Options) *testRig {
	conn := newFakeConn()
	r := &testRig{
		devices:   newFakeDevices(),
		connector: &fakeConnector{conn: conn, entered: make(chan struct{})},
		conn:      conn,
		store:     transcript.New("s1"),
		observer:  &recordingObserver{},
	}
	if opts.SnapshotInterval == 0 {
		opts.SnapshotInterval = time.Hour
	}
	r.ctrl = NewController(Deps{
		Devices:    r.devices,
		Connector:  r.connector,
		Snapshots:  fakeSnapshots{img: []byte{0xff, 0xd8, 0xff}},
		Transcript: r.store,
		Observer:   r.observer,
	}, opts, nil)
	return r
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// halfSecond is 0.5 s of silent mono PCM at the output rate.
var halfSecond = make([]byte, audio.OutputSampleRate)

func (r *testRig) assertReleased(t *testing.T) {
	t.Helper()
	if got := r.devices.capture.Closed(); got != 1 {
		t.Errorf("capture closed %d times, want 1", got)
	}
	if got := r.devices.playback.Closed(); got != 1 {
		t.Errorf("playback closed %d times, want 1", got)
	}
	if got := r.devices.mic.Closed(); got != 1 {
		t.Errorf("microphone closed %d times, want 1", got)
	}
	if !r.conn.IsClosed() {
		t.Error("connection not closed")
	}
	if s := r.ctrl.State(); s != Idle {
		t.Errorf("state = %v, want idle", s)
	}
}

func TestMicrophoneFramesCarryCaptureRate(t *testing.T) {
	t.Parallel()

	r := newRig(Options{InputRate: 48000, FrameSize: 4})
	if err := r.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer r.ctrl.Stop()
	if r.devices.captureRate != 48000 {
		t.Fatalf("capture opened at %d Hz, want 48000", r.devices.captureRate)
	}

	r.devices.mic.chunks <- []float32{0.1, 0.2, 0.3, 0.4}
	select {
	case blob := <-r.conn.sent:
		if blob.MIMEType != "audio/pcm;rate=48000" {
			t.Fatalf("frame labelled %q, want audio/pcm;rate=48000", blob.MIMEType)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("microphone frame never sent")
	}
}

func TestPlaybackIsGapless(t *testing.T) {
	t.Parallel()

	r := newRig(Options{})
	if err := r.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer r.ctrl.Stop()

	r.conn.events <- Event{Audio: [][]byte{halfSecond, halfSecond}}
	r.conn.events <- Event{Audio: [][]byte{halfSecond}}
	waitFor(t, "three scheduled buffers", func() bool { return len(r.devices.playback.Calls()) == 3 })

	calls := r.devices.playback.Calls()
	for i, want := range []float64{0, 0.5, 1.0} {
		if calls[i].at != want {
			t.Errorf("buffer %d starts at %v, want %v", i, calls[i].at, want)
		}
		if i > 0 && calls[i].at != calls[i-1].at+calls[i-1].length {
			t.Errorf("gap between buffer %d and %d", i-1, i)
		}
	}

	// Clock has run past the cursor: the next buffer starts now, not in the past.
	r.devices.playback.SetClock(5)
	r.conn.events <- Event{Audio: [][]byte{halfSecond}}
	waitFor(t, "fourth buffer", func() bool { return len(r.devices.playback.Calls()) == 4 })
	if at := r.devices.playback.Calls()[3].at; at != 5 {
		t.Fatalf("late buffer starts at %v, want 5", at)
	}
}

func TestInterruptStopsScheduledPlayback(t *testing.T) {
	t.Parallel()

	r := newRig(Options{})
	if err := r.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer r.ctrl.Stop()

	r.conn.events <- Event{Audio: [][]byte{halfSecond, halfSecond, halfSecond}}
	r.devices.playback.SetClock(0.2)
	r.conn.events <- Event{Interrupted: true}

	waitFor(t, "all sources stopped", func() bool {
		calls := r.devices.playback.Calls()
		if len(calls) != 3 {
			return false
		}
		for _, c := range calls {
			if !c.src.Stopped() {
				return false
			}
		}
		return true
	})

	r.conn.events <- Event{Audio: [][]byte{halfSecond}}
	waitFor(t, "post-interrupt buffer", func() bool { return len(r.devices.playback.Calls()) == 4 })
	if at := r.devices.playback.Calls()[3].at; at != 0.2 {
		t.Fatalf("post-interrupt buffer starts at %v, want clock time 0.2", at)
	}
}

func TestInterruptStopsSourcesTheClockMayHavePassed(t *testing.T) {
	t.Parallel()

	r := newRig(Options{})
	if err := r.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer r.ctrl.Stop()

	r.conn.events <- Event{Audio: [][]byte{halfSecond}}
	// The estimated clock is past the first buffer's end, the device may not be.
	r.devices.playback.SetClock(0.8)
	r.conn.events <- Event{Audio: [][]byte{halfSecond}}
	r.conn.events <- Event{Interrupted: true}

	waitFor(t, "both sources stopped", func() bool {
		calls := r.devices.playback.Calls()
		return len(calls) == 2 && calls[0].src.Stopped() && calls[1].src.Stopped()
	})
}

func TestTurnCompleteCommitsTranscription(t *testing.T) {
	t.Parallel()

	r := newRig(Options{})
	if err := r.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer r.ctrl.Stop()

	r.conn.events <- Event{InputText: "I'd shard "}
	r.conn.events <- Event{InputText: "by user id", OutputText: "Why user id?"}
	r.conn.events <- Event{TurnComplete: true}
	waitFor(t, "first turn", func() bool { return r.store.Len() == 2 })

	r.conn.events <- Event{OutputText: "Go on."}
	r.conn.events <- Event{TurnComplete: true}
	waitFor(t, "second turn", func() bool { return r.store.Len() == 3 })

	entries := r.store.All()
	want := []struct {
		role domain.Role
		text string
	}{
		{domain.RoleUser, "I'd shard by user id"},
		{domain.RoleAssistant, "Why user id?"},
		{domain.RoleAssistant, "Go on."},
	}
	for i, w := range want {
		if entries[i].Role != w.role || entries[i].Content != w.text {
			t.Errorf("entry %d = %s %q, want %s %q", i, entries[i].Role, entries[i].Content, w.role, w.text)
		}
	}
}

func TestMicrophoneFramesAndSnapshotsAreSent(t *testing.T) {
	t.Parallel()

	r := newRig(Options{SnapshotInterval: 10 * time.Millisecond})
	if err := r.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer r.ctrl.Stop()

	r.devices.mic.chunks <- make([]float32, 3000)
	r.devices.mic.chunks <- make([]float32, 3000)

	var gotAudio, gotImage bool
	deadline := time.After(2 * time.Second)
	for !gotAudio || !gotImage {
		select {
		case blob := <-r.conn.sent:
			switch blob.MIMEType {
			case audio.PCMMIMEType(audio.InputSampleRate):
				if len(blob.Data) != audio.FrameSize*2 {
					t.Fatalf("audio frame is %d bytes, want %d", len(blob.Data), audio.FrameSize*2)
				}
				gotAudio = true
			case SnapshotMIMEType:
				gotImage = true
			default:
				t.Fatalf("unexpected MIME type %q", blob.MIMEType)
			}
		case <-deadline:
			t.Fatalf("timed out: audio=%v image=%v", gotAudio, gotImage)
		}
	}
	waitFor(t, "canvas synced notice", func() bool { return r.observer.Synced() > 0 })
}

func TestStopReleasesEverything(t *testing.T) {
	t.Parallel()

	r := newRig(Options{})
	r.ctrl.Stop() // no-op while idle

	if err := r.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if s := r.ctrl.State(); s != Active {
		t.Fatalf("state = %v, want active", s)
	}
	if err := r.ctrl.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start = %v, want ErrAlreadyRunning", err)
	}

	r.conn.events <- Event{InputText: "half a thought"}
	r.ctrl.Stop()
	r.ctrl.Stop()

	r.assertReleased(t)
	if r.store.Len() != 0 {
		t.Fatalf("uncommitted transcription was stored: %+v", r.store.All())
	}
	if r.connector.got.Voice != "Zephyr" {
		t.Fatalf("voice = %q, want Zephyr", r.connector.got.Voice)
	}
}

func TestMicrophoneErrorReleasesContexts(t *testing.T) {
	t.Parallel()

	r := newRig(Options{})
	r.devices.micErr = &DeviceError{Cause: CauseFromName("NotAllowedError")}

	err := r.ctrl.Start(context.Background())
	var de *DeviceError
	if !errors.As(err, &de) || de.Cause != CausePermissionDenied {
		t.Fatalf("Start = %v, want permission denied DeviceError", err)
	}
	if !errdefs.IsPermissionDenied(err) {
		t.Fatalf("expected permission denied class, got %v", err)
	}
	if r.devices.capture.Closed() != 1 || r.devices.playback.Closed() != 1 {
		t.Fatal("audio contexts not released")
	}
	if r.connector.calls != 0 {
		t.Fatal("connection opened after device failure")
	}
	if s := r.ctrl.State(); s != Idle {
		t.Fatalf("state = %v, want idle", s)
	}
	if len(r.observer.Errors()) != 1 {
		t.Fatalf("observer saw %d errors, want 1", len(r.observer.Errors()))
	}
}

func TestConnectErrorReleasesDevices(t *testing.T) {
	t.Parallel()

	r := newRig(Options{})
	r.connector.err = errors.New("invalid api key")

	err := r.ctrl.Start(context.Background())
	var ce *ConnectionError
	if !errors.As(err, &ce) {
		t.Fatalf("Start = %v, want ConnectionError", err)
	}
	if r.devices.capture.Closed() != 1 || r.devices.playback.Closed() != 1 || r.devices.mic.Closed() != 1 {
		t.Fatal("devices not released after connect failure")
	}
	if s := r.ctrl.State(); s != Idle {
		t.Fatalf("state = %v, want idle", s)
	}
}

func TestStopDuringOpeningCancelsAcquisition(t *testing.T) {
	t.Parallel()

	r := newRig(Options{})
	r.connector.block = true

	result := make(chan error, 1)
	go func() { result <- r.ctrl.Start(context.Background()) }()

	<-r.connector.entered
	r.ctrl.Stop()

	if err := <-result; !errors.Is(err, ErrStopped) {
		t.Fatalf("Start = %v, want ErrStopped", err)
	}
	if r.devices.capture.Closed() != 1 || r.devices.playback.Closed() != 1 || r.devices.mic.Closed() != 1 {
		t.Fatal("devices not released after cancelled open")
	}
	if s := r.ctrl.State(); s != Idle {
		t.Fatalf("state = %v, want idle", s)
	}
}

func TestCancelRightAfterBeginEndsSession(t *testing.T) {
	t.Parallel()

	r := newRig(Options{})
	r.connector.block = true
	result := make(chan error, 1)
	if err := r.ctrl.Begin(context.Background(), func(err error) { result <- err }); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if s := r.ctrl.State(); s != Opening {
		t.Fatalf("state after Begin = %v, want opening", s)
	}
	done := r.ctrl.Cancel()

	if err := <-result; !errors.Is(err, ErrStopped) {
		t.Fatalf("Begin reported %v, want ErrStopped", err)
	}
	<-done
	if r.devices.capture.Closed() != 1 || r.devices.playback.Closed() != 1 || r.devices.mic.Closed() != 1 {
		t.Fatal("devices not released after cancel")
	}
	if s := r.ctrl.State(); s != Idle {
		t.Fatalf("state = %v, want idle", s)
	}
	select {
	case <-r.ctrl.Cancel():
	default:
		t.Fatal("Cancel on an idle controller should not wait")
	}
}

func TestBeginWhileRunningIsRejected(t *testing.T) {
	t.Parallel()

	r := newRig(Options{})
	if err := r.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer r.ctrl.Stop()
	if err := r.ctrl.Begin(context.Background(), nil); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("Begin = %v, want ErrAlreadyRunning", err)
	}
}

func TestLiveErrorReturnsToIdle(t *testing.T) {
	t.Parallel()

	r := newRig(Options{})
	if err := r.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	r.conn.fail <- errors.New("stream reset")
	waitFor(t, "idle after live error", func() bool { return r.ctrl.State() == Idle })

	r.assertReleased(t)
	errs := r.observer.Errors()
	var le *LiveError
	if len(errs) != 1 || !errors.As(errs[0], &le) {
		t.Fatalf("observer errors = %v, want one LiveError", errs)
	}
}

func TestCauseFromName(t *testing.T) {
	t.Parallel()

	tests := map[string]Cause{
		"NotAllowedError":       CausePermissionDenied,
		"PermissionDeniedError": CausePermissionDenied,
		"NotFoundError":         CauseNotFound,
		"DevicesNotFoundError":  CauseNotFound,
		"NotReadableError":      CauseBusy,
		"TrackStartError":       CauseBusy,
		"NotSupportedError":     CauseUnsupported,
		"SomethingElse":         CauseUnknown,
	}
	for name, want := range tests {
		if got := CauseFromName(name); got != want {
			t.Errorf("CauseFromName(%q) = %v, want %v", name, got, want)
		}
	}
}
