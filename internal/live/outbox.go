package live

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	defaultOutboxSize = 256
	writeTimeout      = 5 * time.Second
	flushTimeout      = 5 * time.Second
)

// frameWriter is the write half of a websocket.Conn.
type frameWriter interface {
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
}

// Outbox writes messages to the browser from a background goroutine so the
// voice session loop never waits on a slow socket. When the queue is full the
// oldest audio frame is dropped; control frames are always delivered.
type Outbox struct {
	conn   frameWriter
	logger *slog.Logger
	size   int

	mu     sync.Mutex
	queue  []outbound
	closed bool
	notify chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOutbox starts the writer. size <= 0 uses the default queue length.
func NewOutbox(conn frameWriter, size int, logger *slog.Logger) *Outbox {
	if size <= 0 {
		size = defaultOutboxSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	o := &Outbox{
		conn:   conn,
		logger: logger,
		size:   size,
		queue:  make([]outbound, 0, size),
		notify: make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}
	o.wg.Add(1)
	go o.process()
	return o
}

// Send queues msg. It never blocks and is a no-op after Close.
func (o *Outbox) Send(msg outbound) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}

	if len(o.queue) >= o.size {
		if i := o.oldestAudio(); i >= 0 {
			o.logger.Warn("Outbox full, dropping oldest audio frame", "id", o.queue[i].ID, "queue_len", len(o.queue))
			o.queue = append(o.queue[:i], o.queue[i+1:]...)
		} else if msg.Type == msgAudio {
			o.logger.Warn("Outbox full of control frames, dropping audio frame", "id", msg.ID)
			return
		}
	}
	o.queue = append(o.queue, msg)
	o.signal()
}

// oldestAudio returns the index of the first queued audio frame, or -1.
// Callers hold o.mu.
func (o *Outbox) oldestAudio() int {
	for i, m := range o.queue {
		if m.Type == msgAudio {
			return i
		}
	}
	return -1
}

func (o *Outbox) signal() {
	select {
	case o.notify <- struct{}{}:
	default:
	}
}

// next blocks until a message is queued. It reports false once the outbox is
// closed and drained.
func (o *Outbox) next() (outbound, bool) {
	for {
		o.mu.Lock()
		if len(o.queue) > 0 {
			msg := o.queue[0]
			o.queue[0] = outbound{}
			o.queue = o.queue[1:]
			o.mu.Unlock()
			return msg, true
		}
		if o.closed {
			o.mu.Unlock()
			return outbound{}, false
		}
		o.mu.Unlock()
		<-o.notify
	}
}

func (o *Outbox) process() {
	defer o.wg.Done()
	for {
		msg, ok := o.next()
		if !ok {
			return
		}
		if o.ctx.Err() != nil {
			continue
		}
		data, err := json.Marshal(msg)
		if err != nil {
			o.logger.Error("Failed to encode message", "type", msg.Type, "error", err)
			continue
		}
		wctx, cancel := context.WithTimeout(o.ctx, writeTimeout)
		err = o.conn.Write(wctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			o.logger.Debug("WebSocket write error", "type", msg.Type, "error", err)
			o.cancel()
		}
	}
}

// Close flushes queued messages, waiting at most flushTimeout, then stops
// the writer.
func (o *Outbox) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	remaining := len(o.queue)
	o.signal()
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(flushTimeout):
		o.logger.Warn("Outbox flush timeout", "queue_remaining", remaining)
		o.cancel()
		<-done
	}
	o.cancel()
	return nil
}
