package audio

// Framer cuts an incoming stream of capture chunks of arbitrary length into
// fixed-size windows. It is not safe for concurrent use.
type Framer struct {
	size    int
	pending []float32
}

// NewFramer creates a framer emitting windows of size samples.
// A non-positive size selects FrameSize.
func NewFramer(size int) *Framer {
	if size <= 0 {
		size = FrameSize
	}
	return &Framer{size: size, pending: make([]float32, 0, size)}
}

// Push appends samples and returns every complete window now available, in
// capture order. Leftover samples are kept for the next call.
func (f *Framer) Push(samples []float32) [][]float32 {
	f.pending = append(f.pending, samples...)
	var frames [][]float32
	off := 0
	for len(f.pending)-off >= f.size {
		frame := make([]float32, f.size)
		copy(frame, f.pending[off:off+f.size])
		frames = append(frames, frame)
		off += f.size
	}
	if off > 0 {
		n := copy(f.pending, f.pending[off:])
		f.pending = f.pending[:n]
	}
	return frames
}

// Pending returns the number of buffered samples not yet emitted.
func (f *Framer) Pending() int {
	return len(f.pending)
}

// Reset discards buffered samples.
func (f *Framer) Reset() {
	f.pending = f.pending[:0]
}
