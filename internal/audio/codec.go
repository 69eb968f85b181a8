// Package audio converts between captured float samples and the 16-bit PCM
// encoding used on the live voice stream.
package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

const (
	// InputSampleRate is the default rate microphone audio is captured and sent at.
	InputSampleRate = 16000
	// OutputSampleRate is the rate the voice endpoint returns audio at.
	OutputSampleRate = 24000
	// FrameSize is the number of samples in one outbound capture window.
	FrameSize = 4096
)

// Blob is an encoded chunk ready for transport.
type Blob struct {
	Data     []byte
	MIMEType string
}

// PCMMIMEType returns the MIME type for raw 16-bit PCM at rate.
func PCMMIMEType(rate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", rate)
}

// Encode converts amplitudes in [-1,1] to little-endian 16-bit PCM labelled
// with the capture rate. A non-positive rate selects InputSampleRate.
// Out-of-range samples are clamped. An empty input yields an empty blob.
func Encode(samples []float32, rate int) Blob {
	if rate <= 0 {
		rate = InputSampleRate
	}
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(floatToInt16(s)))
	}
	return Blob{Data: out, MIMEType: PCMMIMEType(rate)}
}

func floatToInt16(s float32) int16 {
	if s != s { // NaN
		return 0
	}
	if s >= 1 {
		return math.MaxInt16
	}
	if s <= -1 {
		return math.MinInt16
	}
	return int16(s * 32768)
}

// Buffer is a decoded, playable block of audio with one slice per channel.
type Buffer struct {
	SampleRate int
	Channels   [][]float32
}

// Frames returns the number of samples per channel.
func (b *Buffer) Frames() int {
	if b == nil || len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration returns the playback length of the buffer.
func (b *Buffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.SampleRate)
}

// Seconds returns the playback length in seconds.
func (b *Buffer) Seconds() float64 {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.SampleRate)
}

// Decode turns interleaved 16-bit little-endian PCM into a Buffer at the given
// rate and channel count. A trailing partial frame is dropped.
func Decode(data []byte, sampleRate, channels int) *Buffer {
	if channels <= 0 {
		channels = 1
	}
	frames := len(data) / 2 / channels
	buf := &Buffer{SampleRate: sampleRate, Channels: make([][]float32, channels)}
	for c := range buf.Channels {
		buf.Channels[c] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		for c := 0; c < channels; c++ {
			off := (i*channels + c) * 2
			v := int16(binary.LittleEndian.Uint16(data[off:]))
			buf.Channels[c][i] = float32(v) / 32768
		}
	}
	return buf
}

// DecodeFloat32LE reads raw little-endian float32 samples, the format browsers
// hand out from an audio worklet.
func DecodeFloat32LE(data []byte) []float32 {
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out
}

// EncodeFloat32LE is the inverse of DecodeFloat32LE.
func EncodeFloat32LE(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}
