// Package audio contains the capture side of the pipeline: frame sources,
// voice activity detection and the speech segmenter. Everything in this
// package that runs per frame is called from a single dedicated audio
// goroutine and must stay off locks and I/O.
package audio

import (
	"errors"
	"time"
)

const (
	// SampleRate is the canonical rate every source delivers at.
	SampleRate = 48000

	// VADSampleRate is the rate frames are decimated to before detection.
	VADSampleRate = 16000

	// FrameDuration is the fixed length of one frame.
	FrameDuration = 30 * time.Millisecond

	// SamplesPerFrame is the number of mono samples in one 30ms frame at 48kHz.
	SamplesPerFrame = SampleRate * 30 / 1000
)

var (
	// ErrSourceUnavailable is returned by Start when the device cannot be
	// opened or the input file cannot be decoded.
	ErrSourceUnavailable = errors.New("audio source unavailable")

	// ErrSourceStarted is returned when Start is called on a running source.
	ErrSourceStarted = errors.New("audio source already started")
)

// Frame is one fixed-duration slice of mono float32 PCM at SampleRate.
// A frame is owned by the source until handed to the sink and must not be
// retained after the sink returns.
type Frame []float32

// Duration returns the wall-clock length of the frame.
func (f Frame) Duration() time.Duration {
	return time.Duration(len(f)) * time.Second / SampleRate
}

// FrameSink receives frames synchronously on the source's delivery goroutine.
type FrameSink func(Frame)

// Source produces a stream of fixed-size mono frames at SampleRate and
// delivers each one to the sink from a dedicated goroutine, at real time
// (device) or simulated real time (file).
type Source interface {
	// Start begins delivery. It returns ErrSourceUnavailable when the
	// underlying device or file cannot be opened.
	Start(sink FrameSink) error

	// Stop halts delivery. No frame is delivered after Stop returns.
	// Stop is idempotent.
	Stop()

	// Done is closed when the source has no more frames to deliver,
	// either because Stop was called or because the input ran out.
	Done() <-chan struct{}

	// Describe reports the source for the session manifest.
	Describe() (sourceType, descriptor string)
}
