// Package transcriber defines the pluggable transcription contract and two
// implementations: a pool driving an external speech-to-text engine, and a
// simulated pool for tests and dry runs. Jobs reference WAV files on disk;
// in-memory PCM never crosses this boundary.
package transcriber

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrPoolStopped is returned by Dispatch after Stop.
	ErrPoolStopped = errors.New("transcriber pool stopped")

	// ErrJobTimeout marks a job whose engine invocation exceeded the
	// per-job wall-clock budget.
	ErrJobTimeout = errors.New("transcription timed out")
)

// Job is one segment to transcribe.
type Job struct {
	Index      uint64
	AudioPath  string
	SampleRate int
	Duration   time.Duration
	Timestamp  time.Time

	// poison shuts down the worker that dequeues it.
	poison bool
}

// Result is the outcome of one job. Each dispatched job produces exactly one
// result, success or failure; ordering across indices is not guaranteed.
type Result struct {
	Index          uint64
	Text           string
	Success        bool
	Err            string
	ProcessingTime time.Duration
}

// Transcriber is the pool contract. Dispatch enqueues and blocks the caller
// when the bounded job queue is full; Results is a single-consumer stream
// closed after Stop once every accepted job has produced its result.
type Transcriber interface {
	Start() error
	Dispatch(ctx context.Context, job Job) error
	Results() <-chan Result
	Stop()
}
