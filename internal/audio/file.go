package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// FileSource plays a WAV file through the frame sink at simulated real time.
// The file is decoded and resampled to SampleRate up front; delivery happens
// from a dedicated goroutine paced by a ticker at FrameDuration.
type FileSource struct {
	path   string
	frames []Frame

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewFileSource creates a playback source for the given WAV file.
func NewFileSource(path string) *FileSource {
	return &FileSource{
		path:   path,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start decodes the file and begins paced delivery.
func (s *FileSource) Start(sink FrameSink) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrSourceStarted
	}

	raw, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	pcm, rate, err := DecodeWAV(raw)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, s.path, err)
	}
	pcm = Resample(pcm, rate, SampleRate)

	s.frames = chunkFrames(pcm)
	s.running = true

	logrus.WithFields(logrus.Fields{
		"file":        filepath.Base(s.path),
		"source_rate": rate,
		"frames":      len(s.frames),
		"duration":    (time.Duration(len(pcm)) * time.Second / SampleRate).Round(time.Millisecond),
	}).Info("File playback started")

	s.wg.Add(1)
	go s.deliver(sink)
	return nil
}

// deliver pushes frames at real-time pace until exhaustion or Stop.
func (s *FileSource) deliver(sink FrameSink) {
	defer s.wg.Done()
	defer close(s.done)

	ticker := time.NewTicker(FrameDuration)
	defer ticker.Stop()

	for _, frame := range s.frames {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			sink(frame)
		}
	}

	logrus.WithField("file", filepath.Base(s.path)).Debug("File playback finished")
}

// Stop halts delivery. Idempotent.
func (s *FileSource) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
}

// Done is closed when playback reaches the end of the file or is stopped.
func (s *FileSource) Done() <-chan struct{} {
	return s.done
}

// Describe reports the source for the session manifest.
func (s *FileSource) Describe() (string, string) {
	return "file", s.path
}

// chunkFrames slices mono PCM into SamplesPerFrame frames, dropping a
// trailing partial frame.
func chunkFrames(pcm []float32) []Frame {
	frames := make([]Frame, 0, len(pcm)/SamplesPerFrame)
	for len(pcm) >= SamplesPerFrame {
		frames = append(frames, Frame(pcm[:SamplesPerFrame]))
		pcm = pcm[SamplesPerFrame:]
	}
	return frames
}
