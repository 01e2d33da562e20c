package audio

import (
	"sync"
	"time"
)

// StaticSource delivers pre-canned audio through the frame sink. It is used
// by tests and by the simulated pipeline: canned speech bursts separated by
// silence drive the segmenter exactly like live input, without waiting for
// wall-clock time (pacing is optional).
type StaticSource struct {
	frames []Frame
	paced  bool

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewStaticSource creates an unpaced source over raw mono PCM at SampleRate.
func NewStaticSource(pcm []float32) *StaticSource {
	return &StaticSource{
		frames: chunkFrames(pcm),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Paced makes the source deliver at real-time pace like a device would.
func (s *StaticSource) Paced() *StaticSource {
	s.paced = true
	return s
}

// AppendSilence appends n seconds of digital silence.
func (s *StaticSource) AppendSilence(seconds float64) *StaticSource {
	return s.AppendPCM(make([]float32, int(seconds*SampleRate)))
}

// AppendPCM appends raw mono PCM at SampleRate.
func (s *StaticSource) AppendPCM(pcm []float32) *StaticSource {
	s.frames = append(s.frames, chunkFrames(pcm)...)
	return s
}

// Start begins delivery from a dedicated goroutine.
func (s *StaticSource) Start(sink FrameSink) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrSourceStarted
	}
	s.running = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(s.done)

		var ticker *time.Ticker
		if s.paced {
			ticker = time.NewTicker(FrameDuration)
			defer ticker.Stop()
		}

		for _, frame := range s.frames {
			if ticker != nil {
				select {
				case <-s.stopCh:
					return
				case <-ticker.C:
				}
			} else {
				select {
				case <-s.stopCh:
					return
				default:
				}
			}
			sink(frame)
		}
	}()
	return nil
}

// Stop halts delivery. Idempotent.
func (s *StaticSource) Stop() {
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

// Done is closed when all frames have been delivered or Stop was called.
func (s *StaticSource) Done() <-chan struct{} {
	return s.done
}

// Describe reports the source for the session manifest.
func (s *StaticSource) Describe() (string, string) {
	return "simulated", "static"
}
