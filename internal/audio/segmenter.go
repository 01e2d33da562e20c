package audio

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/voxworks/dictate/internal/mode"
)

// MinSegmentDuration is the floor below which a detected utterance is
// silently discarded rather than dispatched for transcription.
const MinSegmentDuration = 1200 * time.Millisecond

// Event is a segment-level event produced by the segmenter on the audio
// thread. Events carry no I/O obligations; the orchestrator interprets them.
type Event interface {
	segmentEvent()
}

// SpeechStarted marks the first frame of a new speech segment.
type SpeechStarted struct {
	Index     uint64
	ModeName  string
	StartedAt time.Time
}

// SpeechEnded marks the end of a segment. PCM is only populated for kept
// segments; ownership transfers to the receiver.
type SpeechEnded struct {
	Index     uint64
	PCM       []float32
	Duration  time.Duration
	Kept      bool
	ModeAtEnd string
	StartedAt time.Time
	EndedAt   time.Time
}

// ModeChanged reports that a pending mode change was applied at a segment
// boundary.
type ModeChanged struct {
	ModeName   string
	MinSilence time.Duration
}

func (SpeechStarted) segmentEvent() {}
func (SpeechEnded) segmentEvent()   {}
func (ModeChanged) segmentEvent()   {}

// Segmenter turns the frame stream into speech segments. OnFrame runs on the
// audio thread for every frame: it must not block, and the only allocation
// on the steady-state path is growing the active segment's buffer.
//
// Mode changes queued on the controller are applied on the first frame
// processed while no segment is active, so the next segment runs under the
// new mode from its first frame and a segment never straddles two modes.
type Segmenter struct {
	modes      *mode.Controller
	factory    DetectorFactory
	minSegment time.Duration

	detector SpeechDetector
	down     *Downsampler
	current  mode.Mode

	inSpeech  bool
	active    []float32
	segPre    int
	nextIndex uint64
	startedAt time.Time

	// preRoll retains the last SpeechPad worth of silent audio so segment
	// onsets clipped by detector latency are recovered. It only accumulates
	// outside speech and is drained into the segment at speech start, so no
	// frame lands in two segments.
	preRoll    []float32
	padSamples int

	logger *logrus.Entry
}

// NewSegmenter creates a segmenter running under the controller's current
// mode. The factory builds detectors when mode changes are applied.
func NewSegmenter(modes *mode.Controller, factory DetectorFactory) (*Segmenter, error) {
	current := modes.Current()
	detector, err := factory(current)
	if err != nil {
		return nil, err
	}

	s := &Segmenter{
		modes:      modes,
		factory:    factory,
		minSegment: MinSegmentDuration,
		detector:   detector,
		down:       NewDownsampler(),
		current:    current,
		logger:     logrus.WithField("component", "segmenter"),
	}
	s.setPad(current)
	return s, nil
}

// SetMinSegment overrides the keep threshold. Intended for tests and tuning.
func (s *Segmenter) SetMinSegment(d time.Duration) {
	s.minSegment = d
}

// OnFrame processes one frame and returns the segment events it produced,
// in order. The returned slice is nil on the common silent path.
func (s *Segmenter) OnFrame(frame Frame) []Event {
	var events []Event

	// A pending mode may be applied any time no segment is active: the
	// finished segment ran entirely under the old bundle and the next one
	// starts entirely under the new, which is all the boundary rule asks.
	if !s.inSpeech {
		if applied, ok := s.modes.TakePending(); ok {
			events = append(events, s.applyMode(applied)...)
		}
	}

	start, end := s.detector.Push(s.down.Process(frame))

	// A start and end edge in the same frame while silent is a detector
	// ping, not an utterance: nothing is emitted.
	if start && end && !s.inSpeech {
		s.pushPreRoll(frame)
		return events
	}

	if start && !s.inSpeech {
		s.startedAt = time.Now()
		s.inSpeech = true
		s.segPre = len(s.preRoll)
		s.active = append(s.active, s.preRoll...)
		s.preRoll = s.preRoll[:0]

		events = append(events, SpeechStarted{
			Index:     s.nextIndex,
			ModeName:  s.current.Name,
			StartedAt: s.startedAt,
		})
	}

	if s.inSpeech {
		s.active = append(s.active, frame...)
	} else {
		s.pushPreRoll(frame)
	}

	if end && s.inSpeech {
		events = append(events, s.finishSegment(true))
	}

	return events
}

// Flush forces a speech end with the buffered audio. Called once at stop,
// after the source has halted, so the audio thread is quiescent.
func (s *Segmenter) Flush() []Event {
	if !s.inSpeech {
		return nil
	}
	return []Event{s.finishSegment(false)}
}

// Current reports the mode the segmenter is running under.
func (s *Segmenter) Current() mode.Mode {
	return s.current
}

// applyMode swaps the detector for the new bundle. On factory failure the
// old detector and mode stay in force.
func (s *Segmenter) applyMode(m mode.Mode) []Event {
	detector, err := s.factory(m)
	if err != nil {
		s.logger.WithError(err).WithField("mode", m.Name).Error("Failed to apply mode, keeping previous")
		return nil
	}

	s.detector = detector
	s.current = m
	s.setPad(m)

	s.logger.WithFields(logrus.Fields{
		"mode":        m.Name,
		"min_silence": m.MinSilence,
	}).Info("VAD mode applied")

	return []Event{ModeChanged{ModeName: m.Name, MinSilence: m.MinSilence}}
}

// finishSegment closes the active segment. The buffer holds pre-roll, the
// speech itself and (on a detector-driven end) the minimum-silence tail; the
// keep decision is made on the speech extent alone, and the stored PCM is
// trimmed so no more than the speech pad of trailing silence survives.
func (s *Segmenter) finishSegment(detectorEnded bool) Event {
	appended := len(s.active) - s.segPre

	trailing := 0
	if detectorEnded {
		trailing = int(s.current.MinSilence.Seconds() * SampleRate)
		if trailing > appended {
			trailing = appended
		}
	}

	speechSamples := appended - trailing
	if speechSamples < 0 {
		speechSamples = 0
	}
	speechDur := time.Duration(speechSamples) * time.Second / SampleRate
	kept := speechDur >= s.minSegment

	if excess := trailing - s.padSamples; excess > 0 && excess < len(s.active) {
		s.active = s.active[:len(s.active)-excess]
	}
	duration := time.Duration(len(s.active)) * time.Second / SampleRate

	ended := SpeechEnded{
		Index:     s.nextIndex,
		Duration:  duration,
		Kept:      kept,
		ModeAtEnd: s.current.Name,
		StartedAt: s.startedAt,
		EndedAt:   time.Now(),
	}

	if kept {
		ended.PCM = s.active
		s.active = make([]float32, 0, SamplesPerFrame*64)
		s.nextIndex++
	} else {
		s.active = s.active[:0]
	}
	s.inSpeech = false

	s.logger.WithFields(logrus.Fields{
		"index":    ended.Index,
		"duration": duration.Round(time.Millisecond),
		"kept":     kept,
	}).Debug("Segment ended")

	return ended
}

func (s *Segmenter) setPad(m mode.Mode) {
	s.padSamples = int(m.SpeechPad.Seconds() * SampleRate)
	if cap(s.preRoll) < s.padSamples {
		grown := make([]float32, len(s.preRoll), s.padSamples)
		copy(grown, s.preRoll)
		s.preRoll = grown
	}
}

func (s *Segmenter) pushPreRoll(frame Frame) {
	if s.padSamples == 0 {
		return
	}
	s.preRoll = append(s.preRoll, frame...)
	if excess := len(s.preRoll) - s.padSamples; excess > 0 {
		s.preRoll = s.preRoll[:copy(s.preRoll, s.preRoll[excess:])]
	}
}
