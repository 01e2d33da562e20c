package audio

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/streamer45/silero-vad-go/speech"

	"github.com/voxworks/dictate/internal/mode"
)

// sileroWindow is the inference window in samples at 16kHz. 512 gives the
// finest-grained detection the model supports.
const sileroWindow = 512

// SileroDetector adapts the Silero ONNX voice model to the per-frame push
// interface. Decimated frames are buffered until a full inference window is
// available; the model's own hysteresis (threshold, minimum silence, speech
// pad) is configured from the mode bundle.
type SileroDetector struct {
	sd       *speech.Detector
	buf      []float32
	inSpeech bool
}

// NewSileroDetector loads the model at modelPath with the mode's parameters.
func NewSileroDetector(modelPath string, m mode.Mode) (*SileroDetector, error) {
	sd, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:            modelPath,
		SampleRate:           m.ResampleRate,
		WindowSize:           sileroWindow,
		Threshold:            m.VADThreshold,
		MinSilenceDurationMs: int(m.MinSilence.Milliseconds()),
		SpeechPadMs:          int(m.SpeechPad.Milliseconds()),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create speech detector: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"model":       modelPath,
		"threshold":   m.VADThreshold,
		"min_silence": m.MinSilence,
	}).Info("Silero VAD initialized")

	return &SileroDetector{
		sd:  sd,
		buf: make([]float32, 0, sileroWindow*4),
	}, nil
}

// Push buffers one decimated frame and runs inference on every complete
// window, reporting edge transitions.
func (d *SileroDetector) Push(samples []float32) (bool, bool) {
	d.buf = append(d.buf, samples...)
	if len(d.buf) < sileroWindow {
		return false, false
	}

	n := (len(d.buf) / sileroWindow) * sileroWindow
	segments, err := d.sd.Detect(d.buf[:n])
	d.buf = d.buf[:copy(d.buf, d.buf[n:])]
	if err != nil {
		logrus.WithError(err).Debug("Silero inference failed")
		return false, false
	}

	var start, end bool
	for _, seg := range segments {
		if !d.inSpeech && seg.SpeechStartAt >= 0 {
			d.inSpeech = true
			start = true
		}
		if d.inSpeech && seg.SpeechEndAt > 0 {
			d.inSpeech = false
			end = true
		}
	}
	return start, end
}

// Reset clears buffered audio and the model's recurrent state.
func (d *SileroDetector) Reset() {
	d.buf = d.buf[:0]
	d.inSpeech = false
	if err := d.sd.Reset(); err != nil {
		logrus.WithError(err).Debug("Failed to reset speech detector")
	}
}

// Close releases the ONNX session.
func (d *SileroDetector) Close() {
	if err := d.sd.Destroy(); err != nil {
		logrus.WithError(err).Warn("Failed to destroy speech detector")
	}
}
