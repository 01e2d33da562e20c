package audio

import (
	"math"

	"github.com/voxworks/dictate/internal/mode"
)

// SpeechDetector classifies frames of 16kHz mono PCM. Push is called once
// per frame on the audio thread with the decimated frame and reports edge
// transitions: speechStart fires on the silence→speech edge, speechEnd on
// the speech→silence edge after the detector's minimum-silence hysteresis.
type SpeechDetector interface {
	Push(samples []float32) (speechStart, speechEnd bool)
	Reset()
}

// DetectorFactory builds a detector for the given mode's parameters. The
// segmenter invokes it whenever a pending mode change is applied.
type DetectorFactory func(m mode.Mode) (SpeechDetector, error)

// energyScale maps a mode's 0..1 threshold onto an RMS energy floor.
// A threshold of 0.5 lands on 0.01, the level that separates speech from
// room tone at typical microphone gain.
const energyScale = 0.02

// startFramesRequired is how many consecutive voiced frames confirm a
// speech start. Two frames (60ms) rejects clicks without audible onset lag.
const startFramesRequired = 2

// EnergyDetector is the default detector: an RMS energy classifier with
// hysteresis on both edges. It needs no model file and costs one pass over
// the frame.
type EnergyDetector struct {
	energyThreshold       float64
	silenceFramesRequired int

	speechCount  int
	silenceCount int
	inSpeech     bool
}

// NewEnergyDetector creates a detector tuned by the mode bundle: the mode's
// threshold sets the energy floor and its minimum silence sets the
// end-of-speech hysteresis.
func NewEnergyDetector(m mode.Mode) *EnergyDetector {
	silenceFrames := int(m.MinSilence / FrameDuration)
	if silenceFrames < 1 {
		silenceFrames = 1
	}
	return &EnergyDetector{
		energyThreshold:       float64(m.VADThreshold) * energyScale,
		silenceFramesRequired: silenceFrames,
	}
}

// Push classifies one decimated frame and reports edge transitions.
func (d *EnergyDetector) Push(samples []float32) (bool, bool) {
	voiced := rmsEnergy(samples) >= d.energyThreshold

	if voiced {
		d.speechCount++
		d.silenceCount = 0
		if !d.inSpeech && d.speechCount >= startFramesRequired {
			d.inSpeech = true
			return true, false
		}
		return false, false
	}

	d.silenceCount++
	d.speechCount = 0
	if d.inSpeech && d.silenceCount >= d.silenceFramesRequired {
		d.inSpeech = false
		return false, true
	}
	return false, false
}

// Reset clears all hysteresis state.
func (d *EnergyDetector) Reset() {
	d.speechCount = 0
	d.silenceCount = 0
	d.inSpeech = false
}

func rmsEnergy(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Downsampler decimates 48kHz frames to 16kHz with a windowed-sinc low-pass
// at 8kHz applied first, so aliasing does not leak energy into the detector.
// One instance is owned by the segmenter; the output buffer is reused.
type Downsampler struct {
	coeffs []float64
	out    []float32
}

// NewDownsampler builds the anti-aliasing filter for the fixed 48k→16k path.
func NewDownsampler() *Downsampler {
	return &Downsampler{
		coeffs: lowPassCoeffs(float64(VADSampleRate)/2, SampleRate),
		out:    make([]float32, SamplesPerFrame/3),
	}
}

// Process filters and decimates one frame. The returned slice is valid until
// the next call.
func (ds *Downsampler) Process(frame Frame) []float32 {
	n := len(frame) / 3
	if n > len(ds.out) {
		ds.out = make([]float32, n)
	}
	out := ds.out[:n]

	filterLen := len(ds.coeffs)
	halfFilter := filterLen / 2

	for i := 0; i < n; i++ {
		srcIdx := i * 3
		var sum float64
		for j := 0; j < filterLen; j++ {
			sampleIdx := srcIdx + j - halfFilter
			if sampleIdx >= 0 && sampleIdx < len(frame) {
				sum += float64(frame[sampleIdx]) * ds.coeffs[j]
			}
		}
		out[i] = float32(sum)
	}
	return out
}

// lowPassCoeffs generates windowed-sinc low-pass filter taps with a Hamming
// window, normalized to unity gain.
func lowPassCoeffs(cutoffFreq, sampleRate float64) []float64 {
	filterLen := 21
	coeffs := make([]float64, filterLen)

	wc := 2.0 * math.Pi * cutoffFreq / sampleRate
	halfLen := filterLen / 2

	for i := 0; i < filterLen; i++ {
		n := i - halfLen
		if n == 0 {
			coeffs[i] = wc / math.Pi
		} else {
			coeffs[i] = math.Sin(wc*float64(n)) / (math.Pi * float64(n))
		}
		window := 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(filterLen-1))
		coeffs[i] *= window
	}

	sum := 0.0
	for _, c := range coeffs {
		sum += c
	}
	for i := range coeffs {
		coeffs[i] /= sum
	}
	return coeffs
}
