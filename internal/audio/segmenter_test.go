package audio

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxworks/dictate/internal/mode"
)

func newTestSegmenter(t *testing.T) (*Segmenter, *mode.Controller) {
	t.Helper()
	modes := mode.NewController()
	seg, err := NewSegmenter(modes, func(m mode.Mode) (SpeechDetector, error) {
		return NewEnergyDetector(m), nil
	})
	require.NoError(t, err)
	return seg, modes
}

func voicedFrame() Frame {
	frame := make(Frame, SamplesPerFrame)
	for i := range frame {
		frame[i] = 0.3 * float32(math.Sin(2*math.Pi*220*float64(i)/SampleRate))
	}
	return frame
}

func silentFrame() Frame {
	return make(Frame, SamplesPerFrame)
}

// feed pushes n copies of frame and collects all events.
func feed(seg *Segmenter, frame Frame, n int) []Event {
	var events []Event
	for i := 0; i < n; i++ {
		events = append(events, seg.OnFrame(frame)...)
	}
	return events
}

func endedEvents(events []Event) []SpeechEnded {
	var out []SpeechEnded
	for _, ev := range events {
		if e, ok := ev.(SpeechEnded); ok {
			out = append(out, e)
		}
	}
	return out
}

func startedEvents(events []Event) []SpeechStarted {
	var out []SpeechStarted
	for _, ev := range events {
		if e, ok := ev.(SpeechStarted); ok {
			out = append(out, e)
		}
	}
	return out
}

// TestSegmenterSilenceProducesNothing tests that pure silence emits no events
func TestSegmenterSilenceProducesNothing(t *testing.T) {
	seg, _ := newTestSegmenter(t)

	events := feed(seg, silentFrame(), 100)
	assert.Empty(t, events)
	assert.Empty(t, seg.Flush())
}

// TestSegmenterKeepsLongUtterance tests the basic start/end cycle
func TestSegmenterKeepsLongUtterance(t *testing.T) {
	seg, _ := newTestSegmenter(t)

	events := feed(seg, voicedFrame(), 80) // 2.4s of speech
	starts := startedEvents(events)
	require.Len(t, starts, 1)
	assert.Equal(t, uint64(0), starts[0].Index)
	assert.Equal(t, mode.Normal, starts[0].ModeName)

	events = feed(seg, silentFrame(), 40) // 1.2s of silence
	ended := endedEvents(events)
	require.Len(t, ended, 1)
	assert.True(t, ended[0].Kept)
	assert.Equal(t, uint64(0), ended[0].Index)
	assert.Equal(t, mode.Normal, ended[0].ModeAtEnd)
	assert.NotEmpty(t, ended[0].PCM)
	assert.Equal(t, ended[0].Duration,
		time.Duration(len(ended[0].PCM))*time.Second/SampleRate,
		"reported duration matches the handed-off PCM")
}

// TestSegmenterDiscardsShortUtterance tests the minimum-duration rule
func TestSegmenterDiscardsShortUtterance(t *testing.T) {
	seg, _ := newTestSegmenter(t)

	feed(seg, voicedFrame(), 10) // 0.3s of speech
	events := feed(seg, silentFrame(), 40)

	ended := endedEvents(events)
	require.Len(t, ended, 1)
	assert.False(t, ended[0].Kept)
	assert.Empty(t, ended[0].PCM, "discarded segments do not hand off audio")
}

// TestSegmenterIndexMonotonicity tests that indices are dense over kept
// segments and that discards do not consume an index
func TestSegmenterIndexMonotonicity(t *testing.T) {
	seg, _ := newTestSegmenter(t)

	// Short utterance: discarded, index not consumed.
	feed(seg, voicedFrame(), 5)
	ended := endedEvents(feed(seg, silentFrame(), 40))
	require.Len(t, ended, 1)
	assert.False(t, ended[0].Kept)
	assert.Equal(t, uint64(0), ended[0].Index)

	// First kept segment still gets index 0.
	feed(seg, voicedFrame(), 80)
	ended = endedEvents(feed(seg, silentFrame(), 40))
	require.Len(t, ended, 1)
	assert.True(t, ended[0].Kept)
	assert.Equal(t, uint64(0), ended[0].Index)

	// Second kept segment gets index 1.
	feed(seg, voicedFrame(), 80)
	ended = endedEvents(feed(seg, silentFrame(), 40))
	require.Len(t, ended, 1)
	assert.True(t, ended[0].Kept)
	assert.Equal(t, uint64(1), ended[0].Index)
}

// TestSegmenterKeepBoundary tests the keep rule exactly at the threshold
// and one millisecond below it.
//
// 42 voiced frames put 41 frames plus the silence tail into the segment;
// after subtracting the 800ms tail the speech extent is exactly 1210ms.
func TestSegmenterKeepBoundary(t *testing.T) {
	run := func(minSegment time.Duration) SpeechEnded {
		seg, _ := newTestSegmenter(t)
		seg.SetMinSegment(minSegment)

		feed(seg, voicedFrame(), 42)
		ended := endedEvents(feed(seg, silentFrame(), 40))
		require.Len(t, ended, 1)
		return ended[0]
	}

	assert.True(t, run(1210*time.Millisecond).Kept, "exactly at the threshold is kept")
	assert.False(t, run(1211*time.Millisecond).Kept, "below the threshold is discarded")
}

// TestSegmenterModeChangeAtBoundary tests that a pending mode change is
// applied only once the current segment has ended, never mid-segment, and
// that the next segment starts under it
func TestSegmenterModeChangeAtBoundary(t *testing.T) {
	seg, modes := newTestSegmenter(t)

	// Start a segment under normal mode.
	events := feed(seg, voicedFrame(), 40)
	require.Len(t, startedEvents(events), 1)

	// Request long_note mid-segment: nothing may change yet.
	require.NoError(t, modes.Request(mode.LongNote))
	events = feed(seg, voicedFrame(), 40)
	assert.Empty(t, events, "mid-segment frames emit nothing on a mode request")

	// The segment ends under the original mode; only once it is over does
	// the pending change land.
	events = feed(seg, silentFrame(), 40)
	ended := endedEvents(events)
	require.Len(t, ended, 1)
	assert.Equal(t, mode.Normal, ended[0].ModeAtEnd)

	var changed *ModeChanged
	for _, ev := range events {
		if c, ok := ev.(ModeChanged); ok {
			changed = &c
		}
	}
	require.NotNil(t, changed, "pending mode applies after the segment ends")
	assert.Equal(t, mode.LongNote, changed.ModeName)
	assert.Equal(t, 5*time.Second, changed.MinSilence)

	// The next segment runs under long_note from its first frame.
	events = feed(seg, voicedFrame(), 5)
	starts := startedEvents(events)
	require.Len(t, starts, 1)
	assert.Equal(t, mode.LongNote, starts[0].ModeName)
	assert.Equal(t, mode.LongNote, seg.Current().Name)
}

// TestSegmenterLatestModeRequestWins tests that of two requests queued
// between segments only the later one takes effect
func TestSegmenterLatestModeRequestWins(t *testing.T) {
	seg, modes := newTestSegmenter(t)
	require.NoError(t, modes.Register(mode.Mode{
		Name:         "focus",
		MinSilence:   2 * time.Second,
		VADThreshold: 0.5,
		SpeechPad:    time.Second,
	}))

	require.NoError(t, modes.Request(mode.LongNote))
	require.NoError(t, modes.Request("focus"))

	events := feed(seg, voicedFrame(), 5)
	changed, ok := events[0].(ModeChanged)
	require.True(t, ok)
	assert.Equal(t, "focus", changed.ModeName)
	assert.Equal(t, "focus", seg.Current().Name)
}

// TestSegmenterFlushForcesEnd tests the terminal transition at stop
func TestSegmenterFlushForcesEnd(t *testing.T) {
	seg, _ := newTestSegmenter(t)

	feed(seg, voicedFrame(), 80)
	ended := endedEvents(seg.Flush())
	require.Len(t, ended, 1)
	assert.True(t, ended[0].Kept)
	assert.Empty(t, seg.Flush(), "flush is a no-op once silent")
}

// TestSegmenterFlushDiscardsShortRemainder tests that the keep rule also
// applies to the forced end
func TestSegmenterFlushDiscardsShortRemainder(t *testing.T) {
	seg, _ := newTestSegmenter(t)

	feed(seg, voicedFrame(), 10)
	ended := endedEvents(seg.Flush())
	require.Len(t, ended, 1)
	assert.False(t, ended[0].Kept)
}

// TestSegmenterPreRollRecoversOnset tests that detector latency does not
// clip the start of the utterance: the first voiced frame lands in the
// segment even though the start edge fires one frame later
func TestSegmenterPreRollRecoversOnset(t *testing.T) {
	seg, _ := newTestSegmenter(t)

	feed(seg, silentFrame(), 10)
	feed(seg, voicedFrame(), 80)
	ended := endedEvents(feed(seg, silentFrame(), 40))
	require.Len(t, ended, 1)

	// Pre-roll silence plus the full voiced run must be present: more than
	// the 79 frames appended after the start edge.
	assert.Greater(t, len(ended[0].PCM), 79*SamplesPerFrame)
}

// TestSegmenterLongNoteTrimsTail tests that the stored segment does not
// carry the full five-second long-note silence tail, only the speech pad
func TestSegmenterLongNoteTrimsTail(t *testing.T) {
	seg, modes := newTestSegmenter(t)
	require.NoError(t, modes.Request(mode.LongNote))

	feed(seg, voicedFrame(), 80)
	// long_note needs 5s of silence to end: 166 frames.
	ended := endedEvents(feed(seg, silentFrame(), 170))
	require.Len(t, ended, 1)
	require.True(t, ended[0].Kept)

	// The tail beyond the 1.3s pad is trimmed: the segment must be well
	// under speech plus five seconds.
	maxSamples := (80 + 60) * SamplesPerFrame
	assert.Less(t, len(ended[0].PCM), maxSamples)
}
