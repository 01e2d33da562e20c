package textproc

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxworks/dictate/internal/command"
	"github.com/voxworks/dictate/internal/events"
	"github.com/voxworks/dictate/internal/mode"
	"github.com/voxworks/dictate/internal/session"
	"github.com/voxworks/dictate/pkg/transcriber"
)

// eventLog is a thread-safe sink for collected external events.
type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) sink(ev events.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) kinds() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.events))
	for i, ev := range l.events {
		out[i] = ev.Kind()
	}
	return out
}

func (l *eventLog) count(kind string) int {
	n := 0
	for _, k := range l.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

type fixture struct {
	results chan transcriber.Result
	store   *session.Store
	modes   *mode.Controller
	proc    *Processor
	log     *eventLog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := session.NewStore(t.TempDir())
	require.NoError(t, err)

	f := &fixture{
		results: make(chan transcriber.Result),
		store:   store,
		modes:   mode.NewController(),
		log:     &eventLog{},
	}
	f.proc = New(f.results, store, command.NewRegistry(), f.modes, f.log.sink)
	f.proc.Start()
	return f
}

func (f *fixture) finish() {
	close(f.results)
	f.proc.Wait()
}

func success(index uint64, text string) transcriber.Result {
	return transcriber.Result{Index: index, Text: text, Success: true, ProcessingTime: time.Millisecond}
}

// TestProcessorRecordsResults tests transcript bookkeeping and the
// incremental file markers
func TestProcessorRecordsResults(t *testing.T) {
	f := newFixture(t)

	f.results <- success(0, "hello world")
	f.results <- transcriber.Result{Index: 1, Err: "engine exploded"}
	f.finish()

	transcripts := f.proc.Transcripts()
	require.Len(t, transcripts, 2)
	assert.True(t, transcripts[0].Success)
	assert.Equal(t, "hello world", transcripts[0].Text)
	assert.False(t, transcripts[1].Success)

	counts := f.proc.CountsSnapshot()
	assert.Equal(t, 1, counts.Succeeded)
	assert.Equal(t, 1, counts.Failed)

	raw, err := os.ReadFile(filepath.Join(f.store.Dir(), "transcript_incremental.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "✓ 0: hello world")
	assert.Contains(t, string(raw), "✗ 1: engine exploded")

	assert.Equal(t, 2, f.log.count("transcription_complete"))
}

// TestProcessorCommandIsolation tests that ordinary dictation neither arms
// the machine nor produces documents
func TestProcessorCommandIsolation(t *testing.T) {
	f := newFixture(t)

	f.results <- success(0, "just talking about the weather")
	f.results <- success(1, "nothing to see here")
	f.finish()

	assert.Zero(t, f.log.count("command_detected"))
	assert.Zero(t, f.log.count("document_rendered"))

	notes, err := filepath.Glob(filepath.Join(f.store.Dir(), "note_*.md"))
	require.NoError(t, err)
	assert.Empty(t, notes)
}

// TestProcessorNoteWorkflow tests the full trigger → title → body → render
// cycle, including the mode handoffs at each step
func TestProcessorNoteWorkflow(t *testing.T) {
	f := newFixture(t)

	// Trigger: command detected, no mode change yet.
	f.results <- success(0, "start a new note")
	require.Eventually(t, func() bool { return f.log.count("command_detected") == 1 },
		time.Second, 10*time.Millisecond)
	_, pending := f.modes.TakePending()
	assert.False(t, pending, "trigger alone must not request a mode change")

	// Title: captured, long_note requested for the body segment.
	f.results <- success(1, "Meeting with Bob")
	require.Eventually(t, func() bool { return f.log.count("title_captured") == 1 },
		time.Second, 10*time.Millisecond)
	m, pending := f.modes.TakePending()
	require.True(t, pending, "title capture requests the long note mode")
	assert.Equal(t, mode.LongNote, m.Name)

	// Body result, then the boundary signal: document renders and normal
	// mode is requested back.
	f.results <- success(2, "We agreed to ship on Friday")
	f.proc.NotifySegmentEnded(2, mode.LongNote, true)
	f.finish()

	assert.Equal(t, 1, f.log.count("document_rendered"))

	notes, err := filepath.Glob(filepath.Join(f.store.Dir(), "note_*.md"))
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "note_0001_meeting_with_bob.md", filepath.Base(notes[0]))

	raw, err := os.ReadFile(notes[0])
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), "# Meeting with Bob\n"))
	assert.Contains(t, string(raw), "We agreed to ship on Friday")

	m, pending = f.modes.TakePending()
	require.True(t, pending, "render restores normal mode")
	assert.Equal(t, mode.Normal, m.Name)
}

// TestProcessorSealBeforeResult tests the race the boundary signal can win:
// the body segment ends before its transcription arrives, and the document
// must wait for the text instead of rendering empty
func TestProcessorSealBeforeResult(t *testing.T) {
	f := newFixture(t)

	f.results <- success(0, "start a new note")
	f.results <- success(1, "Shopping list")
	require.Eventually(t, func() bool { return f.log.count("title_captured") == 1 },
		time.Second, 10*time.Millisecond)
	f.modes.TakePending()

	// Boundary first, transcription second.
	f.proc.NotifySegmentEnded(2, mode.LongNote, true)
	f.results <- success(2, "eggs and milk")
	f.finish()

	notes, err := filepath.Glob(filepath.Join(f.store.Dir(), "note_*.md"))
	require.NoError(t, err)
	require.Len(t, notes, 1)

	raw, err := os.ReadFile(notes[0])
	require.NoError(t, err)
	assert.Contains(t, string(raw), "eggs and milk")
}

// TestProcessorDiscardedBodySealsEmpty tests that a too-short body segment
// still closes the workflow
func TestProcessorDiscardedBodySealsEmpty(t *testing.T) {
	f := newFixture(t)

	f.results <- success(0, "start a new note")
	f.results <- success(1, "Empty note")
	require.Eventually(t, func() bool { return f.log.count("title_captured") == 1 },
		time.Second, 10*time.Millisecond)
	f.modes.TakePending()

	// The body utterance was under the keep threshold: no result will come.
	f.proc.NotifySegmentEnded(2, mode.LongNote, false)
	f.finish()

	assert.Equal(t, 1, f.log.count("document_rendered"))

	notes, err := filepath.Glob(filepath.Join(f.store.Dir(), "note_*.md"))
	require.NoError(t, err)
	require.Len(t, notes, 1)
	raw, err := os.ReadFile(notes[0])
	require.NoError(t, err)
	assert.Equal(t, "# Empty note\n", string(raw))
}

// TestProcessorIgnoresNormalBoundaries tests that segment ends outside the
// long note mode never seal anything
func TestProcessorIgnoresNormalBoundaries(t *testing.T) {
	f := newFixture(t)

	f.results <- success(0, "start a new note")
	require.Eventually(t, func() bool { return f.log.count("command_detected") == 1 },
		time.Second, 10*time.Millisecond)

	f.proc.NotifySegmentEnded(0, mode.Normal, true)
	f.finish()

	assert.Zero(t, f.log.count("document_rendered"))
}

// TestPhaseString tests the phase labels
func TestPhaseString(t *testing.T) {
	assert.Equal(t, "idle", PhaseIdle.String())
	assert.Equal(t, "awaiting_title", PhaseAwaitingTitle.String())
	assert.Equal(t, "collecting_body", PhaseCollectingBody.String())
}
