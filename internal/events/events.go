package events

import (
	"time"

	"github.com/google/uuid"
)

// Meta is embedded in every external event.
type Meta struct {
	EventID   uuid.UUID
	Timestamp time.Time
}

// NewMeta stamps a fresh event identity.
func NewMeta() Meta {
	return Meta{EventID: uuid.New(), Timestamp: time.Now()}
}

// Event is one entry of the external event stream.
type Event interface {
	Kind() string
}

// Sink receives external events. The orchestrator invokes it inline from its
// event pump, so implementations should hand off quickly.
type Sink func(Event)

// RecordingStateChanged reports recording start/stop.
type RecordingStateChanged struct {
	Meta
	IsRecording bool
}

// SpeechStarted reports the beginning of a detected speech segment.
type SpeechStarted struct {
	Meta
	Index    uint64
	ModeName string
}

// SpeechEnded reports the end of a detected speech segment.
type SpeechEnded struct {
	Meta
	Index     uint64
	Duration  time.Duration
	Kept      bool
	ModeAtEnd string
}

// VADModeChanged reports that the segmenter applied a new parameter bundle.
type VADModeChanged struct {
	Meta
	ModeName     string
	MinSilenceMs int64
}

// TranscriptionQueued reports a segment handed to the transcriber pool.
type TranscriptionQueued struct {
	Meta
	Index   uint64
	WAVPath string
}

// TranscriptionComplete reports one finished transcription attempt.
type TranscriptionComplete struct {
	Meta
	Index          uint64
	Text           string
	Success        bool
	ProcessingTime time.Duration
	Err            string
}

// CommandDetected reports a matched trigger phrase.
type CommandDetected struct {
	Meta
	Index       uint64
	CommandName string
}

// TitleCaptured reports the title slot of the active command being filled.
type TitleCaptured struct {
	Meta
	Index uint64
	Title string
}

// DocumentRendered reports a finalized document written to the session.
type DocumentRendered struct {
	Meta
	CommandName string
	OutputPaths []string
}

func (RecordingStateChanged) Kind() string { return "recording_state_changed" }
func (SpeechStarted) Kind() string         { return "speech_started" }
func (SpeechEnded) Kind() string           { return "speech_ended" }
func (VADModeChanged) Kind() string        { return "vad_mode_changed" }
func (TranscriptionQueued) Kind() string   { return "transcription_queued" }
func (TranscriptionComplete) Kind() string { return "transcription_complete" }
func (CommandDetected) Kind() string       { return "command_detected" }
func (TitleCaptured) Kind() string         { return "title_captured" }
func (DocumentRendered) Kind() string      { return "document_rendered" }
