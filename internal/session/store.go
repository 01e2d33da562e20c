// Package session owns the on-disk layout of one recording run: the
// timestamped directory, per-segment WAV files, the rolling incremental
// transcript and the authoritative outputs written at finalize. All mutation
// of the session directory goes through the Store; other components hold the
// path read-only.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/voxworks/dictate/internal/audio"
)

const (
	manifestName    = "manifest.json"
	incrementalName = "transcript_incremental.txt"
	rawName         = "transcript_raw.txt"
)

// SegmentInfo is one kept segment's manifest entry.
type SegmentInfo struct {
	Index       uint64    `json:"index"`
	File        string    `json:"file"`
	DurationSec float64   `json:"duration_sec"`
	StartedAt   time.Time `json:"started_at"`
}

// Transcript is the final text outcome for one segment.
type Transcript struct {
	Text    string
	Success bool
	Err     string
}

// SourceInfo describes the input for the manifest.
type SourceInfo struct {
	Type   string `json:"type"`
	Source string `json:"source"`
}

// manifest is the serialized manifest.json document.
type manifest struct {
	SessionStartUTC string        `json:"session_start_utc"`
	TotalSegments   int           `json:"total_segments"`
	InputSource     SourceInfo    `json:"input_source"`
	Segments        []SegmentInfo `json:"segments"`
}

// Store manages one session directory.
type Store struct {
	dir       string
	startedAt time.Time

	mu        sync.Mutex
	finalized bool
	logger    *logrus.Entry
}

// NewStore creates sessions/YYYYMMDD_HHMMSS/ under root and returns the
// store for it.
func NewStore(root string) (*Store, error) {
	now := time.Now()
	dir := filepath.Join(root, now.Format("20060102_150405"))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	logrus.WithField("session_dir", dir).Info("Session created")
	return &Store{
		dir:       dir,
		startedAt: now,
		logger:    logrus.WithField("session_dir", dir),
	}, nil
}

// Dir is the session directory path.
func (s *Store) Dir() string {
	return s.dir
}

// SegmentFileName is the canonical WAV name for a segment index.
func SegmentFileName(index uint64) string {
	return fmt.Sprintf("seg_%04d.wav", index)
}

// WriteSegment persists a kept segment as 16-bit PCM mono WAV and returns
// the file path. The write goes through a temp file and rename so a crash
// never leaves a half-written segment under the canonical name.
func (s *Store) WriteSegment(index uint64, pcm []float32, sampleRate int) (string, error) {
	path := filepath.Join(s.dir, SegmentFileName(index))
	if err := atomicWrite(path, audio.EncodeWAV(pcm, sampleRate)); err != nil {
		return "", fmt.Errorf("failed to write segment %d: %w", index, err)
	}

	s.logger.WithFields(logrus.Fields{
		"index": index,
		"file":  filepath.Base(path),
	}).Debug("Segment written")
	return path, nil
}

// AppendIncremental appends one line to the rolling transcript. Best effort;
// failures are logged and swallowed because the incremental file is advisory.
func (s *Store) AppendIncremental(line string) {
	f, err := os.OpenFile(filepath.Join(s.dir, incrementalName),
		os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to open incremental transcript")
		return
	}
	defer f.Close()

	if _, err := f.WriteString(line + "\n"); err != nil {
		s.logger.WithError(err).Warn("Failed to append incremental transcript")
	}
}

// Finalize writes manifest.json and transcript_raw.txt. Segments are listed
// in index order; a segment without a transcript is recorded as pending.
// Calling Finalize again is a no-op, so a repeated stop has no side effects.
func (s *Store) Finalize(segments []SegmentInfo, transcripts map[uint64]Transcript, src SourceInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalized {
		return nil
	}

	ordered := make([]SegmentInfo, len(segments))
	copy(ordered, segments)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	man := manifest{
		SessionStartUTC: s.startedAt.UTC().Format(time.RFC3339),
		TotalSegments:   len(ordered),
		InputSource:     src,
		Segments:        ordered,
	}
	data, err := json.MarshalIndent(man, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := atomicWrite(filepath.Join(s.dir, manifestName), data); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	var raw []byte
	for _, seg := range ordered {
		raw = append(raw, []byte(rawLine(seg.Index, transcripts))...)
	}
	if err := atomicWrite(filepath.Join(s.dir, rawName), raw); err != nil {
		return fmt.Errorf("failed to write raw transcript: %w", err)
	}

	s.finalized = true
	s.logger.WithField("segments", len(ordered)).Info("Session finalized")
	return nil
}

func rawLine(index uint64, transcripts map[uint64]Transcript) string {
	tr, ok := transcripts[index]
	switch {
	case !ok:
		return fmt.Sprintf("%d: [transcription pending]\n", index)
	case !tr.Success:
		return fmt.Sprintf("%d: [transcription failed: %s]\n", index, tr.Err)
	default:
		return fmt.Sprintf("%d: %s\n", index, tr.Text)
	}
}

// atomicWrite writes data under a temp name in the same directory and
// renames it into place.
func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
