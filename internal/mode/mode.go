// Package mode defines the named VAD parameter bundles and the controller
// that hands mode changes from the control side to the audio thread. The
// pending slot is a single lock-free cell: writers exchange it ("latest
// wins"), and the segmenter drains it only while no segment is active.
package mode

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// Normal is the default dictation mode.
	Normal = "normal"

	// LongNote tolerates long pauses so a dictated note body survives
	// paragraph breaks as a single segment.
	LongNote = "long_note"
)

// Mode is one named VAD parameter bundle.
type Mode struct {
	Name         string
	MinSilence   time.Duration
	VADThreshold float32
	ResampleRate int
	SpeechPad    time.Duration
}

// builtins returns the two modes the pipeline always recognizes.
func builtins() map[string]Mode {
	return map[string]Mode{
		Normal: {
			Name:         Normal,
			MinSilence:   800 * time.Millisecond,
			VADThreshold: 0.5,
			ResampleRate: 16000,
			SpeechPad:    1300 * time.Millisecond,
		},
		LongNote: {
			Name:         LongNote,
			MinSilence:   5 * time.Second,
			VADThreshold: 0.7,
			ResampleRate: 16000,
			SpeechPad:    1300 * time.Millisecond,
		},
	}
}

// Controller holds the current mode and at most one pending change.
//
// Current and TakePending are called by the segmenter on the audio thread
// and never block. Request may be called from any goroutine.
type Controller struct {
	mu    sync.RWMutex
	modes map[string]Mode

	current atomic.Pointer[Mode]
	pending atomic.Pointer[Mode]
}

// NewController creates a controller starting in Normal mode.
func NewController() *Controller {
	c := &Controller{modes: builtins()}
	m := c.modes[Normal]
	c.current.Store(&m)
	return c
}

// Register adds or replaces a mode bundle. Command models use this to bring
// their own timing profiles.
func (c *Controller) Register(m Mode) error {
	if m.Name == "" {
		return fmt.Errorf("mode name must not be empty")
	}
	if m.ResampleRate == 0 {
		m.ResampleRate = 16000
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.modes[m.Name] = m
	return nil
}

// Current returns the mode the segmenter is running under. Never blocks.
func (c *Controller) Current() Mode {
	return *c.current.Load()
}

// Request queues a change to the named mode. Requesting the current mode is
// a no-op. A later request overrides any still-pending one.
func (c *Controller) Request(name string) error {
	c.mu.RLock()
	m, ok := c.modes[name]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown mode %q", name)
	}

	if c.Current().Name == name {
		return nil
	}

	c.pending.Store(&m)
	logrus.WithFields(logrus.Fields{
		"mode":        name,
		"min_silence": m.MinSilence,
	}).Debug("Mode change queued")
	return nil
}

// TakePending atomically drains the pending slot and, when one was queued,
// promotes it to current. Called by the segmenter on frames outside a
// segment only.
func (c *Controller) TakePending() (Mode, bool) {
	p := c.pending.Swap(nil)
	if p == nil {
		return Mode{}, false
	}
	c.current.Store(p)
	return *p, true
}
