// Package recorder wires the pipeline together and owns its lifecycle:
// source → segmenter → event queue → {session store, transcriber pool} →
// text processor, with the external event stream on the side.
package recorder

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/voxworks/dictate/internal/audio"
	"github.com/voxworks/dictate/internal/command"
	"github.com/voxworks/dictate/internal/config"
	"github.com/voxworks/dictate/internal/events"
	"github.com/voxworks/dictate/internal/mode"
	"github.com/voxworks/dictate/internal/session"
	"github.com/voxworks/dictate/internal/textproc"
	"github.com/voxworks/dictate/pkg/transcriber"
)

var (
	// ErrNotRecording is returned by Stop before Start.
	ErrNotRecording = errors.New("not recording")

	// ErrAlreadyRecording is returned by Start while a session runs.
	ErrAlreadyRecording = errors.New("recording already in progress")
)

// aborter is implemented by pools that can kill in-flight work when the
// bounded drain window expires.
type aborter interface {
	Abort()
}

// Recorder owns one recording session at a time.
type Recorder struct {
	cfg  config.Config
	pool transcriber.Transcriber

	sinkMu sync.Mutex
	sink   events.Sink

	mu          sync.Mutex
	recording   bool
	stopped     bool
	sessionPath string

	source  audio.Source
	srcInfo session.SourceInfo
	store   *session.Store
	modes   *mode.Controller
	seg     *audio.Segmenter
	queue   *events.Queue[audio.Event]
	proc    *textproc.Processor

	dispatchCtx    context.Context
	dispatchCancel context.CancelFunc

	pumpWg   sync.WaitGroup
	segMeta  []session.SegmentInfo
	keptNum  int
	logger   *logrus.Entry
}

// New creates a recorder. sink may be nil; it receives the external event
// stream and is invoked serially.
func New(cfg config.Config, pool transcriber.Transcriber, sink events.Sink) *Recorder {
	return &Recorder{
		cfg:    cfg,
		pool:   pool,
		sink:   sink,
		logger: logrus.WithField("component", "recorder"),
	}
}

// Start creates the session and begins recording from the source.
func (r *Recorder) Start(src audio.Source) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		return ErrAlreadyRecording
	}
	if r.stopped {
		return errors.New("recorder is single-use, create a new one")
	}

	store, err := session.NewStore(r.cfg.SessionsDir)
	if err != nil {
		return err
	}

	if err := r.pool.Start(); err != nil {
		return err
	}

	r.store = store
	r.modes = mode.NewController()
	r.dispatchCtx, r.dispatchCancel = context.WithCancel(context.Background())

	r.proc = textproc.New(r.pool.Results(), store, command.NewRegistry(), r.modes, r.emit)
	r.proc.Start()

	seg, err := audio.NewSegmenter(r.modes, r.detectorFactory())
	if err != nil {
		return err
	}
	seg.SetMinSegment(r.cfg.MinSegment)
	r.seg = seg

	r.queue = events.NewQueue[audio.Event](0)
	r.pumpWg.Add(1)
	go r.pump()

	srcType, srcDesc := src.Describe()
	r.srcInfo = session.SourceInfo{Type: srcType, Source: srcDesc}

	if err := src.Start(func(frame audio.Frame) {
		for _, ev := range seg.OnFrame(frame) {
			r.queue.Publish(ev)
		}
	}); err != nil {
		r.queue.Close()
		r.pumpWg.Wait()
		r.pool.Stop()
		r.proc.Wait()
		return err
	}
	r.source = src
	r.recording = true

	r.logger.WithFields(logrus.Fields{
		"session": store.Dir(),
		"source":  srcDesc,
	}).Info("Recording started")

	r.emit(events.RecordingStateChanged{Meta: events.NewMeta(), IsRecording: true})
	return nil
}

// Stop halts the session: source first, then a forced flush of in-flight
// speech, a full drain of the event queue, a bounded pool drain, text
// processor finalization and the authoritative session outputs. A second
// Stop returns the same session path with no further side effects.
func (r *Recorder) Stop() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return r.sessionPath, nil
	}
	if !r.recording {
		return "", ErrNotRecording
	}
	r.recording = false
	r.stopped = true

	r.source.Stop()

	// The audio thread is quiescent now; flush any in-flight speech
	// through the same queue the pump drains.
	for _, ev := range r.seg.Flush() {
		r.queue.Publish(ev)
	}
	r.queue.Close()
	r.pumpWg.Wait()

	r.stopPoolBounded()
	r.proc.Wait()

	transcripts := r.proc.Transcripts()
	if err := r.store.Finalize(r.segMeta, transcripts, r.srcInfo); err != nil {
		r.logger.WithError(err).Error("Session finalize failed")
	}

	counts := r.proc.CountsSnapshot()
	r.logger.WithFields(logrus.Fields{
		"kept_segments": r.keptNum,
		"succeeded":     counts.Succeeded,
		"failed":        counts.Failed,
		"dropped_events": r.queue.Overflow(),
	}).Info("Recording stopped")

	r.emit(events.RecordingStateChanged{Meta: events.NewMeta(), IsRecording: false})

	r.sessionPath = r.store.Dir()
	return r.sessionPath, nil
}

// SourceDone exposes the source's completion signal so callers can stop
// automatically when a file input runs out.
func (r *Recorder) SourceDone() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.source == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return r.source.Done()
}

// Counts reports transcription outcomes for the CLI summary.
func (r *Recorder) Counts() (kept int, counts textproc.Counts) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.proc == nil {
		return 0, textproc.Counts{}
	}
	return r.keptNum, r.proc.CountsSnapshot()
}

// stopPoolBounded drains the pool, aborting in-flight engine work when the
// drain window expires so shutdown stays bounded.
func (r *Recorder) stopPoolBounded() {
	r.dispatchCancel()

	done := make(chan struct{})
	go func() {
		r.pool.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(r.cfg.StopTimeout):
		r.logger.Warn("Pool drain exceeded stop timeout, aborting in-flight jobs")
		if a, ok := r.pool.(aborter); ok {
			a.Abort()
		}
		<-done
	}
}

// pump consumes segment events off the audio thread and fans them out to
// the store, the pool and the external stream. Dispatch back-pressure lands
// here, never on the audio thread.
func (r *Recorder) pump() {
	defer r.pumpWg.Done()

	for ev := range r.queue.C() {
		switch e := ev.(type) {
		case audio.SpeechStarted:
			r.emit(events.SpeechStarted{
				Meta:     events.NewMeta(),
				Index:    e.Index,
				ModeName: e.ModeName,
			})

		case audio.ModeChanged:
			r.emit(events.VADModeChanged{
				Meta:         events.NewMeta(),
				ModeName:     e.ModeName,
				MinSilenceMs: e.MinSilence.Milliseconds(),
			})

		case audio.SpeechEnded:
			r.handleSpeechEnded(e)
		}
	}
}

func (r *Recorder) handleSpeechEnded(e audio.SpeechEnded) {
	r.emit(events.SpeechEnded{
		Meta:      events.NewMeta(),
		Index:     e.Index,
		Duration:  e.Duration,
		Kept:      e.Kept,
		ModeAtEnd: e.ModeAtEnd,
	})

	if e.Kept {
		if path, err := r.store.WriteSegment(e.Index, e.PCM, audio.SampleRate); err != nil {
			r.logger.WithError(err).WithField("index", e.Index).Error("Segment write failed")
		} else {
			r.segMeta = append(r.segMeta, session.SegmentInfo{
				Index:       e.Index,
				File:        session.SegmentFileName(e.Index),
				DurationSec: e.Duration.Seconds(),
				StartedAt:   e.StartedAt,
			})
			r.keptNum++

			r.emit(events.TranscriptionQueued{
				Meta:    events.NewMeta(),
				Index:   e.Index,
				WAVPath: path,
			})

			job := transcriber.Job{
				Index:      e.Index,
				AudioPath:  path,
				SampleRate: audio.SampleRate,
				Duration:   e.Duration,
				Timestamp:  e.EndedAt,
			}
			if err := r.pool.Dispatch(r.dispatchCtx, job); err != nil {
				r.logger.WithError(err).WithField("index", e.Index).Warn("Dispatch failed, segment left pending")
			}
		}
	}

	r.proc.NotifySegmentEnded(e.Index, e.ModeAtEnd, e.Kept)
}

// detectorFactory selects the VAD engine: Silero when a model is configured,
// the energy detector otherwise.
func (r *Recorder) detectorFactory() audio.DetectorFactory {
	if r.cfg.SileroModel != "" {
		model := r.cfg.SileroModel
		return func(m mode.Mode) (audio.SpeechDetector, error) {
			return audio.NewSileroDetector(model, m)
		}
	}
	return func(m mode.Mode) (audio.SpeechDetector, error) {
		return audio.NewEnergyDetector(m), nil
	}
}

// emit delivers one external event. Serialized because the pump and the
// text processor both produce.
func (r *Recorder) emit(ev events.Event) {
	r.sinkMu.Lock()
	defer r.sinkMu.Unlock()
	if r.sink != nil {
		r.sink(ev)
	}
}
