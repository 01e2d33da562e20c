// Package textproc consumes transcription results, maintains the command
// state machine and produces the high-level events downstream consumers see.
// It runs as its own worker: results arrive on the pool's channel, segment
// boundary notifications arrive out-of-band from the orchestrator, and both
// feed a single goroutine so the state machine never needs a lock of its own.
package textproc

import (
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/voxworks/dictate/internal/command"
	"github.com/voxworks/dictate/internal/events"
	"github.com/voxworks/dictate/internal/mode"
	"github.com/voxworks/dictate/internal/session"
	"github.com/voxworks/dictate/pkg/transcriber"
)

// Phase is the command workflow state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAwaitingTitle
	PhaseCollectingBody
)

func (p Phase) String() string {
	switch p {
	case PhaseAwaitingTitle:
		return "awaiting_title"
	case PhaseCollectingBody:
		return "collecting_body"
	default:
		return "idle"
	}
}

// segmentEnd is the out-of-band boundary signal relayed by the orchestrator.
type segmentEnd struct {
	index    uint64
	modeName string
	kept     bool
}

// Counts summarizes transcription outcomes for the stop report.
type Counts struct {
	Succeeded int
	Failed    int
}

// Processor is the text-processing worker.
type Processor struct {
	results  <-chan transcriber.Result
	store    *session.Store
	registry *command.Registry
	modes    *mode.Controller
	emit     events.Sink

	ctrl chan segmentEnd
	wg   sync.WaitGroup

	mu          sync.Mutex
	transcripts map[uint64]session.Transcript
	counts      Counts

	// State below is owned by the run loop.
	phase     Phase
	activeCmd command.Command
	slots     map[string]string
	docSeq    int

	// sealIndex is set when the body segment has ended but its
	// transcription has not arrived yet; the document renders as soon as
	// that result lands.
	sealIndex   uint64
	sealPending bool

	logger *logrus.Entry
}

// New creates a processor over the pool's result stream. emit must be safe
// to call from the processor goroutine.
func New(results <-chan transcriber.Result, store *session.Store,
	registry *command.Registry, modes *mode.Controller, emit events.Sink) *Processor {
	if emit == nil {
		emit = func(events.Event) {}
	}
	return &Processor{
		results:     results,
		store:       store,
		registry:    registry,
		modes:       modes,
		emit:        emit,
		ctrl:        make(chan segmentEnd, 16),
		transcripts: make(map[uint64]session.Transcript),
		slots:       make(map[string]string),
		logger:      logrus.WithField("component", "textproc"),
	}
}

// Start launches the worker goroutine.
func (p *Processor) Start() {
	p.wg.Add(1)
	go p.run()
}

// NotifySegmentEnded relays a SpeechEnded boundary to the state machine.
// Called from the orchestrator's event pump; never blocks.
func (p *Processor) NotifySegmentEnded(index uint64, modeName string, kept bool) {
	select {
	case p.ctrl <- segmentEnd{index: index, modeName: modeName, kept: kept}:
	default:
		p.logger.WithField("index", index).Warn("Boundary signal dropped, control queue full")
	}
}

// Wait blocks until the result stream has closed and the worker has drained.
func (p *Processor) Wait() {
	p.wg.Wait()
}

// Transcripts returns the index-keyed outcomes. Safe after Wait, and safe
// concurrently with the run loop for the idempotent-stop path.
func (p *Processor) Transcripts() map[uint64]session.Transcript {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[uint64]session.Transcript, len(p.transcripts))
	for k, v := range p.transcripts {
		out[k] = v
	}
	return out
}

// CountsSnapshot returns the success/failure tallies.
func (p *Processor) CountsSnapshot() Counts {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts
}

func (p *Processor) run() {
	defer p.wg.Done()

	for {
		select {
		case res, ok := <-p.results:
			if !ok {
				p.drainControl()
				return
			}
			p.handleResult(res)
		case end := <-p.ctrl:
			p.handleSegmentEnd(end)
		}
	}
}

// drainControl consumes boundary signals that raced with shutdown.
func (p *Processor) drainControl() {
	for {
		select {
		case end := <-p.ctrl:
			p.handleSegmentEnd(end)
		default:
			return
		}
	}
}

func (p *Processor) handleResult(res transcriber.Result) {
	p.record(res)
	p.appendIncremental(res)

	p.emit(events.TranscriptionComplete{
		Meta:           events.NewMeta(),
		Index:          res.Index,
		Text:           res.Text,
		Success:        res.Success,
		ProcessingTime: res.ProcessingTime,
		Err:            res.Err,
	})

	switch p.phase {
	case PhaseIdle:
		if !res.Success {
			return
		}
		cmd, ok := p.registry.Match(res.Text)
		if !ok {
			return
		}
		p.activeCmd = cmd
		p.phase = PhaseAwaitingTitle
		p.slots = make(map[string]string)
		p.logger.WithFields(logrus.Fields{
			"command": cmd.Name,
			"index":   res.Index,
		}).Info("Command detected")
		p.emit(events.CommandDetected{
			Meta:        events.NewMeta(),
			Index:       res.Index,
			CommandName: cmd.Name,
		})

	case PhaseAwaitingTitle:
		if !res.Success {
			return
		}
		title := strings.TrimSpace(res.Text)
		p.slots["title"] = title
		p.phase = PhaseCollectingBody
		p.logger.WithField("title", title).Info("Title captured")
		p.emit(events.TitleCaptured{
			Meta:  events.NewMeta(),
			Index: res.Index,
			Title: title,
		})
		// The next segment is the note body: it needs the long-silence
		// bundle, applied while no segment is active so the body segment
		// runs under it from its first frame.
		if err := p.modes.Request(mode.LongNote); err != nil {
			p.logger.WithError(err).Error("Failed to request long note mode")
		}

	case PhaseCollectingBody:
		if res.Success {
			p.appendBody(res.Text)
		}
		if p.sealPending && res.Index == p.sealIndex {
			p.renderDocument()
		}
	}
}

// handleSegmentEnd seals the body when the long-note segment closes. The
// body's transcription normally trails its segment end; rendering waits for
// that result instead of racing it.
func (p *Processor) handleSegmentEnd(end segmentEnd) {
	if p.phase != PhaseCollectingBody || end.modeName != mode.LongNote {
		return
	}

	// A discarded body segment never produces a result; seal with whatever
	// body text is already in hand.
	if !end.kept {
		p.renderDocument()
		return
	}

	if _, have := p.transcriptFor(end.index); have {
		p.renderDocument()
		return
	}
	p.sealIndex = end.index
	p.sealPending = true
	p.logger.WithField("index", end.index).Debug("Body sealed, awaiting transcription")
}

func (p *Processor) renderDocument() {
	p.sealPending = false
	p.docSeq++

	paths, err := p.activeCmd.Render(p.slots, p.store.Dir(), p.docSeq)
	if err != nil {
		p.logger.WithError(err).Error("Document render failed")
	} else {
		p.logger.WithFields(logrus.Fields{
			"command": p.activeCmd.Name,
			"outputs": paths,
		}).Info("Document rendered")
		p.emit(events.DocumentRendered{
			Meta:        events.NewMeta(),
			CommandName: p.activeCmd.Name,
			OutputPaths: paths,
		})
	}

	p.phase = PhaseIdle
	p.slots = make(map[string]string)
	if err := p.modes.Request(mode.Normal); err != nil {
		p.logger.WithError(err).Error("Failed to restore normal mode")
	}
}

func (p *Processor) appendBody(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if existing := p.slots["body"]; existing != "" {
		p.slots["body"] = existing + " " + text
	} else {
		p.slots["body"] = text
	}
}

func (p *Processor) record(res transcriber.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transcripts[res.Index] = session.Transcript{
		Text:    res.Text,
		Success: res.Success,
		Err:     res.Err,
	}
	if res.Success {
		p.counts.Succeeded++
	} else {
		p.counts.Failed++
	}
}

func (p *Processor) transcriptFor(index uint64) (session.Transcript, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	tr, ok := p.transcripts[index]
	return tr, ok
}

func (p *Processor) appendIncremental(res transcriber.Result) {
	if res.Success {
		p.store.AppendIncremental(fmt.Sprintf("✓ %d: %s", res.Index, res.Text))
	} else {
		p.store.AppendIncremental(fmt.Sprintf("✗ %d: %s", res.Index, res.Err))
	}
}
