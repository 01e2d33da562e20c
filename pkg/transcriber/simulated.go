package transcriber

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// SimulatedPool answers dispatches from a canned index→text map, preserving
// the async result-channel contract. Tests use it to drive the text
// processor without an engine; unknown indices and entries in the failure
// set produce failed results.
type SimulatedPool struct {
	texts    map[uint64]string
	failures map[uint64]string
	delay    time.Duration

	results  chan Result
	wg       sync.WaitGroup
	stopOnce sync.Once
	mu       sync.Mutex
	stopped  bool
}

// NewSimulatedPool creates a pool answering from texts.
func NewSimulatedPool(texts map[uint64]string) *SimulatedPool {
	return &SimulatedPool{
		texts:    texts,
		failures: make(map[uint64]string),
		results:  make(chan Result, 64),
	}
}

// FailIndex makes the given index produce a failed result with the message.
func (p *SimulatedPool) FailIndex(index uint64, message string) *SimulatedPool {
	p.failures[index] = message
	return p
}

// WithDelay adds artificial processing latency per job, so tests can
// exercise out-of-order arrival.
func (p *SimulatedPool) WithDelay(d time.Duration) *SimulatedPool {
	p.delay = d
	return p
}

// Start is a no-op; the pool is ready on construction.
func (p *SimulatedPool) Start() error {
	logrus.WithField("canned", len(p.texts)).Debug("Simulated transcriber started")
	return nil
}

// Dispatch answers asynchronously on the result channel.
func (p *SimulatedPool) Dispatch(ctx context.Context, job Job) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return ErrPoolStopped
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		if p.delay > 0 {
			time.Sleep(p.delay)
		}

		if msg, ok := p.failures[job.Index]; ok {
			p.results <- Result{Index: job.Index, Err: msg}
			return
		}
		text, ok := p.texts[job.Index]
		if !ok {
			p.results <- Result{Index: job.Index, Err: "no canned text for segment"}
			return
		}
		p.results <- Result{
			Index:          job.Index,
			Text:           text,
			Success:        true,
			ProcessingTime: p.delay,
		}
	}()
	return nil
}

// Results is the single-consumer result stream.
func (p *SimulatedPool) Results() <-chan Result {
	return p.results
}

// Stop waits for in-flight answers and closes the stream. Idempotent.
func (p *SimulatedPool) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		p.mu.Unlock()
		p.wg.Wait()
		close(p.results)
	})
}
