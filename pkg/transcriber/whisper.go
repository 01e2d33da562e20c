package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// PoolConfig holds WhisperPool configuration.
type PoolConfig struct {
	// Workers is the number of concurrent engine invocations.
	Workers int

	// QueueSize bounds the job queue; Dispatch blocks the caller when full.
	QueueSize int

	// JobTimeout is the per-job wall-clock budget. On expiry the engine
	// process is killed and the job fails.
	JobTimeout time.Duration

	// BinPath is the external transcription binary. It must accept
	// --model, --file and --language and print either {"text": …} JSON or
	// plain text on stdout.
	BinPath string

	// ModelPath is handed to every worker invocation.
	ModelPath string

	// Language hint, or "auto".
	Language string
}

// DefaultPoolConfig returns the production defaults: two CPU-bound engine
// processes, a queue of ten and a sixty-second job budget.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Workers:    2,
		QueueSize:  10,
		JobTimeout: 60 * time.Second,
		BinPath:    "whisper-cli",
		Language:   "auto",
	}
}

// PoolMetrics tracks job counts with atomics.
type PoolMetrics struct {
	Queued    atomic.Int64
	Processed atomic.Int64
	Failed    atomic.Int64
}

// WhisperPool runs transcription jobs through an external engine binary.
// Each worker goroutine drives one engine process at a time; the heavy
// inference happens out of process, so the pool itself stays cheap.
//
// Shutdown follows the poison-sentinel protocol: Stop enqueues one poison
// job per worker, waits for the workers to drain, then closes the result
// channel.
type WhisperPool struct {
	cfg     PoolConfig
	jobs    chan Job
	results chan Result
	metrics PoolMetrics

	wg         sync.WaitGroup
	stopOnce   sync.Once
	stopped    atomic.Bool
	hardCtx    context.Context
	hardCancel context.CancelFunc
}

// NewWhisperPool creates a pool with the given configuration. Zero fields
// fall back to DefaultPoolConfig values.
func NewWhisperPool(cfg PoolConfig) *WhisperPool {
	def := DefaultPoolConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = def.JobTimeout
	}
	if cfg.BinPath == "" {
		cfg.BinPath = def.BinPath
	}
	if cfg.Language == "" {
		cfg.Language = def.Language
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &WhisperPool{
		cfg:        cfg,
		jobs:       make(chan Job, cfg.QueueSize),
		results:    make(chan Result, cfg.QueueSize*2),
		hardCtx:    ctx,
		hardCancel: cancel,
	}
}

// Start verifies the engine binary and launches the workers.
func (p *WhisperPool) Start() error {
	bin, err := exec.LookPath(p.cfg.BinPath)
	if err != nil {
		return fmt.Errorf("transcription binary not found: %w", err)
	}
	p.cfg.BinPath = bin

	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.runWorker(i)
	}

	logrus.WithFields(logrus.Fields{
		"workers": p.cfg.Workers,
		"binary":  p.cfg.BinPath,
		"model":   p.cfg.ModelPath,
	}).Info("Transcriber pool started")
	return nil
}

// Dispatch enqueues a job. It blocks while the queue is full and returns
// the context's error if the caller gives up first.
func (p *WhisperPool) Dispatch(ctx context.Context, job Job) error {
	if p.stopped.Load() {
		return ErrPoolStopped
	}

	select {
	case p.jobs <- job:
		p.metrics.Queued.Add(1)
		logrus.WithFields(logrus.Fields{
			"index":    job.Index,
			"wav":      job.AudioPath,
			"duration": job.Duration.Round(time.Millisecond),
		}).Debug("Job queued for transcription")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Results is the single-consumer result stream.
func (p *WhisperPool) Results() <-chan Result {
	return p.results
}

// Stop drains the pool: one poison per worker, wait, close results.
// Safe to call more than once.
func (p *WhisperPool) Stop() {
	p.stopOnce.Do(func() {
		p.stopped.Store(true)
		for i := 0; i < p.cfg.Workers; i++ {
			p.jobs <- Job{poison: true}
		}
		p.wg.Wait()
		close(p.results)

		logrus.WithFields(logrus.Fields{
			"processed": p.metrics.Processed.Load(),
			"failed":    p.metrics.Failed.Load(),
		}).Info("Transcriber pool stopped")
	})
}

// Abort kills any in-flight engine processes so a bounded Stop can finish.
// In-flight jobs surface as failed results.
func (p *WhisperPool) Abort() {
	p.hardCancel()
}

// Metrics exposes job counters.
func (p *WhisperPool) Metrics() *PoolMetrics {
	return &p.metrics
}

// runWorker pulls jobs until it dequeues a poison. A panic while processing
// is converted into a failed result and the loop resumes, so one bad job
// cannot take a worker down.
func (p *WhisperPool) runWorker(id int) {
	defer p.wg.Done()

	logger := logrus.WithField("worker_id", id)
	logger.Debug("Worker started")
	defer logger.Debug("Worker stopped")

	for job := range p.jobs {
		if job.poison {
			return
		}
		p.results <- p.processJob(logger, job)
	}
}

func (p *WhisperPool) processJob(logger *logrus.Entry, job Job) (res Result) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			logger.WithFields(logrus.Fields{
				"index": job.Index,
				"panic": r,
			}).Error("Worker panic during transcription")
			res = p.failed(job, start, fmt.Sprintf("worker panic: %v", r))
		}
	}()

	ctx, cancel := context.WithTimeout(p.hardCtx, p.cfg.JobTimeout)
	defer cancel()

	text, err := p.invokeEngine(ctx, job)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			err = ErrJobTimeout
		}
		logger.WithError(err).WithField("index", job.Index).Warn("Transcription failed")
		return p.failed(job, start, err.Error())
	}

	p.metrics.Processed.Add(1)
	elapsed := time.Since(start)
	logger.WithFields(logrus.Fields{
		"index":        job.Index,
		"process_time": elapsed.Round(time.Millisecond),
		"text_length":  len(text),
	}).Info("Segment transcribed")

	return Result{
		Index:          job.Index,
		Text:           text,
		Success:        true,
		ProcessingTime: elapsed,
	}
}

func (p *WhisperPool) failed(job Job, start time.Time, msg string) Result {
	p.metrics.Failed.Add(1)
	return Result{
		Index:          job.Index,
		Err:            msg,
		ProcessingTime: time.Since(start),
	}
}

// engineResponse is the JSON shape the engine prints on stdout.
type engineResponse struct {
	Text string `json:"text"`
}

// invokeEngine runs one engine process on the job's WAV file. Output is
// parsed as {"text": …} JSON with a plain-text fallback.
func (p *WhisperPool) invokeEngine(ctx context.Context, job Job) (string, error) {
	args := []string{"--file", job.AudioPath, "--language", p.cfg.Language}
	if p.cfg.ModelPath != "" {
		args = append(args, "--model", p.cfg.ModelPath)
	}

	cmd := exec.CommandContext(ctx, p.cfg.BinPath, args...)
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("engine failed: %w: %s", err, bytes.TrimSpace(errBuf.Bytes()))
	}

	var response engineResponse
	if err := json.Unmarshal(outBuf.Bytes(), &response); err == nil && response.Text != "" {
		return response.Text, nil
	}
	return string(bytes.TrimSpace(outBuf.Bytes())), nil
}
