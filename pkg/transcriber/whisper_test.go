package transcriber

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDefaultPoolConfig tests the production defaults
func TestDefaultPoolConfig(t *testing.T) {
	cfg := DefaultPoolConfig()

	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, 10, cfg.QueueSize)
	assert.Equal(t, 60*time.Second, cfg.JobTimeout)
	assert.Equal(t, "whisper-cli", cfg.BinPath)
	assert.Equal(t, "auto", cfg.Language)
}

// TestNewWhisperPoolAppliesDefaults tests zero-value backfill
func TestNewWhisperPoolAppliesDefaults(t *testing.T) {
	p := NewWhisperPool(PoolConfig{})

	assert.Equal(t, 2, p.cfg.Workers)
	assert.Equal(t, 10, p.cfg.QueueSize)
	assert.Equal(t, 60*time.Second, p.cfg.JobTimeout)
}

// TestWhisperPoolStartMissingBinary tests fail-fast on a missing engine
func TestWhisperPoolStartMissingBinary(t *testing.T) {
	p := NewWhisperPool(PoolConfig{BinPath: "definitely-not-a-real-binary-7f3a"})
	assert.Error(t, p.Start())
}

// TestWhisperPoolFailedInvocation tests that an engine failure surfaces as
// a failed result rather than an error or a lost job. `false` stands in for
// an engine that exits non-zero.
func TestWhisperPoolFailedInvocation(t *testing.T) {
	p := NewWhisperPool(PoolConfig{
		Workers:    1,
		BinPath:    "false",
		JobTimeout: 5 * time.Second,
	})
	require.NoError(t, p.Start())

	require.NoError(t, p.Dispatch(context.Background(), Job{Index: 0, AudioPath: "seg_0000.wav"}))

	select {
	case res := <-p.Results():
		assert.Equal(t, uint64(0), res.Index)
		assert.False(t, res.Success)
		assert.NotEmpty(t, res.Err)
	case <-time.After(5 * time.Second):
		t.Fatal("no result for failed invocation")
	}

	p.Stop()
	assert.Equal(t, int64(1), p.Metrics().Failed.Load())
}

// TestWhisperPoolPoisonShutdown tests the sentinel drain protocol: Stop
// waits for workers and closes the result stream, and is safe to repeat
func TestWhisperPoolPoisonShutdown(t *testing.T) {
	p := NewWhisperPool(PoolConfig{Workers: 2, BinPath: "true"})
	require.NoError(t, p.Start())

	p.Stop()
	p.Stop()

	_, open := <-p.Results()
	assert.False(t, open)

	assert.ErrorIs(t, p.Dispatch(context.Background(), Job{Index: 0}), ErrPoolStopped)
}

// TestWhisperPoolDispatchHonorsContext tests that a blocked dispatch
// releases when the caller's context ends
func TestWhisperPoolDispatchHonorsContext(t *testing.T) {
	// One worker, queue of one, and `sleep` as the engine: it rejects the
	// --file/--language flags and exits at once, so every job fails fast.
	p := NewWhisperPool(PoolConfig{
		Workers:    1,
		QueueSize:  1,
		BinPath:    "sleep",
		JobTimeout: 10 * time.Second,
	})
	require.NoError(t, p.Start())

	// Nobody consumes results here, so the pipeline backs up: the result
	// buffer fills, the worker blocks, the queue fills and Dispatch blocks
	// until the context expires.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	var dispatchErr error
	for i := uint64(0); dispatchErr == nil; i++ {
		dispatchErr = p.Dispatch(ctx, Job{Index: i})
	}
	assert.ErrorIs(t, dispatchErr, context.DeadlineExceeded)

	// Drain so the poison protocol can complete.
	drained := make(chan struct{})
	go func() {
		for range p.Results() {
		}
		close(drained)
	}()
	p.Stop()
	<-drained
}
