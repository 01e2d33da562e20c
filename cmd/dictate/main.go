// Command dictate records speech from a microphone or WAV file, segments it
// with voice activity detection, transcribes segments through an external
// engine and renders dictated documents into a session directory.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/voxworks/dictate/internal/audio"
	"github.com/voxworks/dictate/internal/config"
	"github.com/voxworks/dictate/internal/events"
	"github.com/voxworks/dictate/internal/recorder"
	"github.com/voxworks/dictate/pkg/transcriber"
)

const (
	exitOK        = 0
	exitError     = 1
	exitInterrupt = 130
)

var (
	inputFlag       string
	autoFlag        bool
	listDevicesFlag bool
)

func init() {
	flag.StringVar(&inputFlag, "input", "", "input: empty for default microphone, a .wav path for file playback, 'simulated' for the canned demo, anything else selects a device by name")
	flag.BoolVar(&autoFlag, "auto", false, "start recording immediately instead of waiting for enter")
	flag.BoolVar(&listDevicesFlag, "list-devices", false, "list capture devices and exit")
	flag.Parse()
}

func main() {
	os.Exit(run())
}

func run() int {
	_ = godotenv.Load()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "warn", "warning":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}

	if listDevicesFlag {
		return listDevices()
	}

	cfg := config.Load()
	if err := cfg.IsValid(); err != nil {
		logrus.WithError(err).Error("Invalid configuration")
		return exitError
	}

	source, pool := buildInput(cfg)

	rec := recorder.New(cfg, pool, consoleSink)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer cancel()

	if !autoFlag {
		fmt.Println("Press enter to start recording.")
		if !waitForEnter(ctx) {
			return exitInterrupt
		}
	}

	if err := rec.Start(source); err != nil {
		logrus.WithError(err).Error("Failed to start recording")
		return exitError
	}

	interrupted := waitForStop(ctx, rec)

	sessionPath, err := rec.Stop()
	if err != nil {
		logrus.WithError(err).Error("Failed to stop recording")
		return exitError
	}

	kept, counts := rec.Counts()
	logrus.WithFields(logrus.Fields{
		"session":       sessionPath,
		"kept_segments": kept,
		"succeeded":     counts.Succeeded,
		"failed":        counts.Failed,
	}).Info("Session complete")

	if interrupted {
		return exitInterrupt
	}
	return exitOK
}

// waitForStop blocks until the operator presses enter, the source runs out
// (file playback) or an interrupt arrives. Returns true on interrupt.
func waitForStop(ctx context.Context, rec *recorder.Recorder) bool {
	fmt.Println("Recording. Press enter to stop.")

	enter := make(chan struct{})
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Scan()
		close(enter)
	}()

	select {
	case <-ctx.Done():
		return true
	case <-rec.SourceDone():
		return false
	case <-enter:
		return false
	}
}

func waitForEnter(ctx context.Context) bool {
	enter := make(chan struct{})
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Scan()
		close(enter)
	}()

	select {
	case <-ctx.Done():
		return false
	case <-enter:
		return true
	}
}

// buildInput maps the --input flag onto a source and transcriber pool.
func buildInput(cfg config.Config) (audio.Source, transcriber.Transcriber) {
	switch {
	case inputFlag == "simulated":
		return simulatedInput()
	case strings.HasSuffix(strings.ToLower(inputFlag), ".wav"):
		return audio.NewFileSource(inputFlag), newWhisperPool(cfg)
	default:
		return audio.NewDeviceSource(inputFlag), newWhisperPool(cfg)
	}
}

func newWhisperPool(cfg config.Config) transcriber.Transcriber {
	return transcriber.NewWhisperPool(transcriber.PoolConfig{
		Workers:    cfg.Workers,
		QueueSize:  cfg.QueueSize,
		JobTimeout: cfg.JobTimeout,
		BinPath:    cfg.WhisperBin,
		ModelPath:  cfg.WhisperModel,
		Language:   cfg.Language,
	})
}

// simulatedInput builds the canned demo: three paced speech bursts that walk
// the note workflow end to end without a microphone or engine.
func simulatedInput() (audio.Source, transcriber.Transcriber) {
	source := audio.NewStaticSource(nil).Paced().
		AppendSilence(0.5).
		AppendPCM(tone(2.0)).
		AppendSilence(1.2).
		AppendPCM(tone(2.0)).
		AppendSilence(1.2).
		AppendPCM(tone(2.0)).
		AppendSilence(6.0)

	pool := transcriber.NewSimulatedPool(map[uint64]string{
		0: "start a new note",
		1: "Meeting with Bob",
		2: "We agreed to ship on Friday",
	})
	return source, pool
}

// tone synthesizes a voiced burst loud enough for the energy detector.
func tone(seconds float64) []float32 {
	n := int(seconds * audio.SampleRate)
	pcm := make([]float32, n)
	for i := range pcm {
		pcm[i] = 0.3 * float32(math.Sin(2*math.Pi*220*float64(i)/audio.SampleRate))
	}
	return pcm
}

// consoleSink narrates the event stream for interactive use.
func consoleSink(ev events.Event) {
	switch e := ev.(type) {
	case events.SpeechStarted:
		logrus.WithFields(logrus.Fields{"index": e.Index, "mode": e.ModeName}).Info("Speech started")
	case events.SpeechEnded:
		if e.Kept {
			logrus.WithFields(logrus.Fields{
				"index":    e.Index,
				"duration": e.Duration.Round(10 * time.Millisecond),
			}).Info("Speech ended")
		}
	case events.TranscriptionComplete:
		if e.Success {
			fmt.Printf("  [%d] %s\n", e.Index, e.Text)
		} else {
			fmt.Printf("  [%d] transcription failed: %s\n", e.Index, e.Err)
		}
	case events.CommandDetected:
		logrus.WithField("command", e.CommandName).Info("Command detected")
	case events.TitleCaptured:
		logrus.WithField("title", e.Title).Info("Title captured")
	case events.DocumentRendered:
		logrus.WithField("outputs", e.OutputPaths).Info("Document rendered")
	case events.VADModeChanged:
		logrus.WithFields(logrus.Fields{
			"mode":           e.ModeName,
			"min_silence_ms": e.MinSilenceMs,
		}).Info("VAD mode changed")
	}
}

func listDevices() int {
	devices, err := audio.ListCaptureDevices()
	if err != nil {
		logrus.WithError(err).Error("Failed to list devices")
		return exitError
	}
	for _, d := range devices {
		marker := " "
		if d.IsDefault {
			marker = "*"
		}
		fmt.Printf("%s %s\n", marker, d.Name)
	}
	return exitOK
}
