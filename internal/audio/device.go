package audio

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/sirupsen/logrus"
)

// Device describes one capture device for CLI listing.
type Device struct {
	Name      string
	IsDefault bool
}

// DeviceSource captures mono float32 frames from a system microphone via
// miniaudio. The device callback runs on the backend's audio thread; samples
// are re-chunked there into exact SamplesPerFrame frames and handed to the
// sink synchronously.
type DeviceSource struct {
	deviceName string

	mu      sync.Mutex
	ctx     *malgo.AllocatedContext
	device  *malgo.Device
	running bool
	done    chan struct{}

	sink    FrameSink
	pending []float32
}

// NewDeviceSource creates a source for the named capture device. An empty
// name selects the system default. The name is matched as a case-insensitive
// substring against the enumerated devices.
func NewDeviceSource(deviceName string) *DeviceSource {
	return &DeviceSource{
		deviceName: deviceName,
		done:       make(chan struct{}),
		pending:    make([]float32, 0, SamplesPerFrame*2),
	}
}

// ListCaptureDevices enumerates the system's capture devices.
func ListCaptureDevices() ([]Device, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}
	defer func() {
		_ = ctx.Uninit()
		ctx.Free()
	}()

	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate capture devices: %w", err)
	}

	devices := make([]Device, 0, len(infos))
	for _, info := range infos {
		devices = append(devices, Device{
			Name:      info.Name(),
			IsDefault: info.IsDefault != 0,
		})
	}
	return devices, nil
}

// Start opens the device and begins frame delivery.
func (s *DeviceSource) Start(sink FrameSink) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrSourceStarted
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = SampleRate
	deviceConfig.Alsa.NoMMap = 1

	if s.deviceName != "" {
		id, err := findCaptureDevice(ctx, s.deviceName)
		if err != nil {
			_ = ctx.Uninit()
			ctx.Free()
			return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
		}
		deviceConfig.Capture.DeviceID = id.Pointer()
	}

	s.sink = sink
	s.pending = s.pending[:0]

	onRecvFrames := func(_, pInputSamples []byte, framecount uint32) {
		s.consume(pInputSamples, int(framecount))
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: onRecvFrames,
	})
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	s.ctx = ctx
	s.device = device
	s.running = true

	logrus.WithFields(logrus.Fields{
		"device":      s.displayName(),
		"sample_rate": SampleRate,
		"frame_ms":    FrameDuration.Milliseconds(),
	}).Info("Device capture started")

	return nil
}

// consume converts the backend's little-endian float32 bytes and emits every
// complete frame. Runs on the audio thread.
func (s *DeviceSource) consume(raw []byte, frameCount int) {
	if len(raw) < frameCount*4 {
		return
	}

	for i := 0; i < frameCount; i++ {
		bits := uint32(raw[i*4]) | uint32(raw[i*4+1])<<8 |
			uint32(raw[i*4+2])<<16 | uint32(raw[i*4+3])<<24
		s.pending = append(s.pending, math.Float32frombits(bits))
	}

	for len(s.pending) >= SamplesPerFrame {
		frame := make(Frame, SamplesPerFrame)
		copy(frame, s.pending[:SamplesPerFrame])
		s.pending = s.pending[:copy(s.pending, s.pending[SamplesPerFrame:])]
		s.sink(frame)
	}
}

// Stop halts capture and releases the device. Idempotent.
func (s *DeviceSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false

	s.device.Uninit()
	s.device = nil
	_ = s.ctx.Uninit()
	s.ctx.Free()
	s.ctx = nil
	close(s.done)

	logrus.Info("Device capture stopped")
}

// Done is closed once capture has stopped.
func (s *DeviceSource) Done() <-chan struct{} {
	return s.done
}

// Describe reports the source for the session manifest.
func (s *DeviceSource) Describe() (string, string) {
	return "device", s.displayName()
}

func (s *DeviceSource) displayName() string {
	if s.deviceName == "" {
		return "default"
	}
	return s.deviceName
}

func findCaptureDevice(ctx *malgo.AllocatedContext, name string) (malgo.DeviceID, error) {
	var id malgo.DeviceID

	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return id, fmt.Errorf("failed to enumerate capture devices: %w", err)
	}

	nameLower := strings.ToLower(name)
	for _, info := range infos {
		if strings.Contains(strings.ToLower(info.Name()), nameLower) {
			return info.ID, nil
		}
	}
	return id, fmt.Errorf("capture device not found: %s", name)
}
