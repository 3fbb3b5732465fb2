package audio

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gen2brain/malgo"
)

// InputDevice is a mono capture source. Start delivers float32 buffers
// to tap on the capture thread until Stop; implementations must allow
// repeated Start/Stop cycles.
type InputDevice interface {
	Start(tap func([]float32)) error
	Stop() error
	SampleRate() int
}

// MalgoInput captures from the default system microphone.
type MalgoInput struct {
	rate int
	ctx  *malgo.AllocatedContext
	dev  *malgo.Device
	buf  []float32
}

func NewMalgoInput(sampleRate int) *MalgoInput {
	return &MalgoInput{rate: sampleRate}
}

func (m *MalgoInput) SampleRate() int { return m.rate }

func (m *MalgoInput) Start(tap func([]float32)) error {
	if m.dev != nil {
		return fmt.Errorf("capture device already started")
	}
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("init capture context: %w", err)
	}

	config := malgo.DefaultDeviceConfig(malgo.Capture)
	config.Capture.Format = malgo.FormatF32
	config.Capture.Channels = 1
	config.SampleRate = uint32(m.rate)
	config.Alsa.NoMMap = 1

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, frameCount uint32) {
			if len(input) == 0 {
				return
			}
			n := len(input) / 4
			if cap(m.buf) < n {
				m.buf = make([]float32, n)
			}
			buf := m.buf[:n]
			for i := 0; i < n; i++ {
				buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(input[i*4:]))
			}
			tap(buf)
		},
	}

	dev, err := malgo.InitDevice(ctx.Context, config, callbacks)
	if err != nil {
		ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("init capture device: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("start capture device: %w", err)
	}
	m.ctx = ctx
	m.dev = dev
	return nil
}

func (m *MalgoInput) Stop() error {
	if m.dev == nil {
		return nil
	}
	m.dev.Uninit()
	m.dev = nil
	err := m.ctx.Uninit()
	m.ctx.Free()
	m.ctx = nil
	return err
}
