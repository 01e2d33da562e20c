package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// wavFormat holds the fields of a decoded fmt chunk we care about.
type wavFormat struct {
	audioFormat   uint16
	channels      uint16
	sampleRate    uint32
	bitsPerSample uint16
}

const (
	wavFormatPCM       = 1
	wavFormatIEEEFloat = 3
)

// EncodeWAV encodes mono float32 PCM as a 16-bit PCM RIFF WAV file.
// Samples are clamped to [-1, 1] before conversion.
func EncodeWAV(pcm []float32, sampleRate int) []byte {
	data := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		binary.LittleEndian.PutUint16(data[i*2:], uint16(int16(s*32767)))
	}

	buf := new(bytes.Buffer)
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(data)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(wavFormatPCM))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate*2))
	binary.Write(buf, binary.LittleEndian, uint16(2))
	binary.Write(buf, binary.LittleEndian, uint16(16))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(data)))
	buf.Write(data)

	return buf.Bytes()
}

// DecodeWAV parses a RIFF WAV file containing 16-bit PCM or 32-bit IEEE
// float samples and returns mono float32 PCM plus the file's sample rate.
// Multi-channel input is downmixed by left-channel selection.
func DecodeWAV(raw []byte) ([]float32, int, error) {
	if len(raw) < 12 || string(raw[0:4]) != "RIFF" || string(raw[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("not a RIFF WAV file")
	}

	var format wavFormat
	var data []byte
	haveFmt := false

	// Walk the chunk list; anything other than fmt/data is skipped.
	off := 12
	for off+8 <= len(raw) {
		id := string(raw[off : off+4])
		size := int(binary.LittleEndian.Uint32(raw[off+4 : off+8]))
		body := off + 8
		if body+size > len(raw) {
			size = len(raw) - body
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, fmt.Errorf("truncated fmt chunk")
			}
			format.audioFormat = binary.LittleEndian.Uint16(raw[body:])
			format.channels = binary.LittleEndian.Uint16(raw[body+2:])
			format.sampleRate = binary.LittleEndian.Uint32(raw[body+4:])
			format.bitsPerSample = binary.LittleEndian.Uint16(raw[body+14:])
			haveFmt = true
		case "data":
			data = raw[body : body+size]
		}

		// Chunks are word-aligned.
		off = body + size
		if size%2 == 1 {
			off++
		}
	}

	if !haveFmt || data == nil {
		return nil, 0, fmt.Errorf("missing fmt or data chunk")
	}
	if format.channels == 0 {
		return nil, 0, fmt.Errorf("invalid channel count")
	}

	channels := int(format.channels)
	var samples []float32

	switch {
	case format.audioFormat == wavFormatPCM && format.bitsPerSample == 16:
		frames := len(data) / 2 / channels
		samples = make([]float32, frames)
		for i := 0; i < frames; i++ {
			v := int16(binary.LittleEndian.Uint16(data[i*channels*2:]))
			samples[i] = float32(v) / 32768
		}
	case format.audioFormat == wavFormatIEEEFloat && format.bitsPerSample == 32:
		frames := len(data) / 4 / channels
		samples = make([]float32, frames)
		for i := 0; i < frames; i++ {
			bits := binary.LittleEndian.Uint32(data[i*channels*4:])
			samples[i] = math.Float32frombits(bits)
		}
	default:
		return nil, 0, fmt.Errorf("unsupported WAV format: format=%d bits=%d",
			format.audioFormat, format.bitsPerSample)
	}

	return samples, int(format.sampleRate), nil
}

// Resample converts pcm from srcRate to dstRate by linear interpolation.
// It returns the input unchanged when the rates already match.
func Resample(pcm []float32, srcRate, dstRate int) []float32 {
	if srcRate == dstRate || len(pcm) == 0 {
		return pcm
	}

	ratio := float64(srcRate) / float64(dstRate)
	out := make([]float32, int(float64(len(pcm))/ratio))
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx+1 >= len(pcm) {
			out[i] = pcm[len(pcm)-1]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = pcm[idx]*(1-frac) + pcm[idx+1]*frac
	}
	return out
}
