// Package audio implements the device-facing halves of the voice pipeline:
// microphone capture with decimation to the 16 kHz uplink rate, and gapless
// scheduling of 24 kHz downlink frames.
package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/voiceloop/voiceloop/pkg/core"
)

const (
	// CaptureRate is the sample rate the service expects on the uplink.
	CaptureRate = 16000
	// PlaybackRate is the sample rate of downlink audio.
	PlaybackRate = 24000
	// DefaultFrameSize is the number of samples delivered per capture buffer.
	DefaultFrameSize = 4096
)

// Downsample reduces in from fromRate to toRate by nearest-sample decimation.
// No low-pass filtering is applied; the uplink model tolerates the aliasing
// and the decimation stays allocation-cheap on the capture path. When the
// rates already match the input is returned unchanged.
func Downsample(in []float32, fromRate, toRate int) []float32 {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 {
		return in
	}
	n := len(in) * toRate / fromRate
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = in[i*fromRate/toRate]
	}
	return out
}

// PCM16FromFloat32 converts [-1, 1] float samples to 16-bit PCM. Negative
// samples scale by 0x8000 and non-negative by 0x7fff so both extremes map
// onto the full int16 range. Out-of-range input is clamped first.
func PCM16FromFloat32(in []float32) []int16 {
	out := make([]int16, len(in))
	for i, s := range in {
		if s < -1 {
			s = -1
		} else if s > 1 {
			s = 1
		}
		if s < 0 {
			out[i] = int16(s * 0x8000)
		} else {
			out[i] = int16(s * 0x7fff)
		}
	}
	return out
}

// Float32FromPCM16 converts 16-bit PCM to float samples in [-1, 1).
func Float32FromPCM16(in []int16) []float32 {
	out := make([]float32, len(in))
	for i, s := range in {
		out[i] = float32(s) / 0x8000
	}
	return out
}

// PCM16Bytes serializes samples as little-endian bytes.
func PCM16Bytes(in []int16) []byte {
	out := make([]byte, len(in)*2)
	for i, s := range in {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// EncodeFrame packs samples into the wire form: little-endian 16-bit PCM,
// base64 encoded.
func EncodeFrame(in []int16) string {
	return base64.StdEncoding.EncodeToString(PCM16Bytes(in))
}

// DecodeFrame unpacks a wire frame into samples. It returns an error for
// malformed base64 and for byte streams that do not divide into 16-bit
// samples.
func DecodeFrame(frame string) ([]int16, error) {
	raw, err := base64.StdEncoding.DecodeString(frame)
	if err != nil {
		return nil, core.NewDecodeError("malformed pcm frame: " + err.Error())
	}
	if len(raw)%2 != 0 {
		return nil, core.NewDecodeError(fmt.Sprintf("truncated sample, %d bytes", len(raw)))
	}
	out := make([]int16, len(raw)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}
	return out, nil
}

// CalculateRMSEnergy computes the root-mean-square energy of 16-bit PCM
// samples, normalized to [0, 1]. Useful for level meters and silence
// heuristics.
func CalculateRMSEnergy(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range Float32FromPCM16(samples) {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
