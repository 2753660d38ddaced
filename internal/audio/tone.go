// Package audio synthesizes the short alert cue played when a new
// emergency request lands in a caregiver's feed.
package audio

import (
	"bytes"
	"encoding/binary"
	"math"
)

const (
	sampleRate = 22050
	bitDepth   = 16
)

// Tone renders a sine tone with a linear attack/decay envelope as a
// mono 16-bit PCM WAV. freq in Hz, duration in seconds.
func Tone(freq float64, duration float64) []byte {
	n := int(float64(sampleRate) * duration)
	attack := n / 10
	decay := n / 3
	samples := make([]int16, n)
	for i := range samples {
		v := math.Sin(2 * math.Pi * freq * float64(i) / sampleRate)
		env := 1.0
		if i < attack {
			env = float64(i) / float64(attack)
		} else if i > n-decay {
			env = float64(n-i) / float64(decay)
		}
		samples[i] = int16(v * env * 0.6 * math.MaxInt16)
	}
	return wav(samples)
}

// Alert is the feed's default cue: a short 880 Hz chirp.
func Alert() []byte { return Tone(880, 0.25) }

func wav(samples []int16) []byte {
	dataLen := len(samples) * bitDepth / 8
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*bitDepth/8))
	binary.Write(&buf, binary.LittleEndian, uint16(bitDepth/8))
	binary.Write(&buf, binary.LittleEndian, uint16(bitDepth))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataLen))
	binary.Write(&buf, binary.LittleEndian, samples)
	return buf.Bytes()
}
