package audio

import (
	"encoding/binary"
	"math"
)

// Input audio contract: 16 kHz, 16-bit signed little-endian, mono.
const (
	SampleRate = 16000
	Channels   = 1
	BitDepth   = 16
)

// RMS computes the root-mean-square amplitude of a PCM16LE buffer.
// Returns 0 for buffers shorter than one sample.
func RMS(pcm []byte) float64 {
	if len(pcm) < 2 {
		return 0
	}
	var sumSquares float64
	n := 0
	for i := 0; i+1 < len(pcm); i += 2 {
		v := int16(binary.LittleEndian.Uint16(pcm[i : i+2]))
		sumSquares += float64(v) * float64(v)
		n++
	}
	if n == 0 {
		return 0
	}
	return math.Sqrt(sumSquares / float64(n))
}

// WrapWAV prepends a canonical 44-byte RIFF/WAVE header (PCM format tag) to
// raw PCM data. The transcription backend expects a complete WAV blob.
func WrapWAV(pcm []byte, sampleRate, channels, bits int) []byte {
	dataSize := len(pcm)
	blockAlign := channels * bits / 8
	byteRate := sampleRate * blockAlign

	out := make([]byte, 44+dataSize)
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+dataSize))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16) // fmt chunk size
	binary.LittleEndian.PutUint16(out[20:22], 1)  // PCM format tag
	binary.LittleEndian.PutUint16(out[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:36], uint16(bits))
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(dataSize))
	copy(out[44:], pcm)
	return out
}
