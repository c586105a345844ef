package audio

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
)

// PCMToWAV wraps raw 16-bit mono PCM in a WAV container so it can be
// shipped to the transcription service as a regular file upload.
func PCMToWAV(pcmData []byte, sampleRate int) []byte {
	var buf bytes.Buffer

	byteRate := uint32(sampleRate * 2)

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcmData)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, byteRate)
	binary.Write(&buf, binary.LittleEndian, uint16(2))  // block align
	binary.Write(&buf, binary.LittleEndian, uint16(16)) // bits per sample

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcmData)))
	buf.Write(pcmData)

	return buf.Bytes()
}

// PCMToWAVReader streams the WAV rendition of pcmData.
func PCMToWAVReader(pcmData []byte, sampleRate int) io.Reader {
	return bytes.NewReader(PCMToWAV(pcmData, sampleRate))
}

// rmsEnergy computes the root-mean-square amplitude of 16-bit LE samples.
// Used by the capture endpointer to tell speech from line noise.
func rmsEnergy(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i+1 < len(pcm); i += 2 {
		s := int16(binary.LittleEndian.Uint16(pcm[i:]))
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(n))
}
