package whisper

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// pcmToFloat32 converts 16-bit signed little-endian PCM audio to float32
// samples normalised to the range [-1.0, 1.0]. The input length must be
// even (two bytes per sample); any trailing odd byte is silently ignored.
func pcmToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := range n {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		samples[i] = float32(sample) / 32768.0
	}
	return samples
}

// pcmToFloat32Mono down-mixes multi-channel 16-bit PCM to mono float32 by
// averaging all channels per frame. If channels is 1 this is equivalent to
// pcmToFloat32.
func pcmToFloat32Mono(pcm []byte, channels int) []float32 {
	if channels <= 1 {
		return pcmToFloat32(pcm)
	}
	samplesPerChannel := len(pcm) / (2 * channels)
	mono := make([]float32, samplesPerChannel)
	for i := range samplesPerChannel {
		var sum float32
		for ch := range channels {
			idx := (i*channels + ch) * 2
			sample := int16(binary.LittleEndian.Uint16(pcm[idx : idx+2]))
			sum += float32(sample) / 32768.0
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}

// wavInfo describes the PCM payload extracted from a RIFF/WAV container.
type wavInfo struct {
	pcm        []byte
	sampleRate int
	channels   int
	bitDepth   int
}

// duration returns the playback length of the PCM payload.
func (w wavInfo) duration() time.Duration {
	bytesPerSec := w.sampleRate * w.channels * w.bitDepth / 8
	if bytesPerSec <= 0 {
		return 0
	}
	return time.Duration(len(w.pcm)) * time.Second / time.Duration(bytesPerSec)
}

// isWAV reports whether data starts with a RIFF/WAVE header.
func isWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

// decodeWAV extracts the raw PCM payload and format parameters from a
// RIFF/WAV container. Only uncompressed 16-bit PCM (format tag 1) is
// supported; anything else returns an error.
func decodeWAV(data []byte) (wavInfo, error) {
	if !isWAV(data) {
		return wavInfo{}, errors.New("not a RIFF/WAVE file")
	}

	var info wavInfo
	haveFmt := false

	// Walk the chunk list after the 12-byte RIFF header.
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if size < 0 || body+size > len(data) {
			return wavInfo{}, fmt.Errorf("chunk %q extends past end of file", id)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return wavInfo{}, fmt.Errorf("fmt chunk too small (%d bytes)", size)
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			if format != 1 {
				return wavInfo{}, fmt.Errorf("unsupported audio format tag %d (only PCM is supported)", format)
			}
			info.channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			info.sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			info.bitDepth = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			haveFmt = true
		case "data":
			info.pcm = data[body : body+size]
		}

		// Chunks are word-aligned; odd sizes carry a pad byte.
		pos = body + size
		if size%2 == 1 {
			pos++
		}
	}

	if !haveFmt {
		return wavInfo{}, errors.New("missing fmt chunk")
	}
	if info.pcm == nil {
		return wavInfo{}, errors.New("missing data chunk")
	}
	if info.bitDepth != bitsPerSample {
		return wavInfo{}, fmt.Errorf("unsupported bit depth %d (only 16-bit PCM is supported)", info.bitDepth)
	}
	if info.channels <= 0 || info.sampleRate <= 0 {
		return wavInfo{}, fmt.Errorf("invalid format: %d channels at %d Hz", info.channels, info.sampleRate)
	}
	return info, nil
}

// encodeWAV wraps raw 16-bit signed little-endian PCM data in a standard
// RIFF/WAV container. The returned byte slice is suitable for direct inclusion
// in a multipart form upload.
func encodeWAV(pcm []byte, sampleRate, channels int) []byte {
	bps := bitsPerSample
	byteRate := sampleRate * channels * bps / 8
	blockAlign := channels * bps / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize)) // file size − 8
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)                 // sub-chunk size (PCM)
	binary.LittleEndian.PutUint16(buf[20:22], 1)                  // audio format: PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))   // num channels
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate)) // sample rate
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))   // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign)) // block align
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bps))        // bits per sample

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}
