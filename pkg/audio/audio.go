// Package audio identifies the container format of uploaded recordings.
//
// Technicians upload recordings from phones and dictation apps, and the
// multipart filename is often missing or generic ("blob", "file"). The
// transcription providers infer the decoder from the filename extension,
// so the leading bytes are sniffed and the filename normalised before a
// recording enters the pipeline.
package audio

import (
	"path"
	"strings"
)

// Format is a recognised recording container format.
type Format string

const (
	WAV  Format = "wav"
	MP3  Format = "mp3"
	OGG  Format = "ogg"
	FLAC Format = "flac"
	M4A  Format = "m4a"
	WebM Format = "webm"

	// Unknown marks data whose leading bytes match no recognised container.
	Unknown Format = ""
)

// Ext returns the filename extension for the format, including the leading
// dot. Unknown yields the empty string.
func (f Format) Ext() string {
	if f == Unknown {
		return ""
	}
	return "." + string(f)
}

// ContentType returns the MIME type uploads of this format are served with.
func (f Format) ContentType() string {
	switch f {
	case WAV:
		return "audio/wav"
	case MP3:
		return "audio/mpeg"
	case OGG:
		return "audio/ogg"
	case FLAC:
		return "audio/flac"
	case M4A:
		return "audio/mp4"
	case WebM:
		return "audio/webm"
	default:
		return "application/octet-stream"
	}
}

// Detect identifies the container format from the leading bytes of data.
// Detection is by magic numbers only; it never reads beyond the first few
// bytes and never allocates.
func Detect(data []byte) Format {
	switch {
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return WAV
	case len(data) >= 4 && string(data[0:4]) == "OggS":
		return OGG
	case len(data) >= 4 && string(data[0:4]) == "fLaC":
		return FLAC
	// The ftyp box covers the whole MP4 family (m4a, mp4, mov); the m4a
	// extension is the one transcription APIs accept for all of them.
	case len(data) >= 12 && string(data[4:8]) == "ftyp":
		return M4A
	// EBML header, shared by WebM and Matroska.
	case len(data) >= 4 && data[0] == 0x1A && data[1] == 0x45 && data[2] == 0xDF && data[3] == 0xA3:
		return WebM
	case len(data) >= 3 && string(data[0:3]) == "ID3":
		return MP3
	// A bare MPEG frame sync, for MP3 files without an ID3 tag.
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return MP3
	}
	return Unknown
}

// Filename returns the upload name a recording should carry through the
// pipeline. The sniffed format is authoritative: when the leading bytes
// identify a container, a missing or mismatching client extension is
// replaced. The client name survives unchanged when it already agrees with
// the sniff, or when the sniff comes up empty.
func Filename(clientName string, data []byte) string {
	f := Detect(data)
	if f == Unknown {
		return clientName
	}
	ext := path.Ext(clientName)
	if strings.EqualFold(ext, f.Ext()) {
		return clientName
	}
	base := strings.TrimSuffix(path.Base(clientName), ext)
	if base == "" || base == "." {
		base = "audio"
	}
	return base + f.Ext()
}
