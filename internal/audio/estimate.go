// Package audio holds the best-effort pre-flight duration estimate for
// uploaded files. The estimate gates admission before the billable
// provider call; the provider's own reported duration is authoritative
// for display and is never re-billed.
package audio

import (
	"encoding/binary"
	"math"
	"strings"
)

// fallbackBitrate is the assumed encoding rate for the size-based
// estimate when container metadata is unavailable: 128 kbit/s.
const fallbackBitrate = 128_000

// EstimateMinutes returns a best-effort duration estimate in minutes for
// the given audio payload. WAV containers are measured from the header;
// everything else falls back to a size-based estimate.
func EstimateMinutes(data []byte, mimeType string) float64 {
	if sec, ok := wavDurationSeconds(data); ok {
		return sec / 60
	}
	return sizeEstimateMinutes(len(data))
}

// sizeEstimateMinutes estimates duration from the payload size at the
// assumed bitrate. Always returns a positive finite value for non-empty
// payloads so the policy engine never sees an invalid duration.
func sizeEstimateMinutes(sizeBytes int) float64 {
	if sizeBytes <= 0 {
		return 0
	}
	sec := float64(sizeBytes*8) / fallbackBitrate
	if math.IsNaN(sec) || math.IsInf(sec, 0) || sec <= 0 {
		return 0
	}
	return sec / 60
}

// wavDurationSeconds reads the duration of a RIFF/WAVE file from its fmt
// and data chunks: data size divided by byte rate. Returns false for
// anything that is not a well-formed WAV.
func wavDurationSeconds(data []byte) (float64, bool) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return 0, false
	}

	var byteRate uint32
	var dataSize uint32

	// Walk the chunk list. Chunks are 8-byte headers (id + size) and are
	// word-aligned.
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := binary.LittleEndian.Uint32(data[off+4 : off+8])
		body := off + 8

		switch id {
		case "fmt ":
			if body+16 > len(data) {
				return 0, false
			}
			byteRate = binary.LittleEndian.Uint32(data[body+8 : body+12])
		case "data":
			dataSize = size
		}

		off = body + int(size)
		if size%2 == 1 {
			off++
		}
	}

	if byteRate == 0 || dataSize == 0 {
		return 0, false
	}
	sec := float64(dataSize) / float64(byteRate)
	if math.IsNaN(sec) || math.IsInf(sec, 0) || sec <= 0 {
		return 0, false
	}
	return sec, true
}

// IsAllowedMimeType reports whether a content type is accepted for
// transcription uploads.
func IsAllowedMimeType(mimeType string) bool {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.Index(mt, ";"); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	if strings.HasPrefix(mt, "audio/") {
		return true
	}
	// Browser recordings come through as video containers.
	switch mt {
	case "video/webm", "video/mp4":
		return true
	}
	return false
}
