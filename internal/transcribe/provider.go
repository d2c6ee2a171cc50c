package transcribe

import "context"

// Provider is the interface for speech-to-text backends.
type Provider interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (*Result, error)
	Name() string  // "deepgram"
	Model() string // model identifier for DB/logs
}

// Result is the common transcription result from any provider.
type Result struct {
	Transcript string
	Confidence float64
	Duration   float64 // audio duration in seconds, provider-reported
	Words      []Word  // nil if provider doesn't support word timestamps
}

// Word is a timestamped word from any STT provider.
type Word struct {
	Word       string  `json:"word"`
	Start      float64 `json:"start"` // seconds
	End        float64 `json:"end"`   // seconds
	Confidence float64 `json:"confidence"`
}
