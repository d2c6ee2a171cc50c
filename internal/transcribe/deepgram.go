package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const deepgramListenEndpoint = "https://api.deepgram.com/v1/listen"

// DeepgramClient calls the Deepgram pre-recorded speech-to-text API.
// Implements the Provider interface.
type DeepgramClient struct {
	endpoint string
	apiKey   string
	model    string // "nova-2"
	language string
	timeout  time.Duration
	client   *http.Client
}

// deepgramResponse is the subset of the Deepgram /v1/listen response we use.
type deepgramResponse struct {
	Metadata struct {
		Duration float64 `json:"duration"`
	} `json:"metadata"`
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string         `json:"transcript"`
				Confidence float64        `json:"confidence"`
				Words      []deepgramWord `json:"words"`
			} `json:"alternatives"`
		} `json:"channels"`
		Utterances []struct {
			Start float64 `json:"start"`
			End   float64 `json:"end"`
		} `json:"utterances"`
	} `json:"results"`
}

// deepgramWord is a timestamped word from Deepgram.
type deepgramWord struct {
	Word       string  `json:"word"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
}

// NewDeepgramClient creates a new Deepgram STT client.
func NewDeepgramClient(apiKey, model string, timeout time.Duration) *DeepgramClient {
	return &DeepgramClient{
		endpoint: deepgramListenEndpoint,
		apiKey:   apiKey,
		model:    model,
		language: "en-US",
		timeout:  timeout,
		client:   &http.Client{Timeout: timeout},
	}
}

// Name returns the provider name.
func (dg *DeepgramClient) Name() string { return "deepgram" }

// Model returns the configured model identifier.
func (dg *DeepgramClient) Model() string { return dg.model }

// Transcribe sends raw audio bytes to Deepgram and returns the result.
// The audio is posted as the request body with its content type; options
// go in the query string per the Deepgram API.
func (dg *DeepgramClient) Transcribe(ctx context.Context, audio []byte, mimeType string) (*Result, error) {
	q := url.Values{}
	q.Set("model", dg.model)
	q.Set("language", dg.language)
	q.Set("smart_format", "true")
	q.Set("punctuate", "true")
	q.Set("utterances", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dg.endpoint+"?"+q.Encode(), bytes.NewReader(audio))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+dg.apiKey)
	if mimeType != "" {
		req.Header.Set("Content-Type", mimeType)
	}

	resp, err := dg.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deepgram request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("deepgram API error (status %d): %s", resp.StatusCode, string(body))
	}

	var dgResp deepgramResponse
	if err := json.Unmarshal(body, &dgResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	result := &Result{}
	if len(dgResp.Results.Channels) > 0 && len(dgResp.Results.Channels[0].Alternatives) > 0 {
		alt := dgResp.Results.Channels[0].Alternatives[0]
		result.Transcript = alt.Transcript
		result.Confidence = alt.Confidence
		result.Words = make([]Word, 0, len(alt.Words))
		for _, w := range alt.Words {
			result.Words = append(result.Words, Word{
				Word: w.Word, Start: w.Start, End: w.End, Confidence: w.Confidence,
			})
		}
	}
	result.Duration = resolveDuration(&dgResp)

	return result, nil
}

// resolveDuration picks the most reliable audio duration available.
// Priority: response metadata, then the last word's end timestamp, then
// the last utterance's end time.
func resolveDuration(resp *deepgramResponse) float64 {
	if resp.Metadata.Duration > 0 {
		return resp.Metadata.Duration
	}
	if len(resp.Results.Channels) > 0 && len(resp.Results.Channels[0].Alternatives) > 0 {
		words := resp.Results.Channels[0].Alternatives[0].Words
		if n := len(words); n > 0 && words[n-1].End > 0 {
			return words[n-1].End
		}
	}
	if n := len(resp.Results.Utterances); n > 0 {
		return resp.Results.Utterances[n-1].End
	}
	return 0
}
