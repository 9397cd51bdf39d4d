// Package tts synthesizes speech from text via the Sarvam text-to-speech API.
package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const defaultBaseURL = "https://api.sarvam.ai"

// Client calls the Sarvam REST synthesis endpoint. The response is a
// base64-encoded WAV blob ready to forward to the peer.
type Client struct {
	HTTPClient *http.Client
	BaseURL    string

	apiKey   string
	model    string
	speaker  string
	language string
	maxChars int
}

func NewClient(httpc *http.Client, apiKey, model, speaker, language string, maxChars int) *Client {
	if httpc == nil {
		httpc = http.DefaultClient
	}
	if model == "" {
		model = "bulbul:v2"
	}
	if speaker == "" {
		speaker = "vidya"
	}
	if language == "" {
		language = "en-IN"
	}
	if maxChars <= 0 {
		maxChars = 490
	}
	return &Client{
		HTTPClient: httpc,
		BaseURL:    defaultBaseURL,
		apiKey:     apiKey,
		model:      model,
		speaker:    speaker,
		language:   language,
		maxChars:   maxChars,
	}
}

type synthesizeRequest struct {
	Inputs              []string `json:"inputs"`
	TargetLanguageCode  string   `json:"target_language_code"`
	Speaker             string   `json:"speaker"`
	Model               string   `json:"model"`
	Pace                float64  `json:"pace"`
	Loudness            float64  `json:"loudness"`
	EnablePreprocessing bool     `json:"enable_preprocessing"`
	AudioFormat         string   `json:"audio_format"`
}

type synthesizeResponse struct {
	Audios []string `json:"audios"`
}

// Synthesize converts text to a WAV blob. Text beyond the configured limit is
// truncated at a sentence or word boundary before the request is built.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("tts: api key not configured")
	}
	text = Truncate(strings.TrimSpace(text), c.maxChars)
	if text == "" {
		return nil, fmt.Errorf("tts: empty input")
	}

	body, err := json.Marshal(synthesizeRequest{
		Inputs:              []string{text},
		TargetLanguageCode:  c.language,
		Speaker:             c.speaker,
		Model:               c.model,
		Pace:                1.15,
		Loudness:            1.5,
		EnablePreprocessing: true,
		AudioFormat:         "wav",
	})
	if err != nil {
		return nil, fmt.Errorf("tts: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/text-to-speech", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("tts: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-subscription-key", c.apiKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("tts: status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var out synthesizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("tts: decode response: %w", err)
	}
	if len(out.Audios) == 0 || out.Audios[0] == "" {
		return nil, fmt.Errorf("tts: no audio in response")
	}
	audio, err := base64.StdEncoding.DecodeString(out.Audios[0])
	if err != nil {
		return nil, fmt.Errorf("tts: decode audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("tts: empty audio payload")
	}
	return audio, nil
}
