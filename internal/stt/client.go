package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
)

const defaultBaseURL = "https://api.sarvam.ai"

// Client calls the speech-to-text REST endpoint. The streaming variant lives
// in stream.go.
type Client struct {
	HTTPClient *http.Client
	BaseURL    string
	apiKey     string
	model      string
	language   string
}

// NewClient constructs a transcription client sharing the pooled transport.
func NewClient(httpc *http.Client, apiKey, model, language string) *Client {
	if model == "" {
		model = "saarika:v2.5"
	}
	return &Client{
		HTTPClient: httpc,
		BaseURL:    defaultBaseURL,
		apiKey:     apiKey,
		model:      model,
		language:   language,
	}
}

type transcribeResponse struct {
	Transcript string `json:"transcript"`
}

// Transcribe sends a complete WAV blob and returns the final text. An empty
// transcript is returned as "" with no error; the caller decides whether the
// turn proceeds.
func (c *Client) Transcribe(ctx context.Context, wavData []byte) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("stt: api key missing")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(wavData); err != nil {
		return "", err
	}
	_ = mw.WriteField("language_code", c.language)
	_ = mw.WriteField("model", c.model)
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/speech-to-text", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("api-subscription-key", c.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("stt: status=%d body=%s", resp.StatusCode, string(b))
	}

	var tr transcribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("stt: decode response: %w", err)
	}
	return strings.TrimSpace(tr.Transcript), nil
}
