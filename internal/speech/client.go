// Package speech voices dialogue lines through an HTTP text-to-speech
// service: it normalises text, casts a voice per speaker, maps emotion to
// engine parameters, and measures the returned clip.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// API endpoints and paths.
const (
	apiGenerateSpeech = "/v1/generate/speech"
	apiHealth         = "/health"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypeWAV    = "audio/wav"
)

// Default values.
const (
	defaultTemperature = 0.75
	defaultLanguage    = "en"
)

var (
	// ErrEmptyText indicates a request without text.
	ErrEmptyText = errors.New("text cannot be empty")
	// ErrUnexpectedContentType indicates a response that is not WAV audio.
	ErrUnexpectedContentType = errors.New("unexpected content type")
	// ErrEmptyAudio indicates a successful response without a body.
	ErrEmptyAudio = errors.New("received empty audio data")
)

// EmotionParams is the emotion block of a request.
type EmotionParams struct {
	Type      string  `json:"type"`
	Intensity float64 `json:"intensity"`
	Stability float64 `json:"stability"`
	Style     float64 `json:"style"`
}

// Request is the JSON payload of a generation request.
type Request struct {
	Text        string        `json:"text"`
	Voice       string        `json:"voice"`
	Language    string        `json:"language"`
	Temperature float64       `json:"temperature"`
	Speed       float64       `json:"speed"`
	Volume      float64       `json:"volume"`
	Pitch       string        `json:"pitch"`
	Emotion     EmotionParams `json:"emotion"`
}

// ServiceError is a non-OK response from the service.
type ServiceError struct {
	StatusCode int
	Status     string
	Detail     string
	Code       string
}

func (e *ServiceError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("TTS service error (%s): %s (code: %s)", e.Status, e.Detail, e.Code)
	}

	return fmt.Sprintf("TTS service returned non-OK status: %s, body: %s", e.Status, e.Detail)
}

type errorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// HTTPClient talks to the TTS service.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
}

// NewHTTPClient returns a client for baseURL (e.g. "http://localhost:8000").
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// GenerateSpeech returns the WAV bytes for req.
func (c *HTTPClient) GenerateSpeech(ctx context.Context, req Request) ([]byte, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyText
	}

	if req.Temperature == 0 {
		req.Temperature = defaultTemperature
	}

	if req.Language == "" {
		req.Language = defaultLanguage
	}

	requestBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+apiGenerateSpeech,
		bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, contentTypeWAV)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to TTS service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseErrorResponse(resp)
	}

	contentType := resp.Header.Get(headerContentType)
	if !strings.HasPrefix(contentType, contentTypeWAV) {
		return nil, fmt.Errorf("%w: expected %s, got %q", ErrUnexpectedContentType, contentTypeWAV, contentType)
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(audioData) == 0 {
		return nil, ErrEmptyAudio
	}

	return audioData, nil
}

// HealthCheck verifies that the service answers on its health endpoint.
func (c *HTTPClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiHealth, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %s", resp.Status)
	}

	return nil
}

// parseErrorResponse prefers the structured JSON error and falls back to the raw body.
func parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	serviceErr := &ServiceError{StatusCode: resp.StatusCode, Status: resp.Status, Detail: string(body)}

	var structured errorResponse

	unmarshalErr := json.Unmarshal(body, &structured)
	if unmarshalErr == nil && structured.Detail != "" {
		serviceErr.Detail = structured.Detail
		serviceErr.Code = structured.ErrorCode
	}

	return serviceErr
}
