package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.0-flash"

// ErrMissingAPIKey indicates that no Gemini key was provided.
var ErrMissingAPIKey = errors.New("gemini API key is required")

// Gemini implements Generator with the Gemini API.
type Gemini struct {
	client      *genai.Client
	model       string
	temperature float32
}

// NewGemini connects to the Gemini API. A zero temperature leaves the model default.
func NewGemini(ctx context.Context, apiKey, model string, temperature float32) (*Gemini, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrMissingAPIKey
	}

	if model == "" {
		model = DefaultModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &Gemini{client: client, model: model, temperature: temperature}, nil
}

// Generate sends the prompt and image inline and asks for a JSON reply.
func (g *Gemini) Generate(ctx context.Context, prompt string, image []byte, mimeType string) (string, error) {
	config := &genai.GenerateContentConfig{ResponseMIMEType: "application/json"}
	if g.temperature > 0 {
		temperature := g.temperature
		config.Temperature = &temperature
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(prompt),
			genai.NewPartFromBytes(image, mimeType),
		}, genai.RoleUser),
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("generate content error: %w", err)
	}

	return responseText(resp)
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", ErrEmptyResponse
	}

	var builder strings.Builder

	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			builder.WriteString(part.Text)
		}
	}

	if builder.Len() == 0 {
		return "", ErrEmptyResponse
	}

	return builder.String(), nil
}
