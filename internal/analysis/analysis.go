// Package analysis extracts the spoken lines of a page image with a
// vision-language model.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/book-expert/logger"
	"github.com/book-expert/page-narrator/internal/dialogue"
)

const imageMIMEType = "image/png"

var (
	// ErrEmptyResponse indicates a model reply with no text.
	ErrEmptyResponse = errors.New("model returned an empty response")
	// ErrNilGenerator indicates a missing model backend.
	ErrNilGenerator = errors.New("generator cannot be nil")
)

// Page is one rasterised page.
type Page struct {
	Index     int
	ImagePath string
}

// Analyzer returns the validated dialogue of a page in reading order.
type Analyzer interface {
	Analyze(ctx context.Context, page Page) ([]dialogue.Record, error)
}

// Generator sends a prompt and one image to a model and returns its raw text.
type Generator interface {
	Generate(ctx context.Context, prompt string, image []byte, mimeType string) (string, error)
}

// ModelAnalyzer implements Analyzer on top of a Generator.
type ModelAnalyzer struct {
	generator Generator
	prompt    string
	log       *logger.Logger
}

// NewModelAnalyzer returns an analyzer that uses the dubbing prompt.
func NewModelAnalyzer(generator Generator, log *logger.Logger) (*ModelAnalyzer, error) {
	if generator == nil {
		return nil, ErrNilGenerator
	}

	return &ModelAnalyzer{generator: generator, prompt: Prompt, log: log}, nil
}

// Analyze sends the page image to the model and parses the reply.
func (a *ModelAnalyzer) Analyze(ctx context.Context, page Page) ([]dialogue.Record, error) {
	image, err := os.ReadFile(page.ImagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read page %d image: %w", page.Index+1, err)
	}

	reply, err := a.generator.Generate(ctx, a.prompt, image, imageMIMEType)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze page %d: %w", page.Index+1, err)
	}

	cleaned := CleanJSON(reply)
	if cleaned == "" {
		return nil, fmt.Errorf("page %d: %w", page.Index+1, ErrEmptyResponse)
	}

	records, err := dialogue.ParsePage(page.Index, []byte(cleaned))
	if err != nil {
		return nil, err
	}

	a.log.Info("Page %d: %d dialogue line(s)", page.Index+1, len(records))

	return records, nil
}

// CleanJSON strips Markdown code fences and surrounding prose from a model reply.
func CleanJSON(text string) string {
	text = strings.TrimSpace(text)

	switch {
	case strings.HasPrefix(text, "```json"):
		text = strings.TrimPrefix(text, "```json")
	case strings.HasPrefix(text, "```"):
		text = strings.TrimPrefix(text, "```")
	}

	text = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text), "```"))

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")

	if start > 0 && end > start {
		text = text[start : end+1]
	}

	return text
}
