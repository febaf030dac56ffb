// Package generate turns a block of study notes into annotation
// suggestions using a local language model. The output is a plan, not
// placed records: each suggestion names the image it belongs on by
// index, and the caller decides placement and persistence.
package generate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrEngineUnavailable is returned when the model backend is not
// reachable or the configured model is not installed.
var ErrEngineUnavailable = errors.New("generation engine unavailable")

// ErrBadModelOutput is returned when the model's response cannot be
// parsed into suggestions.
var ErrBadModelOutput = errors.New("model returned unusable output")

// Suggestion is one proposed annotation. ImageIndex selects which of
// the palace's images it should be placed on.
type Suggestion struct {
	Description string `json:"description"`
	Note        string `json:"note"`
	ImageIndex  int    `json:"imageIndex"`
}

// Generator produces annotation suggestions from notes. Implemented by
// the Ollama-backed generator and by test fakes.
type Generator interface {
	Generate(ctx context.Context, notes string, targetCount, imageCount int) ([]Suggestion, error)
	Available(ctx context.Context) bool
}

// OllamaGenerator generates suggestions through a local Ollama server.
type OllamaGenerator struct {
	client *ollamaClient
	model  string
}

// NewOllama creates a generator using the model served at baseURL.
func NewOllama(baseURL, model string) *OllamaGenerator {
	return &OllamaGenerator{client: newOllamaClient(baseURL), model: model}
}

// Available reports whether the server is up and the model installed.
func (g *OllamaGenerator) Available(ctx context.Context) bool {
	return g.client.isRunning(ctx) && g.client.hasModel(ctx, g.model)
}

// responseShape is the structured output schema sent with the chat
// request and the shape the response is parsed into.
type responseShape struct {
	Annotations []Suggestion `json:"annotations"`
}

var responseSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"annotations": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"description": map[string]any{"type": "string"},
					"note":        map[string]any{"type": "string"},
					"imageIndex":  map[string]any{"type": "integer"},
				},
				"required": []string{"description", "note", "imageIndex"},
			},
		},
	},
	"required": []string{"annotations"},
}

// Generate asks the model for up to targetCount suggestions spread over
// imageCount images. Results are clamped: at most targetCount entries,
// image indexes forced into range, blank descriptions dropped.
func (g *OllamaGenerator) Generate(ctx context.Context, notes string, targetCount, imageCount int) ([]Suggestion, error) {
	if strings.TrimSpace(notes) == "" {
		return []Suggestion{}, nil
	}
	if targetCount <= 0 {
		targetCount = 5
	}
	if imageCount <= 0 {
		imageCount = 1
	}
	if !g.Available(ctx) {
		return nil, fmt.Errorf("model %s at %s: %w", g.model, g.client.baseURL, ErrEngineUnavailable)
	}

	raw, err := g.client.chat(ctx, g.model, buildPrompt(notes, targetCount, imageCount), responseSchema)
	if err != nil {
		return nil, err
	}
	return parseSuggestions(raw, targetCount, imageCount)
}

func buildPrompt(notes string, targetCount, imageCount int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are helping build a memory palace. ")
	fmt.Fprintf(&b, "Break the study notes below into exactly %d memorable items.\n\n", targetCount)
	fmt.Fprintf(&b, "For each item produce:\n")
	fmt.Fprintf(&b, "- description: a short vivid label (at most 8 words)\n")
	fmt.Fprintf(&b, "- note: the fact to remember, in one or two sentences\n")
	fmt.Fprintf(&b, "- imageIndex: which room to place it in, 0 to %d, spreading items evenly\n\n", imageCount-1)
	fmt.Fprintf(&b, "Respond with JSON only: {\"annotations\": [...]}.\n\nStudy notes:\n%s", notes)
	return b.String()
}

// parseSuggestions tolerates models that wrap the JSON in prose or
// code fences by extracting the outermost object before decoding.
func parseSuggestions(raw string, targetCount, imageCount int) ([]Suggestion, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("%w: no JSON object in response", ErrBadModelOutput)
	}

	var shape responseShape
	if err := json.Unmarshal([]byte(raw[start:end+1]), &shape); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadModelOutput, err)
	}

	out := make([]Suggestion, 0, len(shape.Annotations))
	for _, s := range shape.Annotations {
		if strings.TrimSpace(s.Description) == "" {
			continue
		}
		if s.ImageIndex < 0 {
			s.ImageIndex = 0
		}
		if s.ImageIndex >= imageCount {
			s.ImageIndex = imageCount - 1
		}
		out = append(out, s)
		if len(out) == targetCount {
			break
		}
	}
	return out, nil
}
