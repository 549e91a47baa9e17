package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const (
	defaultGeminiEmbedModel    = "text-embedding-004"
	defaultGeminiGenerateModel = "gemini-1.5-flash"
	defaultGeminiDim           = 768
)

// GenAIClient talks to Gemini either through the Gemini API (API key) or
// through Vertex AI (project/location and ADC).
type GenAIClient struct {
	config *ClientConfig
	client *genai.Client
}

// NewGenAIClient creates a new client for the Google Gemini API.
func NewGenAIClient(ctx context.Context, config *ClientConfig) (*GenAIClient, error) {
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}
	applyGenAIDefaults(config)

	cc := genai.ClientConfig{Backend: genai.BackendGeminiAPI}
	if config.Provider == ProviderVertexAI {
		cc.Backend = genai.BackendVertexAI
		if strings.TrimSpace(config.ProjectID) != "" {
			cc.Project = config.ProjectID
		}
		if strings.TrimSpace(config.Location) != "" {
			cc.Location = config.Location
		}
	} else if strings.TrimSpace(config.APIKey) == "" {
		return nil, errors.New("failed to create Gemini client: API key is required")
	}
	if strings.TrimSpace(config.APIKey) != "" {
		cc.APIKey = config.APIKey
	}

	client, err := genai.NewClient(ctx, &cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GenAIClient{
		config: config,
		client: client,
	}, nil
}

func applyGenAIDefaults(config *ClientConfig) {
	if config.EmbedModel == "" {
		config.EmbedModel = defaultGeminiEmbedModel
	}
	if config.GenerateModel == "" {
		config.GenerateModel = defaultGeminiGenerateModel
	}
	if config.Dim == 0 {
		config.Dim = defaultGeminiDim
	}
	if config.Provider == ProviderVertexAI && config.Location == "" && strings.TrimSpace(config.APIKey) == "" {
		config.Location = "us-central1"
	}
}

// Embed implements the embedding functionality using the Gemini API
func (c *GenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.client == nil {
		return nil, errors.New("gemini client not initialized")
	}

	res, err := c.client.Models.EmbedContent(ctx, c.config.EmbedModel, genai.Text(text), &genai.EmbedContentConfig{})
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}

	if res == nil || len(res.Embeddings) == 0 || res.Embeddings[0] == nil {
		return nil, errors.New("no embedding returned")
	}

	return res.Embeddings[0].Values, nil
}

// Generate sends prompt as a single user turn and returns the first candidate's text.
func (c *GenAIClient) Generate(ctx context.Context, prompt string) (string, error) {
	if c.client == nil {
		return "", errors.New("gemini client not initialized")
	}

	temp := float32(0.2)
	cfg := genai.GenerateContentConfig{
		Temperature: &temp,
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.config.GenerateModel, genai.Text(prompt), &cfg)
	if err != nil {
		return "", fmt.Errorf("generation failed: %w", err)
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("no answer returned")
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	return strings.TrimSpace(b.String()), nil
}

func (c *GenAIClient) Dim() int {
	return c.config.Dim
}
