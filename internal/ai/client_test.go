package ai

import (
	"context"
	"math"
	"strings"
	"testing"
)

func TestParseProvider(t *testing.T) {
	tests := []struct {
		input       string
		expected    Provider
		expectError bool
	}{
		{"gemini", ProviderGemini, false},
		{"google", ProviderGemini, false},
		{"VertexAI", ProviderVertexAI, false},
		{"openai", ProviderOpenAI, false},
		{" stub ", ProviderStub, false},
		{"anthropic", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			p, err := ParseProvider(tt.input)
			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error for %q, got provider %q", tt.input, p)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if p != tt.expected {
				t.Errorf("Expected provider %q, got %q", tt.expected, p)
			}
		})
	}
}

func TestNewClient(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		config      *ClientConfig
		expectError bool
		errorMsg    string
		checkType   func(Client) bool
	}{
		{
			name:        "nil config",
			config:      nil,
			expectError: true,
			errorMsg:    "client config is required",
		},
		{
			name:        "unsupported provider",
			config:      &ClientConfig{Provider: "unknown"},
			expectError: true,
			errorMsg:    "unsupported provider: unknown",
		},
		{
			name:   "stub provider",
			config: &ClientConfig{Provider: ProviderStub, Dim: 16},
			checkType: func(c Client) bool {
				_, ok := c.(*StubClient)
				return ok
			},
		},
		{
			name:   "openai provider",
			config: &ClientConfig{Provider: ProviderOpenAI, APIKey: "sk-test"},
			checkType: func(c Client) bool {
				_, ok := c.(*OpenAIClient)
				return ok
			},
		},
		{
			name:   "gemini provider",
			config: &ClientConfig{Provider: ProviderGemini, APIKey: "test-key"},
			checkType: func(c Client) bool {
				_, ok := c.(*GenAIClient)
				return ok
			},
		},
		{
			name:        "gemini provider without key",
			config:      &ClientConfig{Provider: ProviderGemini},
			expectError: true,
			errorMsg:    "API key is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClient(ctx, tt.config)
			if tt.expectError {
				if err == nil {
					t.Fatal("Expected error but got none")
				}
				if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error containing %q, got %q", tt.errorMsg, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if !tt.checkType(c) {
				t.Errorf("Unexpected client type %T", c)
			}
		})
	}
}

func TestStubClient_Embed(t *testing.T) {
	c := NewStubClient(32)
	ctx := context.Background()

	a, err := c.Embed(ctx, "parse the config file")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(a) != 32 || c.Dim() != 32 {
		t.Fatalf("Expected 32 dimensions, got len=%d Dim()=%d", len(a), c.Dim())
	}

	b, _ := c.Embed(ctx, "parse the config file")
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("Expected identical text to embed identically")
		}
	}

	var norm float64
	for _, x := range a {
		norm += float64(x) * float64(x)
	}
	if math.Abs(norm-1) > 1e-5 {
		t.Errorf("Expected unit vector, got squared norm %f", norm)
	}

	empty, err := c.Embed(ctx, "   ")
	if err != nil {
		t.Fatalf("Embed of blank text failed: %v", err)
	}
	if len(empty) != 32 {
		t.Errorf("Expected 32 dimensions for blank text, got %d", len(empty))
	}
}

func TestStubClient_DefaultDim(t *testing.T) {
	if got := NewStubClient(0).Dim(); got != 768 {
		t.Errorf("Expected default dim 768, got %d", got)
	}
}

func TestStubClient_CancelledContext(t *testing.T) {
	c := NewStubClient(8)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.Embed(ctx, "x"); err == nil {
		t.Error("Expected Embed to fail on cancelled context")
	}
	if _, err := c.Generate(ctx, "x"); err == nil {
		t.Error("Expected Generate to fail on cancelled context")
	}
}

func TestStubClient_Generate(t *testing.T) {
	c := NewStubClient(8)
	out, err := c.Generate(context.Background(), "line one\nline two")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if !strings.Contains(out, "2 lines") {
		t.Errorf("Expected answer to mention 2 lines, got %q", out)
	}
}
