package abb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// LLMProvider represents a generic LLM service provider for text completion
type LLMProvider interface {
	// GenerateResponse executes a simple one-shot call: instructions + message -> assistant text (no tool calls)
	// If schemaJSON is non-nil, it must be a JSON object with fields compatible with Responses API JSON schema config
	// e.g. {"name":"MySchema","strict":true,"schema":{...}} and will be passed under text.format.
	GenerateResponse(ctx context.Context, instructions string, message string, schemaJSON []byte) (string, error)
}

// LLMConfig holds configuration for text LLM providers
type LLMConfig struct {
	Provider    string // "openai", "anthropic", "ollama"
	APIKey      string
	Model       string
	BaseURL     string // useful for self-hosted models or different endpoints
	MaxTokens   int
	Temperature float64
}

// NewLLMProvider creates a new text LLM provider based on the configuration
func NewLLMProvider(cfg LLMConfig) (LLMProvider, error) {
	switch cfg.Provider {
	case "openai":
		return &OpenAIProvider{cfg: cfg}, nil
	case "anthropic":
		return &AnthropicProvider{cfg: cfg}, nil
	case "ollama":
		return &OllamaProvider{cfg: cfg}, nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}

// OpenAIProvider implements LLMProvider for OpenAI (Text)
type OpenAIProvider struct {
	cfg LLMConfig
	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
}

func (p *OpenAIProvider) client() *http.Client {
	if p.HTTPClient != nil {
		return p.HTTPClient
	}
	return &http.Client{Timeout: 60 * time.Second}
}

// GenerateResponse sends a one-shot request to the Responses API.
func (p *OpenAIProvider) GenerateResponse(ctx context.Context, instructions string, message string, schemaJSON []byte) (string, error) {
	reqBody := map[string]interface{}{
		"model":             p.cfg.Model,
		"instructions":      instructions,
		"input":             message,
		"store":             true,
		"max_output_tokens": p.cfg.MaxTokens,
	}

	if len(schemaJSON) > 0 {
		// Provide structured output via JSON schema under text.format per Responses API
		var schemaWrapper struct {
			Name   string          `json:"name"`
			Strict bool            `json:"strict"`
			Schema json.RawMessage `json:"schema"`
		}
		if err := json.Unmarshal(schemaJSON, &schemaWrapper); err != nil {
			return "", fmt.Errorf("failed to unmarshal schemaJSON: %w", err)
		}
		if schemaWrapper.Name == "" {
			return "", fmt.Errorf("schema name is required for structured outputs")
		}
		if len(schemaWrapper.Schema) == 0 {
			return "", fmt.Errorf("schema is empty for structured outputs")
		}

		reqBody["text"] = map[string]interface{}{
			"format": map[string]interface{}{
				"type":   "json_schema",
				"name":   schemaWrapper.Name,
				"schema": schemaWrapper.Schema,
				"strict": schemaWrapper.Strict,
			},
		}
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal responses request body: %w", err)
	}

	apiURL := "https://api.openai.com/v1/responses"
	if p.cfg.BaseURL != "" {
		apiURL = strings.TrimSuffix(p.cfg.BaseURL, "/") + "/responses"
	}
	req, err := http.NewRequestWithContext(ctx, "POST", apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create responses request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client().Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send responses request: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("responses api returned status %d: %s", resp.StatusCode, string(body))
	}

	return parseResponsesOutput(body)
}

func parseResponsesOutput(body []byte) (string, error) {
	var root struct {
		ID     string          `json:"id"`
		Output json.RawMessage `json:"output"`
	}
	if e := json.Unmarshal(body, &root); e != nil {
		return "", fmt.Errorf("failed to decode responses body: %w", e)
	}

	var items []map[string]any
	if e := json.Unmarshal(root.Output, &items); e != nil {
		var alt struct {
			Output []map[string]any `json:"output"`
		}
		if e2 := json.Unmarshal(body, &alt); e2 == nil && len(alt.Output) > 0 {
			items = alt.Output
		} else {
			return "", fmt.Errorf("unexpected responses output format")
		}
	}

	var textBuilder []string
	for _, it := range items {
		t, _ := it["type"].(string)
		if t != "message" {
			continue
		}
		if content, ok := it["content"].([]any); ok {
			for _, c := range content {
				if cm, ok := c.(map[string]any); ok {
					if cm["type"] == "output_text" {
						if txt, _ := cm["text"].(string); txt != "" {
							textBuilder = append(textBuilder, txt)
						}
					}
				}
			}
		}
	}

	return strings.TrimSpace(strings.Join(textBuilder, "\n")), nil
}

// AnthropicProvider implements LLMProvider for Anthropic (Text)
type AnthropicProvider struct {
	cfg LLMConfig
}

func (p *AnthropicProvider) GenerateResponse(ctx context.Context, instructions string, message string, schemaJSON []byte) (string, error) {
	return "", fmt.Errorf("not implemented")
}

// OllamaProvider implements LLMProvider for Ollama
type OllamaProvider struct {
	cfg LLMConfig
}

func (p *OllamaProvider) GenerateResponse(ctx context.Context, instructions string, message string, schemaJSON []byte) (string, error) {
	return "", fmt.Errorf("not implemented")
}
