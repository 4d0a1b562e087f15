package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	cohere "github.com/cohere-ai/cohere-go/v2"
	cohereclient "github.com/cohere-ai/cohere-go/v2/client"
	"go.uber.org/zap"
)

// Supported provider names.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderCohere = "cohere"
)

const (
	defaultGeminiURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultOpenAIURL = "https://api.openai.com/v1"
	defaultTimeout   = 120 * time.Second
	temperature      = 0.3
)

// ErrNotConfigured is returned by Generate when the provider lacks credentials.
var ErrNotConfigured = errors.New("llm provider not configured")

// Provider is the interface for LLM providers.
type Provider interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
	IsConfigured() bool
}

// GeminiProvider calls the Google Generative Language REST API.
type GeminiProvider struct {
	Model   string
	APIKey  string
	BaseURL string
	client  *http.Client
}

// NewGeminiProvider creates a new Gemini provider.
func NewGeminiProvider(model, apiKey string) *GeminiProvider {
	return &GeminiProvider{
		Model:   model,
		APIKey:  apiKey,
		BaseURL: defaultGeminiURL,
		client:  &http.Client{Timeout: defaultTimeout},
	}
}

// IsConfigured checks if the API key is set.
func (g *GeminiProvider) IsConfigured() bool {
	return g.APIKey != ""
}

// Generate sends a prompt to Gemini and returns the concatenated text parts
// of the first candidate.
func (g *GeminiProvider) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if g.APIKey == "" {
		return "", ErrNotConfigured
	}

	body := map[string]any{
		"contents": []map[string]any{
			{"role": "user", "parts": []map[string]string{{"text": prompt}}},
		},
		"generationConfig": map[string]any{
			"maxOutputTokens": maxTokens,
			"temperature":     temperature,
		},
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		strings.TrimRight(g.BaseURL, "/"), url.PathEscape(g.Model), url.QueryEscape(g.APIKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		// The request URL carries the key; keep it out of the error text.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return "", fmt.Errorf("gemini API error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("gemini API returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
			FinishReason string `json:"finishReason"`
		} `json:"candidates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}

	if len(result.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in gemini response")
	}

	var sb strings.Builder
	for _, p := range result.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("empty gemini response (finish reason %q)", result.Candidates[0].FinishReason)
	}
	return sb.String(), nil
}

// OllamaProvider is a local Ollama LLM provider.
type OllamaProvider struct {
	Model   string
	BaseURL string
	client  *http.Client
}

// NewOllamaProvider creates a new Ollama provider.
func NewOllamaProvider(model, baseURL string) *OllamaProvider {
	return &OllamaProvider{
		Model:   model,
		BaseURL: baseURL,
		client:  &http.Client{Timeout: defaultTimeout},
	}
}

// IsConfigured checks if Ollama is running and the model is available.
func (o *OllamaProvider) IsConfigured() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.BaseURL+"/api/tags", nil)
	if err != nil {
		return false
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false
	}

	modelBase := strings.SplitN(o.Model, ":", 2)[0]
	for _, m := range result.Models {
		if strings.Contains(m.Name, modelBase) {
			return true
		}
	}
	zap.L().Warn("Ollama model not found", zap.String("model", o.Model))
	return false
}

// Generate sends a prompt to Ollama and returns the response.
func (o *OllamaProvider) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	body := map[string]any{
		"model": o.Model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"stream": false,
		"options": map[string]any{
			"num_predict": maxTokens,
			"temperature": temperature,
		},
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.BaseURL+"/api/chat", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama API error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollama API returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}

	return result.Message.Content, nil
}

// OpenAIProvider is an OpenAI API provider.
type OpenAIProvider struct {
	Model   string
	APIKey  string
	BaseURL string
	client  *http.Client
}

// NewOpenAIProvider creates a new OpenAI provider.
func NewOpenAIProvider(model, apiKey string) *OpenAIProvider {
	return &OpenAIProvider{
		Model:   model,
		APIKey:  apiKey,
		BaseURL: defaultOpenAIURL,
		client:  &http.Client{Timeout: defaultTimeout},
	}
}

// IsConfigured checks if the API key is set.
func (o *OpenAIProvider) IsConfigured() bool {
	return o.APIKey != ""
}

// Generate sends a prompt to OpenAI and returns the response.
func (o *OpenAIProvider) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if o.APIKey == "" {
		return "", ErrNotConfigured
	}

	body := map[string]any{
		"model": o.Model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"max_tokens":  maxTokens,
		"temperature": temperature,
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(o.BaseURL, "/")+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.APIKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("OpenAI API error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("OpenAI API returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}

	if len(result.Choices) == 0 {
		return "", fmt.Errorf("no choices in OpenAI response")
	}

	return result.Choices[0].Message.Content, nil
}

// CohereProvider uses the Cohere chat API through the official SDK.
type CohereProvider struct {
	Model  string
	APIKey string
	client *cohereclient.Client
}

// NewCohereProvider creates a new Cohere provider.
func NewCohereProvider(model, apiKey string) *CohereProvider {
	return &CohereProvider{
		Model:  model,
		APIKey: apiKey,
		client: cohereclient.NewClient(
			cohereclient.WithToken(apiKey),
			cohereclient.WithHTTPClient(&http.Client{Timeout: defaultTimeout}),
		),
	}
}

// IsConfigured checks if the API key is set.
func (c *CohereProvider) IsConfigured() bool {
	return c.APIKey != ""
}

// Generate sends a prompt to Cohere and returns the response text.
func (c *CohereProvider) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if c.APIKey == "" {
		return "", ErrNotConfigured
	}

	temp := temperature
	resp, err := c.client.Chat(ctx, &cohere.ChatRequest{
		Message:     prompt,
		Model:       &c.Model,
		MaxTokens:   &maxTokens,
		Temperature: &temp,
	})
	if err != nil {
		return "", fmt.Errorf("cohere chat error: %w", err)
	}
	if resp == nil || resp.Text == "" {
		return "", errors.New("cohere chat returned empty response")
	}
	return resp.Text, nil
}

// DefaultModel returns the model used when the configuration names none.
func DefaultModel(provider string) string {
	switch strings.ToLower(provider) {
	case ProviderOpenAI:
		return "gpt-4o-mini"
	case ProviderOllama:
		return "llama3.1:8b"
	case ProviderCohere:
		return "command-r"
	default:
		return "gemini-2.5-flash"
	}
}

// CreateProvider creates an LLM provider based on configuration. Hosted
// providers need apiKey; Ollama only needs a reachable ollamaURL.
func CreateProvider(provider, model, ollamaURL, apiKey string) (Provider, error) {
	name := strings.ToLower(strings.TrimSpace(provider))
	if name == "" {
		name = ProviderGemini
	}
	if model == "" {
		model = DefaultModel(name)
	}

	var p Provider
	switch name {
	case ProviderGemini:
		p = NewGeminiProvider(model, apiKey)
	case ProviderOpenAI:
		p = NewOpenAIProvider(model, apiKey)
	case ProviderCohere:
		p = NewCohereProvider(model, apiKey)
	case ProviderOllama:
		if ollamaURL == "" {
			ollamaURL = "http://localhost:11434"
		}
		o := NewOllamaProvider(model, ollamaURL)
		if !o.IsConfigured() {
			zap.L().Warn("Ollama not reachable, requests will fail until it is", zap.String("url", ollamaURL))
		}
		zap.L().Info("Using LLM provider", zap.String("provider", name), zap.String("model", model))
		return o, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", provider)
	}

	if !p.IsConfigured() {
		return nil, fmt.Errorf("%s: %w (missing API key)", name, ErrNotConfigured)
	}
	zap.L().Info("Using LLM provider", zap.String("provider", name), zap.String("model", model))
	return p, nil
}
