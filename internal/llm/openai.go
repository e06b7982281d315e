package llm

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/mohammad-safakhou/deepresearch/config"
	"github.com/mohammad-safakhou/deepresearch/internal/helpers"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIProvider implements Provider against an OpenAI compatible chat completions API.
type OpenAIProvider struct {
	config config.LLMProvider
	http   *helpers.HTTPClient
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(cfg config.LLMProvider) *OpenAIProvider {
	return &OpenAIProvider{
		config: cfg,
		http:   helpers.NewHTTPClient(cfg.Timeout, cfg.MaxRetries, 0),
	}
}

type chatMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatReq struct {
	Model          string          `json:"model"`
	Messages       []chatMsg       `json:"messages"`
	Temperature    float64         `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResp struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Generate generates text using chat completions
func (p *OpenAIProvider) Generate(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, error) {
	apiKey := p.config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return "", fmt.Errorf("OpenAI API key not configured")
	}

	params := resolveModel(p.config.Models, model, options)
	req := chatReq{
		Model:       params.apiName,
		Temperature: params.temperature,
		MaxTokens:   params.maxTokens,
	}
	if params.system != "" {
		req.Messages = append(req.Messages, chatMsg{Role: "system", Content: params.system})
	}
	req.Messages = append(req.Messages, chatMsg{Role: "user", Content: prompt})
	if params.json {
		req.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	baseURL := strings.TrimRight(p.config.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	headers := map[string]string{"Authorization": "Bearer " + apiKey}

	var out chatResp
	if err := p.http.DoJSON(ctx, "POST", baseURL+"/chat/completions", headers, req, &out); err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", ErrEmptyAnswer
	}
	return out.Choices[0].Message.Content, nil
}
