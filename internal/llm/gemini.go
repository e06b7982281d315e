package llm

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mohammad-safakhou/deepresearch/config"
	"google.golang.org/genai"
)

// GeminiProvider implements Provider with the Google GenAI SDK.
type GeminiProvider struct {
	config  config.LLMProvider
	client  *genai.Client
	retries int
	backoff time.Duration
}

// NewGeminiProvider creates a Gemini API client. The key falls back to GOOGLE_API_KEY.
func NewGeminiProvider(ctx context.Context, cfg config.LLMProvider) (*GeminiProvider, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("GOOGLE_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}
	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return &GeminiProvider{config: cfg, client: client, retries: retries, backoff: 500 * time.Millisecond}, nil
}

// Generate generates text using Gemini
func (p *GeminiProvider) Generate(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, error) {
	params := resolveModel(p.config.Models, model, options)

	gc := &genai.GenerateContentConfig{}
	if params.temperature > 0 {
		gc.Temperature = genai.Ptr(float32(params.temperature))
	}
	if params.maxTokens > 0 {
		gc.MaxOutputTokens = int32(params.maxTokens)
	}
	if params.system != "" {
		gc.SystemInstruction = genai.NewContentFromText(params.system, genai.RoleUser)
	}
	if params.json {
		gc.ResponseMIMEType = "application/json"
	}

	if p.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()
	}

	var lastErr error
	for attempt := 0; attempt <= p.retries; attempt++ {
		resp, err := p.client.Models.GenerateContent(ctx, params.apiName, genai.Text(prompt), gc)
		if err == nil {
			text := strings.TrimSpace(resp.Text())
			if text == "" {
				return "", ErrEmptyAnswer
			}
			return text, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if attempt < p.retries {
			select {
			case <-time.After(p.backoff * time.Duration(1<<attempt)):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	return "", fmt.Errorf("gemini generate %s: %w", params.apiName, lastErr)
}
