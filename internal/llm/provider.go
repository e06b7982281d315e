package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mohammad-safakhou/deepresearch/config"
	"go.uber.org/zap"
)

// Provider is the interface that all LLM implementations must satisfy
type Provider interface {
	// Generate returns the model completion for prompt. model is a configured model key
	// or, when no such key exists, the provider's own model name.
	Generate(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, error)
}

// Recognised Generate options.
const (
	OptionSystem      = "system"
	OptionTemperature = "temperature"
	OptionMaxTokens   = "max_tokens"
	OptionJSON        = "json"
)

var (
	ErrNoProviders  = errors.New("no LLM providers configured")
	ErrEmptyAnswer  = errors.New("model returned an empty response")
	ErrMissingModel = errors.New("model name is required")
)

// NewProvider creates a client for a single provider configuration.
func NewProvider(ctx context.Context, cfg config.LLMProvider) (Provider, error) {
	switch cfg.Type {
	case "gemini":
		return NewGeminiProvider(ctx, cfg)
	case "openai":
		return NewOpenAIProvider(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider type: %s", cfg.Type)
	}
}

// Router sends each request to the provider that declares the requested model
// key. Unknown keys go to the default provider.
type Router struct {
	providers   map[string]Provider
	owners      map[string]string
	defaultName string
	logger      *zap.Logger
}

// NewRouter builds every configured provider. The default provider is the first by name.
func NewRouter(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (*Router, error) {
	if len(cfg.Providers) == 0 {
		return nil, ErrNoProviders
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		names = append(names, name)
	}
	sort.Strings(names)

	providers := make(map[string]Provider, len(names))
	owners := make(map[string]string)
	for _, name := range names {
		pc := cfg.Providers[name]
		p, err := NewProvider(ctx, pc)
		if err != nil {
			return nil, fmt.Errorf("llm provider %s: %w", name, err)
		}
		providers[name] = p
		for key := range pc.Models {
			if _, taken := owners[key]; !taken {
				owners[key] = name
			}
		}
	}
	return newRouter(providers, owners, names[0], logger), nil
}

func newRouter(providers map[string]Provider, owners map[string]string, defaultName string, logger *zap.Logger) *Router {
	return &Router{providers: providers, owners: owners, defaultName: defaultName, logger: logger.Named("llm")}
}

// Generate dispatches to the owning provider.
func (r *Router) Generate(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, error) {
	if strings.TrimSpace(model) == "" {
		return "", ErrMissingModel
	}
	name, ok := r.owners[model]
	if !ok {
		name = r.defaultName
	}
	p, ok := r.providers[name]
	if !ok {
		return "", fmt.Errorf("llm provider %s not found", name)
	}
	out, err := p.Generate(ctx, prompt, model, options)
	if err != nil {
		r.logger.Warn("generation failed", zap.String("provider", name), zap.String("model", model), zap.Error(err))
		return "", err
	}
	r.logger.Debug("generation complete", zap.String("provider", name), zap.String("model", model), zap.Int("chars", len(out)))
	return out, nil
}

type modelParams struct {
	apiName     string
	temperature float64
	maxTokens   int
	system      string
	json        bool
}

// resolveModel merges the configured model entry with per-call options.
func resolveModel(models map[string]config.LLMModel, model string, options map[string]interface{}) modelParams {
	p := modelParams{apiName: model}
	if m, ok := models[model]; ok {
		if m.APIName != "" {
			p.apiName = m.APIName
		} else if m.Name != "" {
			p.apiName = m.Name
		}
		p.temperature = m.Temperature
		p.maxTokens = m.MaxTokens
	}
	if t, ok := options[OptionTemperature].(float64); ok {
		p.temperature = t
	}
	if mt, ok := options[OptionMaxTokens].(int); ok {
		p.maxTokens = mt
	}
	if s, ok := options[OptionSystem].(string); ok {
		p.system = s
	}
	if j, ok := options[OptionJSON].(bool); ok {
		p.json = j
	}
	return p
}
