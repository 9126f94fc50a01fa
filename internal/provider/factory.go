package provider

import (
	"fmt"
	"log/slog"

	"korah/internal/config"
	"korah/internal/domain"
)

// FromConfig builds the one provider selected by the resolved snapshot.
// The choice is made once at startup; the rest of the program only sees
// the domain.Provider interface.
func FromConfig(cfg *config.Resolved, logger *slog.Logger) (domain.Provider, error) {
	client := SharedHTTPClient(cfg.Timeout)

	switch cfg.API {
	case config.APIOllama:
		return NewOllama(OllamaConfig{
			APIBase: cfg.BaseURL,
			Model:   cfg.Model,
			Client:  client,
			Logger:  logger,
		}), nil
	case config.APIOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("open_ai backend selected but %s resolves empty", config.KeyOpenAIKey)
		}
		return NewOpenAI(OpenAIConfig{
			APIKey:  cfg.APIKey,
			APIBase: cfg.BaseURL,
			Model:   cfg.Model,
			Client:  client,
			Logger:  logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown llm api: %s", cfg.API)
	}
}
