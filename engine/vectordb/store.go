package vectordb

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	defaultTopK       = 5
	defaultCollection = "security_logs"
)

var (
	errMissingProvider  = errors.New("vectordb: provider is required")
	errMissingDSN       = errors.New("vectordb: dsn is required")
	errInvalidDimension = errors.New("vectordb: dimension must be greater than zero")
)

// New instantiates a vector store backed by the requested provider.
func New(ctx context.Context, cfg *Config) (Store, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	switch cfg.Provider {
	case ProviderChromem:
		return newChromemStore(cfg)
	case ProviderPGVector:
		return newPGStore(ctx, cfg)
	case ProviderQdrant:
		return newQdrantStore(ctx, cfg)
	case ProviderRedis:
		return newRedisStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("vectordb: provider %q is not supported", cfg.Provider)
	}
}

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return errors.New("vectordb: config is required")
	}
	if strings.TrimSpace(string(cfg.Provider)) == "" {
		return errMissingProvider
	}
	cfg.DSN = strings.TrimSpace(cfg.DSN)
	cfg.Path = strings.TrimSpace(cfg.Path)
	switch cfg.Provider {
	case ProviderPGVector, ProviderQdrant, ProviderRedis:
		if cfg.DSN == "" {
			return fmt.Errorf("vectordb %s: %w", cfg.Provider, errMissingDSN)
		}
	}
	if cfg.Dimension <= 0 {
		return fmt.Errorf("vectordb %s: %w", cfg.Provider, errInvalidDimension)
	}
	if cfg.MaxTopK < 0 {
		return fmt.Errorf("vectordb %s: max_top_k must be non-negative", cfg.Provider)
	}
	if strings.TrimSpace(cfg.Collection) == "" {
		cfg.Collection = defaultCollection
	}
	return nil
}
