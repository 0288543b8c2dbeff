// Package app wires configuration, storage, the realtime provider and the
// HTTP surface into one runnable gateway.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/iammarcin/backend-sub006/internal/audio"
	"github.com/iammarcin/backend-sub006/internal/config"
	"github.com/iammarcin/backend-sub006/internal/history"
	"github.com/iammarcin/backend-sub006/internal/httpapi"
	"github.com/iammarcin/backend-sub006/internal/observability"
	"github.com/iammarcin/backend-sub006/internal/provider"
	"github.com/iammarcin/backend-sub006/internal/realtime"
	"github.com/iammarcin/backend-sub006/internal/registry"
	"github.com/iammarcin/backend-sub006/internal/session"
)

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Sessions *session.Manager
	Engine   *realtime.Engine
	Metrics  *observability.Metrics
	Provider string

	// Cleanup releases external resources (database pool) on shutdown.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, log *slog.Logger) (*BuildResult, error) {
	if log == nil {
		log = slog.Default()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store, err := history.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("history store init failed: %w", err)
	}

	prov, providerName, err := resolveProvider(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	log.Info("realtime provider selected", "provider", providerName)

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(_ *session.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
	})

	conns := registry.New()
	validator := audio.NewValidator(cfg.AudioFormat, cfg.AudioSampleRate, cfg.AudioMinFrame)

	engine := realtime.NewEngine(
		sessions,
		prov,
		store,
		conns,
		validator,
		metrics,
		log,
		"",
		cfg.StreamQueueSize,
	)

	api := httpapi.New(cfg, sessions, engine, store, conns, metrics, log)

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Sessions: sessions,
		Engine:   engine,
		Metrics:  metrics,
		Provider: providerName,
		Cleanup:  store.Close,
	}, nil
}

// resolveProvider picks the upstream backend. Mode auto uses OpenAI when a
// key is present and the deterministic mock otherwise, so the gateway always
// starts.
func resolveProvider(cfg config.Config) (provider.Provider, string, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.ProviderMode))
	switch mode {
	case "", "auto":
		if cfg.OpenAIAPIKey != "" {
			return openAIFromConfig(cfg), "openai", nil
		}
		return provider.NewMockProvider(), "mock", nil
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, "", fmt.Errorf("REALTIME_PROVIDER=openai requires OPENAI_API_KEY")
		}
		return openAIFromConfig(cfg), "openai", nil
	case "mock":
		return provider.NewMockProvider(), "mock", nil
	default:
		return nil, "", fmt.Errorf("unknown REALTIME_PROVIDER %q", cfg.ProviderMode)
	}
}

func openAIFromConfig(cfg config.Config) *provider.OpenAIProvider {
	return provider.NewOpenAIProvider(provider.OpenAIConfig{
		APIKey:          cfg.OpenAIAPIKey,
		BaseURL:         cfg.OpenAIRealtimeURL,
		Model:           cfg.OpenAIModel,
		TranscribeModel: cfg.OpenAITranscribeModel,
	})
}
