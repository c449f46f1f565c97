package cmd

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"golang.org/x/time/rate"

	"github.com/aluque/prospecto/internal/chat"
	"github.com/aluque/prospecto/internal/config"
	"github.com/aluque/prospecto/internal/leaflet"
	"github.com/aluque/prospecto/internal/log"
	"github.com/aluque/prospecto/internal/registry"
	"github.com/aluque/prospecto/internal/session"
)

// llmRequestsPerSecond caps outbound model calls, retries included.
const llmRequestsPerSecond = 1

// app bundles the wired collaborators shared by console and serve modes.
type app struct {
	cfg      *config.Config
	logger   log.Logger
	store    *session.Store
	registry *registry.Client
	fetcher  *leaflet.Fetcher
	engine   *chat.Engine
}

// setup loads configuration, verifies startup preconditions, and wires
// the registry client, leaflet fetcher, model engine, and session store.
func setup(ctx context.Context, logger log.Logger) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.ValidateStartup(); err != nil {
		return nil, err
	}

	reg, err := registry.New(registry.Config{
		BaseURL:  cfg.RegistryBaseURL,
		PageSize: cfg.RegistryPageSize,
		Timeout:  cfg.RegistryTimeout,
		CacheTTL: cfg.CacheTTL,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating registry client: %w", err)
	}

	fetcher, err := leaflet.New(leaflet.Config{
		URLTemplate: cfg.LeafletURLTemplate,
		Timeout:     cfg.LeafletTimeout,
		MaxChars:    cfg.LeafletMaxChars,
		CacheTTL:    cfg.CacheTTL,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating leaflet fetcher: %w", err)
	}

	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))

	engine, err := chat.New(&chat.Config{
		Genkit:        g,
		Logger:        logger,
		ModelName:     cfg.ModelName,
		Temperature:   cfg.Temperature,
		HistoryWindow: cfg.HistoryWindow,
		TurnTimeout:   cfg.TurnTimeout,
		RateLimiter:   rate.NewLimiter(rate.Limit(llmRequestsPerSecond), 3),
	})
	if err != nil {
		return nil, fmt.Errorf("creating chat engine: %w", err)
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    session.NewStore(cfg.SessionIdleTimeout, logger),
		registry: reg,
		fetcher:  fetcher,
		engine:   engine,
	}, nil
}
