package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/kadirpekel/sahayak/pkg/classifier"
	"github.com/kadirpekel/sahayak/pkg/config"
	"github.com/kadirpekel/sahayak/pkg/config/provider"
	"github.com/kadirpekel/sahayak/pkg/embedder"
	"github.com/kadirpekel/sahayak/pkg/llms"
	"github.com/kadirpekel/sahayak/pkg/orchestrator"
	"github.com/kadirpekel/sahayak/pkg/retrieval"
	"github.com/kadirpekel/sahayak/pkg/session"
	"github.com/kadirpekel/sahayak/pkg/synthesizer"
	"github.com/kadirpekel/sahayak/pkg/tools"
	"github.com/kadirpekel/sahayak/pkg/utils"
	"github.com/kadirpekel/sahayak/pkg/vector"
)

// openConfig loads the configuration from the selected source and keeps the
// loader open so callers can watch it. With no path and the file source, the
// defaults are used and the loader is nil.
func openConfig(ctx context.Context, cli *CLI, opts ...config.LoaderOption) (*config.Config, *config.Loader, error) {
	typ, err := provider.ParseType(cli.ConfigType)
	if err != nil {
		return nil, nil, err
	}

	switch {
	case typ == provider.TypeFile && cli.Config == "":
		cfg := config.Default()
		if err := cfg.Validate(); err != nil {
			return nil, nil, fmt.Errorf("default configuration is invalid: %w", err)
		}
		slog.Debug("Using default configuration")
		return cfg, nil, nil
	case typ == provider.TypeFile:
		cfg, loader, err := config.LoadConfigFile(ctx, cli.Config, opts...)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("Loaded configuration", "path", cli.Config)
		return cfg, loader, nil
	default:
		cfg, loader, err := config.LoadConfig(ctx, provider.ProviderConfig{
			Type:      typ,
			Path:      cli.Config,
			Endpoints: cli.ConfigEndpoints,
		}, opts...)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("Loaded configuration", "type", typ, "path", cli.Config)
		return cfg, loader, nil
	}
}

// loadConfig is openConfig for one-shot commands. Logging is re-initialised
// from the config's logging section.
func loadConfig(ctx context.Context, cli *CLI) (*config.Config, func(), error) {
	cfg, loader, err := openConfig(ctx, cli)
	if err != nil {
		return nil, nil, err
	}
	if loader != nil {
		_ = loader.Close()
	}

	cleanup, err := applyConfigLogging(cli, cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	return cfg, cleanup, nil
}

// app holds every long-lived component of one process.
type app struct {
	cfg      *config.Config
	llm      llms.Provider
	embedder embedder.Embedder
	vectors  vector.Provider
	registry *tools.Registry
	store    session.Store
	engine   *orchestrator.Engine
}

// newKnowledge opens the embedder and vector store shared by ingest and
// retrieval.
func newKnowledge(ctx context.Context, cfg *config.Config) (embedder.Embedder, vector.Provider, error) {
	emb, err := embedder.New(ctx, cfg.Embedder)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	vs, err := vector.New(cfg.Vector)
	if err != nil {
		_ = emb.Close()
		return nil, nil, fmt.Errorf("failed to create vector store: %w", err)
	}
	return emb, vs, nil
}

func buildApp(ctx context.Context, cfg *config.Config) (a *app, err error) {
	a = &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if a.llm, err = llms.New(ctx, cfg.LLM); err != nil {
		return nil, fmt.Errorf("failed to create LLM provider: %w", err)
	}

	// A knowledge base is optional; without one the other tools still work.
	var retriever tools.Retriever
	if a.embedder, a.vectors, err = newKnowledge(ctx, cfg); err != nil {
		slog.Warn("Knowledge base unavailable", "error", err)
		err = nil
	} else {
		retriever = retrieval.New(a.embedder, a.vectors, cfg.Vector.Collection, cfg.Retrieval)
	}

	synth := synthesizer.New(a.llm)
	a.registry, err = tools.BuildRegistry(ctx, cfg.Tools, tools.Deps{
		Retriever:   retriever,
		LLM:         a.llm,
		Synthesizer: synth,
		Tokens:      utils.NewTokenCounter(cfg.LLM.Model),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build tool registry: %w", err)
	}

	cls, err := classifier.New(cfg.Classifier, a.llm)
	if err != nil {
		return nil, fmt.Errorf("failed to create classifier: %w", err)
	}

	if a.store, err = session.New(ctx, cfg.Session); err != nil {
		return nil, fmt.Errorf("failed to create session store: %w", err)
	}

	a.engine, err = orchestrator.New(cfg.Orchestrator, orchestrator.Deps{
		LLM:         a.llm,
		Tools:       a.registry,
		Classifier:  cls,
		Synthesizer: synth,
		Store:       a.store,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Close releases components in reverse construction order.
func (a *app) Close() {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.registry != nil {
		errs = append(errs, a.registry.Close())
	}
	if a.vectors != nil {
		errs = append(errs, a.vectors.Close())
	}
	if a.embedder != nil {
		errs = append(errs, a.embedder.Close())
	}
	if a.llm != nil {
		errs = append(errs, a.llm.Close())
	}
	if err := errors.Join(errs...); err != nil {
		slog.Warn("Shutdown errors", "error", err)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
