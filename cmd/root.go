/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"fmt"
	"os"

	"counterpoint/config"
	"counterpoint/pipeline"
	"counterpoint/providers"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func RootApp() *cli.App {
	return &cli.App{
		Name:  "counterpoint",
		Usage: "Bias analysis and opposing-viewpoint discovery for news articles",
		Description: `Analyzes ingested news articles for political bias and content type
		using a configurable LLM provider chain, then links each article to
		published coverage of the same topic from the opposite perspective.

		Articles are stored in an SQLite database with a full text search
		index. The analysis results and opposing-article links can be
		accessed via the HTTP API.

		Flags can generally be set via environment variables, e.g.:

		--database => COUNTERPOINT_DATABASE=counterpoint.db
		--port => COUNTERPOINT_PORT=3000
		`,
		Commands: []*cli.Command{
			serveCmd(),
			migrateCmd(),
			rollbackCmd(),
			analyzeCmd(),
			sweepCmd(),
			ingestCmd(),
			initCmd(),
			tidyCmd(),
		},
		Action: func(ctx *cli.Context) error {
			// Show help if no command is specified
			return ctx.App.Run([]string{"", "help"})
		},
	}
}

func Execute() {
	if err := RootApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// loadConfig reads the config file when one is given and applies the
// database flag override.
func loadConfig(ctx *cli.Context) (*config.Config, error) {
	cfg := config.Default()

	if path := ctx.String("config"); path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if database := ctx.String("database"); database != "" {
		cfg.Database.Path = database
	}

	return cfg, nil
}

// buildRegistry constructs the classifier for every configured backend.
// Backends are an open set; a new provider only needs a case here.
func buildRegistry(cfg *config.Config) (*providers.Registry, error) {
	registry := providers.NewRegistry()
	for name, backend := range cfg.Providers.Backends {
		switch name {
		case "ollama":
			registry.Register(name, providers.NewOllamaClassifier(backend))
		case "claude":
			registry.Register(name, providers.NewClaudeClassifier(backend))
		default:
			return nil, fmt.Errorf("no adapter for provider backend %q", name)
		}
	}
	return registry, nil
}

// providerChain resolves the configured primary and fallback classifiers,
// in that order.
func providerChain(cfg *config.Config, registry *providers.Registry) ([]pipeline.ProviderRef, error) {
	var refs []pipeline.ProviderRef
	for _, name := range []string{cfg.Providers.Primary, cfg.Providers.Fallback} {
		if name == "" {
			continue
		}
		classifier, ok := registry.Get(name)
		if !ok {
			return nil, fmt.Errorf("provider %q is not registered, available: %v", name, registry.Names())
		}
		refs = append(refs, pipeline.ProviderRef{
			Name:       name,
			Classifier: classifier,
			Timeout:    cfg.Providers.Backends[name].CallTimeout(),
		})
	}
	if len(refs) == 0 {
		return nil, errors.New("no providers configured")
	}
	return refs, nil
}

func matcherConfig(cfg *config.Config) pipeline.MatcherConfig {
	return pipeline.MatcherConfig{
		CandidatesPerQuery: cfg.Pipeline.CandidatesPerQuery,
		MinRelevance:       cfg.Pipeline.MinRelevance,
		MaxLinks:           cfg.Pipeline.MaxLinks,
		LexicalWeight:      cfg.Pipeline.LexicalWeight,
		BiasWeight:         cfg.Pipeline.BiasWeight,
	}
}
