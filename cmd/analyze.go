/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"counterpoint/db"
	"counterpoint/pipeline"

	"github.com/urfave/cli/v2"
)

// analyzeCmd represents the analyze command
func analyzeCmd() *cli.Command {
	return &cli.Command{
		Name:      "analyze",
		Usage:     "Analyze a single article",
		ArgsUsage: "<article-id>",
		Description: `Runs the full analysis pipeline for one article: classification
with the configured provider chain, opposing-query generation and
opposing-article matching.

Analysis is idempotent: an already analyzed article returns its existing
record without calling any provider.

Prints the resulting analysis as JSON on stdout.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				EnvVars: []string{"COUNTERPOINT_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "database",
				Aliases: []string{"d"},
				Usage:   "SQLite database file location",
				EnvVars: []string{"COUNTERPOINT_DATABASE"},
			},
		},
		Action: func(ctx *cli.Context) error {
			articleID := ctx.Args().First()
			if articleID == "" {
				return errors.New("an article id is required")
			}

			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}

			database, err := db.NewDB(cfg.Database.Path)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer database.Close()

			registry, err := buildRegistry(cfg)
			if err != nil {
				return err
			}
			refs, err := providerChain(cfg, registry)
			if err != nil {
				return err
			}

			matcher := pipeline.NewMatcher(database, matcherConfig(cfg), nil)
			orchestrator := pipeline.NewOrchestrator(database, refs, matcher, cfg.Pipeline.MaxQueries, nil)

			analysis, err := orchestrator.Analyze(ctx.Context, articleID)
			if err != nil {
				return err
			}

			encoded, err := json.MarshalIndent(analysis, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(encoded))
			return nil
		},
	}
}
