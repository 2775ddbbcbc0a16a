/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"counterpoint/db"
	"counterpoint/models"
	"counterpoint/pipeline"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

// sweepCmd represents the sweep command
func sweepCmd() *cli.Command {
	return &cli.Command{
		Name:  "sweep",
		Usage: "Analyze one batch of unanalyzed articles",
		Description: `Runs a single analysis sweep over the unanalyzed backlog and exits.

Can be scheduled from cron as an alternative to the built-in sweeper in
the serve command.

Returns each completed analysis as a JSON object on a single line. Use a
tool like jq to process the output.

Prints all other log messages to stderr.`,
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
			// Disable logging to stdout
			log.SetOutput(os.Stderr)

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

			eventChan := make(chan interface{}, 100)
			done := make(chan struct{})

			go func() {
				defer close(done)
				for event := range eventChan {
					if completed, ok := event.(models.AnalysisCompletedEvent); ok {
						printStdout(completed.Analysis)
					}
				}
			}()

			matcher := pipeline.NewMatcher(database, matcherConfig(cfg), eventChan)
			orchestrator := pipeline.NewOrchestrator(database, refs, matcher, cfg.Pipeline.MaxQueries, eventChan)
			sweeper := pipeline.NewSweeper(database, orchestrator, cfg.Pipeline)

			count := sweeper.SweepOnce(ctx.Context)
			close(eventChan)
			<-done

			log.Infof("Sweep dispatched %d articles", count)
			return nil
		},
	}
}

func printStdout(analysis models.Analysis) {
	// Print as single JSON string on a single line
	encoded, err := json.Marshal(analysis)
	if err == nil {
		fmt.Println(string(encoded))
	}
}
