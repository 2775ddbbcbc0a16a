/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"counterpoint/db"
	"counterpoint/pipeline"
	"counterpoint/server"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

// serveCmd represents the serve command
func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the counterpoint HTTP API and run the analysis sweeper",
		Description: `Starts the counterpoint HTTP server and the background analysis sweeper.

Launches the HTTP server on the specified or default port. The sweeper
periodically picks up unanalyzed articles, classifies them with the
configured provider chain and links them to opposing coverage. Analysis
results are streamed to dashboard clients over SSE.`,
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
			&cli.StringFlag{
				Name:    "hostname",
				Aliases: []string{"n"},
				Usage:   "The hostname where the server is running",
				EnvVars: []string{"COUNTERPOINT_HOSTNAME"},
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "The port to listen on",
				EnvVars: []string{"COUNTERPOINT_PORT"},
			},
		},
		Action: func(ctx *cli.Context) error {

			fmt.Println("Starting counterpoint...")

			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			if hostname := ctx.String("hostname"); hostname != "" {
				cfg.Server.Hostname = hostname
			}
			if port := ctx.Int("port"); port != 0 {
				cfg.Server.Port = port
			}

			if err := db.Migrate(cfg.Database.Path); err != nil {
				return fmt.Errorf("failed to migrate database: %w", err)
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

			// Startup health check for backends that support it. A provider
			// being down is not fatal, the chain falls back per call.
			for _, ref := range refs {
				if pinger, ok := ref.Classifier.(interface{ Ping(context.Context) error }); ok {
					if err := pinger.Ping(ctx.Context); err != nil {
						log.WithFields(log.Fields{
							"provider": ref.Name,
							"error":    err,
						}).Warn("Provider health check failed")
					}
				}
			}

			// Channel for passing pipeline events to SSE clients
			eventChan := make(chan interface{}, 100)

			bc := server.NewBroadcaster()
			dispatchDone := make(chan struct{})
			go func() {
				bc.Dispatch(eventChan)
				close(dispatchDone)
			}()

			matcher := pipeline.NewMatcher(database, matcherConfig(cfg), eventChan)
			orchestrator := pipeline.NewOrchestrator(database, refs, matcher, cfg.Pipeline.MaxQueries, eventChan)
			sweeper := pipeline.NewSweeper(database, orchestrator, cfg.Pipeline)

			app := server.Server(&server.ServerConfig{
				Hostname:     cfg.Server.Hostname,
				DB:           database,
				Orchestrator: orchestrator,
				Broadcaster:  bc,
			})

			sweepCtx, cancelSweep := context.WithCancel(ctx.Context)
			defer cancelSweep()

			sweepDone := make(chan struct{})
			go func() {
				fmt.Println("Starting analysis sweeper...")
				sweeper.Run(sweepCtx)
				close(sweepDone)
			}()

			serverDone := make(chan struct{})
			go func() {
				if err := app.Listen(fmt.Sprintf(":%d", cfg.Server.Port)); err != nil {
					log.Error(err)
				}
				close(serverDone)
			}()

			// Graceful shutdown
			c := make(chan os.Signal, 1)
			signal.Notify(c, os.Interrupt)
			<-c
			fmt.Println("Gracefully shutting down...")

			// Stop every event emitter before closing the event channel:
			// sweeper workers and HTTP analyze handlers both send into it
			cancelSweep()
			<-sweepDone
			app.ShutdownWithTimeout(60 * time.Second)
			<-serverDone

			close(eventChan)
			<-dispatchDone
			bc.Shutdown()

			return nil
		},
	}
}
