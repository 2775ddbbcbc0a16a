/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"os"
	"strings"

	"counterpoint/config"

	"github.com/BurntSushi/toml"
	"github.com/cqroot/prompt"
	"github.com/cqroot/prompt/input"
	"github.com/urfave/cli/v2"
)

// initCmd represents the init command
func initCmd() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Create a configuration file interactively",
		Description: `Walks through the most important settings and writes a configuration
file. An existing file at the target path is only replaced after
confirmation.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "counterpoint.toml",
				Usage:   "Path to write the configuration file to",
				EnvVars: []string{"COUNTERPOINT_CONFIG"},
			},
		},
		Action: func(ctx *cli.Context) error {
			path := ctx.String("config")

			if _, err := os.Stat(path); err == nil {
				answer, err := prompt.New().Ask(fmt.Sprintf("%s exists, overwrite? (y/N):", path)).Input("n")
				if err != nil {
					return err
				}
				if !strings.EqualFold(strings.TrimSpace(answer), "y") {
					fmt.Println("Keeping existing config")
					return nil
				}
			}

			cfg := config.Default()

			database, err := prompt.New().Ask("SQLite database path:").Input(cfg.Database.Path)
			if err != nil {
				return err
			}
			cfg.Database.Path = database

			ollamaEndpoint, err := prompt.New().Ask("Ollama endpoint:").Input(cfg.Providers.Backends["ollama"].Endpoint)
			if err != nil {
				return err
			}
			ollamaModel, err := prompt.New().Ask("Ollama model:").Input(cfg.Providers.Backends["ollama"].Model)
			if err != nil {
				return err
			}
			ollama := cfg.Providers.Backends["ollama"]
			ollama.Endpoint = ollamaEndpoint
			ollama.Model = ollamaModel
			cfg.Providers.Backends["ollama"] = ollama

			apiKey, err := prompt.New().Ask("Anthropic API key (empty to disable fallback):").Input("", input.WithEchoMode(input.EchoNone))
			if err != nil {
				return err
			}
			if apiKey == "" {
				cfg.Providers.Fallback = ""
				delete(cfg.Providers.Backends, "claude")
			} else {
				claude := cfg.Providers.Backends["claude"]
				claude.APIKey = apiKey
				cfg.Providers.Backends["claude"] = claude
			}

			file, err := os.Create(path)
			if err != nil {
				return fmt.Errorf("failed to create config file: %w", err)
			}
			defer file.Close()

			if err := toml.NewEncoder(file).Encode(cfg); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}

			fmt.Println("Wrote config to", path)
			return nil
		},
	}
}
