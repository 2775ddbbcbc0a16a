/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"counterpoint/db"
	"counterpoint/models"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

// ingestCmd represents the ingest command
func ingestCmd() *cli.Command {
	return &cli.Command{
		Name:  "ingest",
		Usage: "Ingest articles from stdin",
		Description: `Reads articles as JSON objects, one per line, from stdin and stores
them in the database.

An article with the same feedId and guid as an existing one replaces its
content instead of creating a duplicate. Articles without a guid are
always created.

Can be fed from any feed fetcher that emits JSON lines, e.g.:

    feed-fetcher | counterpoint ingest -d counterpoint.db`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database",
				Aliases: []string{"d"},
				Value:   "counterpoint.db",
				Usage:   "SQLite database file location",
				EnvVars: []string{"COUNTERPOINT_DATABASE"},
			},
		},
		Action: func(ctx *cli.Context) error {
			database, err := db.NewDB(ctx.String("database"))
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer database.Close()

			scanner := bufio.NewScanner(os.Stdin)
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

			ingested := 0
			failed := 0

			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}

				var article models.Article
				if err := json.Unmarshal([]byte(line), &article); err != nil {
					failed++
					log.WithFields(log.Fields{
						"error": err,
					}).Warn("Skipping malformed article line")
					continue
				}
				if article.FeedID == "" || article.Title == "" {
					failed++
					log.Warn("Skipping article without feedId or title")
					continue
				}

				if _, err := database.CreateArticle(ctx.Context, article); err != nil {
					failed++
					log.WithFields(log.Fields{
						"feedId": article.FeedID,
						"guid":   article.GUID,
						"error":  err,
					}).Error("Failed to store article")
					continue
				}
				ingested++
			}
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("error reading stdin: %w", err)
			}

			fmt.Printf("Ingested %d articles, %d failed\n", ingested, failed)
			return nil
		},
	}
}
