package server

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"counterpoint/db"
	"counterpoint/models"
	"counterpoint/pipeline"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cache"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
)

type ServerConfig struct {

	// The hostname to use for the server
	Hostname string

	// Database access for articles, analyses and opposing links
	DB *db.DB

	// Orchestrator to run on-demand analysis requests
	Orchestrator *pipeline.Orchestrator

	// Broadcast channels to pass pipeline events to SSE clients
	Broadcaster *Broadcaster
}

// Make it sync
type Broadcaster struct {
	sync.RWMutex
	analysisClients map[string]chan models.AnalysisCompletedEvent
	linksClients    map[string]chan models.LinksCreatedEvent
}

// Constructor
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		analysisClients: make(map[string]chan models.AnalysisCompletedEvent, 10000),
		linksClients:    make(map[string]chan models.LinksCreatedEvent, 10000),
	}
}

func (b *Broadcaster) BroadcastAnalysis(event models.AnalysisCompletedEvent) {
	b.RLock()
	defer b.RUnlock()

	for id, client := range b.analysisClients {
		select {
		case client <- event: // Non-blocking send
		default:
			log.Warnf("Client channel full, skipping analysis event for client: %v", id)
		}
	}
}

func (b *Broadcaster) BroadcastLinks(event models.LinksCreatedEvent) {
	b.RLock()
	defer b.RUnlock()

	for id, client := range b.linksClients {
		select {
		case client <- event: // Non-blocking send
		default:
			log.Warnf("Client channel full, skipping links event for client: %v", id)
		}
	}
}

// Function to add a client to the broadcaster
func (b *Broadcaster) AddClient(key string, analysisClient chan models.AnalysisCompletedEvent, linksClient chan models.LinksCreatedEvent) {
	b.Lock()
	defer b.Unlock()
	b.analysisClients[key] = analysisClient
	b.linksClients[key] = linksClient
	log.WithFields(log.Fields{
		"key":   key,
		"count": len(b.analysisClients),
	}).Info("Adding client to broadcaster")
}

// Function to remove a client from the broadcaster
func (b *Broadcaster) RemoveClient(key string) {
	b.Lock()
	defer b.Unlock()

	if client, ok := b.analysisClients[key]; ok {
		close(client)
		delete(b.analysisClients, key)
	}

	if client, ok := b.linksClients[key]; ok {
		close(client)
		delete(b.linksClients, key)
	}

	log.WithFields(log.Fields{
		"key":   key,
		"count": len(b.analysisClients),
	}).Info("Removed client from broadcaster")
}

func (b *Broadcaster) Shutdown() {
	log.Info("Shutting down broadcaster")
	b.Lock()
	defer b.Unlock()
	for _, client := range b.analysisClients {
		close(client)
	}
	for _, client := range b.linksClients {
		close(client)
	}
	b.analysisClients = make(map[string]chan models.AnalysisCompletedEvent)
	b.linksClients = make(map[string]chan models.LinksCreatedEvent)
}

// Dispatch fans pipeline events out to SSE clients until the channel closes
func (b *Broadcaster) Dispatch(events <-chan interface{}) {
	for event := range events {
		switch e := event.(type) {
		case models.AnalysisCompletedEvent:
			b.BroadcastAnalysis(e)
		case models.LinksCreatedEvent:
			b.BroadcastLinks(e)
		}
	}
}

// Returns a fiber.App instance to be used as an HTTP server for the
// counterpoint analysis pipeline
func Server(config *ServerConfig) *fiber.App {

	bc := config.Broadcaster

	app := fiber.New()

	// Middleware to track the latency of each request
	app.Use(func(c *fiber.Ctx) error {
		// start timer
		start := time.Now()

		// next routes
		err := c.Next()

		// stop timer
		stop := time.Now()

		// Diff
		log.WithFields(log.Fields{
			"method":  c.Method(),
			"route":   c.Route().Path,
			"latency": stop.Sub(start),
		}).Info("Request")
		return err
	})

	app.Use(requestid.New(requestid.ConfigDefault))
	app.Use(compress.New())

	app.Use(func(c *fiber.Ctx) error {
		corsConfig := cors.Config{
			AllowOrigins:     "http://localhost:3001",
			AllowHeaders:     "Cache-Control",
			AllowCredentials: true,
		}
		return cors.New(corsConfig)(c)
	})

	// Cache dashboard aggregates, never the event stream
	app.Use(cache.New(cache.Config{
		Next: func(c *fiber.Ctx) bool {

			if c.Method() != "GET" {
				return true
			}

			if strings.HasSuffix(c.Path(), "/events") {
				return true
			}

			if strings.HasPrefix(c.Path(), "/dashboard") {
				return false
			}
			return true
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			// Include the query parameters in the cache key
			return c.Request().URI().String()
		},
	}))

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(map[string]interface{}{
			"service":  "counterpoint",
			"hostname": config.Hostname,
		})
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// Create an article, or update it when the (feed, guid) pair exists
	app.Post("/articles", func(c *fiber.Ctx) error {
		var article models.Article
		if err := json.Unmarshal(c.Body(), &article); err != nil {
			return c.Status(400).SendString("Invalid article payload")
		}
		if article.FeedID == "" || article.Title == "" {
			return c.Status(400).SendString("feedId and title are required")
		}

		created, err := config.DB.CreateArticle(c.Context(), article)
		if err != nil {
			log.WithFields(log.Fields{
				"error": err,
			}).Error("Error creating article")
			return c.Status(500).SendString("Error creating article")
		}
		return c.Status(201).JSON(created)
	})

	app.Get("/articles/:id", func(c *fiber.Ctx) error {
		article, err := config.DB.GetArticle(c.Context(), c.Params("id"))
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				return c.Status(404).SendString("Article not found")
			}
			return c.Status(500).SendString("Error getting article")
		}
		return c.JSON(article)
	})

	// Run analysis for one article. Idempotent: an analyzed article returns
	// its existing record.
	app.Post("/articles/:id/analyze", func(c *fiber.Ctx) error {
		id := c.Params("id")

		analysis, err := config.Orchestrator.Analyze(c.Context(), id)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				return c.Status(404).SendString("Article not found")
			}
			log.WithFields(log.Fields{
				"articleId": id,
				"error":     err,
			}).Error("Error analyzing article")
			return c.Status(502).SendString("Analysis failed")
		}
		return c.JSON(analysis)
	})

	app.Get("/articles/:id/analysis", func(c *fiber.Ctx) error {
		analysis, err := config.DB.GetAnalysis(c.Context(), c.Params("id"))
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				return c.Status(404).SendString("Analysis not found")
			}
			return c.Status(500).SendString("Error getting analysis")
		}
		return c.JSON(analysis)
	})

	app.Get("/articles/:id/opposing", func(c *fiber.Ctx) error {
		links, err := config.DB.ListOpposingLinks(c.Context(), c.Params("id"))
		if err != nil {
			return c.Status(500).SendString("Error getting opposing links")
		}
		if links == nil {
			links = []models.OpposingLink{}
		}
		return c.JSON(links)
	})

	app.Get("/pipeline/unanalyzed", func(c *fiber.Ctx) error {
		limit := c.QueryInt("limit", 20)
		if limit < 1 || limit > 100 {
			limit = 20
		}

		articles, err := config.DB.ListUnanalyzed(c.Context(), limit)
		if err != nil {
			return c.Status(500).SendString("Error listing unanalyzed articles")
		}
		if articles == nil {
			articles = []models.Article{}
		}
		return c.JSON(articles)
	})

	app.Get("/dashboard/analyses-per-time", func(c *fiber.Ctx) error {
		provider := c.Query("provider", "")
		time := c.Query("time", "")

		if time == "" {
			time = "hour"
		}

		// check if time is hour, day or week
		if time != "hour" && time != "day" && time != "week" {
			return c.Status(400).SendString("Invalid time")
		}

		analysesPerTime, err := config.DB.GetAnalysisCountPerTime(provider, time)
		if err != nil {
			log.WithFields(log.Fields{
				"error": err,
			}).Error("Error getting analyses per time")

			return c.Status(500).SendString("Error getting analyses per time")
		}

		log.WithFields(log.Fields{
			"provider": provider,
			"count":    len(analysesPerTime),
		}).Info("Get analyses per time")

		return c.Status(200).JSON(analysesPerTime)
	})

	app.Delete("/dashboard/events", func(c *fiber.Ctx) error {
		key := c.Query("key", "")
		bc.RemoveClient(key)
		return c.Status(200).SendString("OK")
	})

	app.Get("/dashboard/events", func(c *fiber.Ctx) error {
		c.Set("Content-Type", "text/event-stream")
		c.Set("Cache-Control", "no-cache")
		c.Set("Connection", "keep-alive")
		c.Set("Transfer-Encoding", "chunked")

		// Unique client key
		key := uuid.New().String()
		sseAnalysisChannel := make(chan models.AnalysisCompletedEvent, 10) // Buffered channel
		sseLinksChannel := make(chan models.LinksCreatedEvent, 10)
		aliveChan := time.NewTicker(5 * time.Second)

		defer aliveChan.Stop()

		// Register the client
		bc.AddClient(key, sseAnalysisChannel, sseLinksChannel)

		// Cleanup function
		cleanup := func() {
			log.Infof("Cleaning up SSE stream for client: %s", key)
			bc.RemoveClient(key)
		}

		// Use StreamWriter to manage SSE streaming
		c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
			defer cleanup()

			// Send initial event with client key
			fmt.Fprintf(w, "event: init\ndata: %s\n\n", key)
			if err := w.Flush(); err != nil {
				log.Errorf("Failed to send init event: %v", err)
				return
			}

			// Start streaming loop
			for {
				select {
				case <-aliveChan.C:
					// Send keep-alive pings
					if _, err := fmt.Fprintf(w, "event: ping\ndata: \n\n"); err != nil {
						log.Warnf("Failed to send ping to client %s: %v", key, err)
						return
					}
					if err := w.Flush(); err != nil {
						log.Warnf("Failed to flush ping for client %s: %v", key, err)
						return
					}

				case event, ok := <-sseAnalysisChannel:
					if !ok {
						log.Warnf("AnalysisChannel closed for client %s", key)
						return
					}
					jsonAnalysis, err := json.Marshal(event.Analysis)
					if err != nil {
						log.Errorf("Error marshalling analysis for client %s: %v", key, err)
						continue
					}
					if _, err := fmt.Fprintf(w, "event: analysis-completed\ndata: %s\n\n", jsonAnalysis); err != nil {
						log.Warnf("Failed to send analysis event to client %s: %v", key, err)
						return
					}
					if err := w.Flush(); err != nil {
						log.Warnf("Failed to flush analysis event for client %s: %v", key, err)
						return
					}

				case event, ok := <-sseLinksChannel:
					if !ok {
						log.Warnf("LinksChannel closed for client %s", key)
						return
					}
					jsonLinks, err := json.Marshal(event)
					if err != nil {
						log.Errorf("Error marshalling links for client %s: %v", key, err)
						continue
					}
					if _, err := fmt.Fprintf(w, "event: links-created\ndata: %s\n\n", jsonLinks); err != nil {
						log.Warnf("Failed to send links event to client %s: %v", key, err)
						return
					}
					if err := w.Flush(); err != nil {
						log.Warnf("Failed to flush links event for client %s: %v", key, err)
						return
					}
				}
			}
		}))

		return nil
	})

	return app
}
