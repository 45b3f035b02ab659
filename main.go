package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/myjobmatch/matchengine/backfill"
	"github.com/myjobmatch/matchengine/config"
	"github.com/myjobmatch/matchengine/embedding"
	"github.com/myjobmatch/matchengine/enrichment"
	"github.com/myjobmatch/matchengine/gemini"
	"github.com/myjobmatch/matchengine/handlers"
	"github.com/myjobmatch/matchengine/logging"
	"github.com/myjobmatch/matchengine/matching"
	"github.com/myjobmatch/matchengine/mcp"
	"github.com/myjobmatch/matchengine/models"
	"github.com/myjobmatch/matchengine/progress"
	"github.com/myjobmatch/matchengine/scheduler"
	"github.com/myjobmatch/matchengine/sourceadapters"
	"github.com/myjobmatch/matchengine/store"
)

const buildVersion = "1.0.0"

func main() {
	if err := godotenv.Load(); err != nil {
		logging.Component("main").Info().Msg("no .env file found, using environment variables")
	}

	cfg := config.Load()
	logging.Configure(cfg.Debug)
	log := logging.Component("main")

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("configuration error")
	}

	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx := context.Background()

	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := store.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}
	repo := store.New(db)
	log.Info().Msg("store initialized")

	geminiClient, err := gemini.NewClient(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize gemini client")
	}
	defer geminiClient.Close()

	embedder := embedding.New(geminiClient, cfg.EmbedModel)
	enricher := enrichment.New(geminiClient, repo)
	matcher := matching.NewSemanticMatcher(cfg.SemanticThreshold)
	analyzer := matching.NewLLMAnalyzer(geminiClient)
	broker := progress.NewBroker()
	engine := matching.NewEngine(repo, embedder, analyzer, matcher, broker,
		cfg.EmbedWorkers, cfg.LLMWorkers, cfg.LLMThreshold, cfg.ChunkMaxSize, float64(cfg.LLMWorkers))

	adapters := buildAdapters(cfg)
	sched := scheduler.New(repo, enricher, adapters, scheduler.Options{
		EnrichBudgetPerTick: cfg.EnrichPerTick,
		AdapterWorkers:      cfg.EmbedWorkers,
	})
	planner := backfill.New(repo, adapters)

	runStart := func(ctx context.Context, userID string, profile models.CVProfile, forceReanalyze, latestDayOnly bool) {
		opts := matching.Options{ForceReanalyze: forceReanalyze}
		if latestDayOnly {
			opts.Since = time.Now().Truncate(24 * time.Hour)
		}
		engine.RunMatching(ctx, userID, profile, opts)
	}
	matchingHandler := handlers.NewMatchingHandler(broker, repo, planner, sched, runStart, engine.Cancel)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(gin.Logger())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	api := router.Group("/api")
	{
		api.POST("/users/:user_id/matching/start", matchingHandler.StartMatching)
		api.GET("/users/:user_id/matching/status", matchingHandler.GetMatchingStatus)
		api.POST("/users/:user_id/matching/cancel", matchingHandler.CancelMatching)
		api.POST("/users/:user_id/queries", matchingHandler.RegisterUserQueries)
		api.POST("/scheduler/tick", matchingHandler.SchedulerTick)
	}

	if cfg.MCPEnabled {
		go func() {
			mcpServer := mcp.NewServer(buildVersion, enricher, embedder, repo)
			log.Info().Msg("starting MCP server on stdio")
			if err := mcp.Serve(mcpServer); err != nil {
				log.Error().Err(err).Msg("MCP server exited")
			}
		}()
	}

	c := cron.New()
	if _, err := c.AddFunc(cronSpec(cfg.CollectorIntervalMinutes), func() {
		tickCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.CollectorIntervalMinutes)*time.Minute)
		defer cancel()
		if _, err := sched.Tick(tickCtx); err != nil {
			log.Error().Err(err).Msg("scheduler tick failed")
		}
	}); err != nil {
		log.Fatal().Err(err).Msg("failed to schedule collector tick")
	}
	c.Start()
	defer c.Stop()

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("server exited gracefully")
}

// cronSpec builds a robfig/cron spec from a plain interval in minutes.
func cronSpec(intervalMinutes int) string {
	if intervalMinutes <= 0 {
		intervalMinutes = 60
	}
	if intervalMinutes >= 60 && intervalMinutes%60 == 0 {
		return "@every " + time.Duration(intervalMinutes*int(time.Minute)).String()
	}
	return "@every " + time.Duration(intervalMinutes*int(time.Minute)).String()
}

// buildAdapters constructs the enabled source adapters from config.
func buildAdapters(cfg *config.Config) []sourceadapters.Adapter {
	timeout := time.Duration(cfg.HTTPTimeoutSeconds) * time.Second
	enabled := make(map[string]bool, len(cfg.SourcesEnabled))
	for _, name := range cfg.SourcesEnabled {
		enabled[name] = true
	}

	var adapters []sourceadapters.Adapter
	if enabled["adzuna"] && cfg.AdzunaAppID != "" {
		adapters = append(adapters, sourceadapters.NewAdzunaAdapter(cfg.AdzunaAppID, cfg.AdzunaAppKey, timeout))
	}
	if enabled["activejobs"] && cfg.ActiveJobsKey != "" {
		adapters = append(adapters, sourceadapters.NewActiveJobsAdapter(cfg.ActiveJobsKey, timeout))
	}
	if enabled["arbeitsagentur"] && cfg.ArbeitsAgKey != "" {
		adapters = append(adapters, sourceadapters.NewArbeitsagenturAdapter(cfg.ArbeitsAgKey, timeout))
	}
	if enabled["jsearch"] && cfg.JSearchKey != "" {
		adapters = append(adapters, sourceadapters.NewJSearchAdapter(cfg.JSearchKey, timeout))
	}
	if enabled["web"] && cfg.PSEAPIKey != "" {
		adapters = append(adapters, sourceadapters.NewWebAdapter(cfg.PSEAPIKey, cfg.PSEEngineID, timeout))
	}
	return adapters
}
