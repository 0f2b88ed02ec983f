package main

import (
	"log"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/peakform/coaching-platform/internal/config"
	"github.com/peakform/coaching-platform/internal/database"
	"github.com/peakform/coaching-platform/internal/handler"
	"github.com/peakform/coaching-platform/internal/middleware"
	"github.com/peakform/coaching-platform/internal/oauth"
	"github.com/peakform/coaching-platform/internal/queue"
	"github.com/peakform/coaching-platform/internal/repository"
	"github.com/peakform/coaching-platform/internal/router"
	"github.com/peakform/coaching-platform/internal/service"
)

func main() {
	// Load .env when present; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.Load() // exits if the signing secret or algorithm is unset

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	users := repository.NewUserRepo(db)
	tokens := repository.NewTokenRepo(db)
	sessions := service.NewSession(cfg, users, tokens)

	var google *oauth.GoogleResolver
	if cfg.GoogleClientID != "" && cfg.GoogleClientSecret != "" && cfg.GoogleRedirectURL != "" {
		google = oauth.NewGoogleResolver(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL)
	} else {
		log.Printf("google login disabled: client credentials not configured")
	}

	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Printf("redis unavailable: rate limiting disabled")
	}
	limiter := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb)

	// Audit trail consumer; reconnects on its own and never takes the
	// server down.
	go func() {
		if err := queue.StartAuthEventConsumer(); err != nil {
			log.Printf("auth event consumer stopped: %v", err)
		}
	}()

	e := echo.New()
	router.RegisterRoutes(e)
	router.RegisterAuth(e, handler.NewAuthHandler(cfg, sessions, google), limiter)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)
	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
