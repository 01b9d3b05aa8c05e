package main

import (
	"context"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/username/twirlmap/backend/src/config"
	"github.com/username/twirlmap/backend/src/handlers"
	"github.com/username/twirlmap/backend/src/logger"
	"github.com/username/twirlmap/backend/src/services"
	"github.com/username/twirlmap/backend/src/storage"
	"golang.org/x/time/rate"
)

var limiter *rate.Limiter

func rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			logger.L.Warn("Rate limit exceeded",
				"method", r.Method,
				"path", r.URL.Path,
				"remoteAddr", r.RemoteAddr)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowedOrigins := map[string]bool{
			config.Cfg.CORSAllowedOrigin: true,
		}

		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE, PATCH")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization, X-Requested-With, If-None-Match")
			w.Header().Set("Access-Control-Expose-Headers", "ETag, X-Request-ID")
		} else if origin == "" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}

		if r.Method == "OPTIONS" {
			logger.L.Debug("Handling OPTIONS preflight request", "path", r.URL.Path, "origin", origin)
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func main() {
	config.LoadConfig()
	logger.InitLogger(config.Cfg.LogLevel)
	logger.L.Info("Twirlmap backend server starting...")

	ctx := context.Background()

	logger.L.Info("Initializing pin storage...")
	pinStore, err := storage.NewStore(ctx, config.Cfg.DatabaseURL, config.Cfg.DataDir)
	if err != nil {
		logger.L.Error("Failed to initialize pin storage", "error", err)
		os.Exit(1)
	}
	defer pinStore.Close()
	logger.L.Info("Pin storage initialized.", "backend", pinStore.Backend())

	logger.L.Info("Initializing report cache...")
	reportCache := cache.New(services.DefaultCacheExpiration, services.CacheCleanupInterval)

	logger.L.Info("Initializing services and handlers...")
	pinService := services.NewPinService(pinStore, reportCache)
	pinHandler := handlers.NewPinHandler(pinService)

	logger.L.Info("Configuring routes...")
	rootMux := http.NewServeMux()
	apiRouter := http.NewServeMux()

	apiRouter.HandleFunc("GET /api/pins", pinHandler.HandleListPins)
	apiRouter.HandleFunc("POST /api/pins", pinHandler.HandleCreatePin)
	apiRouter.HandleFunc("DELETE /api/pins/all", pinHandler.HandleClearPins)
	apiRouter.HandleFunc("DELETE /api/pins/{id}", pinHandler.HandleDeletePin)
	apiRouter.HandleFunc("GET /api/pins/count", pinHandler.HandlePinCount)
	apiRouter.HandleFunc("GET /api/stats", pinHandler.HandlePriceStats)
	apiRouter.HandleFunc("GET /api/info", pinHandler.HandleDataInfo)
	apiRouter.HandleFunc("GET /api/health", pinHandler.HandleHealth)
	apiRouter.HandleFunc("POST /api/admin/backup", pinHandler.HandleBackup)
	apiRouter.HandleFunc("POST /api/admin/migrate", pinHandler.HandleMigrate)

	rootMux.Handle("/api/", apiRouter)

	// The map page and its assets. Everything under web/ is static; the
	// page talks to the JSON API above.
	rootMux.Handle("/", http.FileServer(http.Dir("web")))

	logger.L.Info("Applying global middleware...")
	limiter = rate.NewLimiter(rate.Every(config.Cfg.RateLimitInterval), config.Cfg.RateLimitBurst)
	finalHandler := enableCORS(rateLimitMiddleware(handlers.RequestIDMiddleware(rootMux)))

	serverAddr := ":" + config.Cfg.Port
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      finalHandler,
		ReadTimeout:  config.Cfg.ReadTimeout,
		WriteTimeout: config.Cfg.WriteTimeout,
		IdleTimeout:  config.Cfg.IdleTimeout,
	}

	go func() {
		logger.L.Info("Server starting", "address", serverAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.L.Error("Failed to start server", "error", err)
			stdlog.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.L.Info("Shutdown signal received, draining connections...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.L.Error("Server shutdown failed", "error", err)
	}
	logger.L.Info("Server stopped gracefully.")
}
