// LSA AI Tutor server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dreamtree-labs/lsa-tutor/internal/api"
	"github.com/dreamtree-labs/lsa-tutor/internal/chat"
	"github.com/dreamtree-labs/lsa-tutor/internal/classroom"
	"github.com/dreamtree-labs/lsa-tutor/internal/config"
	"github.com/dreamtree-labs/lsa-tutor/internal/convlog"
	"github.com/dreamtree-labs/lsa-tutor/internal/identity"
	"github.com/dreamtree-labs/lsa-tutor/internal/lesson"
	"github.com/dreamtree-labs/lsa-tutor/internal/metrics"
	"github.com/dreamtree-labs/lsa-tutor/internal/middleware"
	"github.com/dreamtree-labs/lsa-tutor/internal/speech"
	"github.com/dreamtree-labs/lsa-tutor/internal/store"
	"github.com/dreamtree-labs/lsa-tutor/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "model", cfg.ModelName)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(ctx); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	// A missing lesson is not fatal: the page shows the error and the class cannot start.
	content := lesson.Load(cfg.LessonPath)

	model, err := chat.NewGemini(ctx, cfg.GoogleAPIKey, cfg.ModelName)
	if err != nil {
		slog.Error("Failed to initialize Gemini client", "error", err)
		os.Exit(1)
	}

	var synth speech.Synthesizer
	if cfg.Speech.Enabled {
		tts, err := speech.NewGoogleTTS(ctx, speech.GoogleConfig{
			APIKey:       cfg.GoogleAPIKey,
			LanguageCode: cfg.Speech.LanguageCode,
			VoiceName:    cfg.Speech.VoiceName,
			SpeakingRate: cfg.Speech.SpeakingRate,
		})
		if err != nil {
			slog.Warn("Text-to-speech unavailable, replies will be text only", "error", err)
		} else {
			defer func() {
				if closeErr := tts.Close(); closeErr != nil {
					slog.Debug("Failed to close text-to-speech client", "error", closeErr)
				}
			}()
			synth = tts
		}
	}

	rooms := classroom.NewManager(classroom.Config{
		Model:     model,
		Lesson:    content,
		Persona:   lesson.Persona{Name: cfg.Tutor.Name, Academy: cfg.Tutor.Academy},
		Speaker:   speech.NewSpeaker(synth),
		Snapshots: repo,
	})
	classroom.StartSweeper(ctx, rooms, repo, cfg.SessionTTL, cfg.SweepInterval)

	conversationLogger, err := convlog.New(convlog.Config{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
		MaxOpenFiles:  cfg.ConversationLog.MaxOpenFiles,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := conversationLogger.Close(); closeErr != nil {
			slog.Warn("Failed to close conversation logger", "error", closeErr)
		}
	}()

	limiter := api.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	defer limiter.Stop()

	var stats *metrics.Metrics
	if cfg.MetricsEnabled {
		stats = metrics.New("lsa_tutor", rooms.Len)
	}

	handler := api.NewHandler(cfg, repo, rooms, limiter, conversationLogger, stats)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(allowedOrigins(cfg)))

	// Readiness probe stays outside the identity middleware.
	handler.RegisterHealth(r)

	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, cfg.IsDevelopment()))
		handler.RegisterRoutes(r)
		r.Handle("/*", web.SPAHandler())
	})

	// No WriteTimeout: model and speech calls block the request and /ws/class is long lived.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

// allowedOrigins lists the origins allowed to call the API cross-origin. The embedded page is same-origin.
func allowedOrigins(cfg *config.Config) []string {
	if cfg.FrontendURL == "" {
		return nil
	}
	return []string{cfg.FrontendURL}
}
