package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"bullground.com/advisor-chat/internal/api"
	"bullground.com/advisor-chat/internal/auth"
	"bullground.com/advisor-chat/internal/config"
	"bullground.com/advisor-chat/internal/core"
	"bullground.com/advisor-chat/internal/llm"
	"bullground.com/advisor-chat/internal/logger"
	"bullground.com/advisor-chat/internal/metrics"
	"bullground.com/advisor-chat/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:           "advisor-chat",
		Short:         "Financial advisor chat API server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				fmt.Fprintf(os.Stderr, "invalid configuration:\n%v\n", err)
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	flags := cmd.Flags()
	flags.String("http-port", "8080", "port to listen on")
	flags.String("database-driver", config.DriverSQLite, "database driver (sqlite, postgres)")
	flags.String("database-url", "advisor_chat.db", "SQLite file or Postgres DSN")
	flags.String("llm-provider", config.ProviderGemini, "LLM provider (gemini, openai)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.Bool("log-pretty", false, "human readable console logs")

	for _, name := range []string{"http-port", "database-driver", "database-url", "llm-provider", "log-level", "log-pretty"} {
		if err := v.BindPFlag(strings.ReplaceAll(name, "-", "_"), flags.Lookup(name)); err != nil {
			panic(err)
		}
	}
	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	log.Info().Str("env", cfg.Env).Str("database_driver", cfg.DatabaseDriver).Str("llm_provider", cfg.LLMProvider).Msg("Service starting")

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New()
	}

	db, err := openStore(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize database")
		return err
	}
	defer db.Close()

	generator, closeGenerator, err := openGenerator(ctx, cfg, logger.Component(log, "llm"))
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize LLM provider")
		return err
	}
	defer closeGenerator()

	chat, err := core.NewChatService(core.ChatServiceConfig{
		Conversations:        db,
		Messages:             db,
		Users:                db,
		Generator:            generator,
		Metrics:              m,
		Logger:               log,
		HistoryWindow:        cfg.HistoryWindow,
		FullHistoryThreshold: cfg.FullHistoryThreshold,
		TitleMaxLength:       cfg.TitleMaxLength,
		LLMTimeout:           cfg.LLMTimeout,
	})
	if err != nil {
		return err
	}
	conversations, err := core.NewConversationService(db, db, log)
	if err != nil {
		return err
	}
	issuer, err := auth.NewIssuer(cfg.JWTSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	if err != nil {
		return err
	}
	authService, err := core.NewAuthService(db, issuer, log)
	if err != nil {
		return err
	}

	handler, err := api.NewAPIHandler(api.HandlerConfig{
		Chat:          chat,
		Conversations: conversations,
		Auth:          authService,
		Metrics:       m,
		Logger:        log,
		DevAuthBypass: cfg.IsDevelopment(),
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.NewRouter(handler),
		ReadHeaderTimeout: 15 * time.Second,
		// Streaming responses lift the write deadline per request.
		WriteTimeout: cfg.LLMTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("Starting server. Press Ctrl+C to quit.")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen on %s: %w", srv.Addr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server stopped with error")
		return err
	}
	log.Info().Msg("Server exiting gracefully")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.DatabaseDriver == config.DriverPostgres {
		pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return pg, nil
	}
	sqlite, err := store.NewSQLiteStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	return sqlite, nil
}

func openGenerator(ctx context.Context, cfg *config.Config, log zerolog.Logger) (llm.Generator, func(), error) {
	switch cfg.LLMProvider {
	case config.ProviderOpenAI:
		var opts []llm.OpenAIOption
		if cfg.OpenAIBaseURL != "" {
			opts = append(opts, llm.WithOpenAIBaseURL(cfg.OpenAIBaseURL))
		}
		gen, err := llm.NewOpenAIGenerator(cfg.OpenAIAPIKey, cfg.OpenAIModel, log, opts...)
		if err != nil {
			return nil, nil, err
		}
		return gen, func() {}, nil
	default:
		gen, err := llm.NewGeminiGenerator(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID, log)
		if err != nil {
			return nil, nil, err
		}
		return gen, func() {
			if err := gen.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close Gemini client")
			}
		}, nil
	}
}
