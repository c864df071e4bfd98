package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	clientv3 "go.etcd.io/etcd/client/v3"
	"golang.org/x/sync/errgroup"

	"github.com/cbhirsch/real-estate-agent-chatbot/internal/auth"
	"github.com/cbhirsch/real-estate-agent-chatbot/internal/config"
	"github.com/cbhirsch/real-estate-agent-chatbot/internal/engine"
	"github.com/cbhirsch/real-estate-agent-chatbot/internal/llm"
	"github.com/cbhirsch/real-estate-agent-chatbot/internal/prompt"
	"github.com/cbhirsch/real-estate-agent-chatbot/internal/server"
	"github.com/cbhirsch/real-estate-agent-chatbot/internal/session"
	"github.com/cbhirsch/real-estate-agent-chatbot/internal/telemetry"
)

func newServeCmd() *cobra.Command {
	var (
		listen string
		noAuth bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the assistant HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Listen = listen
			}
			if noAuth {
				cfg.Auth.NoAuth = true
			}

			logger := newLogger(cfg, os.Stdout)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// Model client
			client, model := llm.NewClientForModel(cfg.Model)
			logger.Info("model client ready", "model", model)

			// Session store
			store, cleanup, err := newStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			// Context assembler with persona
			persona, err := cfg.Persona()
			if err != nil {
				return err
			}
			assembler := prompt.New(persona, cfg.History.MaxTurns, cfg.History.MaxChars)

			if err := config.WatchPersona(ctx, cfg.PersonaFile, logger, assembler.SetSystem); err != nil {
				return err
			}

			// Conversation engine
			engOpts := []engine.Option{
				engine.WithLogger(logger),
				engine.WithTurnTimeout(cfg.TurnTimeout.Std()),
			}
			if cfg.Temperature != nil {
				engOpts = append(engOpts, engine.WithTemperature(*cfg.Temperature))
			}
			if cfg.Lock.Backend == "etcd" {
				etcdClient, err := clientv3.New(clientv3.Config{
					Endpoints:   cfg.Lock.EtcdEndpoints,
					DialTimeout: 5 * time.Second,
				})
				if err != nil {
					return fmt.Errorf("connect etcd: %w", err)
				}
				defer etcdClient.Close()
				engOpts = append(engOpts, engine.WithLocker(engine.NewEtcdLocker(etcdClient)))
				logger.Info("distributed session locking enabled", "endpoints", cfg.Lock.EtcdEndpoints)
			}
			eng := engine.New(store, client, assembler, model, cfg.MaxTokens, engOpts...)

			// HTTP server
			metrics := telemetry.NewMetrics()
			if len(cfg.Auth.APIKeys) == 0 && !cfg.Auth.NoAuth {
				logger.Warn("no API keys configured: all chat requests will be rejected. Set REALTOR_API_KEYS or pass --no-auth")
			}
			srv := server.New(eng, store,
				server.WithAPIKeys(cfg.Auth.APIKeys),
				server.WithNoAuth(cfg.Auth.NoAuth),
				server.WithVapiSecret(cfg.Auth.VapiSecret),
				server.WithLogger(logger),
				server.WithMetrics(metrics),
				server.WithRateLimiter(auth.NewRateLimiter(auth.DefaultRateLimitConfig())),
			)

			// Idle-session sweeper
			sweeper := cron.New()
			if ttl := cfg.Sessions.IdleTTL.Std(); ttl > 0 {
				spec := fmt.Sprintf("@every %s", cfg.Sessions.SweepInterval.Std())
				if _, err := sweeper.AddFunc(spec, func() {
					if n, err := eng.Sweep(ctx, ttl); err != nil {
						logger.Warn("session sweep failed", "error", err)
					} else if n > 0 {
						logger.Info("session sweep", "removed", n)
					}
				}); err != nil {
					return fmt.Errorf("schedule sweeper: %w", err)
				}
				sweeper.Start()
				defer sweeper.Stop()
			}

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				if err := srv.ListenAndServe(cfg.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				logger.Info("shutting down")
				return srv.Shutdown(shutdownCtx)
			})

			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (overrides config)")
	cmd.Flags().BoolVar(&noAuth, "no-auth", false, "Disable bearer authentication")

	return cmd
}

func newStore(ctx context.Context, cfg *config.Config) (session.Store, func(), error) {
	switch cfg.Store.Backend {
	case "postgres":
		store, pool, err := session.Connect(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return store, pool.Close, nil
	default:
		return session.NewMemoryStore(), func() {}, nil
	}
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if verbose || cfg.LogLevel == "debug" {
		level = slog.LevelDebug
	}
	return telemetry.NewLogger(w, level)
}
