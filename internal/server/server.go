package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"classbridge/internal/agent"
	"classbridge/internal/api"
	"classbridge/internal/auth"
	"classbridge/internal/config"
	"classbridge/internal/monitor"
	"classbridge/internal/records/repo"
	"classbridge/internal/records/worker"
	"classbridge/internal/service"
	"classbridge/internal/signer"
	"classbridge/internal/stream"

	"github.com/hibiken/asynq"
)

type Server struct {
	cfg          *config.Config
	deps         *Dependency
	httpServer   *http.Server
	asynqServer  *asynq.Server
	asynqMux     *asynq.ServeMux
	agentClient  *agent.Client
	verifyClient *agent.Client
	logger       *slog.Logger
}

func NewServer(cfg *config.Config, deps *Dependency) (*Server, error) {
	logger := deps.Logger

	sign, err := signer.New(cfg.Signing.Secret, cfg.IsProduction(), logger)
	if err != nil {
		return nil, err
	}

	poolCfg := agent.PoolConfig{
		URL:              cfg.Agent.URL,
		ConnectTimeout:   cfg.Agent.ConnectTimeout,
		RedialBackoff:    cfg.Agent.RedialBackoff,
		RedialBackoffMax: cfg.Agent.RedialBackoffMax,
		RedialAttempts:   cfg.Agent.RedialAttempts,
	}

	agentClient := agent.NewClient(agent.ClientConfig{
		Pool:            poolCfg,
		RequestTimeout:  cfg.Agent.RequestTimeout,
		FireForgetGrace: cfg.Agent.FireForgetGrace,
	}, nil, sign, logger.With("component", "agent"))

	// Ownership checks ride a separate connection so a saturated
	// conversation channel cannot starve authorization.
	verifyClient := agent.NewClient(agent.ClientConfig{
		Pool:           poolCfg,
		RequestTimeout: cfg.Agent.VerifyTimeout,
	}, nil, sign, logger.With("component", "verify"))

	streams := stream.NewManager(stream.Config{
		BufferCap:    cfg.Stream.BufferCap,
		CleanupDelay: cfg.Stream.CleanupDelay,
	}, logger)

	verifier := agent.NewVerifier(verifyClient, cfg.Agent.VerifyTimeout, streams, logger)

	store := repo.NewRepository(deps.PG, deps.Redis)

	svc := service.NewService(agentClient, verifier, streams, store, deps.AsynqClient, service.Config{
		StartTimeout: cfg.Agent.StartTimeout,
		TurnTimeout:  cfg.Agent.RequestTimeout,
		EndTimeout:   cfg.Agent.EndTimeout,
		PurgeGrace:   cfg.Records.PurgeGrace,
	}, logger)

	recordWorker := worker.NewRecordTaskWorker(store, logger)

	asynqServer := asynq.NewServer(deps.AsynqRedis, asynq.Config{
		Concurrency: cfg.Worker.Concurrency,
		Logger:      newAsynqLogger(logger),
	})

	mux := asynq.NewServeMux()
	recordWorker.Register(mux)

	authenticator := auth.NewTokenAuthenticator(cfg.Auth.TokenSecret, cfg.Auth.CookieName)

	router := api.NewRouter(svc, authenticator, api.RouterConfig{
		Heartbeat:        cfg.Stream.HeartbeatInterval,
		SubscriberBuffer: cfg.Stream.SubscriberBuffer,
	})
	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	s := &Server{
		cfg:          cfg,
		deps:         deps,
		httpServer:   httpServer,
		asynqServer:  asynqServer,
		asynqMux:     mux,
		agentClient:  agentClient,
		verifyClient: verifyClient,
		logger:       logger,
	}

	return s, nil
}

func (s *Server) Start(ctx context.Context) error {
	go func() {
		s.logger.Info("Starting Asynq worker", "concurrency", s.cfg.Worker.Concurrency)
		if err := s.asynqServer.Start(s.asynqMux); err != nil {
			s.logger.Error("Asynq worker failed", "error", err)
		}
	}()

	go func() {
		if err := monitor.StartMetricsServer(ctx, s.cfg.Metrics.Addr, s.logger); err != nil {
			s.logger.Error("Metrics server failed", "error", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting API server", "addr", s.cfg.Server.Addr)
		if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Shutdown signal received, draining...")
	case err := <-errCh:
		return err
	}

	return s.Shutdown()
}

func (s *Server) Shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	s.asynqServer.Shutdown()

	s.agentClient.Close()
	s.verifyClient.Close()

	s.logger.Info("Server stopped gracefully")
	return nil
}

type asynqLogger struct {
	l *slog.Logger
}

func newAsynqLogger(l *slog.Logger) *asynqLogger {
	return &asynqLogger{l: l.With("component", "asynq")}
}

func (a *asynqLogger) Debug(args ...any) { a.l.Debug("", "msg", args) }
func (a *asynqLogger) Info(args ...any)  { a.l.Info("", "msg", args) }
func (a *asynqLogger) Warn(args ...any)  { a.l.Warn("", "msg", args) }
func (a *asynqLogger) Error(args ...any) { a.l.Error("", "msg", args) }
func (a *asynqLogger) Fatal(args ...any) { a.l.Error("FATAL", "msg", args) }
