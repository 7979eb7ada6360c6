package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ClareAI/astra-outbound-caller/internal/adapters/livekit"
	"github.com/ClareAI/astra-outbound-caller/internal/config"
	"github.com/ClareAI/astra-outbound-caller/internal/core/event"
	"github.com/ClareAI/astra-outbound-caller/internal/core/model"
	"github.com/ClareAI/astra-outbound-caller/internal/core/session"
	"github.com/ClareAI/astra-outbound-caller/internal/core/task"
	"github.com/ClareAI/astra-outbound-caller/internal/handler"
	"github.com/ClareAI/astra-outbound-caller/internal/services/call"
	"github.com/ClareAI/astra-outbound-caller/pkg/logger"
	"github.com/ClareAI/astra-outbound-caller/pkg/pubsub"
	"github.com/ClareAI/astra-outbound-caller/pkg/redis"
	"github.com/ClareAI/astra-outbound-caller/pkg/twilio"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const (
	localTaskQueueSize = 256
	shutdownTimeout    = 15 * time.Second
	drainTimeout       = 30 * time.Second
)

// Server wires the intake API to the call worker.
type Server struct {
	cfg    *config.Config
	http   *http.Server
	calls  *handler.CallHandler
	worker *call.Worker
	events *event.DefaultEventBus
	redis  *redis.RedisService
	pubsub *pubsub.PubSubService
}

func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	s := &Server{cfg: cfg}

	var registry session.Registry = session.NewMemoryRegistry(cfg.InstanceID)
	var tasks task.Bus = task.NewLocalBus(localTaskQueueSize)
	if cfg.Redis.Enabled() {
		redisSvc, err := redis.NewRedisService(&redis.RedisConfig{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		s.redis = redisSvc
		registry = session.NewManager(redisSvc, cfg.InstanceID)
		tasks = task.NewRedisBus(redisSvc)
		logger.Base().Info("Using Redis task bus and call registry", zap.String("pod_id", cfg.InstanceID))
	} else {
		logger.Base().Info("Redis not configured, using in-process task bus")
	}

	s.events = event.NewEventBus()
	for _, m := range event.CreateDefaultMiddlewareChain() {
		s.events.Use(m)
	}

	if cfg.PubSub.Enabled() {
		ps, err := pubsub.NewPubSubService(ctx, &pubsub.PubSubConfig{
			ProjectID: cfg.PubSub.ProjectID,
			TopicName: cfg.PubSub.TopicName,
			PubID:     cfg.PubSub.PubID,
		})
		if err != nil {
			return nil, fmt.Errorf("pubsub: %w", err)
		}
		s.pubsub = ps
		if err := call.ForwardOutcomes(s.events, ps); err != nil {
			return nil, fmt.Errorf("forward outcomes: %w", err)
		}
	}

	rooms, err := livekit.NewRoomService(cfg.LiveKit)
	if err != nil {
		return nil, fmt.Errorf("room service: %w", err)
	}
	sip, err := livekit.NewSIPGateway(cfg.LiveKit)
	if err != nil {
		return nil, fmt.Errorf("sip gateway: %w", err)
	}
	connector, err := livekit.NewConnector(cfg.LiveKit)
	if err != nil {
		return nil, fmt.Errorf("room connector: %w", err)
	}

	engines, err := model.NewEngines(ctx, cfg.Model)
	if err != nil {
		return nil, err
	}

	controller, err := call.NewController(call.Deps{
		Rooms:      call.LiveKitRooms{Connector: connector},
		Deleter:    rooms,
		Dialer:     sip,
		Transferer: sip,
		Sessions:   model.NewSessionFactory(engines, model.SessionOptions(cfg.Model)),
		Bus:        s.events,
		Registry:   registry,
		Config:     cfg.Call,
	})
	if err != nil {
		return nil, err
	}
	s.worker = call.NewWorker(tasks, controller, cfg.Call.AgentName, cfg.Call.MaxConcurrentCalls)

	var webhook *handler.LiveKitWebhookHandler
	if cfg.LiveKit.WebhookEnabled {
		webhook = handler.NewLiveKitWebhookHandler(cfg.LiveKit.APIKey, cfg.LiveKit.APISecret)
	}
	s.calls = handler.NewCallHandler(rooms, tasks, twilio.NewLookupService(cfg.TwilioAccountSID, cfg.TwilioAuthToken), registry, handler.CallHandlerConfig{
		AgentName:  cfg.Call.AgentName,
		ScriptPath: cfg.Call.ScriptPath,
		RatePerSec: cfg.IntakeRatePerSec,
	})

	router := mux.NewRouter()
	handler.NewHandlerManager(s.calls, webhook, cfg.APISecretKey).SetupAllRoutes(router)

	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  config.DefaultHTTPReadTimeout,
		WriteTimeout: config.DefaultHTTPWriteTimeout,
		IdleTimeout:  config.DefaultHTTPIdleTimeout,
	}
	return s, nil
}

// Run serves until ctx is cancelled, then shuts down in order.
func (s *Server) Run(ctx context.Context) error {
	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	if err := s.worker.Start(workerCtx); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Base().Info("Starting server", zap.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Base().Info("Shutdown signal received")
	case runErr = <-serveErr:
		logger.Base().Error("Server failed", zap.Error(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		logger.Base().Warn("HTTP shutdown incomplete", zap.Error(err))
	}
	s.calls.Close()

	stopWorker()
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), drainTimeout)
	defer cancelDrain()
	if err := s.worker.Shutdown(drainCtx, call.ReasonWorkerShutdown); err != nil {
		logger.Base().Warn("Calls still running at shutdown", zap.Int("active", s.worker.Active()), zap.Error(err))
	}

	if err := s.events.Close(); err != nil {
		logger.Base().Warn("Event bus close failed", zap.Error(err))
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			logger.Base().Warn("Redis close failed", zap.Error(err))
		}
	}
	if s.pubsub != nil {
		if err := s.pubsub.Close(); err != nil {
			logger.Base().Warn("PubSub close failed", zap.Error(err))
		}
	}
	return runErr
}

func main() {
	// .env is for local development and never overrides the environment
	if err := godotenv.Load(); err != nil {
		log.Printf("Info: .env file not found or skipped (expected in production): %v", err)
	}

	cfg := config.LoadFromEnv()
	if _, err := logger.Init(cfg.LogEnv); err != nil {
		log.Printf("failed to initialize zap logger, falling back to std log: %v", err)
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Base().Fatal("Invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, err := NewServer(ctx, cfg)
	if err != nil {
		logger.Base().Fatal("Failed to create server", zap.Error(err))
	}
	logger.Base().Info("Server initialized",
		zap.String("port", cfg.Port),
		zap.String("instance_id", cfg.InstanceID),
		zap.String("agent_name", cfg.Call.AgentName))

	if err := server.Run(ctx); err != nil {
		logger.Base().Error("Server stopped with error", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Base().Info("Server stopped")
}
