package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/supertrack-ai/orchestrator/internal/agent"
	"github.com/supertrack-ai/orchestrator/internal/engine"
	"github.com/supertrack-ai/orchestrator/internal/gateway"
	"github.com/supertrack-ai/orchestrator/internal/model"
	"github.com/supertrack-ai/orchestrator/internal/monitor"
	"github.com/supertrack-ai/orchestrator/internal/orchestrator"
	"github.com/supertrack-ai/orchestrator/internal/service"
	"github.com/supertrack-ai/orchestrator/internal/storage"
	"github.com/supertrack-ai/orchestrator/internal/trigger"
)

type scheduleConfig struct {
	WorkflowID string `mapstructure:"workflow_id"`
	Name       string `mapstructure:"name"`
	Expression string `mapstructure:"expression"`
}

func main() {
	// Initialize logger
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Load configuration
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")
	if err := viper.ReadInConfig(); err != nil {
		logger.Fatal("Failed to read config file", zap.Error(err))
	}

	// Connect to NATS with more options
	opts := []nats.Option{
		nats.Name(viper.GetString("app.name")),
		nats.MaxReconnects(viper.GetInt("nats.max_reconnects")),
		nats.ReconnectWait(viper.GetDuration("nats.reconnect_wait")),
		nats.Timeout(viper.GetDuration("nats.connect_timeout")),
		nats.PingInterval(20 * time.Second),
		nats.MaxPingsOutstanding(5),
		nats.DrainTimeout(30 * time.Second),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			logger.Error("NATS connection error",
				zap.String("subject", sub.Subject),
				zap.Error(err))
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected",
				zap.String("url", nc.ConnectedUrl()))
		}),
	}

	// Connect with retry
	var nc *nats.Conn
	urls := strings.Join(viper.GetStringSlice("nats.urls"), ",")
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		nc, err = nats.Connect(urls, opts...)
		if err == nil {
			break
		}
		logger.Warn("Failed to connect to NATS, retrying...",
			zap.Int("attempt", i+1),
			zap.Error(err))
		time.Sleep(time.Second * time.Duration(i+1))
	}
	if err != nil {
		logger.Fatal("Failed to connect to NATS after retries", zap.Error(err))
	}
	defer nc.Close()

	logger.Info("Connected to NATS successfully",
		zap.String("url", nc.ConnectedUrl()))

	// Create JetStream context
	js, err := nc.JetStream()
	if err != nil {
		logger.Fatal("Failed to create JetStream context", zap.Error(err))
	}

	// Create checkpoint storage
	checkpoints, err := storage.NewSQLiteCheckpoints(logger, viper.GetString("checkpoint.path"))
	if err != nil {
		logger.Fatal("Failed to create checkpoint storage", zap.Error(err))
	}
	defer checkpoints.Close()

	// Initialize and register agents
	registry := gateway.NewRegistry(logger)

	apiKey := viper.GetString("agents.chat.api_key")
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		apiKey = key
	}
	chatAgent := agent.NewChatAgent(agent.ChatConfig{
		BaseURL:     viper.GetString("agents.chat.base_url"),
		APIKey:      apiKey,
		Model:       viper.GetString("agents.chat.model"),
		Temperature: float32(viper.GetFloat64("agents.chat.temperature")),
		MaxTokens:   viper.GetInt("agents.chat.max_tokens"),
	}, logger)

	registry.Register(model.AgentTypeQuery, chatAgent)
	registry.Register(model.AgentTypeInvestigation, chatAgent)
	registry.Register(model.AgentTypeMetadataExtraction, agent.NewExtractionAgent(chatAgent, logger))
	registry.Register(model.AgentTypeConnector, agent.NewConnectorAgent(logger))
	registry.Register(model.AgentTypeCustom, agent.NewEchoAgent())

	// Create orchestrator
	scope := model.Scope{
		TenantID: viper.GetString("orchestrator.tenant_id"),
		UserID:   viper.GetString("orchestrator.user_id"),
	}
	engineOpts := []engine.Option{
		engine.WithPollInterval(viper.GetDuration("engine.poll_interval")),
	}
	if initial := viper.GetDuration("engine.retry.initial_delay"); initial > 0 {
		engineOpts = append(engineOpts, engine.WithRetryStrategy(&engine.ExponentialBackoff{
			InitialDelay: initial,
			MaxDelay:     viper.GetDuration("engine.retry.max_delay"),
			Multiplier:   viper.GetFloat64("engine.retry.multiplier"),
		}))
	}
	orch := orchestrator.New(registry, scope, logger,
		orchestrator.WithCheckpoints(checkpoints),
		orchestrator.WithEngineOptions(engineOpts...),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start the NATS command service and wire it into orchestrator events
	svc := service.NewService(nc, js, orch, logger)
	orch.SetEventHook(svc.EventHook())
	if err := svc.Start(ctx); err != nil {
		logger.Fatal("Failed to start workflow service", zap.Error(err))
	}

	// Start the cron trigger with configured schedules
	cronTrigger := trigger.NewCronTrigger(orch, logger)
	var schedules []scheduleConfig
	if err := viper.UnmarshalKey("schedules", &schedules); err != nil {
		logger.Fatal("Failed to parse schedules", zap.Error(err))
	}
	for _, s := range schedules {
		err := cronTrigger.Add(&model.WorkflowSchedule{
			WorkflowID: s.WorkflowID,
			Name:       s.Name,
			Expression: s.Expression,
		})
		if err != nil {
			logger.Error("Failed to add schedule",
				zap.String("workflow_id", s.WorkflowID),
				zap.Error(err))
		}
	}
	cronTrigger.Start(ctx)

	// Start monitoring
	collector := monitor.NewMetricsCollector(nc, orch, viper.GetDuration("metrics.interval"), logger)
	if err := collector.Start(ctx); err != nil {
		logger.Fatal("Failed to start metrics collector", zap.Error(err))
	}

	alerts := monitor.NewAlertManager(nc, js, logger)
	for _, rule := range monitor.DefaultRules() {
		if err := alerts.AddRule(rule); err != nil {
			logger.Error("Failed to add alert rule",
				zap.String("rule", rule.Name),
				zap.Error(err))
		}
	}
	if err := alerts.Start(ctx); err != nil {
		logger.Fatal("Failed to start alert manager", zap.Error(err))
	}

	logger.Info("Orchestrator started",
		zap.String("tenant_id", scope.TenantID),
		zap.Int("schedules", len(schedules)))

	// Periodic stats logging and record cleanup
	retentionDays := viper.GetInt("checkpoint.retention_days")
	if retentionDays <= 0 {
		retentionDays = 30
	}
	go func() {
		statsTicker := time.NewTicker(time.Minute)
		cleanupTicker := time.NewTicker(24 * time.Hour)
		defer statsTicker.Stop()
		defer cleanupTicker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-statsTicker.C:
				stats := orch.Stats()
				logger.Info("Orchestrator stats",
					zap.Int("registered_workflows", stats.RegisteredWorkflows),
					zap.Int("active_runs", stats.ActiveRuns),
					zap.Int64("completed_runs", stats.CompletedRuns),
					zap.Int64("failed_runs", stats.FailedRuns))
			case <-cleanupTicker.C:
				cutoff := time.Now().AddDate(0, 0, -retentionDays)
				removed, err := checkpoints.DeleteBefore(ctx, cutoff)
				if err != nil {
					logger.Error("Failed to clean up old checkpoints", zap.Error(err))
					continue
				}
				pruned := registry.Prune(cutoff)
				logger.Info("Cleaned up old records",
					zap.Int64("checkpoints", removed),
					zap.Int("sessions", pruned))
			}
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	// Graceful shutdown, newest components first
	alerts.Stop()
	collector.Stop()
	cronTrigger.Stop()
	svc.Stop()
	orch.Close()

	logger.Info("Orchestrator shut down gracefully")
}
