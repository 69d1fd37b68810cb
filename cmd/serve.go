package cmd

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nextlevelbuilder/stockfleet/internal/agent"
	"github.com/nextlevelbuilder/stockfleet/internal/bus"
	"github.com/nextlevelbuilder/stockfleet/internal/config"
	"github.com/nextlevelbuilder/stockfleet/internal/gateway"
	"github.com/nextlevelbuilder/stockfleet/internal/model"
	"github.com/nextlevelbuilder/stockfleet/internal/router"
	"github.com/nextlevelbuilder/stockfleet/internal/telemetry"
	"github.com/nextlevelbuilder/stockfleet/internal/vector"
	"github.com/nextlevelbuilder/stockfleet/internal/workflow"
	"github.com/nextlevelbuilder/stockfleet/pkg/protocol"
)

func runServe() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	dataDir := config.ExpandHome(cfg.Fleet.DataDir)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		slog.Error("failed to create data dir", "path", dataDir, "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutdown.initiated", "signal", sig)
		cancel()
	}()

	// Config hot reload: tunables take effect without restart.
	if err := config.Watch(ctx, cfgPath, cfg); err != nil {
		slog.Warn("config.watch_unavailable", "error", err)
	}

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry, Version)
	if err != nil {
		slog.Warn("telemetry.init_failed", "error", err)
	} else {
		defer func() {
			tctx, tcancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer tcancel()
			shutdownTelemetry(tctx)
		}()
	}

	msgBus := bus.New()
	modelClient := buildModelClient(cfg)
	vectorStore := buildVectorStore(cfg)
	defer vectorStore.Close()

	engine := workflow.NewEngine(cfg.Workflow.QueueSize)

	registry := router.NewRegistry(dataDir, agent.Deps{
		Config:   cfg,
		Model:    modelClient,
		Vector:   vectorStore,
		Workflow: engine,
		Bus:      msgBus,
	})

	registerWorkflows(engine, registry)
	if expr := cfg.Workflow.ForecastSchedule; expr != "" {
		if err := engine.Schedule(workflow.NameForecastRefresh, expr, nil); err != nil {
			slog.Warn("workflow.schedule_invalid", "expr", expr, "error", err)
		}
	}
	engine.Start(ctx)
	defer engine.Stop()

	server := gateway.NewServer(cfg, registry, msgBus, dataDir)

	slog.Info("stockfleet.starting",
		"version", Version,
		"protocol", protocol.ProtocolVersion,
		"data_dir", dataDir,
		"model", modelClient.Name(),
	)

	err = server.Start(ctx)

	// Drain agents after the listener closes so in-flight requests finish
	// before their agents persist and terminate.
	drainCtx, drainCancel := context.WithTimeout(context.Background(), 10*time.Second)
	registry.Shutdown(drainCtx)
	drainCancel()

	if err != nil {
		slog.Error("gateway error", "error", err)
		os.Exit(1)
	}
}

// buildModelClient resolves the model binding. No provider (or no API key)
// means the deterministic stub.
func buildModelClient(cfg *config.Config) model.Client {
	mc := cfg.ModelSnapshot()
	if mc.Provider == "" || mc.APIKey == "" {
		if mc.Provider != "" {
			slog.Warn("model.no_api_key", "provider", mc.Provider)
		}
		return model.NewStub()
	}

	timeout := 30 * time.Second
	if mc.Timeout != "" {
		if d, err := time.ParseDuration(mc.Timeout); err == nil && d > 0 {
			timeout = d
		}
	}
	slog.Info("model.configured", "provider", mc.Provider, "model", mc.Model)
	return model.NewOpenAI(mc.Provider, mc.APIKey, mc.APIBase, mc.Model, timeout)
}

// buildVectorStore resolves the similarity-lookup binding. Disabled means
// lookups return empty, never error.
func buildVectorStore(cfg *config.Config) vector.Store {
	if cfg.Vector.Provider != "chromem" {
		return vector.Noop{}
	}
	persistPath := config.ExpandHome(cfg.Vector.PersistPath)
	store, err := vector.NewChromem(persistPath)
	if err != nil {
		slog.Warn("vector.init_failed", "error", err)
		return vector.Noop{}
	}
	slog.Info("vector.configured", "provider", "chromem", "persist", persistPath != "")
	return store
}

// registerWorkflows binds the named workflow handlers to the engine.
func registerWorkflows(engine *workflow.Engine, registry *router.Registry) {
	engine.Register(workflow.NameReorder, func(ctx context.Context, payload json.RawMessage) error {
		var order struct {
			SKU      string `json:"sku"`
			Location string `json:"location"`
			Quantity int64  `json:"quantity"`
			Urgency  string `json:"urgency"`
		}
		if err := json.Unmarshal(payload, &order); err != nil {
			return err
		}
		// Reorder fulfillment is external; the job records the decision trail.
		slog.Info("workflow.reorder",
			"sku", order.SKU,
			"location", order.Location,
			"quantity", order.Quantity,
			"urgency", order.Urgency,
		)
		return nil
	})

	engine.Register(workflow.NameForecastRefresh, func(ctx context.Context, _ json.RawMessage) error {
		registry.Each(func(a *agent.Agent) {
			if _, err := a.Forecast(ctx); err != nil {
				slog.Warn("workflow.forecast_refresh_failed", "owner", a.Key().Display(), "error", err)
			}
		})
		return nil
	})
}
