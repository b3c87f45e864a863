// Package app assembles the service from configuration. The API server and the CLI
// share it so both run the same agent against the same stores.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-analytics/internal/agent"
	"github.com/capitalize-ai/chat-analytics/internal/config"
	"github.com/capitalize-ai/chat-analytics/internal/executor"
	"github.com/capitalize-ai/chat-analytics/internal/llm"
	"github.com/capitalize-ai/chat-analytics/internal/model"
	natsclient "github.com/capitalize-ai/chat-analytics/internal/nats"
	"github.com/capitalize-ai/chat-analytics/internal/sales"
	"github.com/capitalize-ai/chat-analytics/internal/schema"
	"github.com/capitalize-ai/chat-analytics/internal/service"
	"github.com/capitalize-ai/chat-analytics/internal/sqlguard"
	"github.com/capitalize-ai/chat-analytics/internal/store"
	"github.com/capitalize-ai/chat-analytics/pkg/logger"
)

// App holds the wired components. Close releases them in reverse order.
type App struct {
	Config    *config.Config
	Logger    *logger.Logger
	Store     *store.Store
	Replica   *sql.DB
	Dialect   executor.Dialect
	Schema    *schema.Cache
	Validator *sqlguard.Validator
	Executor  *executor.Executor
	Agent     *agent.Agent
	Recorder  *service.Recorder
	Chat      *service.ChatService
	NATS      *natsclient.Client

	closers []func() error
}

// SchemaBuilder describes the sales tables. Conversation tables are registered so the
// exclusion stays explicit if they ever share a package with the sales models.
func SchemaBuilder() *schema.Builder {
	models := append(sales.Models(), model.Conversation{}, model.Message{}, model.QueryAudit{})
	return schema.NewBuilder(models...).Exclude("chat_")
}

// New opens the databases, connects the optional mirror and builds the agent.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: log}
	if err := a.init(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.Config

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	rules, err := sales.LoadRules(cfg.BusinessRulesFile)
	if err != nil {
		return err
	}

	a.Store, err = store.Open(ctx, store.Config{Driver: cfg.DatabaseDriver, DSN: cfg.DatabaseURL})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	a.closers = append(a.closers, a.Store.Close)
	if err := a.Store.Migrate(ctx); err != nil {
		return err
	}

	driver, dsn := cfg.ReplicaSettings()
	a.Replica, a.Dialect, err = executor.OpenReplica(ctx, executor.ReplicaConfig{
		Driver:       driver,
		DSN:          dsn,
		MaxOpenConns: cfg.ReplicaMaxConns,
	})
	if err != nil {
		return err
	}
	a.closers = append(a.closers, a.Replica.Close)

	a.Executor = executor.New(a.Replica, executor.Options{
		Dialect:     a.Dialect,
		MaxRows:     cfg.QueryMaxRows,
		BatchSize:   cfg.QueryBatchSize,
		BusyTimeout: cfg.QueryBusyTimeout,
		Logger:      a.Logger,
	})
	a.Validator = sqlguard.New(cfg.QueryMaxRows)
	a.Schema = schema.NewCache(schema.BuilderFunc(SchemaBuilder()), schema.WithTTL(cfg.SchemaCacheTTL))

	var mirror service.Mirror
	natsCfg := natsclient.Config{
		URL:      cfg.NATSURL,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
	}
	if natsCfg.Enabled() {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		a.NATS, err = natsclient.Connect(connectCtx, natsCfg, a.Logger)
		if err != nil {
			return fmt.Errorf("connect to NATS: %w", err)
		}
		a.closers = append(a.closers, func() error {
			a.NATS.Close()
			return nil
		})

		streams := natsclient.NewStreamManager(a.NATS)
		if err := streams.EnsureStream(connectCtx); err != nil {
			return err
		}
		mirror = streams
	}
	a.Recorder = service.NewRecorder(a.Store, mirror, a.Logger)

	llmClient, err := llm.NewClient(ctx, llm.Config{
		Provider: llm.Provider(cfg.LLMProvider),
		APIKey:   cfg.APIKey(),
		BaseURL:  cfg.OpenAIBaseURL,
	})
	if err != nil {
		return fmt.Errorf("create llm client: %w", err)
	}
	a.trackCloser(llmClient)

	a.Agent = agent.New(agent.Deps{
		LLM:       llmClient,
		Schema:    a.Schema,
		Validator: a.Validator,
		Executor:  a.Executor,
		Recorder:  a.Recorder,
		Logger:    a.Logger,
	}, agent.Config{
		Model:             cfg.LLMModel,
		MaxIterations:     cfg.AgentMaxIterations,
		MaxTokens:         cfg.AgentMaxTokens,
		CallTimeout:       cfg.LLMCallTimeout,
		ClassifySmallTalk: cfg.ClassifySmallTalk,
		Dialect:           a.Dialect,
		Location:          loc,
		BusinessRules:     rules.Render(),
		CurrencySymbol:    rules.CurrencySymbol,
	})

	a.Chat = service.NewChatService(a.Store, a.Agent, a.Recorder, service.Config{
		HistoryLimit: cfg.HistoryLimit,
	}, a.Logger)

	a.Logger.Info("application initialized",
		zap.String("database_driver", string(a.Store.Flavor())),
		zap.String("replica_dialect", string(a.Dialect)),
		zap.String("llm_provider", cfg.LLMProvider),
		zap.Bool("mirror", mirror != nil),
	)
	return nil
}

// trackCloser registers v for shutdown when it holds a connection of its own.
func (a *App) trackCloser(v any) {
	if c, ok := v.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}
}

// Close releases every opened resource, newest first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
