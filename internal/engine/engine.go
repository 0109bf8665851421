// Package engine wires the configuration, storage and domain services into
// one runnable core and hosts the platform-level hooks.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/questline/messagehub/internal/online"
	"github.com/questline/messagehub/internal/queue"
	"github.com/questline/messagehub/internal/services/cluster"
	"github.com/questline/messagehub/internal/services/group"
	"github.com/questline/messagehub/internal/services/message"
	"github.com/questline/messagehub/internal/storage"
	"github.com/questline/messagehub/pkg/config"
	"github.com/questline/messagehub/pkg/database"
	"github.com/questline/messagehub/pkg/health"
	"github.com/questline/messagehub/pkg/logger"
)

// Engine owns the service graph of the messaging core
type Engine struct {
	config *config.Config
	logger *logger.Logger
	db     *database.PostgreSQL
	rdb    *database.Redis
	health *health.Checker

	Clusters       *cluster.Service
	Messages       *message.Service
	Online         *online.Registry
	Queue          *queue.Service
	Groups         *group.Directory
	Participations *group.Participations

	state struct {
		sync.Mutex
		isRunning bool
	}
}

// NewEngine creates an engine around the given configuration
func NewEngine(cfg *config.Config, logger *logger.Logger) *Engine {
	return &Engine{
		config: cfg,
		logger: logger,
		health: health.NewChecker(),
	}
}

// Start connects to the backing stores, runs schema setup and builds the
// service graph. It is not safe to call twice without Stop in between.
func (e *Engine) Start(ctx context.Context) error {
	e.state.Lock()
	defer e.state.Unlock()
	if e.state.isRunning {
		return fmt.Errorf("engine already running")
	}

	db, err := database.New(ctx, database.FromGlobalConfig(e.config))
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	e.db = db

	rdb, err := database.NewRedis(ctx, database.RedisFromGlobalConfig(e.config))
	if err != nil {
		e.db.Close()
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	e.rdb = rdb

	store := storage.NewPostgres(e.db)
	if err := storage.Setup(ctx, store); err != nil {
		e.stopLocked()
		return fmt.Errorf("failed to set up schema: %w", err)
	}

	e.Clusters = cluster.NewService(store, e.logger)
	e.Messages = message.NewService(store, e.logger)
	e.Online = online.NewRegistry(e.rdb, e.logger)
	e.Queue = queue.NewService(e.Messages, e.rdb.Client(), e.logger)
	e.Groups = group.NewDirectory(store, e.Messages, e.Clusters, e.logger)
	e.Participations = group.NewParticipations(store, e.Clusters, e.Online, e.Queue, e.logger)

	e.state.isRunning = true
	e.logger.Info("Engine started")
	return nil
}

// Stop releases the backing connections
func (e *Engine) Stop() {
	e.state.Lock()
	defer e.state.Unlock()
	e.stopLocked()
}

func (e *Engine) stopLocked() {
	if e.rdb != nil {
		e.rdb.Close()
		e.rdb = nil
	}
	if e.db != nil {
		e.db.Close()
		e.db = nil
	}
	e.state.isRunning = false
}

// CheckHealth refreshes the backing-store health checks and returns the
// overall status.
func (e *Engine) CheckHealth(ctx context.Context) health.Status {
	e.health.RunCheck("postgres", func() error {
		if e.db == nil {
			return fmt.Errorf("not connected")
		}
		return e.db.Ping(ctx)
	})
	e.health.RunCheck("redis", func() error {
		if e.rdb == nil {
			return fmt.Errorf("not connected")
		}
		return e.rdb.Ping(ctx)
	})
	return e.health.GetOverallStatus()
}

// AccountsDeleted is the platform account-erasure hook: it removes the
// accounts' participations, their direct and sent messages, and their
// presence bindings.
func (e *Engine) AccountsDeleted(ctx context.Context, gamespace string, accounts []string, gamespaceOnly bool) error {
	if err := e.Participations.Purge(ctx, gamespace, accounts, gamespaceOnly); err != nil {
		return err
	}
	if err := e.Messages.EraseAccounts(ctx, gamespace, accounts, gamespaceOnly); err != nil {
		return err
	}
	for _, account := range accounts {
		if err := e.Online.UnbindAccount(ctx, gamespace, account); err != nil {
			e.logger.Warnf("Failed to drop presence bindings for deleted account %s: %v", account, err)
		}
	}
	e.logger.Infof("Erased %d accounts (gamespace %s, gamespaceOnly=%v)", len(accounts), gamespace, gamespaceOnly)
	return nil
}
