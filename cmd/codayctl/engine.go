package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/codayhq/coday/agentregistry"
	"github.com/codayhq/coday/config"
	"github.com/codayhq/coday/configwatch"
	"github.com/codayhq/coday/event"
	"github.com/codayhq/coday/reminder"
	"github.com/codayhq/coday/runlog/sqlitestore"
	"github.com/codayhq/coday/runloop"
	"github.com/codayhq/coday/session"
	"github.com/codayhq/coday/telemetry"
	"github.com/codayhq/coday/thread"
	"github.com/codayhq/coday/tool"
	"github.com/codayhq/coday/tool/mcp"
	"github.com/codayhq/coday/tool/pdf"
	"github.com/codayhq/coday/tool/xlsx"
)

// engine bundles one fully wired client session: config, registry, event
// bus, and the Session every command drives.
type engine struct {
	loader  *config.Loader
	bus     *event.Bus
	ids     *event.Generator
	sess    *session.Session
	mcpMgr  *mcp.Manager
	watcher *configwatch.Watcher
	runlog  *sqlitestore.Store
	logger  telemetry.Logger
	project string
}

// buildEngine wires the full stack for one client against configDir and
// project, mirroring what a server transport would do per connected client.
func buildEngine(ctx context.Context, configDir, project string) (*engine, error) {
	logger := telemetry.NewClueLogger()
	loader := config.NewLoader(configDir, logger)

	root, err := loader.ProjectRoot(project)
	if err != nil {
		return nil, err
	}
	pc, err := loader.ProjectConfig(project)
	if err != nil {
		return nil, err
	}

	sessionID := "cli-" + uuid.NewString()
	ids := event.NewGenerator()
	bus := event.NewBus(sessionID, ids, event.NewRingHistory(event.MinHistorySize), logger)

	tools := tool.NewSet()
	if err := tools.Register(pdf.New(root)); err != nil {
		return nil, err
	}
	if err := tools.Register(xlsx.New(root)); err != nil {
		return nil, err
	}
	mcpMgr := mcp.NewManager(logger)
	for _, sc := range pc.MCPServers {
		connected, err := mcpMgr.Connect(ctx, sc.ID, mcp.ServerConfig{
			Type:    sc.Type,
			Command: sc.Command,
			Args:    sc.Args,
			Env:     sc.Env,
			URL:     sc.URL,
		})
		if err != nil {
			logger.Warn(ctx, "mcp server unavailable", "server", sc.ID, "error", err)
			continue
		}
		for _, t := range connected {
			if err := tools.Register(t); err != nil {
				return nil, err
			}
		}
	}

	resolver := config.NewModelResolver()
	registry := agentregistry.New(loader, resolver, tools,
		loader.ProjectContext, bus, ids, sessionID, agentregistry.Options{Logger: logger})

	threadsDir := loader.ThreadsDir(project)
	if err := os.MkdirAll(threadsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create threads dir: %w", err)
	}
	store := thread.NewRetryingStore(thread.NewFileStore(threadsDir), func(message string) {
		logger.Warn(ctx, "thread persistence", "message", message)
	})

	rl, err := sqlitestore.Open(filepath.Join(configDir, project, "runlog.db"), logger)
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}

	sess := session.New(sessionID, bus, ids, registry, store, thread.New(uuid.NewString()), session.Options{
		Logger: logger,
		Prefs:  loader,
		RunLoopOptions: runloop.Options{
			Logger:      logger,
			ThreadStore: store,
			Recorder:    rl,
			Reminders:   reminder.NewEngine(),
		},
	})
	if err := sess.SelectProject(ctx, project); err != nil {
		sess.Close()
		rl.Close()
		return nil, err
	}

	watcher, err := configwatch.New(loader.WatchPaths(project), func() {
		if err := registry.SetProject(context.Background(), project); err != nil {
			logger.Warn(context.Background(), "config reload failed", "project", project, "error", err)
		}
	}, configwatch.Options{Logger: logger})
	if err != nil {
		logger.Warn(ctx, "config watching unavailable", "error", err)
	} else {
		watcher.Start(ctx)
	}

	return &engine{
		loader:  loader,
		bus:     bus,
		ids:     ids,
		sess:    sess,
		mcpMgr:  mcpMgr,
		watcher: watcher,
		runlog:  rl,
		logger:  logger,
		project: project,
	}, nil
}

// close tears the engine down: config watcher, session (and its event bus),
// MCP connections, then the run log.
func (e *engine) close(ctx context.Context) {
	if e.watcher != nil {
		_ = e.watcher.Close()
	}
	e.sess.Close()
	if err := e.mcpMgr.Kill(ctx); err != nil {
		e.logger.Warn(ctx, "mcp shutdown", "error", err)
	}
	if e.runlog != nil {
		_ = e.runlog.Close()
	}
}
