// Package gateway runs the message gateway: it owns the storage and
// pipeline singletons, supervises one listen loop per connected adapter,
// and exposes a status snapshot for the CLI.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"secretary/internal/adapter"
	"secretary/internal/config"
	"secretary/internal/model"
	"secretary/internal/pipeline"
	"secretary/internal/storage"
)

// Gateway supervises adapters and routes their messages through the
// pipeline. One Gateway per process; Start blocks until every listen loop
// has ended.
type Gateway struct {
	cfg    *config.Config
	logger *slog.Logger

	mu        sync.Mutex
	adapters  map[model.ChannelType]adapter.Adapter
	running   bool
	startTime time.Time
	cancel    context.CancelFunc
	runCtx    context.Context
	tasks     int

	store *storage.Store
	pipe  *pipeline.Pipeline
	wg    sync.WaitGroup
}

// New builds a stopped Gateway over cfg. Adapters are registered with
// AddAdapter before (or after) Start.
func New(cfg *config.Config, logger *slog.Logger) *Gateway {
	if cfg == nil {
		cfg = config.Defaults()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		cfg:      cfg,
		logger:   logger,
		adapters: make(map[model.ChannelType]adapter.Adapter),
	}
}

// AddAdapter registers a by channel type; registering a second adapter for
// the same channel replaces the first. On a running gateway the adapter is
// connected and supervised immediately.
func (g *Gateway) AddAdapter(a adapter.Adapter) {
	ch := a.ChannelType()

	g.mu.Lock()
	if _, dup := g.adapters[ch]; dup {
		g.logger.Warn("replacing registered adapter", "channel", ch)
	}
	g.adapters[ch] = a
	running := g.running
	ctx := g.runCtx
	g.mu.Unlock()

	g.logger.Info("adapter registered", "channel", ch)
	if running {
		g.connectAndSupervise(ctx, a)
	}
}

// Start initializes storage, the pipeline, and the PID marker, connects
// every enabled adapter, then blocks until all listen loops end (context
// cancellation or Stop). Calling Start on a running gateway is a logged
// no-op. A single adapter failing to connect does not abort startup.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	if g.running {
		g.mu.Unlock()
		g.logger.Warn("gateway already running")
		return nil
	}

	store := storage.New(filepath.Join(g.cfg.DataDir, "messages.db"), g.logger)
	if err := store.Connect(ctx); err != nil {
		g.mu.Unlock()
		return fmt.Errorf("storage init: %w", err)
	}

	pipe, err := pipeline.New(store, g.pipelineConfig(), g.logger)
	if err != nil {
		store.Close()
		g.mu.Unlock()
		return fmt.Errorf("pipeline init: %w", err)
	}

	if err := WritePID(g.cfg.DataDir); err != nil {
		store.Close()
		g.mu.Unlock()
		return fmt.Errorf("write pid file: %w", err)
	}

	g.store = store
	g.pipe = pipe
	g.runCtx, g.cancel = context.WithCancel(ctx)
	g.running = true
	g.startTime = time.Now()
	runCtx := g.runCtx
	adapters := g.snapshotAdapters()
	g.mu.Unlock()

	connected := 0
	for _, a := range adapters {
		if !g.channelEnabled(a.ChannelType()) {
			g.logger.Info("channel disabled, skipping", "channel", a.ChannelType())
			continue
		}
		if g.connectAndSupervise(runCtx, a) {
			connected++
		}
	}
	g.logger.Info("gateway started",
		"adapters", len(adapters), "connected", connected, "data_dir", g.cfg.DataDir)

	// Idle until Stop or parent cancellation; an individual listen loop
	// ending early does not shut the gateway down.
	<-runCtx.Done()
	g.wg.Wait()
	g.Stop()
	return nil
}

// Stop shuts the gateway down: cancel listen loops, disconnect adapters,
// wait for loops to drain, close storage, remove the PID marker. Idempotent;
// calling Stop on a stopped gateway does nothing.
func (g *Gateway) Stop() {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return
	}
	g.running = false
	cancel := g.cancel
	store := g.store
	adapters := g.snapshotAdapters()
	g.mu.Unlock()

	cancel()
	for _, a := range adapters {
		a.Disconnect()
	}
	g.wg.Wait()

	if store != nil {
		store.Close()
	}
	RemovePID(g.cfg.DataDir)
	g.logger.Info("gateway stopped")
}

// GetStatus returns an operational snapshot: running flag, start time,
// uptime, per-adapter status maps, and counts.
func (g *Gateway) GetStatus() map[string]any {
	g.mu.Lock()
	defer g.mu.Unlock()

	adapters := make(map[string]any, len(g.adapters))
	for ch, a := range g.adapters {
		adapters[string(ch)] = a.Status()
	}

	status := map[string]any{
		"running":        g.running,
		"start_time":     nil,
		"uptime_seconds": 0.0,
		"adapters":       adapters,
		"adapters_count": len(g.adapters),
		"tasks_count":    g.tasks,
	}
	if g.running {
		status["start_time"] = g.startTime.Format(time.RFC3339)
		status["uptime_seconds"] = time.Since(g.startTime).Seconds()
	}
	return status
}

// Store exposes the message store; nil before Start.
func (g *Gateway) Store() *storage.Store {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.store
}

// Pipeline exposes the processing pipeline; nil before Start.
func (g *Gateway) Pipeline() *pipeline.Pipeline {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pipe
}

// connectAndSupervise connects a and, on success, launches its supervised
// listen loop. Connect failures are logged and isolated; the rest of the
// gateway keeps running.
func (g *Gateway) connectAndSupervise(ctx context.Context, a adapter.Adapter) bool {
	ch := a.ChannelType()
	if !a.Connect(ctx) {
		g.logger.Error("adapter connect failed", "channel", ch)
		return false
	}
	g.logger.Info("adapter connected", "channel", ch)

	g.mu.Lock()
	g.tasks++
	g.mu.Unlock()
	g.wg.Add(1)
	go g.runAdapter(ctx, a)
	return true
}

// runAdapter drains one adapter's listen stream into the pipeline. A panic
// anywhere in the loop is contained here, so one misbehaving adapter can
// never take down its siblings.
func (g *Gateway) runAdapter(ctx context.Context, a adapter.Adapter) {
	ch := a.ChannelType()
	defer g.wg.Done()
	defer func() {
		g.mu.Lock()
		g.tasks--
		g.mu.Unlock()
	}()
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("adapter loop panicked", "channel", ch, "panic", r)
		}
	}()

	for msg := range a.Listen(ctx) {
		result := g.pipe.Process(ctx, &msg)
		if result.Error != "" {
			g.logger.Warn("message processed with error",
				"channel", ch, "message_id", msg.ID, "err", result.Error)
			continue
		}
		g.logger.Debug("message processed",
			"channel", ch, "message_id", msg.ID, "priority", result.Priority,
			"has_action", result.HasAction)
	}
	g.logger.Info("adapter listen stream ended", "channel", ch)
}

// channelEnabled consults the config; a channel with no config entry is
// treated as enabled so programmatically registered adapters still run.
func (g *Gateway) channelEnabled(ch model.ChannelType) bool {
	entry, ok := g.cfg.Channels[string(ch)]
	if !ok {
		return true
	}
	return entry.Enabled
}

func (g *Gateway) snapshotAdapters() []adapter.Adapter {
	out := make([]adapter.Adapter, 0, len(g.adapters))
	for _, a := range g.adapters {
		out = append(out, a)
	}
	return out
}

// pipelineConfig merges the pipeline, notification, and safety sections of
// the gateway config into the pipeline's own config type.
func (g *Gateway) pipelineConfig() pipeline.Config {
	cfg := pipeline.DefaultConfig()
	if len(g.cfg.Pipeline.UrgentKeywords) > 0 {
		cfg.UrgentKeywords = g.cfg.Pipeline.UrgentKeywords
	}
	if len(g.cfg.Pipeline.ActionKeywords) > 0 {
		cfg.ActionKeywords = g.cfg.Pipeline.ActionKeywords
	}
	if len(g.cfg.Pipeline.DeadlinePatterns) > 0 {
		cfg.DeadlinePatterns = g.cfg.Pipeline.DeadlinePatterns
	}
	cfg.ToastEnabled = g.cfg.Notifications.ToastEnabled
	if g.cfg.Safety.RateLimitPerMinute > 0 {
		cfg.RateLimitPerMinute = g.cfg.Safety.RateLimitPerMinute
	}
	return cfg
}
