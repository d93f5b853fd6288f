// Package main is the threadrelay host binary. It connects the configured
// chat platforms, owns one session manager per platform, and relays thread
// traffic to the assistant CLI until it is signalled to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/threadrelay/threadrelay/internal/common/config"
	"github.com/threadrelay/threadrelay/internal/common/logger"
	"github.com/threadrelay/threadrelay/internal/common/tracing"
	"github.com/threadrelay/threadrelay/internal/debug"
	"github.com/threadrelay/threadrelay/internal/gateway"
	"github.com/threadrelay/threadrelay/internal/platform"
	"github.com/threadrelay/threadrelay/internal/platform/mattermost"
	"github.com/threadrelay/threadrelay/internal/platform/slack"
	"github.com/threadrelay/threadrelay/internal/session"
	"github.com/threadrelay/threadrelay/internal/session/tracker"
	"github.com/threadrelay/threadrelay/internal/store"
	"github.com/threadrelay/threadrelay/internal/threadlog"
	"github.com/threadrelay/threadrelay/internal/tools"
)

func main() {
	var (
		setup       = flag.Bool("setup", false, "run the interactive configuration wizard")
		reconfigure = flag.Bool("reconfigure", false, "alias for -setup")
		configPath  = flag.String("config", "", "directory to read config.yaml from")
		printConfig = flag.Bool("print-config", false, "print the effective configuration and exit")
	)
	flag.Parse()

	if *setup || *reconfigure {
		fmt.Fprintln(os.Stderr, "The configuration wizard ships separately; edit ~/.threadrelay/config.yaml by hand.")
		os.Exit(1)
	}

	// 1. Load configuration
	cfg, err := config.LoadWithPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *printConfig {
		printEffectiveConfig(cfg)
		return
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	logger.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("threadrelay exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	// 3. Create context cancelled on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 4. Open the session record store
	st, err := store.Open(expandHome(cfg.Store.Path))
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	defer func() { _ = st.Close() }()

	retention := time.Duration(cfg.ThreadLogs.RetentionDays) * 24 * time.Hour
	if n, err := st.DeleteStale(ctx, retention); err != nil {
		log.Warn("failed to clean stale session records", zap.Error(err))
	} else if n > 0 {
		log.Info("cleaned stale session records", zap.Int64("count", n))
	}

	// 5. Open the thread log store and run retention in the background
	tlog, err := threadlog.NewStore(expandHome(cfg.ThreadLogs.Dir), log)
	if err != nil {
		return fmt.Errorf("failed to open thread logs: %w", err)
	}
	defer tlog.Close()
	go tlog.RunRetention(ctx, retention)

	registry := tools.NewRegistry()

	// 6. Connect each configured platform
	g, runCtx := errgroup.WithContext(ctx)
	managers := make(map[string]*session.Manager, len(cfg.Platforms))

	for _, pc := range cfg.Platforms {
		port, err := newPort(pc, log)
		if err != nil {
			return fmt.Errorf("platform %q: %w", pc.ID, err)
		}

		mgr := session.NewManager(session.ManagerConfig{
			PlatformID:      pc.ID,
			Command:         cfg.Assistant.Command,
			ExtraArgs:       cfg.Assistant.ExtraArgs,
			DefaultWorkDir:  expandHome(cfg.WorkingDir),
			SkipPermissions: pc.SkipPermissions,
			IdleTimeout:     cfg.Session.IdleTimeout(),
			FlushDebounce:   cfg.Session.FlushDebounce(),
		}, platform.Traced(port), tracker.New(), registry, st, tlog, log)
		managers[pc.ID] = mgr

		gw := gateway.New(port, mgr, tlog, log)
		g.Go(func() error { return port.Run(runCtx) })
		g.Go(func() error { return gw.Run(runCtx) })

		log.Info("platform configured",
			zap.String("platform_id", pc.ID),
			zap.String("type", pc.Type))
	}

	// 7. Optional debug server
	if cfg.Debug.Enabled {
		dbg := debug.NewServer(cfg.Debug.Addr, managers, tlog, log)
		g.Go(func() error { return dbg.Run(runCtx) })
	}

	log.Info("threadrelay started", zap.Int("platforms", len(cfg.Platforms)))

	err = g.Wait()

	// 8. Graceful shutdown: end live sessions, keep records for resume
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	for _, mgr := range managers {
		mgr.Shutdown(shutdownCtx)
	}
	_ = tracing.Shutdown(shutdownCtx)

	if err != nil && ctx.Err() != nil {
		// Signal-driven stop is a clean exit.
		log.Info("threadrelay stopped")
		return nil
	}
	return err
}

// newPort builds the platform adapter for one config entry.
func newPort(pc config.PlatformConfig, log *logger.Logger) (platform.Port, error) {
	switch pc.Type {
	case config.PlatformMattermost:
		return mattermost.New(mattermost.Config{
			ID:           pc.ID,
			URL:          pc.URL,
			Token:        pc.Token,
			ChannelID:    pc.ChannelID,
			BotName:      pc.BotName,
			AllowedUsers: pc.AllowedUsers,
		}, log)
	case config.PlatformSlack:
		return slack.New(slack.Config{
			ID:           pc.ID,
			BotToken:     pc.BotToken,
			AppToken:     pc.AppToken,
			ChannelID:    pc.ChannelID,
			BotName:      pc.BotName,
			AllowedUsers: pc.AllowedUsers,
		}, log)
	default:
		return nil, fmt.Errorf("unknown platform type %q", pc.Type)
	}
}

// printEffectiveConfig dumps the merged configuration with credentials
// blanked so the output is safe to paste into an issue.
func printEffectiveConfig(cfg *config.Config) {
	redacted := *cfg
	redacted.Platforms = make([]config.PlatformConfig, len(cfg.Platforms))
	copy(redacted.Platforms, cfg.Platforms)
	for i := range redacted.Platforms {
		p := &redacted.Platforms[i]
		if p.Token != "" {
			p.Token = "[REDACTED]"
		}
		if p.BotToken != "" {
			p.BotToken = "[REDACTED]"
		}
		if p.AppToken != "" {
			p.AppToken = "[REDACTED]"
		}
	}

	out, err := yaml.Marshal(&redacted)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render configuration: %v\n", err)
		os.Exit(1)
	}
	fmt.Print(string(out))
}

// expandHome resolves a leading ~/ against the current user's home directory.
func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
