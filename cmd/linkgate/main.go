package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dgnsrekt/linkgate/internal/api"
	"github.com/dgnsrekt/linkgate/internal/browser"
	"github.com/dgnsrekt/linkgate/internal/cdpcontrol"
	"github.com/dgnsrekt/linkgate/internal/config"
	"github.com/dgnsrekt/linkgate/internal/metrics"
	"github.com/dgnsrekt/linkgate/internal/netutil"
	"github.com/dgnsrekt/linkgate/internal/notify"
	"github.com/dgnsrekt/linkgate/internal/relay"
	"github.com/dgnsrekt/linkgate/internal/router"
	"github.com/dgnsrekt/linkgate/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		if _, writeErr := io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n"); writeErr != nil {
			slog.Debug("logger setup stderr write failed", "error", writeErr)
		}
		os.Exit(1)
	}

	slog.Info("linkgate config loaded",
		"cdp_url", cfg.GetCDPURL(),
		"bind_addr", cfg.BindAddr,
		"port_auto_fallback", cfg.PortAutoFallback,
		"port_candidates", cfg.PortCandidates,
		"cdp_timeout_ms", cfg.CDPTimeoutMS,
		"candidate_ttl_ms", cfg.CandidateTTLMS,
		"classify_window_ms", cfg.ClassifyWindowMS,
		"rules_file", cfg.RulesFile,
		"ntfy_enabled", cfg.NtfyEndpoint != "",
		"event_log_dir", cfg.EventLogDir,
		"launch_browser", cfg.LaunchBrowser,
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
	)

	rules, err := config.LoadRules(cfg.RulesFile)
	switch {
	case errors.Is(err, os.ErrNotExist):
		rules = &config.Rules{}
	case err != nil:
		slog.Error("failed to load rules file", "path", cfg.RulesFile, "error", err)
		os.Exit(1)
	}

	ln, err := netutil.Listen(cfg.BindAddr, cfg.PortCandidates, cfg.PortAutoFallback)
	if err != nil {
		slog.Error("failed to bind prompt server", "preferred", cfg.BindAddr, "error", err)
		os.Exit(1)
	}
	promptBase := netutil.BaseURL(ln)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.LaunchBrowser {
		launcher := browser.NewLauncher(browser.Config{
			CDPAddress: cfg.CDPAddress,
			CDPPort:    cfg.CDPPort,
			StartURL:   cfg.StartURL,
			ProfileDir: cfg.BrowserProfileDir,
		})
		if err := launcher.Launch(ctx); err != nil {
			slog.Error("failed to launch browser", "error", err)
			os.Exit(1)
		}
		defer launcher.Stop()
	}

	cdpClient := cdpcontrol.NewClient(cfg.GetCDPURL(), promptBase+"/prompt", cfg.CDPTimeout())
	if err := cdpClient.Connect(ctx); err != nil {
		slog.Error("failed to connect CDP", "cdp_url", cfg.GetCDPURL(), "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := cdpClient.Close(); err != nil {
			slog.Debug("CDP client close failed", "error", err)
		}
	}()

	specs := make([]router.ContainerSpec, 0, len(rules.Containers))
	for _, c := range rules.Containers {
		specs = append(specs, router.ContainerSpec{Name: c.Name, Color: c.Color, Icon: c.Icon})
	}
	if err := cdpClient.EnsureContainers(ctx, specs); err != nil {
		slog.Error("failed to create configured containers", "error", err)
		os.Exit(1)
	}

	broker := relay.NewBroker()
	sinks := router.Sinks{broker}
	if cfg.NtfyEndpoint != "" {
		notifier := notify.NewNotifier(cfg.NtfyEndpoint, nil)
		defer notifier.Wait()
		sinks = append(sinks, notifier)
	}
	if cfg.EventLogDir != "" {
		eventLog := storage.NewEventLog(cfg.EventLogDir, 256, 25)
		defer func() {
			if err := eventLog.Close(); err != nil {
				slog.Debug("event log close failed", "error", err)
			}
		}()
		sinks = append(sinks, eventLog)
	}
	m := metrics.New()

	rt := router.New(cdpClient, router.Options{
		CandidateTTL:   cfg.CandidateTTL(),
		ClassifyWindow: cfg.ClassifyWindow(),
		InternalPages:  append(append([]string{}, router.DefaultInternalPages...), rules.InternalPages...),
		PromptBaseURL:  promptBase,
		PromptWidth:    cfg.PromptWidth,
		PromptHeight:   cfg.PromptHeight,
		PlaceholderURL: cfg.PlaceholderURL,
		Events:         sinks,
		Recorder:       m,
	})

	h := api.NewServer(rt, api.Mounts{
		Events:  relay.SSEHandler(broker, rt.Pending),
		Metrics: m.Handler(),
	})
	srv := &http.Server{Handler: h}

	go func() {
		slog.Info("linkgate listening", "addr", ln.Addr().String(), "docs", promptBase+"/docs")
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("linkgate server failed", "error", err)
			stop()
		}
	}()

	if err := cdpClient.Run(ctx, rt); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("CDP event pump stopped", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("linkgate shutdown failed", "error", err)
	}
}

func setupLogger(level, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
