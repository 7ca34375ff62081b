package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"

	"github.com/nhle/sortify/internal/api"
	"github.com/nhle/sortify/internal/app"
	"github.com/nhle/sortify/internal/credential"
	"github.com/nhle/sortify/internal/logging"
	"github.com/nhle/sortify/internal/model"
	"github.com/nhle/sortify/internal/oauth"
	"github.com/nhle/sortify/internal/realtime"
	"github.com/nhle/sortify/internal/session"
	"github.com/nhle/sortify/internal/store"
	appsync "github.com/nhle/sortify/internal/sync"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "sortify:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := pflag.StringP("config", "c", model.DefaultConfigPath(), "path to the config file")
	memoryToken := pflag.Bool("memory-token", false, "keep the session token in memory instead of the system keyring")
	logLevel := pflag.String("log-level", "", "override log.level (debug, info, warn, error)")
	pflag.Parse()

	cfg, err := model.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	for _, p := range []string{cfg.Log.File, cfg.Storage.DBPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
			return fmt.Errorf("creating %s: %w", filepath.Dir(p), err)
		}
	}

	logFile, err := tea.LogToFile(cfg.Log.File, "sortify")
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer logFile.Close()
	logger := logging.New(logFile, cfg.Log.Level)

	var tokens credential.TokenStore
	if *memoryToken {
		tokens = credential.NewMemoryStore("")
	} else {
		ring, err := credential.OpenKeyring(cfg.Storage.KeyringService, cfg.Storage.KeyringDir)
		if err != nil {
			return err
		}
		tokens = ring
	}

	st, err := store.NewSQLiteStore(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	client := api.NewClient(cfg.Backend.BaseURL, time.Duration(cfg.Backend.TimeoutSec)*time.Second)
	mgr := session.NewManager(client, tokens, logger)

	ch := realtime.New(
		realtime.WebSocketDialer{URL: cfg.Realtime.URL},
		mgr,
		realtime.Config{
			MaxAttempts: cfg.Realtime.MaxAttempts,
			BaseDelay:   time.Duration(cfg.Realtime.BaseDelayMS) * time.Millisecond,
		},
		logger,
	)
	feed := appsync.New(
		st,
		ch,
		cfg.Realtime.Topics,
		time.Duration(cfg.Realtime.StatusPollSec)*time.Second,
		logger,
	)
	flow := oauth.NewFlow(
		client,
		mgr,
		cfg.OAuth.CallbackAddr,
		time.Duration(cfg.OAuth.TimeoutSec)*time.Second,
		logger,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	realtime.Bind(ctx, ch, mgr)

	root := app.New(app.Deps{
		Ctx:         ctx,
		Session:     mgr,
		Channel:     ch,
		Feed:        feed,
		Store:       st,
		OAuth:       flow,
		MaxAttempts: cfg.Realtime.MaxAttempts,
		Log:         logger,
	})

	logger.Info("sortify.start", "backend", cfg.Backend.BaseURL, "realtime", cfg.Realtime.URL)

	p := tea.NewProgram(root, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err = p.Run()

	feed.Stop()
	flow.Cancel()
	ch.Close()

	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("running ui: %w", err)
	}
	return nil
}
