// Command agentflowd is the localhost backend for the desktop shell:
// it owns the workflow store, runs the turn engine against the
// configured model provider, and exposes the HTTP API the UI talks to.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"

	"agentflow/pkg/config"
	"agentflow/pkg/eventlog"
	"agentflow/pkg/llm"
	"agentflow/pkg/logx"
	"agentflow/pkg/metrics"
	"agentflow/pkg/persistence"
	"agentflow/pkg/utils"
	"agentflow/pkg/workflow"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "agentflowd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		dataDir    = flag.String("data", "", "data directory (default ~/.agentflow)")
		configPath = flag.String("config", "", "config file path (default <data>/config.yaml)")
		setup      = flag.Bool("setup", false, "run interactive secret setup and exit")
	)
	flag.Parse()

	logger := logx.NewLogger("agentflowd")

	dir := *dataDir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to resolve home directory: %w", err)
		}
		dir = filepath.Join(home, ".agentflow")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	if *setup {
		return runSetup(dir)
	}

	cfgPath := *configPath
	if cfgPath == "" {
		cfgPath = filepath.Join(dir, "config.yaml")
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	if err := unlockSecrets(dir, cfg); err != nil {
		return err
	}

	dbPath := cfg.Database.Path
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(dir, dbPath)
	}
	db, err := persistence.Open(dbPath)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	sessionID := uuid.New().String()
	store := persistence.NewStore(db, sessionID)
	logger.Info("session %s, database %s", sessionID, dbPath)

	var audit *eventlog.Writer
	if cfg.Audit.Enabled {
		auditDir := cfg.Audit.Dir
		if !filepath.IsAbs(auditDir) {
			auditDir = filepath.Join(dir, auditDir)
		}
		audit, err = eventlog.NewWriter(auditDir, cfg.Audit.RotationHours)
		if err != nil {
			return err
		}
		defer func() { _ = audit.Close() }()
	}

	counter, err := utils.NewTokenCounter(cfg.LLM.Provider)
	if err != nil {
		logger.Warn("token counter unavailable, using size estimates: %v", err)
	}

	opts := workflow.Options{
		Counter:     counter,
		TokenBudget: cfg.LLM.ContextTokenBudget,
		Recorder:    metrics.NewRecorder(nil),
	}
	if audit != nil {
		opts.Audit = audit
	}
	engine := workflow.NewEngine(store, cfg.Enforcement, opts)

	client, err := llm.NewClientFromConfig(&cfg.LLM)
	if err != nil {
		return err
	}
	logger.Info("provider %s, model %s", cfg.LLM.Provider, client.ModelName())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := NewServer(cfg, engine, store, client)
	return server.Run(ctx)
}
