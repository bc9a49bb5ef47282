package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mtzanidakis/quorum/internal/config"
	"github.com/mtzanidakis/quorum/internal/events"
	"github.com/mtzanidakis/quorum/internal/natsbus"
	"github.com/mtzanidakis/quorum/internal/pipeline"
	"github.com/mtzanidakis/quorum/internal/scheduler"
	"github.com/mtzanidakis/quorum/internal/store"
	"github.com/mtzanidakis/quorum/internal/vault"
	"github.com/mtzanidakis/quorum/internal/web"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "version":
		fmt.Printf("quorum %s\n", version)
	case "gateway":
		err = runGateway()
	case "ask":
		err = runAsk(os.Args[2:])
	case "secrets":
		err = runSecrets(os.Args[2:])
	case "backup":
		err = runBackup(os.Args[2:])
	default:
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		slog.Error("command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: quorum <command>

Commands:
  gateway    Start the quorum gateway service
  ask        Run one query through the pipeline and print the answer
  secrets    Manage vault-encrypted backend credentials
  backup     Archive the data directory to a .tar.zst file
  version    Print version
`)
}

func runGateway() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("starting quorum gateway", "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()
	slog.Info("store initialized", "path", cfg.Store.Path)

	if err := fillKeysFromVault(cfg, db); err != nil {
		return err
	}

	bus, err := natsbus.New(cfg.NATS)
	if err != nil {
		return fmt.Errorf("init nats: %w", err)
	}
	defer bus.Close()
	slog.Info("nats started", "port", cfg.NATS.Port)

	natsClient, err := natsbus.NewClient(bus)
	if err != nil {
		return fmt.Errorf("init nats client: %w", err)
	}
	defer natsClient.Close()

	runner := pipeline.NewRunner(cfg, pipeline.BuildBackends(cfg), events.NewNATSSink(natsClient)).
		WithRecorder(db)

	sched := scheduler.New(db, runner, natsClient, cfg.Scheduler)
	go sched.Start(ctx)

	if cfg.Web.Enabled {
		srv := web.NewServer(db, runner, natsClient, sched, cfg, version)
		go func() {
			if err := srv.Start(ctx); err != nil {
				slog.Error("web server error", "error", err)
			}
		}()
		slog.Info("web server started", "port", cfg.Web.Port)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig)
	cancel()

	return nil
}

// fillKeysFromVault resolves backend credentials that the environment did
// not provide, using vault secrets named after the backend.
func fillKeysFromVault(cfg *config.Config, db *store.Store) error {
	if cfg.Vault.Passphrase == "" {
		return nil
	}
	v := vault.New(cfg.Vault.Passphrase)

	for name, b := range cfg.Backends {
		if b.APIKeyEnv == "" || b.APIKey != "" {
			continue
		}
		sec, err := db.GetSecret(name)
		if err != nil {
			return fmt.Errorf("load vault secret for backend %s: %w", name, err)
		}
		if sec == nil {
			continue
		}
		key, err := v.Open(sec.Value, sec.Nonce)
		if err != nil {
			return fmt.Errorf("decrypt vault secret for backend %s: %w", name, err)
		}
		b.APIKey = string(key)
		cfg.Backends[name] = b
		slog.Info("backend credential loaded from vault", "backend", name)
	}
	return nil
}

func runAsk(args []string) error {
	mode := "quick"
	var queryParts []string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-mode":
			if i+1 >= len(args) {
				return fmt.Errorf("missing value for -mode")
			}
			i++
			mode = args[i]
		default:
			queryParts = append(queryParts, args[i])
		}
	}
	query := strings.Join(queryParts, " ")
	if query == "" {
		return fmt.Errorf("usage: quorum ask [-mode <mode>] <query>")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runner := pipeline.NewRunner(cfg, pipeline.BuildBackends(cfg), progressSink{})

	result, err := runner.Run(ctx, query, mode)
	if err != nil {
		if result != nil {
			for _, st := range result.Stages {
				if st.Status == pipeline.StatusFailed {
					fmt.Fprintf(os.Stderr, "stage %s failed: %s\n", st.Name, st.Error)
				}
			}
		}
		return err
	}

	delay := cfg.Modes[mode].ChunkDelay
	for i, chunk := range result.Chunks {
		if i > 0 && delay > 0 {
			time.Sleep(delay)
		}
		fmt.Print(chunk)
	}
	fmt.Println()
	return nil
}

// progressSink writes stage progress to stderr so the answer on stdout stays
// clean for piping.
type progressSink struct{}

func (progressSink) Emit(e events.Event) {
	switch e.Type {
	case events.TypeStepStart:
		fmt.Fprintf(os.Stderr, "▸ %s\n", e.Step)
	case events.TypeStepFinish:
		if e.Status == "error" {
			fmt.Fprintf(os.Stderr, "✗ %s: %s\n", e.Step, e.Message)
		}
	}
}
