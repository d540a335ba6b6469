package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/soteria-mail/soteria/alias"
	"github.com/soteria-mail/soteria/audit"
	"github.com/soteria-mail/soteria/classify"
	"github.com/soteria-mail/soteria/config"
	"github.com/soteria-mail/soteria/headers"
	"github.com/soteria-mail/soteria/httpapi"
	"github.com/soteria-mail/soteria/logger"
	"github.com/soteria-mail/soteria/monitor"
)

// Version information, injected at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cfg := config.NewDefaultConfig()

	showVersion := flag.Bool("version", false, "Show version information and exit")
	flag.BoolVar(showVersion, "v", false, "Show version information and exit")
	configPath := flag.String("config", "config.toml", "Path to TOML configuration file")
	flag.Parse()

	if *showVersion {
		fmt.Printf("soteria version %s (commit: %s, built at: %s)\n", version, commit, date)
		os.Exit(0)
	}

	if err := config.Load(*configPath, &cfg); err != nil {
		if errors.Is(err, os.ErrNotExist) && *configPath == "config.toml" {
			// Default config absent is fine; flags and defaults apply.
			fmt.Fprintf(os.Stderr, "SOTERIA: WARNING: default configuration file %q not found, using application defaults\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "SOTERIA: Failed to load configuration: %v\n", err)
			os.Exit(1)
		}
	}

	logFile, err := logger.Initialize(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "SOTERIA: Warning initializing logger: %v\n", err)
	}

	logger.Info("Soteria starting", "version", version, "commit", commit, "built", date)

	var runErr error
	if runErr = cfg.Validate(); runErr != nil {
		logger.Error("Invalid configuration", "error", runErr)
	} else if runErr = run(cfg); runErr != nil {
		logger.Error("Fatal error", "error", runErr)
	}

	if logFile != nil {
		logFile.Close()
	}
	if runErr != nil {
		os.Exit(1)
	}
}

// run wires the components and blocks until shutdown. All resources are
// released through defers, so errors must be returned rather than
// exiting directly.
func run(cfg config.Config) error {
	codec, err := alias.NewCodec(cfg.Encryption.Key)
	if err != nil {
		return fmt.Errorf("initialize alias codec: %w", err)
	}

	dnsTimeout, _ := cfg.Monitor.GetDNSTimeout()
	idleTimeout, _ := cfg.Monitor.GetIdleTimeout()
	reconnectDelay, _ := cfg.Monitor.GetReconnectDelay()

	analyzer := headers.NewAnalyzer(headers.NewNetResolver(), dnsTimeout)
	engine := classify.NewEngine(classify.Routing{
		VerifiedFolder: cfg.User.VerifiedFolder,
		FailedFolder:   cfg.User.FailedFolder,
	})

	var recorder monitor.Recorder
	var auditLister httpapi.AuditLister
	if cfg.Audit.Enabled {
		auditStore, err := audit.Open(cfg.Audit.Path)
		if err != nil {
			return fmt.Errorf("open audit trail %s: %w", cfg.Audit.Path, err)
		}
		defer auditStore.Close()
		recorder = auditStore
		auditLister = auditStore
		logger.Info("Audit trail enabled", "path", cfg.Audit.Path)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-signalChan
		logger.Info("Received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	mon, err := monitor.New(monitor.Options{
		Mailbox:        cfg.IMAP.Mailbox,
		Username:       cfg.IMAP.Username,
		Password:       cfg.IMAP.Password,
		OwnDomains:     cfg.User.OwnDomains,
		IdleTimeout:    idleTimeout,
		ReconnectDelay: reconnectDelay,
		Codec:          codec,
		Analyzer:       analyzer,
		Engine:         engine,
		Recorder:       recorder,
	})
	if err != nil {
		return fmt.Errorf("create mailbox monitor: %w", err)
	}
	// New mail pushed during IDLE wakes the monitor for an immediate sweep.
	mon.SetClientFactory(monitor.NewClientFactory(cfg.IMAP, 30*time.Second, mon.Wake))

	errChan := make(chan error, 2)

	if cfg.Metrics.Enabled {
		go httpapi.Start(ctx, httpapi.ServerOptions{
			Addr:       cfg.Metrics.Addr,
			APIKey:     cfg.Metrics.APIKey,
			Codec:      codec,
			OwnDomains: cfg.User.OwnDomains,
			AuditLog:   auditLister,
		}, errChan)
	}

	go func() {
		if err := mon.Run(ctx); err != nil {
			errChan <- fmt.Errorf("mailbox monitor failed: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown complete")
		return nil
	case err := <-errChan:
		return err
	}
}
