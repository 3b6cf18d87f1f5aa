package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/rki-case-scraper/internal/app"
	"github.com/JakeFAU/rki-case-scraper/internal/config"
	"github.com/JakeFAU/rki-case-scraper/internal/logging"
	"github.com/JakeFAU/rki-case-scraper/internal/pipeline"
	"github.com/JakeFAU/rki-case-scraper/internal/rki"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	once := flag.Bool("once", false, "Run the pipeline once, print the outcome and exit")
	flag.Parse()

	os.Exit(run(*cfgPath, *once))
}

// closeTimeout bounds the wait for an in-flight run at exit.
const closeTimeout = 30 * time.Second

func run(cfgPath string, once bool) int {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		return 1
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Telemetry.ServiceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("application init failed", zap.Error(err))
		return 1
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		_ = a.Close(closeCtx)
	}()

	if once {
		out, err := a.RunOnce(ctx)
		if err != nil {
			logger.Error("pipeline run aborted", zap.Error(err))
			return 1
		}
		printOutcome(out)
		if out.State != rki.StateDone {
			return 2
		}
		return 0
	}

	if err := a.Run(ctx); err != nil {
		logger.Error("application stopped with error", zap.Error(err))
		return 1
	}
	return 0
}

type outcomeReport struct {
	State    rki.RunState  `json:"state"`
	FailedIn rki.RunState  `json:"failed_in,omitempty"`
	Error    string        `json:"error,omitempty"`
	Log      rki.LogEntry  `json:"log"`
	Snapshot *rki.Snapshot `json:"snapshot,omitempty"`
	Persist  []string      `json:"persist_errors,omitempty"`
}

func printOutcome(out pipeline.Outcome) {
	report := outcomeReport{State: out.State, FailedIn: out.FailedIn, Log: out.Log, Snapshot: out.Snapshot}
	if out.Err != nil {
		report.Error = out.Err.Error()
	}
	for _, err := range out.PersistErrs {
		report.Persist = append(report.Persist, err.Error())
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(report)
}
