package main

import (
	"context"
	"flag"
	"os"
	"runtime"
	"time"

	"github.com/okian/soccer-tracker/internal/simulate"
	"github.com/okian/soccer-tracker/pkg/logger"
)

// Default configuration constants.
const (
	defaultBursts      = 5
	defaultOps         = 40
	defaultWorkers     = 2 // multiplier for runtime.NumCPU()
	defaultReplayRatio = 0.1
	defaultTimeout     = 30 * time.Second
	defaultSettle      = 30 * time.Second
	defaultRunTimeout  = 10 * time.Minute
)

func main() {
	var (
		baseURL = flag.String("url", "http://localhost:9080", "Base URL of the service")
		bursts  = flag.Int("bursts", defaultBursts, "Number of edit bursts")
		ops     = flag.Int("ops", defaultOps, "Edits per burst")
		workers = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent workers")
		replay  = flag.Float64("replay", defaultReplayRatio, "Share of creates resent with the same idempotency key")
		timeout = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		settle  = flag.Duration("settle", defaultSettle, "Maximum time for the view to converge")
		verbose = flag.Bool("verbose", false, "Log every burst")
		help    = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		simulate.ShowHelp()
		return
	}

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultRunTimeout)
	defer cancel()

	config := &simulate.Config{
		BaseURL:       *baseURL,
		Bursts:        *bursts,
		OpsPerBurst:   *ops,
		Workers:       *workers,
		Timeout:       *timeout,
		SettleTimeout: *settle,
		ReplayRatio:   *replay,
		Verbose:       *verbose,
	}

	if _, err := simulate.Run(ctx, config); err != nil {
		logger.Get().Error(ctx, "stat burst failed", logger.Error(err))
		cancel()
		os.Exit(1)
	}
}
