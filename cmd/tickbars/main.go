// Bybit tick archive downloader and OHLCV converter CLI
// This application downloads daily public trade archives from Bybit and
// converts them into gapless OHLCV bar files at multiple timeframes.
//
// Usage:
//
//	tickbars fetch btc --start 2024-01-01 --end 2024-01-31
//	tickbars fetch BTCUSDT --full --market-type both --timeframes 1m,1h
//	tickbars range ethusdt --market-type spot
//
// For detailed help on any command, use: tickbars <command> --help
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/tickdata/go-bybit-ohlcv/internal/config"
	"github.com/tickdata/go-bybit-ohlcv/internal/fetch"
	"github.com/tickdata/go-bybit-ohlcv/internal/gaps"
	"github.com/tickdata/go-bybit-ohlcv/internal/logger"
	"github.com/tickdata/go-bybit-ohlcv/internal/models"
	"github.com/tickdata/go-bybit-ohlcv/internal/sink"
)

const (
	Version = "1.0.0"
	AppName = "tickbars"
)

// Exit codes following standard conventions
const (
	ExitSuccess     = 0
	ExitUsageError  = 1
	ExitConfigError = 2
	ExitDataError   = 4
	ExitInterrupt   = 130
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(ExitUsageError)
	}

	// Optional .env file for archive roots, output paths, and log settings.
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "fetch":
		os.Exit(runFetch(ctx, args))
	case "range":
		os.Exit(runRange(ctx, args))
	case "gaps":
		os.Exit(runGaps(ctx, args))
	case "--version", "-v":
		fmt.Printf("%s version %s\n", AppName, Version)
	case "--help", "-h", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Error: Unknown command '%s'\n\n", command)
		printUsage()
		os.Exit(ExitUsageError)
	}
}

// fetchFlags holds the parsed fetch command line.
type fetchFlags struct {
	symbol     string
	start      string
	end        string
	full       bool
	timeframes string
	marketType string
	outputDir  string
	sinkName   string
	maxRetries int
	configPath string
}

func parseFetchFlags(args []string) (*fetchFlags, error) {
	fs := flag.NewFlagSet("fetch", flag.ContinueOnError)
	f := &fetchFlags{}
	fs.StringVar(&f.start, "start", "", "First day to fetch (YYYY-MM-DD)")
	fs.StringVar(&f.end, "end", "", "Last day to fetch, inclusive (defaults to --start)")
	fs.BoolVar(&f.full, "full", false, "Fetch every day listed in the archive")
	fs.StringVar(&f.timeframes, "timeframes", "", "Comma-separated timeframes, or 'all'")
	fs.StringVar(&f.marketType, "market-type", "futures", "Market: futures, spot, or both")
	fs.StringVar(&f.outputDir, "output-dir", "", "Output directory root")
	fs.StringVar(&f.sinkName, "sink", "", "Output sink: csv, parquet, or duckdb")
	fs.IntVar(&f.maxRetries, "max-retries", 0, "Download attempts per day")
	fs.StringVar(&f.configPath, "config", "", "JSON config file path")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: tickbars fetch <symbol> [options]")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return nil, fmt.Errorf("exactly one symbol argument is required")
	}
	f.symbol = fs.Arg(0)

	if !f.full && f.start == "" {
		return nil, fmt.Errorf("either --start or --full is required")
	}
	if f.full && f.start != "" {
		return nil, fmt.Errorf("--full and --start are mutually exclusive")
	}
	return f, nil
}

func runFetch(ctx context.Context, args []string) int {
	flags, err := parseFetchFlags(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitUsageError
	}

	cfg, logs, err := buildConfig(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitConfigError
	}
	defer logs.Close()
	log := logs.Component("cli")

	symbol, err := fetch.NormalizeSymbol(flags.symbol)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitUsageError
	}
	market, err := models.ParseMarketType(flags.marketType)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitUsageError
	}

	client, err := fetch.NewClient(cfg, logs.Component("fetch"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitConfigError
	}
	barSink, err := sink.New(cfg.Output, logs.Component("sink"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitConfigError
	}
	defer barSink.Close()

	jobs, err := buildJobs(ctx, client, symbol, market, flags)
	if err != nil {
		log.Error("building job list failed", "error", err)
		return ExitDataError
	}
	log.Info("starting batch",
		"symbol", symbol,
		"market", market,
		"jobs", len(jobs),
		"sink", cfg.Output.Sink)

	orch, err := fetch.NewOrchestrator(cfg, client, barSink, logs.Component("orchestrator"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitConfigError
	}

	summary, runErr := orch.Run(ctx, jobs)
	printSummary(summary)

	if ctx.Err() != nil {
		return ExitInterrupt
	}
	if runErr != nil || summary.Failed > 0 {
		return ExitDataError
	}
	return ExitSuccess
}

// buildJobs resolves the date range (explicit or discovered) and expands it
// into per-day jobs.
func buildJobs(ctx context.Context, client *fetch.Client, symbol string, market models.MarketType, flags *fetchFlags) ([]models.FetchJob, error) {
	if !flags.full {
		r, err := fetch.ParseDateRange(flags.start, flags.end)
		if err != nil {
			return nil, err
		}
		return fetch.BuildJobs(symbol, market, r), nil
	}

	// Full history: each market discovers its own listed span.
	markets := []models.MarketType{market}
	if market == models.MarketBoth {
		markets = []models.MarketType{models.MarketFutures, models.MarketSpot}
	}

	var jobs []models.FetchJob
	for _, m := range markets {
		r, err := client.DiscoverRange(ctx, symbol, m)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, fetch.BuildJobs(symbol, m, r)...)
	}
	return jobs, nil
}

func runRange(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("range", flag.ContinueOnError)
	marketType := fs.String("market-type", "futures", "Market: futures, spot, or both")
	configPath := fs.String("config", "", "JSON config file path")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: tickbars range <symbol> [options]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return ExitUsageError
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return ExitUsageError
	}

	cfg, logs, err := buildConfig(&fetchFlags{configPath: *configPath})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitConfigError
	}
	defer logs.Close()

	symbol, err := fetch.NormalizeSymbol(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitUsageError
	}
	market, err := models.ParseMarketType(*marketType)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitUsageError
	}

	client, err := fetch.NewClient(cfg, logs.Component("fetch"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitConfigError
	}

	markets := []models.MarketType{market}
	if market == models.MarketBoth {
		markets = []models.MarketType{models.MarketFutures, models.MarketSpot}
	}
	for _, m := range markets {
		r, err := client.DiscoverRange(ctx, symbol, m)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s/%s: %v\n", symbol, m, err)
			return ExitDataError
		}
		fmt.Printf("%s %s: %s .. %s (%d days)\n",
			symbol, m, r.Start.Format("2006-01-02"), r.End.Format("2006-01-02"), len(r.Days()))
	}
	return ExitSuccess
}

// runGaps reports listed archive days that have no complete local output.
func runGaps(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("gaps", flag.ContinueOnError)
	marketType := fs.String("market-type", "futures", "Market: futures, spot, or both")
	timeframes := fs.String("timeframes", "", "Comma-separated timeframes, or 'all'")
	outputDir := fs.String("output-dir", "", "Output directory root")
	configPath := fs.String("config", "", "JSON config file path")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: tickbars gaps <symbol> [options]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return ExitUsageError
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return ExitUsageError
	}

	cfg, logs, err := buildConfig(&fetchFlags{
		configPath: *configPath,
		timeframes: *timeframes,
		outputDir:  *outputDir,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitConfigError
	}
	defer logs.Close()

	symbol, err := fetch.NormalizeSymbol(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitUsageError
	}
	market, err := models.ParseMarketType(*marketType)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitUsageError
	}

	client, err := fetch.NewClient(cfg, logs.Component("fetch"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitConfigError
	}
	barSink, err := sink.New(cfg.Output, logs.Component("sink"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitConfigError
	}
	defer barSink.Close()

	tfs, err := cfg.Timeframes()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitConfigError
	}

	markets := []models.MarketType{market}
	if market == models.MarketBoth {
		markets = []models.MarketType{models.MarketFutures, models.MarketSpot}
	}

	incomplete := false
	for _, m := range markets {
		listed, err := client.ListedDays(ctx, symbol, m)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s/%s: %v\n", symbol, m, err)
			return ExitDataError
		}
		report, err := gaps.FindMissingDays(symbol, m, listed, tfs, barSink)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s/%s: %v\n", symbol, m, err)
			return ExitDataError
		}

		fmt.Printf("%s %s: %d listed, %d covered, %d missing\n",
			symbol, m, report.Listed, report.Covered, len(report.Missing))
		for _, d := range report.Missing {
			fmt.Printf("  missing %s\n", d.Format("2006-01-02"))
		}
		if !report.Complete() {
			incomplete = true
		}
	}

	if incomplete {
		return ExitDataError
	}
	return ExitSuccess
}

// buildConfig loads the layered configuration and applies command-line
// overrides, then constructs the logger from it.
func buildConfig(flags *fetchFlags) (*config.AppConfig, *logger.Manager, error) {
	cfg, err := config.Load(flags.configPath, nil)
	if err != nil {
		return nil, nil, err
	}

	if flags.timeframes != "" {
		cfg.Aggregation.Timeframes = []string{flags.timeframes}
	}
	if flags.outputDir != "" {
		cfg.Output.RootDir = flags.outputDir
	}
	if flags.sinkName != "" {
		cfg.Output.Sink = flags.sinkName
	}
	if flags.maxRetries > 0 {
		cfg.Fetch.MaxRetries = flags.maxRetries
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	logs, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logs, nil
}

// printSummary renders the batch outcome table and the retry hint for any
// failed days.
func printSummary(summary models.BatchSummary) {
	fmt.Println()
	fmt.Printf("Batch %s\n", summary.RunID)
	fmt.Printf("  %-8s %d\n", "total", summary.Total)
	fmt.Printf("  %-8s %d\n", "written", summary.Written)
	fmt.Printf("  %-8s %d\n", "skipped", summary.Skipped)
	fmt.Printf("  %-8s %d\n", "failed", summary.Failed)

	for i := range summary.Results {
		r := &summary.Results[i]
		switch {
		case r.Failed():
			fmt.Printf("  FAIL %s: %v\n", r.Job.String(), r.Err)
		case r.MalformedRows > 0 || r.OutOfOrder > 0:
			fmt.Printf("  WARN %s: %d malformed, %d out-of-order rows skipped\n",
				r.Job.String(), r.MalformedRows, r.OutOfOrder)
		}
	}

	if failed := summary.FailedDates(); len(failed) > 0 {
		fmt.Printf("\nRe-run with --start <date> to retry failed days: %v\n", failed)
	}
}

func printUsage() {
	fmt.Printf(`%s - Bybit tick archive downloader and OHLCV converter

Usage:
  %s <command> [options]

Commands:
  fetch <symbol>    Download daily archives and write OHLCV bar files
  range <symbol>    Show the span of days available in the archive
  gaps <symbol>     List archive days with no complete local output

Common options:
  --market-type     futures (default), spot, or both
  --config          JSON config file path

Fetch options:
  --start           First day (YYYY-MM-DD); --end defaults to it
  --full            Process every listed day instead of a date range
  --timeframes      Comma-separated list (1s,1m,5m,15m,1h,4h,1d) or 'all'
  --output-dir      Output directory root (default: data)
  --sink            csv (default), parquet, or duckdb
  --max-retries     Download attempts per day (default: 3)

Examples:
  %s fetch btc --start 2024-01-01 --end 2024-01-31
  %s fetch BTCUSDT --full --market-type both
  %s range ethusdt --market-type spot

Version: %s
`, AppName, AppName, AppName, AppName, AppName, Version)
}
