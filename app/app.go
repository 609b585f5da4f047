// app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dalemusser/mailsieve/config"
	"github.com/dalemusser/mailsieve/domaincheck"
	"github.com/dalemusser/mailsieve/logging"
	"github.com/dalemusser/mailsieve/metrics"
	"github.com/dalemusser/mailsieve/pantry/cache"
	"github.com/dalemusser/mailsieve/pantry/version"
	"github.com/dalemusser/mailsieve/sieve"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

// Exit codes returned by Run.
const (
	ExitOK    = 0
	ExitError = 1
)

// Runner holds the integration points of one mailsieve invocation. The zero
// value is usable apart from Name, which only labels log lines.
type Runner struct {
	// Name is used only for logging/diagnostics.
	Name string

	// Stdout receives --version output. Default: os.Stdout.
	Stdout io.Writer

	// Stderr receives the usage text. Default: os.Stderr.
	Stderr io.Writer

	// NewLookuper replaces DNS resolution. When nil, cfg.DNS.Server selects
	// a direct client and an empty server selects the system resolver.
	NewLookuper func(cfg *config.CoreConfig) domaincheck.Lookuper

	// Signals controls whether SIGINT/SIGTERM cancel the run.
	Signals bool
}

// Run executes a mailsieve run with the default Runner and returns the
// process exit code.
func Run(ctx context.Context, args []string) int {
	return Runner{Name: "mailsieve", Signals: true}.Run(ctx, args)
}

// Run executes the standard startup sequence:
//
//  1. Bootstrap logger
//  2. Load config and positional arguments
//  3. Build final logger based on config
//  4. Check the input exists
//  5. Create the run's metrics
//  6. Load trusted providers (failure is not fatal)
//  7. Open the domain cache (memory or Redis)
//  8. Build the resolver and pipeline
//  9. Wire shutdown signals to a context
//  10. Process the file, then write the metrics textfile
func (r Runner) Run(ctx context.Context, args []string) int {
	stdout, stderr := r.Stdout, r.Stderr
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}

	// 1) Bootstrap logger for early startup
	bootstrap := logging.BootstrapLogger()
	defer bootstrap.Sync()

	// 2) Load config
	cfg, positional, err := config.Load(bootstrap, args)
	if errors.Is(err, pflag.ErrHelp) {
		printUsage(stderr)
		return ExitOK
	}
	if err != nil {
		bootstrap.Error("config load failed", zap.Error(err))
		return ExitError
	}
	if cfg.ShowVersion {
		fmt.Fprintln(stdout, version.Line("mailsieve"))
		return ExitOK
	}
	if len(positional) != 2 {
		printUsage(stderr)
		return ExitError
	}
	inputPath, outputPath := positional[0], positional[1]

	// 3) Build final logger
	logger, err := logging.BuildLogger(cfg.LogLevel, cfg.Env)
	if err != nil {
		bootstrap.Error("logger build failed", zap.Error(err))
		return ExitError
	}
	defer logger.Sync()
	logger.Info("logger initialized", zap.String("app", r.Name), zap.String("version", version.String()))
	logger.Debug("effective config", zap.String("config", cfg.Dump()))

	// 4) Input must exist before anything else is set up
	if _, err := os.Stat(inputPath); err != nil {
		logger.Error("input file not found", zap.String("input", inputPath), zap.Error(err))
		return ExitError
	}

	// 5) Metrics for this run
	m := metrics.New(logger)
	defer writeMetrics(logger, m, cfg.MetricsFile)

	// 6) Trusted providers
	trusted, err := domaincheck.LoadTrustedProviders(cfg.TrustedProvidersFile)
	if err != nil {
		logger.Error("trusted providers not loaded; continuing with an empty set",
			zap.String("file", cfg.TrustedProvidersFile), zap.Error(err))
	} else {
		logger.Info("trusted providers loaded",
			zap.String("file", cfg.TrustedProvidersFile), zap.Int("count", len(trusted)))
	}

	// 7) Domain cache
	domainCache, err := openCache(ctx, cfg, logger)
	if err != nil {
		logger.Error("domain cache open failed", zap.String("backend", cfg.Cache.Backend), zap.Error(err))
		return ExitError
	}
	defer func() {
		if err := domainCache.Close(); err != nil {
			logger.Warn("domain cache close failed", zap.Error(err))
		}
	}()

	// 8) Resolver and pipeline
	resolver, err := domaincheck.NewResolver(domaincheck.Options{
		Trusted: trusted,
		Cache:   domainCache,
		Lookup:  r.lookuper(cfg, logger),
		Timeout: cfg.DNS.Timeout,
		Workers: cfg.DNS.LookupWorkers,
		Metrics: m,
		Logger:  logger,
	})
	if err != nil {
		logger.Error("resolver build failed", zap.Error(err))
		return ExitError
	}

	pipeline, err := sieve.New(sieve.Options{
		EmailColumn:   cfg.Input.EmailColumn,
		MaxBatches:    cfg.MaxBatches,
		UnwantedTerms: cfg.UnwantedTerms,
		Delimiter:     cfg.DelimiterRune(),
		SheetName:     cfg.SheetName,
		Resolver:      resolver,
		Metrics:       m,
		Logger:        logger,
	})
	if err != nil {
		logger.Error("pipeline build failed", zap.Error(err))
		return ExitError
	}

	// 9) Wire shutdown signals → context
	if r.Signals {
		var cancel context.CancelFunc
		ctx, cancel = WithShutdownSignals(ctx, logger)
		defer cancel()
	}

	// 10) Process
	logger.Info("processing started", zap.String("input", inputPath), zap.String("output", outputPath))
	sum, err := pipeline.ProcessFile(ctx, inputPath, outputPath)
	if err != nil {
		logger.Error("processing failed",
			zap.String("input", inputPath),
			zap.Int("batches_written", sum.Written),
			zap.Error(err))
		return processingExit(cfg)
	}

	logger.Info("processing finished",
		zap.String("output", sum.Output),
		zap.Int("total", sum.Total),
		zap.Int("accepted", sum.Accepted),
		zap.Int("domains_cached", resolver.Cached(ctx)))
	return ExitOK
}

// processingExit is the exit code for a run whose processing failed. Only
// argument and input-existence failures exit non-zero unless strict_exit is set.
func processingExit(cfg *config.CoreConfig) int {
	if cfg.StrictExit {
		return ExitError
	}
	return ExitOK
}

func (r Runner) lookuper(cfg *config.CoreConfig, logger *zap.Logger) domaincheck.Lookuper {
	if r.NewLookuper != nil {
		return r.NewLookuper(cfg)
	}
	if cfg.DNS.Server != "" {
		logger.Info("querying nameserver directly", zap.String("server", cfg.DNS.Server))
		return domaincheck.NewDNSClient(cfg.DNS.Server, cfg.DNS.Timeout)
	}
	return domaincheck.NewSystemLookuper(cfg.DNS.Timeout)
}

func openCache(ctx context.Context, cfg *config.CoreConfig, logger *zap.Logger) (cache.Cache, error) {
	switch cfg.Cache.Backend {
	case "redis":
		rc, err := cache.NewRedis(ctx, cache.RedisConfig{
			Address:  cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
			KeyTTL:   cfg.Cache.KeyTTL,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("domain cache: redis",
			zap.String("addr", cfg.Cache.RedisAddr), zap.String("prefix", rc.Prefix()))
		return rc, nil
	default:
		return cache.NewMemory(), nil
	}
}

func writeMetrics(logger *zap.Logger, m *metrics.Sieve, path string) {
	if path == "" {
		return
	}
	if err := m.WriteTextfile(path); err != nil {
		logger.Warn("metrics textfile not written", zap.String("file", path), zap.Error(err))
		return
	}
	logger.Info("metrics textfile written", zap.String("file", path))
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: mailsieve [flags] <input> <output>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Filters the e-mail addresses in <input> (a delimited file) and appends the")
	fmt.Fprintln(w, "accepted rows to <output> (.xlsx, or .csv by extension).")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprint(w, config.NewFlagSet().FlagUsages())
}
