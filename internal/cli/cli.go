// Package cli implements the command-line interface for chunkagg.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/eunmann/chunkagg/internal/config"
	"github.com/eunmann/chunkagg/internal/logctx"
	"github.com/eunmann/chunkagg/pkg/aggregate"
	"github.com/eunmann/chunkagg/pkg/chunkstore"
	"github.com/eunmann/chunkagg/pkg/logging"
	"github.com/eunmann/chunkagg/pkg/memdiag"
	"github.com/eunmann/chunkagg/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

const usage = "usage: chunkagg <command> [options]\ncommands: import, append, gen, page, aggregate, unique, filter, info, list, delete, purge-cache"

// Run executes the CLI with the given arguments.
func Run(args []string) error {
	return run(context.Background(), args, os.Stdout)
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New(usage)
	}
	a := &app{}
	root := a.rootCommand()
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(io.Discard)
	err := root.ExecuteContext(ctx)
	return errors.Join(err, a.teardown())
}

// globalFlags are shared by every command.
type globalFlags struct {
	configPath  string
	dbPath      string
	backend     string
	memBudget   string
	metricsAddr string
	debug       bool
	human       bool
}

// app holds the resources opened for one command invocation.
type app struct {
	flags globalFlags

	cfg     config.Config
	store   *chunkstore.Store
	engine  *aggregate.Engine
	metrics *metrics.Metrics
	server  *http.Server
	tracker *memdiag.Tracker
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "chunkagg",
		Short:         "Chunked dataset store with cached aggregations",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Context(), cmd.Name())
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.configPath, "config", "", "YAML config file")
	pf.StringVar(&a.flags.dbPath, "db", "", "database path (overrides config and "+config.EnvDB+")")
	pf.StringVar(&a.flags.backend, "backend", "", "storage backend: sqlite or badger")
	pf.StringVar(&a.flags.memBudget, "mem-budget", "", "memory budget for chunk reads, e.g. 512MiB or auto")
	pf.StringVar(&a.flags.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	pf.BoolVar(&a.flags.debug, "debug", false, "enable debug logging")
	pf.BoolVar(&a.flags.human, "human", false, "human-readable console logs")

	root.AddCommand(
		a.importCommand(false),
		a.importCommand(true),
		a.genCommand(),
		a.pageCommand(),
		a.aggregateCommand(),
		a.uniqueCommand(),
		a.filterCommand(),
		a.infoCommand(),
		a.listCommand(),
		a.deleteCommand(),
		a.purgeCacheCommand(),
	)
	return root
}

// loadConfig merges the config file, the environment and the flags.
func (a *app) loadConfig() (config.Config, error) {
	cfg, err := config.Load(a.flags.configPath)
	if err != nil {
		return cfg, err
	}
	if a.flags.dbPath != "" {
		cfg.DBPath = a.flags.dbPath
	}
	if a.flags.backend != "" {
		cfg.Backend = a.flags.backend
	}
	if a.flags.memBudget != "" {
		cfg.MemBudget = a.flags.memBudget
	}
	if a.flags.metricsAddr != "" {
		cfg.MetricsAddr = a.flags.metricsAddr
	}
	cfg.Log.Debug = cfg.Log.Debug || a.flags.debug
	cfg.Log.Human = cfg.Log.Human || a.flags.human
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (a *app) setup(ctx context.Context, command string) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	a.cfg = cfg
	logging.Init(cfg.Log.Debug, cfg.Log.Human)

	budget, err := cfg.Budget()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(reg)
	if cfg.MetricsAddr != "" {
		a.serveMetrics(ctx, reg, cfg.MetricsAddr)
	}

	store, err := chunkstore.New(cfg.ChunkStore(), cfg.Opener(),
		chunkstore.WithBudget(budget),
		chunkstore.WithMetrics(a.metrics))
	if err != nil {
		return err
	}
	a.store = store
	a.engine = aggregate.New(store)
	a.tracker = memdiag.NewTracker(memdiag.DefaultConfig(), budget, store.Clock())
	a.tracker.SetPhase(command)
	a.tracker.Start()

	log := logging.WithPhase("cli")
	log.Debug().
		Str("command", command).
		Str("backend", cfg.Backend).
		Str("db_path", cfg.DBPath).
		Uint64("mem_budget", budget.Total()).
		Str("mem_budget_source", string(budget.Source())).
		Msg("configuration loaded")
	return nil
}

func (a *app) serveMetrics(ctx context.Context, reg *prometheus.Registry, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	memdiag.RegisterPprof(mux)
	a.server = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	log := logctx.FromContext(ctx)
	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("metrics server failed")
		}
	}()
	log.Info().Str("addr", addr).Msg("serving metrics")
}

// teardown runs after every invocation, including failed ones.
func (a *app) teardown() error {
	var errs []error
	if a.tracker != nil {
		a.tracker.Stop()
	}
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		errs = append(errs, a.server.Shutdown(ctx))
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}
