package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/sutraworks/sutra/pkg/affect"
	"github.com/sutraworks/sutra/pkg/api"
	"github.com/sutraworks/sutra/pkg/broadcast"
	"github.com/sutraworks/sutra/pkg/capability"
	"github.com/sutraworks/sutra/pkg/core"
	"github.com/sutraworks/sutra/pkg/daemon"
	"github.com/sutraworks/sutra/pkg/executor"
	"github.com/sutraworks/sutra/pkg/feedback"
	"github.com/sutraworks/sutra/pkg/hierarchy"
	"github.com/sutraworks/sutra/pkg/mcp"
	"github.com/sutraworks/sutra/pkg/parser"
	"github.com/sutraworks/sutra/pkg/perception"
	"github.com/sutraworks/sutra/pkg/scheduler"
	"github.com/sutraworks/sutra/pkg/snapshot"
	"github.com/sutraworks/sutra/pkg/steno"
	"github.com/sutraworks/sutra/pkg/temporal"
)

func main() {
	var overrides core.CLIOverrides

	rootCmd := &cobra.Command{
		Use:   "sutrad",
		Short: "sutrad - semantic intent core daemon",
		Long:  "Hosts the intent core: steno and English input normalize to concepts, flow through activation dynamics and the hierarchy, and broadcast to capability-gated handlers.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Flags(), &overrides)
		},
		SilenceUsage: true,
	}

	// CLI flags — highest priority in the config hierarchy.
	f := rootCmd.Flags()
	overrides.ConfigPath = f.StringP("config", "f", "", "Path to YAML config file (overrides SUTRA_CONFIG env)")
	overrides.HTTPAddr = f.String("http-addr", "", "HTTP listen address")
	overrides.DataPath = f.String("data-path", "", "Snapshot directory")
	overrides.Cores = f.Int("cores", 0, "Scheduler run queues (0 = probe, else 1 or 4)")
	overrides.SnapshotEnabled = f.Bool("snapshot", true, "Persist learned associations")
	overrides.MaxTextInputBytes = f.Int("max-text-input-bytes", 0, "Maximum text intake payload size")
	overrides.LogLevel = f.String("log-level", "", "Log level (debug|info|warn|error)")
	overrides.PerceptionPlugin = f.String("perception-plugin", "", "Path to native detector plugin")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// run implements the daemon startup sequence after CLI flags parse.
func run(flags *pflag.FlagSet, overrides *core.CLIOverrides) error {
	configPath := ""
	if overrides.ConfigPath != nil && *overrides.ConfigPath != "" {
		configPath = *overrides.ConfigPath
	} else {
		configPath = os.Getenv("SUTRA_CONFIG")
	}

	cfg, err := core.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyExplicitFlags(flags, cfg, overrides)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log, err := buildLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()

	topo := scheduler.ProbeTopology()
	cores := cfg.Scheduler.Cores
	if cores == 0 {
		cores = topo.SchedulerCores
	}
	log.Info("boot",
		zap.String("cpu", topo.Brand),
		zap.Int("logical_cores", topo.LogicalCores),
		zap.Int("scheduler_cores", cores))

	// Capability table: mint the boot roots, then seal.
	table, token := capability.NewTable()
	clock := core.NewBootClock()
	caps := capability.NewSet(table)
	now := clock.NowMicros()
	for _, kind := range []capability.Kind{
		capability.KindConsole, capability.KindGPIO, capability.KindSensor,
		capability.KindTemperature, capability.KindSystemHandlerRing,
		capability.KindSnapshot, capability.KindIPC,
	} {
		h, err := table.MintRoot(token, capability.ResourceRef(uint64(kind)+1), kind, capability.PermAll, 0, now)
		if err != nil {
			return fmt.Errorf("mint %s capability: %w", kind, err)
		}
		if err := caps.Add(h, now); err != nil {
			return fmt.Errorf("bind %s capability: %w", kind, err)
		}
	}
	table.Seal()
	core.SealConceptRegistry()

	// Core subsystems.
	dict := steno.DefaultDictionary()
	dyn := temporal.New(temporal.Config{
		TauMicros:          core.Micros(cfg.Temporal.DecayTau),
		SummationWindow:    core.Micros(cfg.Temporal.SummationWindow),
		SummationThreshold: float32(cfg.Temporal.SummationThreshold),
		SpreadFactor:       float32(cfg.Temporal.SpreadFactor),
		HebbianRate:        float32(cfg.Temporal.HebbianRate),
		PrimingFactor:      float32(cfg.Temporal.PrimingFactor),
		PrimingTTLMicros:   core.Micros(cfg.Temporal.PrimingTTL),
		Capacity:           cfg.Temporal.Capacity,
	})
	registry := broadcast.NewRegistry()
	sched := scheduler.New(scheduler.Config{
		Cores:         cores,
		QueueCapacity: cfg.Scheduler.QueueCapacity,
		Urgency: scheduler.UrgencyConfig{
			Threshold: float32(cfg.Scheduler.UrgencyThreshold),
			Tonic:     float32(cfg.Scheduler.TonicInhibition),
			Gain:      float32(cfg.Scheduler.DopamineGain),
			TauMicros: core.Micros(cfg.Scheduler.UrgencyDecay),
		},
	})

	exec, err := executor.New(executor.Deps{
		Parser:    parser.New(dict),
		Sequencer: steno.NewSequencer(dict, core.Micros(cfg.Steno.MultiStrokeTimeout), cfg.Steno.MaxBufferStrokes),
		Dynamics:  dyn,
		Hierarchy: hierarchy.New(hierarchy.Config{
			LayerCapacity: cfg.Hierarchy.LayerCapacity,
			AttentionGain: float32(cfg.Hierarchy.AttentionGain),
			Suppression:   float32(cfg.Hierarchy.Suppression),
		}),
		Detector:     feedback.New(cfg.Feedback.Capacity, float32(cfg.Feedback.EMAAlpha)),
		Scheduler:    sched,
		Registry:     registry,
		Caps:         caps,
		Affect:       affect.Default(),
		Outcalls:     hostOutcalls(log),
		MaxTextBytes: cfg.Security.MaxTextInputBytes,
	})
	if err != nil {
		return fmt.Errorf("build executor: %w", err)
	}

	registerBuiltinHandlers(exec, registry, caps, clock, log)

	// Snapshot store: restore learned associations from the last run.
	var store *snapshot.Store
	if cfg.Snapshot.Enabled {
		store, err = snapshot.NewStore(cfg.Snapshot.Path)
		if err != nil {
			return fmt.Errorf("open snapshot store: %w", err)
		}
		if assocs, err := store.LoadAssociations(); err != nil {
			log.Warn("association snapshot unreadable", zap.Error(err))
		} else if len(assocs) > 0 {
			dyn.ImportAssociations(assocs, clock.NowMicros())
			log.Info("associations restored", zap.Int("concepts", len(assocs)))
		}
		if n, err := store.LoadDictionary(dict); err != nil {
			log.Warn("dictionary snapshot unreadable", zap.Error(err))
		} else if n > 0 {
			log.Info("dictionary overlay restored", zap.Int("entries", n))
		}
	}

	// Perception plugin (optional).
	source, err := perception.Open(cfg.Perception.PluginPath)
	if err != nil {
		log.Warn("perception plugin unavailable, using stub", zap.Error(err))
		source = perception.NewStub()
	}
	defer source.Close()

	// Tick workers and dispatch loops.
	workers := daemon.New(exec, clock, cores, daemon.Intervals{
		Temporal:  cfg.Temporal.DecayInterval,
		Propagate: cfg.Hierarchy.PropagateInterval,
		Urgency:   cfg.Scheduler.WTAInterval,
		Snapshot:  cfg.Snapshot.Interval,
	}, store, dyn, log)
	workers.Start()
	defer workers.Stop()

	// Surfaces.
	server := api.NewServer(exec, clock, cfg, log)
	bridge := mcp.NewBridge(exec, clock)
	mcpHandler, err := mcp.NewHandler(mcp.Config{APIKey: cfg.Server.APIKey, Stateless: true}, bridge)
	if err != nil {
		return fmt.Errorf("build mcp handler: %w", err)
	}
	server.Mount(cfg.Server.MCPPath, mcpHandler)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Serve(ctx) })
	g.Go(func() error { return pumpPerception(ctx, source, exec, clock) })

	log.Info("sutrad up", zap.String("http", cfg.Server.HTTPAddr), zap.String("mcp", cfg.Server.MCPPath))
	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	log.Info("sutrad shutting down")
	return nil
}

// pumpPerception polls the detector source and forwards hits to the
// sensor intake.
func pumpPerception(ctx context.Context, source perception.Source, exec *executor.Executor, clock core.Clock) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for {
				det, ok := source.Poll()
				if !ok {
					break
				}
				exec.OnSensorDetection(det.ClassID, det.Confidence, clock.NowMicros())
			}
		}
	}
}

// applyExplicitFlags overlays only flags the user actually set.
func applyExplicitFlags(flags *pflag.FlagSet, cfg *core.Config, o *core.CLIOverrides) {
	if flags.Changed("http-addr") {
		cfg.Server.HTTPAddr = *o.HTTPAddr
	}
	if flags.Changed("data-path") {
		cfg.Snapshot.Path = *o.DataPath
	}
	if flags.Changed("cores") {
		cfg.Scheduler.Cores = *o.Cores
	}
	if flags.Changed("snapshot") {
		cfg.Snapshot.Enabled = *o.SnapshotEnabled
	}
	if flags.Changed("max-text-input-bytes") {
		cfg.Security.MaxTextInputBytes = *o.MaxTextInputBytes
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = *o.LogLevel
	}
	if flags.Changed("perception-plugin") {
		cfg.Perception.PluginPath = *o.PerceptionPlugin
	}
}

// buildLogger constructs the zap logger per config.
func buildLogger(cfg core.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

// hostOutcalls binds the portable host drivers: console writes go to
// stdout, GPIO and temperature are absent unless the host provides
// them.
func hostOutcalls(log *zap.Logger) executor.Outcalls {
	return executor.Outcalls{
		WriteConsole: func(s string) error {
			_, err := fmt.Fprintln(os.Stdout, s)
			return err
		},
		SetGPIO: func(pin uint32, high bool) error {
			log.Debug("gpio", zap.Uint32("pin", pin), zap.Bool("high", high))
			return nil
		},
		ReadTemperature: readHostTemperature,
	}
}
