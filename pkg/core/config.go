package core

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Config — central configuration for a sutrad instance.
//
// The configuration is resolved through a four-level hierarchy where each
// layer overrides values set by the layer beneath it:
//
//	Priority (highest → lowest):
//	  1. Programmatic overrides (CLI flags applied after loading)
//	  2. YAML configuration file
//	  3. Environment variables (SUTRA_* prefix)
//	  4. Built-in defaults
//
// Duration fields accept standard Go duration strings when supplied
// through the YAML file or environment variables (e.g. "100ms", "5m").
// The neural tunables default to the figures the subsystem designs cite
// most often; they are tunables precisely because the literature is not
// unanimous about them.
// ---------------------------------------------------------------------------

// ServerConfig groups network listener settings.
type ServerConfig struct {
	// HTTPAddr is the TCP address the HTTP intake API binds to.
	HTTPAddr string `yaml:"httpAddr"`

	// MCPPath is the route the agent IPC (MCP) surface mounts under.
	MCPPath string `yaml:"mcpPath"`

	// APIKey optionally gates the MCP surface.
	APIKey string `yaml:"apiKey"`
}

// SchedulerConfig groups neural scheduler settings.
type SchedulerConfig struct {
	// Cores requests the number of per-core run queues (1..4); the
	// scheduler runs 1 or 4, so 2 and 3 collapse to 1. 0 = probe the
	// host topology and clamp.
	Cores int `yaml:"cores"`

	// QueueCapacity bounds each core's run queue.
	QueueCapacity int `yaml:"queueCapacity"`

	// UrgencyThreshold is θ: accumulated urgency above θ−tonic wins.
	UrgencyThreshold float64 `yaml:"urgencyThreshold"`

	// TonicInhibition is subtracted from θ; the resting brake on action
	// selection.
	TonicInhibition float64 `yaml:"tonicInhibition"`

	// DopamineGain scales urgency increments.
	DopamineGain float64 `yaml:"dopamineGain"`

	// UrgencyDecay is τ_u, the urgency leak time constant.
	UrgencyDecay time.Duration `yaml:"urgencyDecay"`

	// WTAInterval is the winner-take-all selection cadence.
	WTAInterval time.Duration `yaml:"wtaInterval"`
}

// TemporalConfig groups activation-dynamics settings.
type TemporalConfig struct {
	// DecayTau is τ for exponential activation decay.
	DecayTau time.Duration `yaml:"decayTau"`

	// DecayInterval is the decay tick cadence.
	DecayInterval time.Duration `yaml:"decayInterval"`

	// SummationWindow bounds temporal summation of sub-threshold input.
	SummationWindow time.Duration `yaml:"summationWindow"`

	// SummationThreshold fires accumulated input into activation.
	SummationThreshold float64 `yaml:"summationThreshold"`

	// SpreadFactor scales single-hop associative spread.
	SpreadFactor float64 `yaml:"spreadFactor"`

	// HebbianRate is the per-observation association strengthening.
	HebbianRate float64 `yaml:"hebbianRate"`

	// PrimingFactor scales predictive priming of associated concepts.
	PrimingFactor float64 `yaml:"primingFactor"`

	// PrimingTTL is how long a primed flag persists.
	PrimingTTL time.Duration `yaml:"primingTTL"`

	// Capacity bounds the activation record table (LRU eviction).
	Capacity int `yaml:"capacity"`
}

// HierarchyConfig groups layered-processing settings.
type HierarchyConfig struct {
	// LayerCapacity bounds each processing layer's buffer.
	LayerCapacity int `yaml:"layerCapacity"`

	// AttentionGain multiplies attended concepts (1 + gain).
	AttentionGain float64 `yaml:"attentionGain"`

	// Suppression attenuates unattended concepts when attention is set.
	Suppression float64 `yaml:"suppression"`

	// PropagateInterval is the bottom-up propagation cadence.
	PropagateInterval time.Duration `yaml:"propagateInterval"`
}

// StenoConfig groups stroke sequencer settings.
type StenoConfig struct {
	// MultiStrokeTimeout flushes a pending sequence after silence.
	MultiStrokeTimeout time.Duration `yaml:"multiStrokeTimeout"`

	// MaxBufferStrokes bounds a sequence.
	MaxBufferStrokes int `yaml:"maxBufferStrokes"`

	// TickInterval is loaded but not read by the daemon: deferred
	// emissions are serviced on the temporal decay tick (DecayInterval).
	TickInterval time.Duration `yaml:"tickInterval"`
}

// FeedbackConfig groups prediction/surprise settings.
type FeedbackConfig struct {
	// Capacity bounds active predictions (FIFO eviction).
	Capacity int `yaml:"capacity"`

	// EMAAlpha smooths cumulative surprise.
	EMAAlpha float64 `yaml:"emaAlpha"`
}

// SnapshotConfig groups learned-state persistence settings.
type SnapshotConfig struct {
	// Enabled turns the snapshotter on.
	Enabled bool `yaml:"enabled"`

	// Path is the snapshot directory.
	Path string `yaml:"path"`

	// Interval is the snapshot cadence.
	Interval time.Duration `yaml:"interval"`
}

// SecurityConfig groups input limits.
type SecurityConfig struct {
	// MaxTextInputBytes bounds a single text intake payload.
	MaxTextInputBytes int `yaml:"maxTextInputBytes"`
}

// PerceptionConfig groups the optional native detector plugin.
type PerceptionConfig struct {
	// PluginPath is the shared library implementing the detector ABI.
	// Empty disables the native path; the stub detector is used.
	PluginPath string `yaml:"pluginPath"`
}

// LoggingConfig groups logger settings.
type LoggingConfig struct {
	// Level is debug|info|warn|error.
	Level string `yaml:"level"`

	// Development switches zap to console encoding.
	Development bool `yaml:"development"`
}

// Config is the root configuration object.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Temporal   TemporalConfig   `yaml:"temporal"`
	Hierarchy  HierarchyConfig  `yaml:"hierarchy"`
	Steno      StenoConfig      `yaml:"steno"`
	Feedback   FeedbackConfig   `yaml:"feedback"`
	Snapshot   SnapshotConfig   `yaml:"snapshot"`
	Security   SecurityConfig   `yaml:"security"`
	Perception PerceptionConfig `yaml:"perception"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr: ":7070",
			MCPPath:  "/mcp",
		},
		Scheduler: SchedulerConfig{
			Cores:            0, // probe
			QueueCapacity:    256,
			UrgencyThreshold: 0.6,
			TonicInhibition:  0.1,
			DopamineGain:     1.0,
			UrgencyDecay:     500 * time.Millisecond,
			WTAInterval:      10 * time.Millisecond,
		},
		Temporal: TemporalConfig{
			DecayTau:           200 * time.Millisecond,
			DecayInterval:      100 * time.Millisecond,
			SummationWindow:    100 * time.Millisecond,
			SummationThreshold: 0.5,
			SpreadFactor:       0.3,
			HebbianRate:        0.1,
			PrimingFactor:      0.2,
			PrimingTTL:         250 * time.Millisecond,
			Capacity:           1024,
		},
		Hierarchy: HierarchyConfig{
			LayerCapacity:     32,
			AttentionGain:     0.5,
			Suppression:       0.3,
			PropagateInterval: 50 * time.Millisecond,
		},
		Steno: StenoConfig{
			MultiStrokeTimeout: 500 * time.Millisecond,
			MaxBufferStrokes:   8,
			TickInterval:       100 * time.Millisecond,
		},
		Feedback: FeedbackConfig{
			Capacity: 64,
			EMAAlpha: 0.1,
		},
		Snapshot: SnapshotConfig{
			Enabled:  true,
			Path:     "./data",
			Interval: time.Minute,
		},
		Security: SecurityConfig{
			MaxTextInputBytes: 4096,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig resolves defaults ← env ← YAML file. An empty path skips
// the file layer.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	applyEnv(cfg)

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	return cfg, nil
}

// applyEnv overlays SUTRA_* environment variables onto the config.
func applyEnv(cfg *Config) {
	envString("SUTRA_HTTP_ADDR", &cfg.Server.HTTPAddr)
	envString("SUTRA_MCP_PATH", &cfg.Server.MCPPath)
	envString("SUTRA_API_KEY", &cfg.Server.APIKey)
	envInt("SUTRA_CORES", &cfg.Scheduler.Cores)
	envInt("SUTRA_QUEUE_CAPACITY", &cfg.Scheduler.QueueCapacity)
	envFloat("SUTRA_URGENCY_THRESHOLD", &cfg.Scheduler.UrgencyThreshold)
	envFloat("SUTRA_TONIC_INHIBITION", &cfg.Scheduler.TonicInhibition)
	envFloat("SUTRA_DOPAMINE_GAIN", &cfg.Scheduler.DopamineGain)
	envDuration("SUTRA_URGENCY_DECAY", &cfg.Scheduler.UrgencyDecay)
	envDuration("SUTRA_DECAY_TAU", &cfg.Temporal.DecayTau)
	envDuration("SUTRA_DECAY_INTERVAL", &cfg.Temporal.DecayInterval)
	envInt("SUTRA_TEMPORAL_CAPACITY", &cfg.Temporal.Capacity)
	envInt("SUTRA_LAYER_CAPACITY", &cfg.Hierarchy.LayerCapacity)
	envDuration("SUTRA_PROPAGATE_INTERVAL", &cfg.Hierarchy.PropagateInterval)
	envDuration("SUTRA_MULTI_STROKE_TIMEOUT", &cfg.Steno.MultiStrokeTimeout)
	envBool("SUTRA_SNAPSHOT_ENABLED", &cfg.Snapshot.Enabled)
	envString("SUTRA_SNAPSHOT_PATH", &cfg.Snapshot.Path)
	envDuration("SUTRA_SNAPSHOT_INTERVAL", &cfg.Snapshot.Interval)
	envInt("SUTRA_MAX_TEXT_INPUT_BYTES", &cfg.Security.MaxTextInputBytes)
	envString("SUTRA_PERCEPTION_PLUGIN", &cfg.Perception.PluginPath)
	envString("SUTRA_LOG_LEVEL", &cfg.Logging.Level)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		*dst = strings.EqualFold(v, "true") || v == "1"
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Scheduler.Cores < 0 || c.Scheduler.Cores > 4 {
		return fmt.Errorf("scheduler.cores must be 0 (probe) or 1..4, got %d", c.Scheduler.Cores)
	}
	if c.Scheduler.QueueCapacity <= 0 {
		return fmt.Errorf("scheduler.queueCapacity must be positive")
	}
	if c.Scheduler.UrgencyThreshold <= 0 || c.Scheduler.UrgencyThreshold > 1 {
		return fmt.Errorf("scheduler.urgencyThreshold must be in (0,1]")
	}
	if c.Temporal.DecayTau <= 0 {
		return fmt.Errorf("temporal.decayTau must be positive")
	}
	if c.Temporal.Capacity <= 0 {
		return fmt.Errorf("temporal.capacity must be positive")
	}
	if c.Hierarchy.LayerCapacity < 16 {
		return fmt.Errorf("hierarchy.layerCapacity must be >= 16, got %d", c.Hierarchy.LayerCapacity)
	}
	if c.Steno.MaxBufferStrokes <= 0 || c.Steno.MaxBufferStrokes > 8 {
		return fmt.Errorf("steno.maxBufferStrokes must be 1..8")
	}
	if c.Feedback.Capacity <= 0 {
		return fmt.Errorf("feedback.capacity must be positive")
	}
	if c.Feedback.EMAAlpha <= 0 || c.Feedback.EMAAlpha > 1 {
		return fmt.Errorf("feedback.emaAlpha must be in (0,1]")
	}
	if c.Security.MaxTextInputBytes <= 0 {
		return fmt.Errorf("security.maxTextInputBytes must be positive")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug|info|warn|error, got %q", c.Logging.Level)
	}
	return nil
}

// CLIOverrides holds pointers to cobra flag values so main can apply
// only the flags that were explicitly set.
type CLIOverrides struct {
	ConfigPath        *string
	HTTPAddr          *string
	DataPath          *string
	Cores             *int
	SnapshotEnabled   *bool
	MaxTextInputBytes *int
	LogLevel          *string
	PerceptionPlugin  *string
}
