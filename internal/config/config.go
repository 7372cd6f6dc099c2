// Package config loads the telemetry pipeline's configuration. It layers
// three teacher-grounded mechanisms, in order:
//  1. an optional "odin-telemetry.yaml" (or .json) file via viper,
//  2. a ".env" file via godotenv (populates process environment),
//  3. typed environment variable overrides via caarlos0/env struct tags,
// the same layering go-server-3/internal/config and ws/config.go use,
// generalized from a WebSocket server's config to the packet pipeline's.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"odin-telemetry/internal/logging"
)

// PoolConfig describes one named fixed-block memory pool size class.
type PoolConfig struct {
	Name       string `mapstructure:"name"`
	BlockSize  int    `mapstructure:"block_size"`
	BlockCount int    `mapstructure:"block_count"`
}

// RingConfig configures the SPSC ring buffers sitting between sources and
// the dispatcher's ingress.
type RingConfig struct {
	Capacity int `mapstructure:"capacity" env:"RING_CAPACITY" envDefault:"4096"`
}

// ThreadPoolConfig configures the default thread pool and the manager's
// process-wide cap (§4.F).
type ThreadPoolConfig struct {
	MinThreads        int           `mapstructure:"min_threads" env:"TP_MIN_THREADS" envDefault:"2"`
	MaxThreads        int           `mapstructure:"max_threads" env:"TP_MAX_THREADS" envDefault:"16"`
	Policy            string        `mapstructure:"policy" env:"TP_POLICY" envDefault:"work_stealing"`
	EnableCPUAffinity bool          `mapstructure:"enable_cpu_affinity" env:"TP_CPU_AFFINITY" envDefault:"false"`
	GlobalCap         int           `mapstructure:"global_cap" env:"TP_GLOBAL_CAP" envDefault:"128"`
	SampleInterval    time.Duration `mapstructure:"sample_interval" env:"TP_SAMPLE_INTERVAL" envDefault:"1s"`
}

// DispatcherConfig is §4.K's recognized configuration.
type DispatcherConfig struct {
	EnableBackpressure    bool          `mapstructure:"enable_back_pressure" env:"DISPATCHER_BACKPRESSURE" envDefault:"true"`
	BackpressureThreshold uint32        `mapstructure:"back_pressure_threshold" env:"DISPATCHER_THRESHOLD" envDefault:"1000"`
	MaxSources            uint32        `mapstructure:"max_sources" env:"DISPATCHER_MAX_SOURCES" envDefault:"10"`
	EnableMetrics         bool          `mapstructure:"enable_metrics" env:"DISPATCHER_METRICS" envDefault:"true"`
	StatsInterval         time.Duration `mapstructure:"stats_interval" env:"DISPATCHER_STATS_INTERVAL" envDefault:"1s"`
}

// SourceBaseConfig is §6's recognized source-base configuration.
type SourceBaseConfig struct {
	Name              string  `mapstructure:"name"`
	AutoStart         bool    `mapstructure:"auto_start"`
	BufferSize        int     `mapstructure:"buffer_size"`
	MaxPacketRate     float64 `mapstructure:"max_packet_rate"`
	EnableStatistics  bool    `mapstructure:"enable_statistics"`
}

// TCPConfig is §4.I's recognized TCP source configuration.
type TCPConfig struct {
	SourceBaseConfig     `mapstructure:",squash"`
	RemoteAddr           string `mapstructure:"remote_addr"`
	RemotePort           int    `mapstructure:"remote_port"`
	ReceiveBufferSize    int    `mapstructure:"receive_buffer_size"`
	LowDelay             bool   `mapstructure:"low_delay"`
	KeepAlive            bool   `mapstructure:"keep_alive"`
	KeepAliveIntervalS   int    `mapstructure:"keep_alive_interval_s"`
	ConnectionTimeoutMs  int    `mapstructure:"connection_timeout_ms"`
	SocketTimeoutMs      int    `mapstructure:"socket_timeout_ms"`
	ReconnectIntervalMs  int    `mapstructure:"reconnect_interval_ms"`
	MaxReconnectAttempts int    `mapstructure:"max_reconnect_attempts"`
}

// SimulationConfig is §4.H's recognized simulation source configuration.
type SimulationConfig struct {
	SourceBaseConfig  `mapstructure:",squash"`
	Types             []PacketTypeConfig `mapstructure:"types"`
	TotalDurationMs   int64              `mapstructure:"total_duration_ms"`
	BurstSize         int                `mapstructure:"burst_size"`
	BurstIntervalMs   int64              `mapstructure:"burst_interval_ms"`
	RandomizeTimings  bool               `mapstructure:"randomize_timings"`
	TimingJitterMs    int64              `mapstructure:"timing_jitter_ms"`
}

// PacketTypeConfig describes one synthetic packet-type generator (§4.H).
type PacketTypeConfig struct {
	ID          uint32  `mapstructure:"id"`
	Name        string  `mapstructure:"name"`
	PayloadSize int     `mapstructure:"payload_size"`
	IntervalMs  int64   `mapstructure:"interval_ms"`
	Pattern     string  `mapstructure:"pattern"`
	Amplitude   float64 `mapstructure:"amplitude"`
	Frequency   float64 `mapstructure:"frequency"`
	Offset      float64 `mapstructure:"offset"`
	Enabled     bool    `mapstructure:"enabled"`
}

// MetricsConfig controls the Prometheus registry's HTTP exposition.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled" env:"METRICS_ENABLED" envDefault:"true"`
	ListenAddr string `mapstructure:"listen_addr" env:"METRICS_ADDR" envDefault:":9100"`
	Path       string `mapstructure:"path" env:"METRICS_PATH" envDefault:"/metrics"`
}

// Config is the top-level configuration object for the telemetry pipeline.
type Config struct {
	Logging    logging.Config   `mapstructure:"logging"`
	Ring       RingConfig       `mapstructure:"ring"`
	ThreadPool ThreadPoolConfig `mapstructure:"thread_pool"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	Simulation SimulationConfig `mapstructure:"simulation"`
	TCP        TCPConfig        `mapstructure:"tcp"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Pools      []PoolConfig     `mapstructure:"pools"`

	MaxPayloadSize uint32 `mapstructure:"max_payload_size" env:"MAX_PAYLOAD_SIZE" envDefault:"65512"`
}

// DefaultPools are the six size classes §3 mandates.
func DefaultPools() []PoolConfig {
	return []PoolConfig{
		{Name: "tiny", BlockSize: 64, BlockCount: 512},
		{Name: "small", BlockSize: 512, BlockCount: 512},
		{Name: "medium", BlockSize: 1024, BlockCount: 256},
		{Name: "large", BlockSize: 2048, BlockCount: 128},
		{Name: "xlarge", BlockSize: 4096, BlockCount: 64},
		{Name: "xxlarge", BlockSize: 8192, BlockCount: 32},
	}
}

// Load builds a Config by layering file, dotenv, and typed-env overrides.
// envFile and configFile may be empty to skip that layer.
func Load(configFile, envFile string) (Config, error) {
	if envFile != "" {
		_ = godotenv.Load(envFile)
	} else {
		_ = godotenv.Load() // best effort, ignored if absent
	}

	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("odin-telemetry")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		_ = v.ReadInConfig() // optional
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env overrides: %w", err)
	}
	if err := env.Parse(&cfg.Logging); err != nil {
		return Config{}, fmt.Errorf("parse logging env overrides: %w", err)
	}
	if err := env.Parse(&cfg.Ring); err != nil {
		return Config{}, fmt.Errorf("parse ring env overrides: %w", err)
	}
	if err := env.Parse(&cfg.ThreadPool); err != nil {
		return Config{}, fmt.Errorf("parse thread pool env overrides: %w", err)
	}
	if err := env.Parse(&cfg.Dispatcher); err != nil {
		return Config{}, fmt.Errorf("parse dispatcher env overrides: %w", err)
	}
	if err := env.Parse(&cfg.Metrics); err != nil {
		return Config{}, fmt.Errorf("parse metrics env overrides: %w", err)
	}

	if len(cfg.Pools) == 0 {
		cfg.Pools = DefaultPools()
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.service", "odin-telemetry")

	v.SetDefault("ring.capacity", 4096)

	v.SetDefault("thread_pool.min_threads", 2)
	v.SetDefault("thread_pool.max_threads", 16)
	v.SetDefault("thread_pool.policy", "work_stealing")
	v.SetDefault("thread_pool.global_cap", 128)
	v.SetDefault("thread_pool.sample_interval", time.Second)

	v.SetDefault("dispatcher.enable_back_pressure", true)
	v.SetDefault("dispatcher.back_pressure_threshold", 1000)
	v.SetDefault("dispatcher.max_sources", 10)
	v.SetDefault("dispatcher.enable_metrics", true)
	v.SetDefault("dispatcher.stats_interval", time.Second)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen_addr", ":9100")
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("max_payload_size", 65512)

	v.SetDefault("tcp.receive_buffer_size", 65536)
	v.SetDefault("tcp.connection_timeout_ms", 5000)
	v.SetDefault("tcp.socket_timeout_ms", 2000)
	v.SetDefault("tcp.reconnect_interval_ms", 1000)
	v.SetDefault("tcp.max_reconnect_attempts", 10)
	v.SetDefault("tcp.keep_alive", true)
	v.SetDefault("tcp.keep_alive_interval_s", 30)

	v.SetDefault("simulation.buffer_size", 1024)
	v.SetDefault("simulation.enable_statistics", true)
}

// DefaultSimulationConfig returns a low-rate, three-type generator
// suitable as a quick-start default source (§4.H "default_config").
func DefaultSimulationConfig() SimulationConfig {
	return SimulationConfig{
		SourceBaseConfig: SourceBaseConfig{
			Name:             "simulation-default",
			AutoStart:        true,
			BufferSize:       1024,
			EnableStatistics: true,
		},
		Types: []PacketTypeConfig{
			{ID: 1001, Name: "heartbeat", PayloadSize: 8, IntervalMs: 1000, Pattern: "constant", Offset: 1, Enabled: true},
			{ID: 1002, Name: "sine-wave", PayloadSize: 8, IntervalMs: 100, Pattern: "sine", Amplitude: 10, Frequency: 1, Enabled: true},
			{ID: 1003, Name: "counter", PayloadSize: 4, IntervalMs: 250, Pattern: "counter", Enabled: true},
		},
	}
}

// StressTestSimulationConfig returns a high-rate, jittered generator for
// load testing (§4.H "stress_test_config").
func StressTestSimulationConfig() SimulationConfig {
	return SimulationConfig{
		SourceBaseConfig: SourceBaseConfig{
			Name:             "simulation-stress",
			AutoStart:        true,
			BufferSize:       8192,
			EnableStatistics: true,
			MaxPacketRate:    50000,
		},
		RandomizeTimings: true,
		TimingJitterMs:   2,
		Types: []PacketTypeConfig{
			{ID: 2001, Name: "burst-a", PayloadSize: 64, IntervalMs: 1, Pattern: "random", Amplitude: 100, Enabled: true},
			{ID: 2002, Name: "burst-b", PayloadSize: 256, IntervalMs: 2, Pattern: "sawtooth", Amplitude: 50, Frequency: 5, Enabled: true},
			{ID: 2003, Name: "burst-c", PayloadSize: 1024, IntervalMs: 5, Pattern: "square", Amplitude: 1, Frequency: 2, Enabled: true},
		},
	}
}
