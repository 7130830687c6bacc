package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"github.com/INLOpen/chronicle/chronicle"
	"github.com/INLOpen/chronicle/cycle"
	"gopkg.in/yaml.v3"
)

// ChronicleConfig holds the store layout. Writers and readers of one directory
// must use the same values for everything but the cache sizes.
type ChronicleConfig struct {
	BasePath        string `yaml:"base_path"`
	Cycle           string `yaml:"cycle"`        // "daily", "hourly" or "minutely"
	CycleLength     string `yaml:"cycle_length"` // defaults to the cycle's natural length
	SkipCycleCheck  bool   `yaml:"skip_cycle_check"`
	EntriesPerCycle int64  `yaml:"entries_per_cycle"`
	IndexBlockSize  string `yaml:"index_block_size"` // e.g. "16M"
	DataBlockSize   string `yaml:"data_block_size"`  // e.g. "64M"
	WriterIDBits    int    `yaml:"writer_id_bits"`
	IndexCacheSize  int    `yaml:"index_cache_size"`
	DataCacheSize   int    `yaml:"data_cache_size"`
	Preallocate     bool   `yaml:"preallocate"`
}

// WriterConfig holds the defaults of the write command.
type WriterConfig struct {
	Writers  int `yaml:"writers"`
	Records  int `yaml:"records"`
	Capacity int `yaml:"capacity"`
}

// ReaderConfig holds the defaults of the read command.
type ReaderConfig struct {
	Readers      int    `yaml:"readers"`
	PollInterval string `yaml:"poll_interval"`
	Timeout      string `yaml:"timeout"`
}

// DumpConfig holds the defaults of the dump command.
type DumpConfig struct {
	Compression string `yaml:"compression"` // "none", "snappy", "lz4" or "zstd"
}

// LoggingConfig holds logging-specific configurations.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // e.g., "debug", "info", "warn", "error"
	Output string `yaml:"output"` // e.g., "stdout", "stderr", "file", "none"
	File   string `yaml:"file"`   // Path to the log file, used if output is "file"
}

// DebugConfig holds debugging-related configurations.
type DebugConfig struct {
	Enabled          bool   `yaml:"enabled"`
	ListenAddress    string `yaml:"listen_address"`
	PProfEnabled     bool   `yaml:"pprof_enabled"`
	MetricsEnabled   bool   `yaml:"metrics_enabled"`
	MonitorUIEnabled bool   `yaml:"monitor_ui_enabled"`
}

// TracingConfig holds configuration for distributed tracing.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"` // e.g., "localhost:4317" for gRPC OTLP collector
	Protocol string `yaml:"protocol"` // "grpc" or "http"
}

// Config is the top-level configuration struct.
type Config struct {
	Chronicle ChronicleConfig `yaml:"chronicle"`
	Writer    WriterConfig    `yaml:"writer"`
	Reader    ReaderConfig    `yaml:"reader"`
	Dump      DumpConfig      `yaml:"dump"`
	Logging   LoggingConfig   `yaml:"logging"`
	Debug     DebugConfig     `yaml:"debug"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// ParseDuration parses a duration string. Returns the default duration if the string is empty or invalid.
// Logs a warning if the string is invalid but not empty.
func ParseDuration(durationStr string, defaultDuration time.Duration, logger *slog.Logger) time.Duration {
	if durationStr == "" || durationStr == "0" {
		return defaultDuration
	}
	d, err := time.ParseDuration(durationStr)
	if err != nil {
		if logger != nil {
			logger.Warn("Invalid duration format, using default", "input", durationStr, "default", defaultDuration.String(), "error", err)
		}
		return defaultDuration
	}
	return d
}

// ParseByteSize parses sizes such as "8K", "16M" or "1G".
func ParseByteSize(s string) (int64, error) {
	n, err := bytefmt.ToBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
	}
	return int64(n), nil
}

// FormatByteSize renders n the way ParseByteSize reads it.
func FormatByteSize(n int64) string {
	return bytefmt.ByteSize(uint64(n))
}

var naturalCycleLength = map[string]time.Duration{
	"daily":    24 * time.Hour,
	"hourly":   time.Hour,
	"minutely": time.Minute,
}

// Settings converts the section into validated chronicle settings.
func (c *ChronicleConfig) Settings(logger *slog.Logger) (chronicle.Settings, error) {
	def, ok := naturalCycleLength[strings.ToLower(c.Cycle)]
	if !ok {
		return chronicle.Settings{}, fmt.Errorf("unknown cycle %q", c.Cycle)
	}
	length := ParseDuration(c.CycleLength, def, logger)
	formatter, err := cycle.New(c.Cycle, length)
	if err != nil {
		return chronicle.Settings{}, err
	}
	indexBlock, err := ParseByteSize(c.IndexBlockSize)
	if err != nil {
		return chronicle.Settings{}, fmt.Errorf("index_block_size: %w", err)
	}
	dataBlock, err := ParseByteSize(c.DataBlockSize)
	if err != nil {
		return chronicle.Settings{}, fmt.Errorf("data_block_size: %w", err)
	}

	opts := []chronicle.SettingsOption{
		chronicle.WithCycle(formatter),
		chronicle.WithEntriesPerCycle(c.EntriesPerCycle),
		chronicle.WithIndexBlockSize(indexBlock),
		chronicle.WithDataBlockSize(dataBlock),
		chronicle.WithWriterIDBits(c.WriterIDBits),
		chronicle.WithIndexCacheSize(c.IndexCacheSize),
		chronicle.WithDataCacheSize(c.DataCacheSize),
		chronicle.WithPreallocate(c.Preallocate),
	}
	if c.SkipCycleCheck {
		opts = append(opts, chronicle.WithUncheckedCycleLength())
	}
	s := chronicle.NewSettings(c.BasePath, opts...)
	if err := s.Validate(); err != nil {
		return chronicle.Settings{}, err
	}
	return s, nil
}

// Load reads configuration from an io.Reader.
// This is the core logic, separated for testability.
func Load(r io.Reader) (*Config, error) {
	// Set default values
	cfg := &Config{
		Chronicle: ChronicleConfig{
			BasePath:        "./data",
			Cycle:           "daily",
			EntriesPerCycle: chronicle.DefaultEntriesPerCycle,
			IndexBlockSize:  FormatByteSize(chronicle.DefaultIndexBlockSize),
			DataBlockSize:   FormatByteSize(chronicle.DefaultDataBlockSize),
			WriterIDBits:    chronicle.DefaultWriterIDBits,
			IndexCacheSize:  chronicle.DefaultIndexCacheSize,
			DataCacheSize:   chronicle.DefaultDataCacheSize,
		},
		Writer: WriterConfig{
			Writers:  4,
			Records:  1000000,
			Capacity: 8192,
		},
		Reader: ReaderConfig{
			Readers:      1,
			PollInterval: "0s",
			Timeout:      "60s",
		},
		Dump: DumpConfig{
			Compression: "snappy",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stderr",
			File:   "chronicle.log",
		},
		Tracing: TracingConfig{
			Enabled:  false,
			Endpoint: "localhost:4317",
			Protocol: "grpc",
		},
		Debug: DebugConfig{
			Enabled:          false,
			ListenAddress:    "127.0.0.1:6060",
			PProfEnabled:     true,
			MetricsEnabled:   true,
			MonitorUIEnabled: true,
		},
	}

	// If the reader is nil, it's like an empty file, return defaults.
	if r == nil {
		return cfg, nil
	}

	// Read all data from the reader
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config data: %w", err)
	}

	// If data is empty, return defaults.
	if len(data) == 0 {
		return cfg, nil
	}

	// Unmarshal YAML into the config struct, overwriting defaults
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	return cfg, nil
}

// LoadConfig reads configuration from a YAML file by path.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			// If file doesn't exist, return default config by calling Load with a nil reader.
			return Load(nil)
		}
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	return Load(file)
}
