// Package config provides configuration management for mediacored using
// Viper: configuration from a file, environment variables, and defaults,
// unmarshalled into a typed Config struct via mapstructure tags.
package config

import (
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/mediacore/mediacore/pkg/bytesize"
)

// Default configuration values.
const (
	defaultServerPort            = 8088
	defaultServerShutdown        = 10 * time.Second
	defaultFragmentsCache        = 3
	defaultBitrateSwitchTol      = 0.4
	defaultFetchTimeout          = 10 * time.Second
	defaultFetchRetries          = 3
	defaultFetchBackoffBase      = 500 * time.Millisecond
	defaultPCRIndexProgramNum    = 0
	defaultLogLevel              = "info"
	defaultLogFormat             = "json"
	defaultMaxSegmentBytes       = 50 * bytesize.MB
)

// Config holds all configuration for mediacored.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	HLS     HLSConfig     `mapstructure:"hls"`
	TS      TSConfig      `mapstructure:"ts"`
}

// ServerConfig holds the introspection HTTP server's configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// HLSConfig holds the Segment Pipeline's tunables.
type HLSConfig struct {
	FragmentsCache         int           `mapstructure:"fragments_cache"`
	BitrateSwitchTolerance float64       `mapstructure:"bitrate_switch_tolerance"`
	FetchTimeout           time.Duration `mapstructure:"fetch_timeout"`
	FetchRetries           int           `mapstructure:"fetch_retries"`
	FetchBackoffBase       time.Duration `mapstructure:"fetch_backoff_base"`
	MaxSegmentBytes        bytesize.Size `mapstructure:"max_segment_bytes"`
}

// TSConfig holds the Demultiplexer & Indexer's tunables.
type TSConfig struct {
	ProgramNumber int  `mapstructure:"program_number"`
	BuildIndex    bool `mapstructure:"build_index"`
}

// SetDefaults populates v with every default value before a config file or
// environment variables are read, so an empty config still produces a
// runnable Config.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.shutdown_timeout", defaultServerShutdown)

	v.SetDefault("logging.level", defaultLogLevel)
	v.SetDefault("logging.format", defaultLogFormat)
	v.SetDefault("logging.add_source", false)

	v.SetDefault("hls.fragments_cache", defaultFragmentsCache)
	v.SetDefault("hls.bitrate_switch_tolerance", defaultBitrateSwitchTol)
	v.SetDefault("hls.fetch_timeout", defaultFetchTimeout)
	v.SetDefault("hls.fetch_retries", defaultFetchRetries)
	v.SetDefault("hls.fetch_backoff_base", defaultFetchBackoffBase)
	v.SetDefault("hls.max_segment_bytes", int64(defaultMaxSegmentBytes))

	v.SetDefault("ts.program_number", defaultPCRIndexProgramNum)
	v.SetDefault("ts.build_index", true)
}

// Load reads v's bound sources (file, env, flags already merged in) and
// unmarshals into a Config. The TextUnmarshallerHookFunc lets
// hls.max_segment_bytes accept human-readable strings like "50MB" via
// bytesize.Size's encoding.TextUnmarshaler, on top of viper's default
// duration/slice hooks.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	)))
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}
