package config

import (
	"testing"

	"github.com/spf13/viper"

	"github.com/mediacore/mediacore/pkg/bytesize"
)

func TestSetDefaults_ProducesRunnableConfig(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != defaultServerPort {
		t.Fatalf("Server.Port = %d, want %d", cfg.Server.Port, defaultServerPort)
	}
	if cfg.HLS.FragmentsCache != defaultFragmentsCache {
		t.Fatalf("HLS.FragmentsCache = %d, want %d", cfg.HLS.FragmentsCache, defaultFragmentsCache)
	}
	if cfg.TS.BuildIndex != true {
		t.Fatal("TS.BuildIndex should default to true")
	}
	if cfg.HLS.MaxSegmentBytes != defaultMaxSegmentBytes {
		t.Fatalf("HLS.MaxSegmentBytes = %v, want %v", cfg.HLS.MaxSegmentBytes, defaultMaxSegmentBytes)
	}
}

func TestLoad_ParsesHumanReadableSegmentSize(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("hls.max_segment_bytes", "12MB")

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HLS.MaxSegmentBytes != 12*bytesize.MB {
		t.Fatalf("MaxSegmentBytes = %v, want 12MB", cfg.HLS.MaxSegmentBytes)
	}
}

func TestLoad_ExplicitValueOverridesDefault(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("hls.bitrate_switch_tolerance", 0.75)

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HLS.BitrateSwitchTolerance != 0.75 {
		t.Fatalf("BitrateSwitchTolerance = %v, want 0.75", cfg.HLS.BitrateSwitchTolerance)
	}
}
