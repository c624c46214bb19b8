// ABOUTME: Tests for configuration decoding and validation
// ABOUTME: Covers size strings, integer sizes, defaults and bad values

package config

import (
	"errors"
	"strings"
	"testing"
)

var errNotString = errors.New("not a string")

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	doc := `
nursery_size: 2MB
slab_size: 8192
large_object_threshold: 4KB
concurrent_marking: false
high_water_ratio: 0.8
tenure_age: 4
`
	cfg, err := Load(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.NurserySize != 2*1024*1024 {
		t.Errorf("NurserySize = %d, want 2MB", cfg.NurserySize)
	}
	if cfg.SlabSize != 8192 {
		t.Errorf("SlabSize = %d, want 8192", cfg.SlabSize)
	}
	if cfg.LargeObjectThreshold != 4*1024 {
		t.Errorf("LargeObjectThreshold = %d, want 4KB", cfg.LargeObjectThreshold)
	}
	if cfg.ConcurrentMarking {
		t.Error("ConcurrentMarking not overridden to false")
	}
	if cfg.HighWaterRatio != 0.8 {
		t.Errorf("HighWaterRatio = %v, want 0.8", cfg.HighWaterRatio)
	}
	if cfg.TenureAge != 4 {
		t.Errorf("TenureAge = %d, want 4", cfg.TenureAge)
	}
	// Untouched options keep their defaults.
	if cfg.BlockSize != Default().BlockSize {
		t.Errorf("BlockSize = %d, want default %d", cfg.BlockSize, Default().BlockSize)
	}
}

func TestLoadRejectsBadSize(t *testing.T) {
	if _, err := Load(strings.NewReader("nursery_size: lots\n")); err == nil {
		t.Error("expected error for unparseable size")
	}
}

func TestValidateCatchesInconsistencies(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero nursery", func(c *Config) { c.NurserySize = 0 }},
		{"slab bigger than nursery", func(c *Config) { c.SlabSize = c.NurserySize * 2 }},
		{"line does not divide block", func(c *Config) { c.LineSize = 100 }},
		{"no chunk growth", func(c *Config) { c.BlocksPerChunk = 0 }},
		{"threshold exceeds block", func(c *Config) { c.LargeObjectThreshold = c.BlockSize * 2 }},
		{"ratio out of range", func(c *Config) { c.HighWaterRatio = 1.5 }},
		{"negative tenure", func(c *Config) { c.TenureAge = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestSizeStringRoundTrips(t *testing.T) {
	var s Size
	if err := s.UnmarshalYAML(func(v interface{}) error {
		str, ok := v.(*string)
		if !ok {
			return errNotString
		}
		*str = Size(32 * 1024).String()
		return nil
	}); err != nil {
		t.Fatalf("UnmarshalYAML failed: %v", err)
	}
	if s != 32*1024 {
		t.Errorf("round-tripped size = %d, want 32768", s)
	}
}
