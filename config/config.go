// ABOUTME: Recognized memory-manager options with YAML decoding
// ABOUTME: Size-valued options accept human-readable byte strings

package config

import (
	"fmt"
	"io"
	"os"

	"github.com/inhies/go-bytesize"
	yaml "gopkg.in/yaml.v2"
)

// Size is a byte count that unmarshals from either a plain integer or a
// human-readable string like "1MB" or "32KB".
type Size uint64

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Size) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var n uint64
	if err := unmarshal(&n); err == nil {
		*s = Size(n)
		return nil
	}
	var str string
	if err := unmarshal(&str); err != nil {
		return err
	}
	bs, err := bytesize.Parse(str)
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", str, err)
	}
	*s = Size(bs)
	return nil
}

// String formats the size in human-readable form.
func (s Size) String() string {
	return bytesize.New(float64(s)).String()
}

// Config is the configuration surface of the memory manager. Zero values are
// not meaningful; start from Default and override.
type Config struct {
	// NurserySize is the byte capacity of each nursery semispace.
	NurserySize Size `yaml:"nursery_size"`

	// SlabSize is the byte size of a thread-local allocation buffer carved
	// from the nursery.
	SlabSize Size `yaml:"slab_size"`

	// BlockSize is the byte size of a mature-space block.
	BlockSize Size `yaml:"mature_block_size"`

	// LineSize is the byte granularity of mark-region accounting within a
	// block. Must divide BlockSize.
	LineSize Size `yaml:"mature_line_size"`

	// BlocksPerChunk is the growth unit of the mature space.
	BlocksPerChunk int `yaml:"mature_blocks_per_chunk"`

	// LargeObjectThreshold routes allocations above this many bytes to the
	// large object space.
	LargeObjectThreshold Size `yaml:"large_object_threshold"`

	// LargeTriggerBytes requests a full collection after this many bytes of
	// large-object allocation since the last one.
	LargeTriggerBytes Size `yaml:"large_trigger_bytes"`

	// ForeignTriggerBytes requests a full collection after this many bytes
	// of tracked unmanaged allocation.
	ForeignTriggerBytes Size `yaml:"foreign_trigger_bytes"`

	// ConcurrentMarking runs mature-space marking on a background thread,
	// stopping the world only for the finish phase.
	ConcurrentMarking bool `yaml:"concurrent_marking"`

	// HighWaterRatio grows the mature space by one chunk when occupancy
	// after a sweep meets or exceeds this ratio.
	HighWaterRatio float64 `yaml:"high_water_ratio"`

	// TenureAge is the number of young collections an object survives
	// before promotion to the mature space.
	TenureAge int `yaml:"tenure_age"`
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		NurserySize:          Size(1 * bytesize.MB),
		SlabSize:             Size(4 * bytesize.KB),
		BlockSize:            Size(32 * bytesize.KB),
		LineSize:             Size(128),
		BlocksPerChunk:       32,
		LargeObjectThreshold: Size(2700),
		LargeTriggerBytes:    Size(8 * bytesize.MB),
		ForeignTriggerBytes:  Size(104 * bytesize.MB),
		ConcurrentMarking:    true,
		HighWaterRatio:       0.90,
		TenureAge:            2,
	}
}

// Validate reports the first configuration inconsistency found.
func (c Config) Validate() error {
	if c.NurserySize == 0 {
		return fmt.Errorf("nursery_size must be positive")
	}
	if c.SlabSize == 0 || c.SlabSize > c.NurserySize {
		return fmt.Errorf("slab_size %s must be positive and no larger than nursery_size %s",
			c.SlabSize, c.NurserySize)
	}
	if c.LineSize == 0 || c.BlockSize == 0 || c.BlockSize%c.LineSize != 0 {
		return fmt.Errorf("mature_line_size %s must divide mature_block_size %s",
			c.LineSize, c.BlockSize)
	}
	if c.BlocksPerChunk <= 0 {
		return fmt.Errorf("mature_blocks_per_chunk must be positive")
	}
	if c.LargeObjectThreshold == 0 || uint64(c.LargeObjectThreshold) > uint64(c.BlockSize) {
		return fmt.Errorf("large_object_threshold %s must be positive and fit in a mature block of %s",
			c.LargeObjectThreshold, c.BlockSize)
	}
	if c.HighWaterRatio <= 0 || c.HighWaterRatio > 1 {
		return fmt.Errorf("high_water_ratio %v must be in (0, 1]", c.HighWaterRatio)
	}
	if c.TenureAge < 0 {
		return fmt.Errorf("tenure_age must not be negative")
	}
	return nil
}

// Load decodes a YAML configuration over the defaults.
func Load(r io.Reader) (Config, error) {
	cfg := Default()
	data, err := io.ReadAll(r)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadFile decodes a YAML configuration file over the defaults.
func LoadFile(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Default(), err
	}
	defer f.Close()
	return Load(f)
}
