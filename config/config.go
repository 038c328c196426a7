// Package config holds the benchmark parameters, their reference defaults and
// the YAML overlay used by the CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/weiihann/hddtest/random"
	"gopkg.in/yaml.v3"
)

// DefaultSeed seeds every deterministic generator unless overridden.
const DefaultSeed = random.DefaultSeed

// Size is a byte count that unmarshals from either an integer or a human
// string such as "4M".
type Size int64

// Bytes returns the size as a plain byte count.
func (s Size) Bytes() int64 { return int64(s) }

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Size) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: size must be a scalar", node.Line)
	}

	v, err := ParseSize(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}

	*s = Size(v)

	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (s Size) MarshalYAML() (any, error) {
	return FormatSize(int64(s)), nil
}

// ErrorPolicy selects what a running benchmark does when a primitive fails.
type ErrorPolicy string

const (
	// ContinueOnError reports the failure and keeps looping.
	ContinueOnError ErrorPolicy = "continue"
	// StopOnError reports the failure and requests a stop.
	StopOnError ErrorPolicy = "stop"
)

// SeekConfig parameterizes the seek benchmark.
type SeekConfig struct {
	Count int `yaml:"count"`
}

// ContinuousConfig parameterizes the continuous read benchmark.
type ContinuousConfig struct {
	TotalSize Size `yaml:"total_size"`
	BlockSize Size `yaml:"block_size"`
}

// LadderConfig parameterizes the multi block-size read benchmarks.
type LadderConfig struct {
	BudgetPerSize Size `yaml:"budget_per_size"`
	BaseBlockSize Size `yaml:"base_block_size"`
	Steps         int  `yaml:"steps"`
	Divisor       int  `yaml:"divisor"`
}

// BlockSizes expands the ladder, largest block first.
func (l LadderConfig) BlockSizes() []int64 {
	sizes := make([]int64, 0, l.Steps)
	size := l.BaseBlockSize.Bytes()

	for i := 0; i < l.Steps; i++ {
		sizes = append(sizes, size)
		if l.Divisor > 0 {
			size /= int64(l.Divisor)
		}
	}

	return sizes
}

// FileRWConfig parameterizes the file read/write benchmark.
type FileRWConfig struct {
	TotalSize Size   `yaml:"total_size"`
	BlockSize Size   `yaml:"block_size"`
	FileName  string `yaml:"file_name"`
}

// TreeConfig parameterizes the file structure and small files benchmarks.
type TreeConfig struct {
	Dirs        int           `yaml:"dirs"`
	Files       int           `yaml:"files"`
	MinFileSize Size          `yaml:"min_file_size"`
	MaxFileSize Size          `yaml:"max_file_size"`
	SettleDelay time.Duration `yaml:"settle_delay"`
}

// Config is the full set of benchmark parameters.
type Config struct {
	Seed          int64            `yaml:"seed"`
	PollInterval  time.Duration    `yaml:"poll_interval"`
	ErrorPolicy   ErrorPolicy      `yaml:"error_policy"`
	AllowRawWrite bool             `yaml:"allow_raw_write"`
	Seek          SeekConfig       `yaml:"seek"`
	ReadCont      ContinuousConfig `yaml:"read_continuous"`
	ReadRandom    LadderConfig     `yaml:"read_random"`
	ReadBlock     LadderConfig     `yaml:"read_block"`
	FileRW        FileRWConfig     `yaml:"file_read_write"`
	FileStructure TreeConfig       `yaml:"file_structure"`
	SmallFiles    TreeConfig       `yaml:"small_files"`
}

// Default returns the reference benchmark parameters.
func Default() *Config {
	return &Config{
		Seed:         DefaultSeed,
		PollInterval: 100 * time.Millisecond,
		ErrorPolicy:  ContinueOnError,
		Seek: SeekConfig{
			Count: 1000,
		},
		ReadCont: ContinuousConfig{
			TotalSize: Size(4 * GB),
			BlockSize: Size(4 * MB),
		},
		ReadRandom: LadderConfig{
			BudgetPerSize: Size(4 * MB),
			BaseBlockSize: Size(MB),
			Steps:         12,
			Divisor:       2,
		},
		ReadBlock: LadderConfig{
			BudgetPerSize: Size(100 * MB),
			BaseBlockSize: Size(MB),
			Steps:         12,
			Divisor:       2,
		},
		FileRW: FileRWConfig{
			TotalSize: Size(GB),
			BlockSize: Size(4 * MB),
			FileName:  "file.1G",
		},
		FileStructure: TreeConfig{
			Dirs:        1000,
			Files:       1000,
			SettleDelay: time.Second,
		},
		SmallFiles: TreeConfig{
			Dirs:        1000,
			Files:       1000,
			MinFileSize: Size(KB),
			MaxFileSize: Size(10 * KB),
		},
	}
}

// Load reads a YAML file and overlays it on the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate reports every parameter that cannot drive a benchmark.
func (c *Config) Validate() error {
	var errs []error

	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval must be positive"))
	}

	switch c.ErrorPolicy {
	case ContinueOnError, StopOnError:
	default:
		errs = append(errs, fmt.Errorf("unknown error_policy %q", c.ErrorPolicy))
	}

	if c.Seek.Count <= 0 {
		errs = append(errs, fmt.Errorf("seek.count must be positive"))
	}

	if c.ReadCont.TotalSize <= 0 || c.ReadCont.BlockSize <= 0 {
		errs = append(errs, fmt.Errorf("read_continuous sizes must be positive"))
	}

	if err := c.ReadRandom.validate(); err != nil {
		errs = append(errs, fmt.Errorf("read_random: %w", err))
	}

	if err := c.ReadBlock.validate(); err != nil {
		errs = append(errs, fmt.Errorf("read_block: %w", err))
	}

	if c.FileRW.TotalSize <= 0 || c.FileRW.BlockSize <= 0 {
		errs = append(errs, fmt.Errorf("file_read_write sizes must be positive"))
	}

	if c.FileRW.FileName == "" {
		errs = append(errs, fmt.Errorf("file_read_write.file_name must be set"))
	}

	if c.FileStructure.Dirs <= 0 || c.FileStructure.Files <= 0 {
		errs = append(errs, fmt.Errorf("file_structure counts must be positive"))
	}

	if c.SmallFiles.Dirs <= 0 || c.SmallFiles.Files <= 0 {
		errs = append(errs, fmt.Errorf("small_files counts must be positive"))
	}

	if c.SmallFiles.MinFileSize <= 0 ||
		c.SmallFiles.MaxFileSize <= c.SmallFiles.MinFileSize {
		errs = append(errs, fmt.Errorf(
			"small_files needs 0 < min_file_size < max_file_size",
		))
	}

	return errors.Join(errs...)
}

func (l LadderConfig) validate() error {
	if l.BudgetPerSize <= 0 || l.BaseBlockSize <= 0 || l.Steps <= 0 {
		return fmt.Errorf("budget, base block size and steps must be positive")
	}

	if l.Divisor < 1 {
		return fmt.Errorf("divisor must be at least 1")
	}

	sizes := l.BlockSizes()
	if sizes[len(sizes)-1] <= 0 {
		return fmt.Errorf("block size ladder reaches zero")
	}

	return nil
}
