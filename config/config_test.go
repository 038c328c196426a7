package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, int64(1), cfg.Seed)
	assert.Equal(t, 1000, cfg.Seek.Count)
	assert.Equal(t, Size(4*GB), cfg.ReadCont.TotalSize)
	assert.Equal(t, Size(4*MB), cfg.ReadRandom.BudgetPerSize)
	assert.Equal(t, Size(100*MB), cfg.ReadBlock.BudgetPerSize)
	assert.Equal(t, ContinueOnError, cfg.ErrorPolicy)
	assert.False(t, cfg.AllowRawWrite)
}

func TestLoadOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hddtest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
seed: 7
error_policy: stop
read_continuous:
  total_size: 512M
read_block:
  base_block_size: 64K
  steps: 4
file_structure:
  dirs: 10
  settle_delay: 250ms
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, int64(7), cfg.Seed)
	assert.Equal(t, StopOnError, cfg.ErrorPolicy)
	assert.Equal(t, Size(512*MB), cfg.ReadCont.TotalSize)
	assert.Equal(t, Size(4*MB), cfg.ReadCont.BlockSize)
	assert.Equal(t, []int64{64 * KB, 32 * KB, 16 * KB, 8 * KB}, cfg.ReadBlock.BlockSizes())
	assert.Equal(t, 10, cfg.FileStructure.Dirs)
	assert.Equal(t, 1000, cfg.FileStructure.Files)
	assert.Equal(t, 250*time.Millisecond, cfg.FileStructure.SettleDelay)
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad yaml", "seek: [1, 2"},
		{"bad size", "read_continuous:\n  block_size: lots\n"},
		{"zero count", "seek:\n  count: 0\n"},
		{"unknown policy", "error_policy: retry\n"},
		{"ladder to zero", "read_random:\n  base_block_size: 4\n  steps: 5\n"},
		{"inverted small file sizes", "small_files:\n  min_file_size: 8K\n  max_file_size: 4K\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "hddtest.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0o644))

			_, err := Load(path)
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		input string
		want  int64
	}{
		{"512", 512},
		{"512B", 512},
		{"1K", KB},
		{"4M", 4 * MB},
		{"4MiB", 4 * MB},
		{"1.5G", GB + GB/2},
		{" 2t ", 2 * TB},
	}

	for _, tt := range tests {
		got, err := ParseSize(tt.input)
		require.NoError(t, err, tt.input)
		assert.Equal(t, tt.want, got, tt.input)
	}

	for _, bad := range []string{"", "B", "xM", "1.5"} {
		_, err := ParseSize(bad)
		assert.Error(t, err, bad)
	}
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		input int64
		want  string
	}{
		{512, "512B"},
		{KB, "1KB"},
		{1536, "1.5KB"},
		{MB, "1MB"},
		{4 * GB, "4GB"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatSize(tt.input))
	}
}
