package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weiihann/hddtest/bench"
	"github.com/weiihann/hddtest/resultfile"
)

func TestRunSavesWhenNothingCompletes(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	path := filepath.Join(t.TempDir(), "out.xml")

	// Seek needs a raw handle, so a directory target completes nothing.
	err := runBenchmarks(context.Background(), logger, false, runConfig{
		target:     t.TempDir(),
		benchmarks: []string{"seek"},
		savePath:   path,
	})
	require.NoError(t, err)

	root, err := resultfile.ReadFile(path)
	require.NoError(t, err)

	seek := root.FirstChild(bench.Seek.ElementName())
	require.NotNil(t, seek)
	assert.Equal(t, "no", seek.Get(resultfile.ValidAttr, ""))
	assert.Empty(t, seek.Children)
}

func TestProgressLoggerBuckets(t *testing.T) {
	var buf bytes.Buffer

	logger := slog.New(slog.NewTextHandler(&buf, nil))
	poll := progressLogger(logger)

	for _, p := range []int{0, 5, 9, 10, 15, 42, 100, 100} {
		poll(bench.Seek, p, nil)
	}

	var got []string

	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if !strings.Contains(line, "msg=progress") {
			continue
		}

		i := strings.Index(line, "percent=")
		require.NotEqual(t, -1, i, line)
		got = append(got, line[i+len("percent="):])
	}

	assert.Equal(t, []string{"0", "10", "42", "100"}, got)
}
