package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lc/sift/internal/config"
	"github.com/lc/sift/internal/shard"
)

func TestRunPrefixes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ips.txt")
	require.NoError(t, os.WriteFile(path, []byte("104.16.0.1\n2606:4700:3033::6815:1\n2400:cb00:2049:1::a29f:1804\n2606:4700:3033::ac43:1\n"), 0o644))

	var out bytes.Buffer
	require.NoError(t, runPrefixes(nil, &out, path))
	assert.Equal(t, "2400:cb00:2049::/48\n2606:4700:3033::/48\n", out.String())

	out.Reset()
	require.NoError(t, runPrefixes(strings.NewReader("2a06:98c1:3120:8000::/56\n"), &out, "-"))
	assert.Equal(t, "2a06:98c1:3120::/48\n", out.String())

	assert.Error(t, runPrefixes(nil, &out, filepath.Join(t.TempDir(), "absent")))
}

func TestRenderPlan(t *testing.T) {
	color.NoColor = true
	cfg := config.Default()
	plan, err := shard.Plan(100, []shard.Weight{{Name: "de_fra", Weight: 60}, {Name: "google", Weight: 71}})
	require.NoError(t, err)

	var out bytes.Buffer
	renderPlan(&out, cfg, plan, 100)

	assert.Contains(t, out.String(), "SHARD PLAN FOR 100 CANDIDATES")
	assert.Contains(t, out.String(), "de_fra")
	assert.Contains(t, out.String(), "google")
}

func TestRootCommands(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"run", "fetch", "plan", "query", "match", "prefixes", "version"}, names)

	f := root.PersistentFlags().Lookup("config")
	require.NotNil(t, f)
	assert.Equal(t, "c", f.Shorthand)
	assert.Equal(t, config.DefaultConfigPath, f.DefValue)
}
