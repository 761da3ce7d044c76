package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/aobridge/internal/version"
)

func TestVersionCommand(t *testing.T) {
	t.Parallel()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "aobridge "+version.GetInfo()+"\n", out.String())
}

func TestRootCommandWiring(t *testing.T) {
	t.Parallel()
	cmd := newRootCommand()

	names := make([]string, 0, len(cmd.Commands()))
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.ElementsMatch(t, []string{"serve", "version"}, names)
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
	assert.NotNil(t, cmd.PersistentFlags().Lookup("env-file"))
}

func TestProvideConfigUsesFlagPath(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "aobridge.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("[server]\naddr = \":4100\"\n"), 0o644))
	t.Setenv("PORT", "")

	cfg, err := provideConfig(&rootOptions{configPath: cfgPath, envFile: filepath.Join(dir, "missing.env")})
	require.NoError(t, err)
	assert.Equal(t, ":4100", cfg.Server.Addr)
}
