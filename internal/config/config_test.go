// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWhenNoFilesPresent(t *testing.T) {
	cfg, err := Load("", "")
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.ListenAddr)
	require.Equal(t, 65, cfg.JPEGQualityLarge)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "gateway.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("listen_addr: \":9999\"\njpeg_quality_large: 50\n"), 0o644))

	cfg, err := Load("", yamlPath)
	require.NoError(t, err)
	require.Equal(t, ":9999", cfg.ListenAddr)
	require.Equal(t, 50, cfg.JPEGQualityLarge)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "gateway.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("listen_addr: \":9999\"\n"), 0o644))

	t.Setenv("RFBGATEWAY_LISTEN_ADDR", ":7777")

	cfg, err := Load("", yamlPath)
	require.NoError(t, err)
	require.Equal(t, ":7777", cfg.ListenAddr)
}

func TestConfig_AllowsUpstream(t *testing.T) {
	cfg := Default()
	require.True(t, cfg.AllowsUpstream("anything:5900"))

	cfg.UpstreamAllowlist = []string{"10.0.0.5:5900"}
	require.True(t, cfg.AllowsUpstream("10.0.0.5:5900"))
	require.False(t, cfg.AllowsUpstream("10.0.0.6:5900"))
}
