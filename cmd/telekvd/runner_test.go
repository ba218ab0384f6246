package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	cfg, err := loadConfig("testdata/config.jsonc")
	require.NoError(t, err)
	require.Equal(t, "localhost:6584", cfg.ListenAddress)
	require.Equal(t, time.Second, cfg.HeartbeatInterval)
	require.Equal(t, 500*time.Millisecond, cfg.HeartbeatTimeout)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, "text", cfg.LogFormat)
}

func TestLoadConfigNoFileUsesDefaults(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	require.Equal(t, "", cfg.ListenAddress)
	require.NotZero(t, cfg.HeartbeatInterval)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := loadConfig("testdata/nothere.jsonc")
	require.Error(t, err)
}

func TestRunStartsServer(t *testing.T) {
	r := &runner{}
	require.NoError(t, r.run("", "localhost:0", true))
	s := r.getServer()
	require.NotNil(t, s)
	require.NotEqual(t, "localhost:0", s.ListenAddress())
	require.NoError(t, s.Stop())
}

func TestRunRejectsMissingListenAddress(t *testing.T) {
	r := &runner{}
	require.Error(t, r.run("", "", false))
}
