package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 2000, cfg.ProbeMinDelayMs)
	assert.Equal(t, 2100, cfg.ProbeMaxDelayMs)
	assert.Equal(t, 30000, cfg.ProbeTimeoutMs)
	assert.Equal(t, "text", cfg.ProbeMethod)
	assert.Equal(t, ":8080", cfg.ListenAddr)
}

func TestValidate_RejectsInvertedDelayRange(t *testing.T) {
	cfg := &Config{
		MQTTBroker:      "localhost:1883",
		ProbeMinDelayMs: 2100,
		ProbeMaxDelayMs: 2000,
		ProbeTimeoutMs:  30000,
	}
	assert.Error(t, cfg.Validate())

	cfg.ProbeMinDelayMs = 2000
	cfg.ProbeMaxDelayMs = 2000
	assert.Error(t, cfg.Validate(), "an empty range is invalid")

	cfg.ProbeMaxDelayMs = 2100
	assert.NoError(t, cfg.Validate())
}

func TestValidate_RequiresBroker(t *testing.T) {
	cfg := &Config{
		ProbeMinDelayMs: 2000,
		ProbeMaxDelayMs: 2100,
		ProbeTimeoutMs:  30000,
	}
	assert.Error(t, cfg.Validate())
}

func TestEnvTargetList(t *testing.T) {
	t.Setenv("TARGETS", " alice, bob ,,carol ")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob", "carol"}, cfg.InitialTargets)
}
