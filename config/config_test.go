package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitConfig_Defaults(t *testing.T) {
	config, err := InitConfig()
	require.NoError(t, err)

	assert.Equal(t, 8080, config.ServerPort)
	assert.Equal(t, "data/fleetprobe.db", config.DatabaseDbPath)
	assert.Equal(t, "localhost", config.DatabaseCacheAddress)
	assert.Equal(t, 6379, config.DatabaseCachePort)
	assert.Equal(t, 3031, config.PortRangeStart)
	assert.Equal(t, 3080, config.PortRangeEnd)
	assert.Equal(t, 5*time.Second, config.BridgePollInterval)
	assert.Equal(t, 3, config.ConnectRetries)
	assert.Equal(t, 10*time.Second, config.CommandTimeout)
	assert.Equal(t, time.Second, config.CampaignInterval)
	assert.Equal(t, 64, config.CampaignPayloadSize)
}

func TestInitConfig_EnvOverride(t *testing.T) {
	t.Setenv("FLEETPROBE_SERVER_PORT", "9090")
	t.Setenv("FLEETPROBE_CONNECT_RETRIES", "7")

	config, err := InitConfig()
	require.NoError(t, err)

	assert.Equal(t, 9090, config.ServerPort)
	assert.Equal(t, 7, config.ConnectRetries)
}

func TestInitConfig_RejectsInvalidPortRange(t *testing.T) {
	t.Setenv("FLEETPROBE_PORT_RANGE_START", "4000")
	t.Setenv("FLEETPROBE_PORT_RANGE_END", "3999")

	_, err := InitConfig()
	assert.Error(t, err)
}
