package config

import (
	"fleetprobe/internal/logger"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	ServerPort int

	DatabaseDbPath       string
	DatabaseCacheAddress string
	DatabaseCachePort    int

	// Container runtime settings for test client instances.
	ClientImage       string
	ClientCommandPort int
	ClientDataDir     string
	PortRangeStart    int
	PortRangeEnd      int

	// Fleet bridge reconciliation.
	BridgePollInterval time.Duration
	ConnectRetries     int

	// Command channel.
	CommandTimeout time.Duration

	// Campaign defaults.
	CampaignInterval    time.Duration
	CampaignPayloadSize int
}

func InitConfig() (Config, error) {
	log := logger.New("config").Function("InitConfig")

	viper.SetEnvPrefix("FLEETPROBE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server_port", 8080)
	viper.SetDefault("database_db_path", "data/fleetprobe.db")
	viper.SetDefault("database_cache_address", "localhost")
	viper.SetDefault("database_cache_port", 6379)
	viper.SetDefault("client_image", "fleetprobe/test-client:latest")
	viper.SetDefault("client_command_port", 8080)
	viper.SetDefault("client_data_dir", "/var/lib/test-client")
	viper.SetDefault("port_range_start", 3031)
	viper.SetDefault("port_range_end", 3080)
	viper.SetDefault("bridge_poll_interval_seconds", 5)
	viper.SetDefault("connect_retries", 3)
	viper.SetDefault("command_timeout_seconds", 10)
	viper.SetDefault("campaign_interval_ms", 1000)
	viper.SetDefault("campaign_payload_size", 64)

	config := Config{
		ServerPort:           viper.GetInt("server_port"),
		DatabaseDbPath:       viper.GetString("database_db_path"),
		DatabaseCacheAddress: viper.GetString("database_cache_address"),
		DatabaseCachePort:    viper.GetInt("database_cache_port"),
		ClientImage:          viper.GetString("client_image"),
		ClientCommandPort:    viper.GetInt("client_command_port"),
		ClientDataDir:        viper.GetString("client_data_dir"),
		PortRangeStart:       viper.GetInt("port_range_start"),
		PortRangeEnd:         viper.GetInt("port_range_end"),
		BridgePollInterval:   time.Duration(viper.GetInt("bridge_poll_interval_seconds")) * time.Second,
		ConnectRetries:       viper.GetInt("connect_retries"),
		CommandTimeout:       time.Duration(viper.GetInt("command_timeout_seconds")) * time.Second,
		CampaignInterval:     time.Duration(viper.GetInt("campaign_interval_ms")) * time.Millisecond,
		CampaignPayloadSize:  viper.GetInt("campaign_payload_size"),
	}

	if config.PortRangeStart >= config.PortRangeEnd {
		return Config{}, log.Error("invalid client port range",
			"start", config.PortRangeStart, "end", config.PortRangeEnd)
	}

	log.Info("configuration loaded", "serverPort", config.ServerPort, "dbPath", config.DatabaseDbPath)
	return config, nil
}
