package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"cosmossdk.io/math"

	"tasknode/internal/models"
	"tasknode/internal/tasks"
)

// Config holds all configuration for the node
type Config struct {
	Env      string
	Server   ServerConfig
	Database DatabaseConfig
	Networks map[models.Network]NetworkConfig
	Node     NodeConfig
	Params   ParamsConfig
	NATS     NATSConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port       int
	AdminToken string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// NetworkConfig holds configuration for an EVM target network
type NetworkConfig struct {
	ID          models.Network
	Name        string
	RPCEndpoint string
	PrivateKey  string // Key the local signer broadcasts Write phase transactions with
}

// NodeConfig holds the identity and timing of the local node
type NodeConfig struct {
	Account     string // bech32 account the executor acts for
	BlockTime   time.Duration
	GenesisFile string
	TSSTimeout  time.Duration
	JobTimeout  time.Duration
}

// ParamsConfig holds the initial engine parameters
type ParamsConfig struct {
	ShardTaskLimit      int
	ReadReward          string
	WriteReward         string
	SendMessageReward   string
	DepreciationBlocks  int
	DepreciationPercent string
	BatchSize           int
	BatchOffset         int
}

// NATSConfig holds event streaming configuration. Streaming is disabled
// when URL is empty.
type NATSConfig struct {
	URL     string
	Stream  string
	Timeout time.Duration
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Env: getEnv("ENV", "development"),
		Server: ServerConfig{
			Port:       getEnvInt("SERVER_PORT", 8080),
			AdminToken: getEnv("ADMIN_TOKEN", ""),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "tasknode"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Node: NodeConfig{
			Account:     getEnv("NODE_ACCOUNT", ""),
			BlockTime:   getEnvDuration("BLOCK_TIME", 6*time.Second),
			GenesisFile: getEnv("GENESIS_FILE", ""),
			TSSTimeout:  getEnvDuration("TSS_TIMEOUT", 30*time.Second),
			JobTimeout:  getEnvDuration("JOB_TIMEOUT", 5*time.Minute),
		},
		Params: ParamsConfig{
			ShardTaskLimit:      getEnvInt("SHARD_TASK_LIMIT", tasks.DefaultShardTaskLimit),
			ReadReward:          getEnv("BASE_READ_REWARD", strconv.Itoa(tasks.DefaultReadReward)),
			WriteReward:         getEnv("BASE_WRITE_REWARD", strconv.Itoa(tasks.DefaultWriteReward)),
			SendMessageReward:   getEnv("BASE_SEND_MESSAGE_REWARD", strconv.Itoa(tasks.DefaultSendMessageReward)),
			DepreciationBlocks:  getEnvInt("DEPRECIATION_BLOCKS", tasks.DefaultDepreciationBlocks),
			DepreciationPercent: getEnv("DEPRECIATION_PERCENT", "0.05"),
			BatchSize:           getEnvInt("BATCH_SIZE", tasks.DefaultBatchSize),
			BatchOffset:         getEnvInt("BATCH_OFFSET", 0),
		},
		NATS: NATSConfig{
			URL:     getEnv("NATS_URL", ""),
			Stream:  getEnv("NATS_STREAM", "TASKS"),
			Timeout: getEnvDuration("NATS_TIMEOUT", 10*time.Second),
		},
		Networks: make(map[models.Network]NetworkConfig),
	}

	if err := loadNetworkConfigs(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadNetworkConfigs reads NETWORK_<id>_* for every id listed in NETWORKS
func loadNetworkConfigs(cfg *Config) error {
	for _, raw := range splitAndTrim(getEnv("NETWORKS", ""), ",") {
		id, err := strconv.ParseUint(raw, 10, 16)
		if err != nil {
			return fmt.Errorf("invalid network id %q: %w", raw, err)
		}
		prefix := fmt.Sprintf("NETWORK_%d_", id)

		rpc := getEnv(prefix+"RPC_ENDPOINT", "")
		if rpc == "" {
			return fmt.Errorf("%sRPC_ENDPOINT is required", prefix)
		}

		network := models.Network(id)
		cfg.Networks[network] = NetworkConfig{
			ID:          network,
			Name:        getEnv(prefix+"NAME", fmt.Sprintf("network-%d", id)),
			RPCEndpoint: rpc,
			PrivateKey:  getEnv(prefix+"PRIVATE_KEY", ""),
		}
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Node.Account != "" {
		if _, err := models.ParseAccountID(c.Node.Account); err != nil {
			return fmt.Errorf("invalid node account: %w", err)
		}
	}

	if c.Node.BlockTime <= 0 {
		return fmt.Errorf("invalid block time: %s", c.Node.BlockTime)
	}

	if _, err := c.TaskParams(); err != nil {
		return err
	}

	return nil
}

// TaskParams converts the parameter settings into engine parameters
func (c *Config) TaskParams() (tasks.Params, error) {
	p := tasks.DefaultParams()

	if c.Params.ShardTaskLimit <= 0 {
		return p, fmt.Errorf("invalid shard task limit: %d", c.Params.ShardTaskLimit)
	}
	p.ShardTaskLimit = uint32(c.Params.ShardTaskLimit)

	rewards := []struct {
		name  string
		value string
		dst   *math.Int
	}{
		{"BASE_READ_REWARD", c.Params.ReadReward, &p.ReadReward},
		{"BASE_WRITE_REWARD", c.Params.WriteReward, &p.WriteReward},
		{"BASE_SEND_MESSAGE_REWARD", c.Params.SendMessageReward, &p.SendMessageReward},
	}
	for _, r := range rewards {
		amount, ok := math.NewIntFromString(r.value)
		if !ok || amount.IsNegative() {
			return p, fmt.Errorf("invalid %s: %q", r.name, r.value)
		}
		*r.dst = amount
	}

	if c.Params.DepreciationBlocks <= 0 {
		return p, fmt.Errorf("invalid depreciation blocks: %d", c.Params.DepreciationBlocks)
	}
	percent, err := math.LegacyNewDecFromStr(c.Params.DepreciationPercent)
	if err != nil {
		return p, fmt.Errorf("invalid depreciation percent: %w", err)
	}
	if percent.IsNegative() || percent.GT(math.LegacyOneDec()) {
		return p, fmt.Errorf("depreciation percent must be within [0, 1]: %s", percent)
	}
	p.Depreciation = models.DepreciationRate{
		Blocks:  uint64(c.Params.DepreciationBlocks),
		Percent: percent,
	}

	if c.Params.BatchSize <= 0 || c.Params.BatchOffset < 0 {
		return p, fmt.Errorf("invalid batch config: size %d offset %d", c.Params.BatchSize, c.Params.BatchOffset)
	}
	p.Batch = models.BatchConfig{
		Size:   uint64(c.Params.BatchSize),
		Offset: uint64(c.Params.BatchOffset),
	}

	return p, nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// splitAndTrim splits a separated string and drops empty parts
func splitAndTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	parts := make([]string, 0)
	for _, part := range strings.Split(s, sep) {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
