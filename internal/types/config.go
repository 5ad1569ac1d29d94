// Package types contains the on-disk configuration and roster structures of a node.
package types

import "time"

// Config represents the complete application configuration
type Config struct {
	Node       NodeConfig       `yaml:"node"`
	Network    NetworkConfig    `yaml:"network"`
	Validators ValidatorsConfig `yaml:"validators"`
	Consensus  ConsensusConfig  `yaml:"consensus"`
	Storage    StorageConfig    `yaml:"storage"`
	Retry      RetryConfig      `yaml:"retry"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// NodeConfig contains node-specific configuration
type NodeConfig struct {
	ID uint16 `yaml:"id"`
	// PrivateKey is base64; generated on first start when empty.
	PrivateKey      string `yaml:"private_key"`
	SignatureScheme string `yaml:"signature_scheme"`
	DataDir         string `yaml:"data_dir"`
}

// NetworkConfig contains network-related configuration
type NetworkConfig struct {
	Addresses []string `yaml:"addresses"`
	// NetworkKey is the base64 libp2p ed25519 identity. When empty, ed25519
	// nodes use their consensus key and schnorr nodes get one generated.
	NetworkKey string `yaml:"network_key"`
}

// ValidatorsConfig points at the roster file listing every validator.
type ValidatorsConfig struct {
	RosterFile string `yaml:"roster_file"`
}

// ConsensusConfig tunes the pacemaker and block building.
type ConsensusConfig struct {
	BaseTimeout       time.Duration `yaml:"base_timeout"`
	TimeoutMultiplier float64       `yaml:"timeout_multiplier"`
	MaxTimeout        time.Duration `yaml:"max_timeout"`
	MaxPayloadItems   int           `yaml:"max_payload_items"`
	MempoolSize       int           `yaml:"mempool_size"`
}

// StorageConfig configures the durable block store.
type StorageConfig struct {
	CacheSize int `yaml:"cache_size"`
}

// RetryConfig bounds retries of adapter operations.
type RetryConfig struct {
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
	MaxRetries uint64        `yaml:"max_retries"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level         string `yaml:"level"`
	Format        string `yaml:"format"`
	ConsoleOutput bool   `yaml:"console_output"`
	FileOutput    bool   `yaml:"file_output"`
	FileName      string `yaml:"file_name"`
	FileMaxSize   string `yaml:"file_max_size"`
}

// MetricsConfig configures the Prometheus endpoint. An empty address disables it.
type MetricsConfig struct {
	Address string `yaml:"address"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Node: NodeConfig{
			ID:              0,
			PrivateKey:      "", // Will be generated if empty
			SignatureScheme: "ed25519",
			DataDir:         "data",
		},
		Network: NetworkConfig{
			Addresses: []string{
				"/ip4/0.0.0.0/tcp/9000",
			},
		},
		Validators: ValidatorsConfig{
			RosterFile: "validators.yaml",
		},
		Consensus: ConsensusConfig{
			BaseTimeout:       time.Second,
			TimeoutMultiplier: 1.5,
			MaxTimeout:        30 * time.Second,
			MaxPayloadItems:   500,
			MempoolSize:       10000,
		},
		Storage: StorageConfig{
			CacheSize: 1024,
		},
		Retry: RetryConfig{
			BaseDelay:  50 * time.Millisecond,
			MaxDelay:   2 * time.Second,
			MaxRetries: 10,
		},
		Logging: LoggingConfig{
			Level:         "info",
			Format:        "json",
			ConsoleOutput: true,
			FileOutput:    false,
			FileName:      "novai-node.log",
			FileMaxSize:   "10MB",
		},
		Metrics: MetricsConfig{
			Address: "127.0.0.1:9100",
		},
	}
}
