// Package config loads, completes and validates the node's YAML configuration.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	"github.com/multiformats/go-multiaddr"
	"gopkg.in/yaml.v3"

	"github.com/NOVAInetwork/NOVAI-node/internal/keys"
	"github.com/NOVAInetwork/NOVAI-node/internal/logger"
	"github.com/NOVAInetwork/NOVAI-node/internal/types"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/codec"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/crypto"
)

// Manager handles configuration loading, validation, and management
type Manager struct {
	keyManager *keys.KeyManager
}

// NewManager creates a new configuration manager with dependencies
func NewManager(keyManager *keys.KeyManager) *Manager {
	return &Manager{
		keyManager: keyManager,
	}
}

// LoadConfig loads the configuration at filePath. A missing file is created
// with defaults; missing keys are generated and written back.
func (m *Manager) LoadConfig(filePath string) (*types.Config, error) {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		if err := m.CreateConfigFile(filePath, types.DefaultConfig()); err != nil {
			return nil, fmt.Errorf("failed to create default config file: %w", err)
		}
		logger.Info("Created default configuration", "path", filePath)
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filePath, err)
	}

	// unset fields keep their defaults
	cfg := types.DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	generated, err := m.fillKeys(cfg)
	if err != nil {
		return nil, err
	}
	if generated {
		if err := m.SaveConfig(filePath, cfg); err != nil {
			return nil, fmt.Errorf("failed to save config with generated keys: %w", err)
		}
		logger.Info("Generated missing node keys", "path", filePath)
	}

	if err := m.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func (m *Manager) fillKeys(cfg *types.Config) (bool, error) {
	generated := false
	if cfg.Node.PrivateKey == "" {
		key, err := m.keyManager.GeneratePrivateKey(crypto.Scheme(cfg.Node.SignatureScheme))
		if err != nil {
			return false, fmt.Errorf("failed to generate private key: %w", err)
		}
		cfg.Node.PrivateKey = key
		generated = true
	}
	// ed25519 nodes default to their consensus key as network identity
	if cfg.Network.NetworkKey == "" && crypto.Scheme(cfg.Node.SignatureScheme) == crypto.SchemeSchnorr {
		key, err := m.keyManager.GenerateNetworkKey()
		if err != nil {
			return false, err
		}
		cfg.Network.NetworkKey = key
		generated = true
	}
	return generated, nil
}

// CreateConfigFile writes cfg to filePath, creating the parent directory.
func (m *Manager) CreateConfigFile(filePath string, cfg *types.Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if dir := filepath.Dir(filePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	// the file holds private keys
	if err := os.WriteFile(filePath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// SaveConfig saves the configuration to the specified file
func (m *Manager) SaveConfig(filePath string, cfg *types.Config) error {
	return m.CreateConfigFile(filePath, cfg)
}

// ValidateConfig checks every section and reports all problems at once.
func (m *Manager) ValidateConfig(cfg *types.Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	var result *multierror.Error
	for _, check := range []struct {
		section string
		err     error
	}{
		{"node", m.validateNodeConfig(&cfg.Node)},
		{"network", m.validateNetworkConfig(&cfg.Network)},
		{"validators", validateValidatorsConfig(&cfg.Validators)},
		{"consensus", validateConsensusConfig(&cfg.Consensus)},
		{"storage", validateStorageConfig(&cfg.Storage)},
		{"retry", validateRetryConfig(&cfg.Retry)},
		{"logging", validateLoggingConfig(&cfg.Logging)},
		{"metrics", validateMetricsConfig(&cfg.Metrics)},
	} {
		if check.err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", check.section, check.err))
		}
	}

	return result.ErrorOrNil()
}

func (m *Manager) validateNodeConfig(cfg *types.NodeConfig) error {
	scheme := crypto.Scheme(cfg.SignatureScheme)
	if scheme != crypto.SchemeEd25519 && scheme != crypto.SchemeSchnorr {
		return fmt.Errorf("signature_scheme must be one of: ed25519, schnorr")
	}
	if cfg.DataDir == "" {
		return fmt.Errorf("data_dir cannot be empty")
	}
	return m.keyManager.ValidatePrivateKey(scheme, cfg.PrivateKey)
}

func (m *Manager) validateNetworkConfig(cfg *types.NetworkConfig) error {
	if len(cfg.Addresses) == 0 {
		return fmt.Errorf("addresses cannot be empty")
	}

	var result *multierror.Error
	for i, addr := range cfg.Addresses {
		if err := validateMultiaddr(addr); err != nil {
			result = multierror.Append(result, fmt.Errorf("address %d: %w", i, err))
		}
	}
	if cfg.NetworkKey != "" {
		if _, err := m.keyManager.NetworkIdentity(cfg.NetworkKey); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func validateValidatorsConfig(cfg *types.ValidatorsConfig) error {
	if cfg.RosterFile == "" {
		return fmt.Errorf("roster_file cannot be empty")
	}
	return nil
}

func validateConsensusConfig(cfg *types.ConsensusConfig) error {
	var result *multierror.Error
	if cfg.BaseTimeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("base_timeout must be positive"))
	}
	if cfg.TimeoutMultiplier < 1 {
		result = multierror.Append(result, fmt.Errorf("timeout_multiplier must be at least 1"))
	}
	if cfg.MaxTimeout < cfg.BaseTimeout {
		result = multierror.Append(result, fmt.Errorf("max_timeout must not be below base_timeout"))
	}
	if cfg.MaxPayloadItems < 1 || cfg.MaxPayloadItems > codec.MaxBatchItems {
		result = multierror.Append(result, fmt.Errorf("max_payload_items must be in [1, %d]", codec.MaxBatchItems))
	}
	if cfg.MempoolSize < 1 {
		result = multierror.Append(result, fmt.Errorf("mempool_size must be positive"))
	}
	return result.ErrorOrNil()
}

func validateStorageConfig(cfg *types.StorageConfig) error {
	if cfg.CacheSize < 1 {
		return fmt.Errorf("cache_size must be positive")
	}
	return nil
}

func validateRetryConfig(cfg *types.RetryConfig) error {
	if cfg.BaseDelay <= 0 {
		return fmt.Errorf("base_delay must be positive")
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		return fmt.Errorf("max_delay must not be below base_delay")
	}
	return nil
}

func validateLoggingConfig(cfg *types.LoggingConfig) error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[cfg.Level] {
		return fmt.Errorf("level must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"json": true, "text": true,
	}
	if !validFormats[cfg.Format] {
		return fmt.Errorf("format must be one of: json, text")
	}

	if cfg.FileOutput && cfg.FileName == "" {
		return fmt.Errorf("file_name is required when file_output is enabled")
	}

	return nil
}

func validateMetricsConfig(cfg *types.MetricsConfig) error {
	if cfg.Address == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(cfg.Address); err != nil {
		return fmt.Errorf("address must be host:port: %w", err)
	}
	return nil
}

// validateMultiaddr accepts listen addresses of the TCP transport.
func validateMultiaddr(addr string) error {
	if addr == "" {
		return fmt.Errorf("address cannot be empty")
	}

	ma, err := multiaddr.NewMultiaddr(addr)
	if err != nil {
		return fmt.Errorf("invalid multiaddr %q: %w", addr, err)
	}
	if _, err := ma.ValueForProtocol(multiaddr.P_TCP); err != nil {
		return fmt.Errorf("multiaddr %q has no tcp component", addr)
	}

	return nil
}

// LoadConfig is a convenience function that creates a manager and loads config
func LoadConfig(filePath string) (*types.Config, error) {
	keyManager := keys.NewKeyManager()
	configManager := NewManager(keyManager)
	return configManager.LoadConfig(filePath)
}
