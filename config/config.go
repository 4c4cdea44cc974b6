package config

import (
	"encoding/json"
	"os"
)

// GenesisAsset seeds one asset record at chain creation.
type GenesisAsset struct {
	Collection string `json:"collection"`
	AssetID    string `json:"asset_id"`
	Owner      string `json:"owner"` // pubkey hex
}

// GenesisConfig describes the chain's initial state.
type GenesisConfig struct {
	ChainID      string            `json:"chain_id"`
	Admin        string            `json:"admin"` // pubkey hex of the chain administrator
	Alloc        map[string]uint64 `json:"alloc"` // pubkey hex → initial balance
	Collections  []string          `json:"collections"`
	Assets       []GenesisAsset    `json:"assets"`
	WagerFeeBps  uint64            `json:"wager_fee_bps"`
	MarketFeeBps uint64            `json:"market_fee_bps"`
}

// TLSConfig holds PEM paths for mutual-TLS on the RPC listener.
type TLSConfig struct {
	CACert   string `json:"ca_cert"`
	NodeCert string `json:"node_cert"`
	NodeKey  string `json:"node_key"`
}

// Config holds all node configuration.
type Config struct {
	NodeID       string        `json:"node_id"`
	DataDir      string        `json:"data_dir"`
	RPCPort      int           `json:"rpc_port"`
	RPCAuthToken string        `json:"rpc_auth_token"` // empty → no auth required
	TLS          *TLSConfig    `json:"tls,omitempty"`
	MaxBlockTxs  int           `json:"max_block_txs"` // max transactions per block; 0 → 500
	Genesis      GenesisConfig `json:"genesis"`
}

// DefaultConfig returns a single-node development configuration.
func DefaultConfig() *Config {
	return &Config{
		NodeID:      "node0",
		DataDir:     "./data",
		RPCPort:     8545,
		MaxBlockTxs: 500,
		Genesis: GenesisConfig{
			ChainID:      "escrowchain-dev",
			Alloc:        map[string]uint64{},
			WagerFeeBps:  300,
			MarketFeeBps: 250,
		},
	}
}

// Load reads a JSON config file from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to path as formatted JSON.
func Save(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
