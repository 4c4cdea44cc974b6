package config

import (
	"strings"

	"github.com/nerekov/escrowchain/core"
	"github.com/nerekov/escrowchain/crypto"
)

// GenesisHash is a canonical all-zeros previous hash for the genesis block.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// CreateGenesisBlock builds and signs block #0 from the genesis config. It
// seeds admin, fee parameters, approved collections, asset records, and
// initial balances in state, then commits.
func CreateGenesisBlock(cfg *Config, state core.State, sequencerPriv crypto.PrivateKey) (*core.Block, error) {
	sequencerPub := sequencerPriv.Public()

	admin := cfg.Genesis.Admin
	if admin == "" {
		admin = sequencerPub.Hex()
	}
	if err := state.SetAdmin(admin); err != nil {
		return nil, err
	}
	if err := state.SetFeeParams(&core.FeeParams{
		WagerFeeBps:  cfg.Genesis.WagerFeeBps,
		MarketFeeBps: cfg.Genesis.MarketFeeBps,
	}); err != nil {
		return nil, err
	}

	for _, collection := range cfg.Genesis.Collections {
		if err := state.SetCollectionApproved(collection, true); err != nil {
			return nil, err
		}
	}
	for _, a := range cfg.Genesis.Assets {
		if err := state.SetAsset(&core.AssetRecord{
			Collection: a.Collection,
			AssetID:    a.AssetID,
			Owner:      a.Owner,
		}); err != nil {
			return nil, err
		}
	}

	for pubkeyHex, balance := range cfg.Genesis.Alloc {
		acc := &core.Account{
			Address: pubkeyHex,
			Balance: balance,
		}
		if err := state.SetAccount(acc); err != nil {
			return nil, err
		}
	}

	stateRoot := state.ComputeRoot()
	if err := state.Commit(); err != nil {
		return nil, err
	}

	block := core.NewBlock(0, GenesisHash, sequencerPub.Hex(), nil)
	block.Header.StateRoot = stateRoot
	// The chain ID is pinned in the genesis tx root so nodes with different
	// genesis configs cannot share a chain. Seal would recompute the root,
	// so the genesis block is hashed and signed directly.
	block.Header.TxRoot = crypto.Hash([]byte(cfg.Genesis.ChainID))
	block.Hash = block.ComputeHash()
	block.Signature = crypto.Sign(sequencerPriv, []byte(block.Hash))
	return block, nil
}

// IsGenesisHash returns true if the hash is the canonical genesis prev-hash.
func IsGenesisHash(h string) bool {
	return strings.Count(h, "0") == len(h) && len(h) == 64
}
