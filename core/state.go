package core

import (
	"fmt"
	"math"
)

// FeeBase is the denominator for all basis-point fee rates.
const FeeBase = 10000

// FeeFor computes amount*bps/FeeBase. Amounts whose product would not fit a
// uint64 are rejected rather than silently wrapping and under-collecting.
func FeeFor(amount, bps uint64) (uint64, error) {
	if bps != 0 && amount > math.MaxUint64/bps {
		return 0, fmt.Errorf("amount %d overflows fee computation at %d bps", amount, bps)
	}
	return amount * bps / FeeBase, nil
}

// MaxBackups bounds the number of delegate addresses per account.
const MaxBackups = 3

// Account holds a participant's balances and replay-protection nonce.
// Address is the hex-encoded ed25519 public key.
//
// Balance is spendable native currency. Available and Locked are the escrow
// sub-ledger: deposits move Balance into Available, wager starts move
// Available into Locked. No operation may drive any of the three negative;
// underflow fails the operation instead of wrapping.
type Account struct {
	Address   string   `json:"address"` // pubkey hex
	Balance   uint64   `json:"balance"`
	Available uint64   `json:"available"`
	Locked    uint64   `json:"locked"`
	Nonce     uint64   `json:"nonce"`
	Backups   []string `json:"backups,omitempty"` // delegate pubkey hexes, ≤ MaxBackups
}

// HasBackup reports whether delegate is in the account's backup set.
func (a *Account) HasBackup(delegate string) bool {
	for _, b := range a.Backups {
		if b == delegate {
			return true
		}
	}
	return false
}

// WagerStatus is the lifecycle state of a wager record.
type WagerStatus uint8

const (
	WagerUninitialized WagerStatus = iota
	WagerActive
	WagerResolved
)

// WagerOutcome is the terminal result of a resolved wager.
type WagerOutcome string

const (
	OutcomePlayer1Won WagerOutcome = "player1_won"
	OutcomePlayer2Won WagerOutcome = "player2_won"
	OutcomeDraw       WagerOutcome = "draw"
)

// Wager is a two-party escrow record keyed by the SHA-256 of a
// caller-supplied identifier. StakeAmount is the per-player locked amount
// after the starting fee was skimmed. Resolved records are never deleted;
// they remain as an audit trail.
type Wager struct {
	Key         string       `json:"key"` // hash of the identifier
	Player1     string       `json:"player1"`
	Player2     string       `json:"player2"`
	StakeAmount uint64       `json:"stake_amount"`
	Status      WagerStatus  `json:"status"`
	Outcome     WagerOutcome `json:"outcome,omitempty"`
	CreatedAt   int64        `json:"created_at"`
	ResolvedAt  int64        `json:"resolved_at,omitempty"`
}

// Listing is a seller's standing offer to sell one asset at a fixed price.
// Presence of the record encodes the listed state; delisting and sales
// delete it.
type Listing struct {
	Collection string `json:"collection"`
	AssetID    string `json:"asset_id"`
	Seller     string `json:"seller"` // pubkey hex
	Price      uint64 `json:"price"`
	Metadata   string `json:"metadata,omitempty"` // opaque, e.g. content-addressed pointer
	CreatedAt  int64  `json:"created_at"`
}

// AssetRecord is the ownership registry's view of one non-fungible asset.
// Approvals name operators allowed to move this specific asset; blanket
// operator grants live in separate operator records.
type AssetRecord struct {
	Collection string          `json:"collection"`
	AssetID    string          `json:"asset_id"`
	Owner      string          `json:"owner"`
	Approvals  map[string]bool `json:"approvals,omitempty"`
}

// FeeParams is the chain's fee schedule, fixed at genesis.
type FeeParams struct {
	WagerFeeBps  uint64 `json:"wager_fee_bps"`  // skimmed from staked amounts, halved per side
	MarketFeeBps uint64 `json:"market_fee_bps"` // skimmed from sale proceeds
}

// StateReader is the read-only view of committed ledger state. Query
// surfaces (RPC) depend on this instead of State so they can be served from
// persisted data while the sequencer is mid-block, without observing the
// executor's uncommitted write buffer.
type StateReader interface {
	GetAccount(address string) (*Account, error)
	GetWager(key string) (*Wager, error)
	GetListing(collection, assetID string) (*Listing, error)
	GetAsset(collection, assetID string) (*AssetRecord, error)
	FeePool() (uint64, error)
	Paused() (bool, error)
}

// State is the full ledger state interface. Implementations must be
// snapshot-able so the executor can roll back failed operations.
type State interface {
	// Accounts
	GetAccount(address string) (*Account, error)
	SetAccount(account *Account) error

	// Wagers
	GetWager(key string) (*Wager, error)
	SetWager(w *Wager) error

	// Listings
	GetListing(collection, assetID string) (*Listing, error)
	SetListing(l *Listing) error
	DeleteListing(collection, assetID string) error

	// Asset ownership registry records
	GetAsset(collection, assetID string) (*AssetRecord, error)
	SetAsset(a *AssetRecord) error

	// Blanket operator grants (owner → operator)
	GetOperator(owner, operator string) (bool, error)
	SetOperator(owner, operator string, approved bool) error

	// Collection allow-list
	IsCollectionApproved(collection string) (bool, error)
	SetCollectionApproved(collection string, approved bool) error

	// Global singletons
	Admin() (string, error)
	SetAdmin(address string) error
	Paused() (bool, error)
	SetPaused(paused bool) error
	FeePool() (uint64, error)
	SetFeePool(amount uint64) error
	FeeParams() (*FeeParams, error)
	SetFeeParams(p *FeeParams) error

	// Snapshot / rollback / commit
	Snapshot() (int, error)
	RevertToSnapshot(id int) error
	// ComputeRoot returns the deterministic state root from the current write
	// buffer without flushing. Call this before signing a block.
	ComputeRoot() string
	// Commit flushes the write buffer to the underlying DB and clears it.
	Commit() error
}
