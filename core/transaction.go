package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerekov/escrowchain/crypto"
)

// TxType identifies the kind of operation a transaction performs.
type TxType string

const (
	// Balance ledger
	TxDeposit      TxType = "deposit"
	TxWithdraw     TxType = "withdraw"
	TxAddBackup    TxType = "add_backup"
	TxRemoveBackup TxType = "remove_backup"

	// Wager escrow
	TxWagerStart   TxType = "wager_start"
	TxWagerResolve TxType = "wager_resolve"

	// Asset listing engine
	TxListItem       TxType = "list_item"
	TxDelistItem     TxType = "delist_item"
	TxPurchaseItem   TxType = "purchase_item"
	TxUpdatePrice    TxType = "update_price"
	TxUpdateMetadata TxType = "update_metadata"

	// Administration
	TxApproveCollection TxType = "approve_collection"
	TxRemoveCollection  TxType = "remove_collection"
	TxPause             TxType = "pause"
	TxUnpause           TxType = "unpause"
	TxWithdrawFees      TxType = "withdraw_fees"
	TxTransferAdmin     TxType = "transfer_admin"

	// Ownership registry
	TxRegisterAsset TxType = "register_asset"
	TxSetApproval   TxType = "set_transfer_approval"
)

// Transaction is the atomic unit of work on the ledger: exactly one spec
// operation, signed by the caller. From holds the sender's full hex-encoded
// ed25519 public key. Signature covers all fields except Signature itself.
type Transaction struct {
	ID        string          `json:"id"`
	ChainID   string          `json:"chain_id"`
	Type      TxType          `json:"type"`
	From      string          `json:"from"` // hex-encoded ed25519 public key
	Nonce     uint64          `json:"nonce"`
	Fee       uint64          `json:"fee"` // execution fee, debited from native balance
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

// signingBody holds the fields that are covered by the signature.
type signingBody struct {
	ChainID   string          `json:"chain_id"`
	Type      TxType          `json:"type"`
	From      string          `json:"from"`
	Nonce     uint64          `json:"nonce"`
	Fee       uint64          `json:"fee"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Hash returns a deterministic hash of the transaction (sans Signature).
// Returns an empty string if marshalling fails (which cannot happen in practice).
func (tx *Transaction) Hash() string {
	body := signingBody{
		ChainID:   tx.ChainID,
		Type:      tx.Type,
		From:      tx.From,
		Nonce:     tx.Nonce,
		Fee:       tx.Fee,
		Timestamp: tx.Timestamp,
		Payload:   tx.Payload,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Sign computes the signature and sets ID.
func (tx *Transaction) Sign(priv crypto.PrivateKey) {
	hash := tx.Hash()
	tx.Signature = crypto.Sign(priv, []byte(hash))
	tx.ID = hash
}

// Verify checks the signature and that From is a valid public key.
func (tx *Transaction) Verify() error {
	if tx.From == "" {
		return errors.New("missing from field")
	}
	pub, err := crypto.PubKeyFromHex(tx.From)
	if err != nil {
		return fmt.Errorf("invalid from (must be ed25519 pubkey hex): %w", err)
	}
	return crypto.Verify(pub, []byte(tx.Hash()), tx.Signature)
}

// NewTransaction creates an unsigned transaction with the current timestamp.
func NewTransaction(chainID string, typ TxType, from string, nonce, fee uint64, payload any) (*Transaction, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Transaction{
		ChainID:   chainID,
		Type:      typ,
		From:      from,
		Nonce:     nonce,
		Fee:       fee,
		Timestamp: time.Now().UnixNano(),
		Payload:   raw,
	}, nil
}

// ---- Payload types ----

// DepositPayload moves native currency into the escrow available balance.
// Account, when set to an address other than the caller, names the primary
// account to credit; the caller must be one of its registered backups.
type DepositPayload struct {
	Amount  uint64 `json:"amount"`
	Account string `json:"account,omitempty"`
}

// WithdrawPayload moves escrow available balance out to the caller as native
// currency. Account works as in DepositPayload: the escrow balance debited
// is the primary's, the currency goes to the calling delegate.
type WithdrawPayload struct {
	Amount  uint64 `json:"amount"`
	Account string `json:"account,omitempty"`
}

// AddBackupPayload registers a delegate on the caller's account.
type AddBackupPayload struct {
	Delegate string `json:"delegate"`
}

// RemoveBackupPayload removes a delegate from the caller's account.
type RemoveBackupPayload struct {
	Delegate string `json:"delegate"`
}

// WagerStartPayload locks both players' stakes under a fresh wager record.
type WagerStartPayload struct {
	Identifier string `json:"identifier"` // caller-supplied; record key is its hash
	Player1    string `json:"player1"`
	Player2    string `json:"player2"`
	Stake      uint64 `json:"stake"` // pre-fee stake per player
}

// WagerResolvePayload resolves an active wager and pays out.
type WagerResolvePayload struct {
	WagerKey string       `json:"wager_key"`
	Outcome  WagerOutcome `json:"outcome"`
}

// ListItemPayload creates a listing for an owned, approved asset.
type ListItemPayload struct {
	Collection string `json:"collection"`
	AssetID    string `json:"asset_id"`
	Price      uint64 `json:"price"`
	Metadata   string `json:"metadata,omitempty"`
}

// DelistItemPayload removes the caller's listing.
type DelistItemPayload struct {
	Collection string `json:"collection"`
	AssetID    string `json:"asset_id"`
}

// PurchaseItemPayload buys a listed asset. Payment must equal the listing
// price exactly; it is debited from the buyer's native balance.
type PurchaseItemPayload struct {
	Collection string `json:"collection"`
	AssetID    string `json:"asset_id"`
	Payment    uint64 `json:"payment"`
}

// UpdatePricePayload changes the price of the caller's listing.
type UpdatePricePayload struct {
	Collection string `json:"collection"`
	AssetID    string `json:"asset_id"`
	NewPrice   uint64 `json:"new_price"`
}

// UpdateMetadataPayload changes the metadata of the caller's listing.
type UpdateMetadataPayload struct {
	Collection  string `json:"collection"`
	AssetID     string `json:"asset_id"`
	NewMetadata string `json:"new_metadata"`
}

// ApproveCollectionPayload adds a collection to the allow-list.
type ApproveCollectionPayload struct {
	Collection string `json:"collection"`
}

// RemoveCollectionPayload removes a collection from the allow-list.
type RemoveCollectionPayload struct {
	Collection string `json:"collection"`
}

// WithdrawFeesPayload pays accrued platform fees out to the administrator.
// Amount zero means the whole pool.
type WithdrawFeesPayload struct {
	Amount uint64 `json:"amount"`
}

// TransferAdminPayload hands the administrator authority to a new identity.
type TransferAdminPayload struct {
	NewAdmin string `json:"new_admin"`
}

// RegisterAssetPayload records a new asset in the ownership registry.
type RegisterAssetPayload struct {
	Collection string `json:"collection"`
	AssetID    string `json:"asset_id"`
	Owner      string `json:"owner"` // defaults to the caller when empty
}

// SetApprovalPayload grants or revokes transfer approval for an operator,
// either for one asset or blanket for everything the caller owns.
type SetApprovalPayload struct {
	Collection string `json:"collection,omitempty"`
	AssetID    string `json:"asset_id,omitempty"`
	Operator   string `json:"operator"`
	All        bool   `json:"all,omitempty"`
	Approved   bool   `json:"approved"`
}
