package wallet

import (
	"github.com/nerekov/escrowchain/core"
	"github.com/nerekov/escrowchain/crypto"
)

// Wallet holds a key pair and provides transaction-building helpers.
type Wallet struct {
	priv crypto.PrivateKey
	pub  crypto.PublicKey
}

// New creates a Wallet from an existing private key.
func New(priv crypto.PrivateKey) *Wallet {
	return &Wallet{priv: priv, pub: priv.Public()}
}

// Generate creates a Wallet with a freshly generated key pair.
func Generate() (*Wallet, error) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return New(priv), nil
}

// PrivKey returns the raw private key (handle with care).
func (w *Wallet) PrivKey() crypto.PrivateKey {
	return w.priv
}

// PubKey returns the hex-encoded ed25519 public key (used as "from" address).
func (w *Wallet) PubKey() string {
	return w.pub.Hex()
}

// NewTx creates a signed transaction. chainID must match the target network.
// nonce should match the account's current nonce.
func (w *Wallet) NewTx(chainID string, typ core.TxType, nonce, fee uint64, payload any) (*core.Transaction, error) {
	tx, err := core.NewTransaction(chainID, typ, w.pub.Hex(), nonce, fee, payload)
	if err != nil {
		return nil, err
	}
	tx.Sign(w.priv)
	return tx, nil
}

// Deposit creates a signed deposit transaction crediting account (or the
// wallet itself when account is empty).
func (w *Wallet) Deposit(chainID, account string, amount, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxDeposit, nonce, fee, core.DepositPayload{
		Account: account,
		Amount:  amount,
	})
}

// Withdraw creates a signed withdrawal transaction.
func (w *Wallet) Withdraw(chainID string, amount, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxWithdraw, nonce, fee, core.WithdrawPayload{
		Amount: amount,
	})
}

// ListItem creates a signed listing transaction.
func (w *Wallet) ListItem(chainID, collection, assetID string, price uint64, metadata string, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxListItem, nonce, fee, core.ListItemPayload{
		Collection: collection,
		AssetID:    assetID,
		Price:      price,
		Metadata:   metadata,
	})
}

// Purchase creates a signed purchase transaction. payment must equal the
// listed price exactly.
func (w *Wallet) Purchase(chainID, collection, assetID string, payment, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxPurchaseItem, nonce, fee, core.PurchaseItemPayload{
		Collection: collection,
		AssetID:    assetID,
		Payment:    payment,
	})
}
