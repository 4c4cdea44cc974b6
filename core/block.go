package core

import (
	"encoding/json"
	"time"

	"github.com/nerekov/escrowchain/crypto"
)

// BlockHeader contains the block metadata that is hashed and signed.
type BlockHeader struct {
	Height      int64  `json:"height"`
	PrevHash    string `json:"prev_hash"`
	StateRoot   string `json:"state_root"`   // state hash after executing this block
	TxRoot      string `json:"tx_root"`      // hash over transaction IDs
	ReceiptRoot string `json:"receipt_root"` // hash over receipt outcomes
	Timestamp   int64  `json:"timestamp"`
	Sequencer   string `json:"sequencer"` // operator's pubkey hex
}

// Receipt records the outcome of one executed transaction. Failed operations
// stay in the block with OK=false so callers can see exactly which
// precondition rejected them; their state changes were rolled back.
type Receipt struct {
	TxID  string `json:"tx_id"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Block is a sequenced batch of transactions with their receipts and a
// signed header.
type Block struct {
	Header       BlockHeader    `json:"header"`
	Transactions []*Transaction `json:"transactions"`
	Receipts     []*Receipt     `json:"receipts"`
	Hash         string         `json:"hash"`
	Signature    string         `json:"signature"`
}

// ComputeHash returns the SHA-256 hash of the serialised header.
// Returns an empty string if marshalling fails (which cannot happen in practice).
func (b *Block) ComputeHash() string {
	data, err := json.Marshal(b.Header)
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Seal fixes the transaction and receipt roots over the finally included
// set, sets Hash and signs the block with the sequencer's private key.
func (b *Block) Seal(priv crypto.PrivateKey) {
	b.Header.TxRoot = ComputeTxRoot(b.Transactions)
	b.Header.ReceiptRoot = ComputeReceiptRoot(b.Receipts)
	b.Hash = b.ComputeHash()
	b.Signature = crypto.Sign(priv, []byte(b.Hash))
}

// Verify checks the block signature against the given public key.
func (b *Block) Verify(pub crypto.PublicKey) error {
	return crypto.Verify(pub, []byte(b.Hash), b.Signature)
}

// ComputeTxRoot builds a deterministic root hash from all transaction IDs.
func ComputeTxRoot(txs []*Transaction) string {
	if len(txs) == 0 {
		return crypto.Hash([]byte("empty"))
	}
	var ids []byte
	for _, tx := range txs {
		ids = append(ids, []byte(tx.ID)...)
	}
	return crypto.Hash(ids)
}

// ComputeReceiptRoot builds a deterministic root hash over receipt outcomes.
func ComputeReceiptRoot(receipts []*Receipt) string {
	if len(receipts) == 0 {
		return crypto.Hash([]byte("empty"))
	}
	var buf []byte
	for _, r := range receipts {
		buf = append(buf, []byte(r.TxID)...)
		if r.OK {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
		buf = append(buf, []byte(r.Error)...)
	}
	return crypto.Hash(buf)
}

// NewBlock creates an unsealed block with the given parameters.
func NewBlock(height int64, prevHash, sequencer string, txs []*Transaction) *Block {
	return &Block{
		Header: BlockHeader{
			Height:    height,
			PrevHash:  prevHash,
			TxRoot:    ComputeTxRoot(txs),
			Timestamp: time.Now().UnixNano(),
			Sequencer: sequencer,
		},
		Transactions: txs,
	}
}
