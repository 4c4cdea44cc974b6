// Package sequencer implements single-operator block production. The chain
// has exactly one authorised sequencer; it drains the mempool on a fixed
// interval, executes transactions against the ledger, and commits signed
// blocks carrying per-transaction receipts. Verifying nodes use
// ValidateBlock to check linkage and the sequencer signature.
package sequencer

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/nerekov/escrowchain/config"
	"github.com/nerekov/escrowchain/core"
	"github.com/nerekov/escrowchain/crypto"
	"github.com/nerekov/escrowchain/engine"
	"github.com/nerekov/escrowchain/events"
)

// Sequencer produces and validates blocks for a single-operator chain.
type Sequencer struct {
	cfg     *config.Config
	bc      *core.Blockchain
	state   core.State
	mempool *core.Mempool
	exec    *engine.Executor
	emitter *events.Emitter
	privKey crypto.PrivateKey
	pubKey  crypto.PublicKey
}

// New creates a Sequencer signing with privKey.
func New(
	cfg *config.Config,
	bc *core.Blockchain,
	state core.State,
	mempool *core.Mempool,
	exec *engine.Executor,
	emitter *events.Emitter,
	privKey crypto.PrivateKey,
) *Sequencer {
	return &Sequencer{
		cfg:     cfg,
		bc:      bc,
		state:   state,
		mempool: mempool,
		exec:    exec,
		emitter: emitter,
		privKey: privKey,
		pubKey:  privKey.Public(),
	}
}

// ProduceBlock builds, executes, seals and commits the next block. Pending
// transactions that fail admission (bad signature, stale nonce, unpayable
// fee) are dropped from the mempool without entering the block; admitted
// transactions are included with their receipts even when the operation
// itself failed.
func (s *Sequencer) ProduceBlock() (*core.Block, error) {
	limit := s.cfg.MaxBlockTxs
	if limit <= 0 {
		limit = 500
	}
	pending := s.mempool.Pending(limit)

	tip := s.bc.Tip()
	var prevHash string
	var nextHeight int64
	if tip == nil {
		prevHash = config.GenesisHash
		nextHeight = 1
	} else {
		prevHash = tip.Hash
		nextHeight = tip.Header.Height + 1
	}

	block := core.NewBlock(nextHeight, prevHash, s.pubKey.Hex(), nil)

	// Taken before any transaction executes so the whole block's mutations
	// can be unwound if the block fails to store.
	blockSnap, err := s.state.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	drop := make([]string, 0, len(pending))
	for _, tx := range pending {
		receipt, err := s.exec.ExecuteTx(block, tx)
		if err != nil {
			log.Printf("[sequencer] drop tx %s: %v", tx.ID, err)
			drop = append(drop, tx.ID)
			continue
		}
		block.Transactions = append(block.Transactions, tx)
		block.Receipts = append(block.Receipts, receipt)
		drop = append(drop, tx.ID)
	}

	// Compute root from the write buffer BEFORE flushing so that if AddBlock
	// fails the state has not yet been persisted and the node stays consistent.
	block.Header.StateRoot = s.state.ComputeRoot()
	block.Seal(s.privKey)

	if err := s.bc.AddBlock(block); err != nil {
		// Unwind every mutation this block made and leave its transactions in
		// the mempool: the next tick re-executes them against the same nonces,
		// so nothing from the failed attempt can leak into a later state root.
		if revertErr := s.state.RevertToSnapshot(blockSnap); revertErr != nil {
			log.Fatalf("[sequencer] FATAL: block %d rejected and state revert failed: %v",
				block.Header.Height, revertErr)
		}
		return nil, fmt.Errorf("add block: %w", err)
	}

	// Flush state only after the block is safely stored.
	if err := s.state.Commit(); err != nil {
		log.Fatalf("[sequencer] FATAL: block %d stored but state commit failed: %v",
			block.Header.Height, err)
	}

	// Emit after Seal() so block.Hash is set correctly.
	s.emitter.Emit(events.Event{
		Type:        events.EventBlockCommit,
		BlockHeight: block.Header.Height,
		Data:        map[string]any{"hash": block.Hash, "txs": len(block.Transactions)},
	})

	s.mempool.Remove(drop)

	return block, nil
}

// ValidateBlock checks that block was sealed by the authorised sequencer and
// links onto the current tip.
func (s *Sequencer) ValidateBlock(block *core.Block) error {
	if block.Header.Sequencer != s.pubKey.Hex() {
		return fmt.Errorf("wrong sequencer: got %s want %s", block.Header.Sequencer, s.pubKey.Hex())
	}

	pub, err := crypto.PubKeyFromHex(block.Header.Sequencer)
	if err != nil {
		return fmt.Errorf("invalid sequencer pubkey: %w", err)
	}
	if err := block.Verify(pub); err != nil {
		return fmt.Errorf("block signature invalid: %w", err)
	}
	if got := core.ComputeTxRoot(block.Transactions); got != block.Header.TxRoot {
		return fmt.Errorf("tx root mismatch: got %s want %s", got, block.Header.TxRoot)
	}
	if got := core.ComputeReceiptRoot(block.Receipts); got != block.Header.ReceiptRoot {
		return fmt.Errorf("receipt root mismatch: got %s want %s", got, block.Header.ReceiptRoot)
	}

	tip := s.bc.Tip()
	if tip == nil {
		if !config.IsGenesisHash(block.Header.PrevHash) {
			return errors.New("first block must reference genesis prev-hash")
		}
	} else {
		if block.Header.PrevHash != tip.Hash {
			return fmt.Errorf("prev_hash mismatch: got %s want %s", block.Header.PrevHash, tip.Hash)
		}
		if block.Header.Height != tip.Header.Height+1 {
			return fmt.Errorf("height mismatch: got %d want %d", block.Header.Height, tip.Header.Height+1)
		}
	}
	return nil
}

// Run starts the block-production loop with the given interval. Empty ticks
// are skipped so the chain does not fill with empty blocks. It blocks until
// done is closed.
func (s *Sequencer) Run(interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if n := s.mempool.EvictOlderThan(time.Now().Add(-time.Hour).UnixNano()); n > 0 {
				log.Printf("[sequencer] evicted %d expired txs", n)
			}
			if s.mempool.Size() == 0 {
				continue
			}
			if _, err := s.ProduceBlock(); err != nil {
				log.Printf("[sequencer] produce block error: %v", err)
			}
		}
	}
}
