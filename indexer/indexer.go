// Package indexer maintains secondary indexes over committed blocks so
// marketplace frontends can query listings and wagers by participant without
// scanning full state.
package indexer

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nerekov/escrowchain/core"
	"github.com/nerekov/escrowchain/events"
	"github.com/nerekov/escrowchain/storage"
)

const (
	prefixSellerListing = "idx:seller:listing:"
	prefixPlayerWager   = "idx:player:wager:"
	prefixTxReceipt     = "idx:receipt:"
)

type opKind uint8

const (
	opListAdd opKind = iota
	opListRemove
	opPut
)

// indexOp is one staged index mutation. Execution-time events stage ops;
// they hit the DB only once the block that produced them is committed, so
// queries never surface entries for state that was rolled back.
type indexOp struct {
	kind  opKind
	key   string
	value string // list member for opListAdd/opListRemove
	data  []byte // raw value for opPut
}

// Indexer subscribes to chain events and updates secondary lookup tables.
// Mutations are staged in memory as execution events arrive and flushed to
// the DB on the block-commit event, after the ledger state itself has been
// persisted. Staging happens on the sequencer goroutine; reads go straight
// to the DB and are safe whenever the DB is.
type Indexer struct {
	db      storage.DB
	emitter *events.Emitter
	staged  []indexOp
}

// New creates an Indexer backed by db and subscribes to relevant events.
func New(db storage.DB, emitter *events.Emitter) *Indexer {
	idx := &Indexer{db: db, emitter: emitter}
	emitter.Subscribe(events.EventItemListed, idx.onItemListed)
	emitter.Subscribe(events.EventItemDelisted, idx.onItemDelisted)
	emitter.Subscribe(events.EventItemSold, idx.onItemSold)
	emitter.Subscribe(events.EventWagerStarted, idx.onWagerStarted)
	emitter.Subscribe(events.EventTxExecuted, idx.onTxExecuted)
	emitter.Subscribe(events.EventBlockCommit, idx.onBlockCommit)
	return idx
}

// GetListingsBySeller returns all "collection/assetID" keys the seller has
// live listings for.
func (idx *Indexer) GetListingsBySeller(seller string) ([]string, error) {
	return idx.getList(prefixSellerListing + seller)
}

// GetWagersByPlayer returns all wager keys a player participated in.
func (idx *Indexer) GetWagersByPlayer(player string) ([]string, error) {
	return idx.getList(prefixPlayerWager + player)
}

// GetReceipt returns the stored execution receipt for a transaction, or
// core.ErrNotFound.
func (idx *Indexer) GetReceipt(txID string) (*core.Receipt, error) {
	data, err := idx.db.Get([]byte(prefixTxReceipt + txID))
	if err != nil {
		return nil, err
	}
	var r core.Receipt
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("indexer unmarshal receipt: %w", err)
	}
	return &r, nil
}

// ---- event handlers ----

func listingKey(ev events.Event) string {
	collection, _ := ev.Data["collection"].(string)
	assetID, _ := ev.Data["asset_id"].(string)
	if collection == "" || assetID == "" {
		return ""
	}
	return collection + "/" + assetID
}

func (idx *Indexer) onItemListed(ev events.Event) {
	seller, _ := ev.Data["seller"].(string)
	key := listingKey(ev)
	if seller == "" || key == "" {
		return
	}
	idx.stage(indexOp{kind: opListAdd, key: prefixSellerListing + seller, value: key})
}

func (idx *Indexer) onItemDelisted(ev events.Event) {
	seller, _ := ev.Data["seller"].(string)
	key := listingKey(ev)
	if seller == "" || key == "" {
		return
	}
	idx.stage(indexOp{kind: opListRemove, key: prefixSellerListing + seller, value: key})
}

func (idx *Indexer) onItemSold(ev events.Event) {
	seller, _ := ev.Data["seller"].(string)
	key := listingKey(ev)
	if seller == "" || key == "" {
		return
	}
	idx.stage(indexOp{kind: opListRemove, key: prefixSellerListing + seller, value: key})
}

func (idx *Indexer) onWagerStarted(ev events.Event) {
	wagerKey, _ := ev.Data["wager_key"].(string)
	if wagerKey == "" {
		return
	}
	for _, field := range []string{"player1", "player2"} {
		player, _ := ev.Data[field].(string)
		if player != "" {
			idx.stage(indexOp{kind: opListAdd, key: prefixPlayerWager + player, value: wagerKey})
		}
	}
}

func (idx *Indexer) onTxExecuted(ev events.Event) {
	txID := ev.TxID
	if txID == "" {
		return
	}
	ok, _ := ev.Data["ok"].(bool)
	errMsg, _ := ev.Data["error"].(string)
	data, err := json.Marshal(&core.Receipt{TxID: txID, OK: ok, Error: errMsg})
	if err != nil {
		return
	}
	idx.stage(indexOp{kind: opPut, key: prefixTxReceipt + txID, data: data})
}

func (idx *Indexer) onBlockCommit(ev events.Event) {
	idx.flush()
}

// ---- staging ----

func (idx *Indexer) stage(op indexOp) {
	idx.staged = append(idx.staged, op)
}

// flush applies staged ops in arrival order and resets the stage. Ops are
// idempotent (set-style list membership, receipt puts keyed by tx ID), so a
// re-executed transaction staging the same op twice is harmless.
func (idx *Indexer) flush() {
	for _, op := range idx.staged {
		switch op.kind {
		case opListAdd:
			_ = idx.addToList(op.key, op.value)
		case opListRemove:
			_ = idx.removeFromList(op.key, op.value)
		case opPut:
			_ = idx.db.Set([]byte(op.key), op.data)
		}
	}
	idx.staged = nil
}

// ---- list helpers ----

func (idx *Indexer) getList(key string) ([]string, error) {
	data, err := idx.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, nil // empty list
		}
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("indexer unmarshal: %w", err)
	}
	return ids, nil
}

func (idx *Indexer) addToList(key, value string) error {
	ids, _ := idx.getList(key)
	for _, id := range ids {
		if id == value {
			return nil
		}
	}
	ids = append(ids, value)
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return idx.db.Set([]byte(key), data)
}

func (idx *Indexer) removeFromList(key, value string) error {
	ids, _ := idx.getList(key)
	filtered := ids[:0]
	for _, id := range ids {
		if id != value {
			filtered = append(filtered, id)
		}
	}
	data, err := json.Marshal(filtered)
	if err != nil {
		return err
	}
	return idx.db.Set([]byte(key), data)
}
