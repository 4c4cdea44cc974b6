// Package events is the synchronous pub/sub channel between the executing
// ledger and off-chain consumers (indexer, monitoring). There is no on-chain
// enumeration of listings or wagers; consumers build their own views from
// this stream.
package events

import (
	"log"
	"sync"
)

// EventType labels what happened.
type EventType string

const (
	EventBlockCommit EventType = "block_commit"
	EventTxExecuted  EventType = "tx_executed"

	// Balance ledger
	EventDeposit       EventType = "deposit"
	EventWithdrawal    EventType = "withdrawal"
	EventStakeLocked   EventType = "stake_locked"
	EventStakeUnlocked EventType = "stake_unlocked"
	EventBackupAdded   EventType = "backup_added"
	EventBackupRemoved EventType = "backup_removed"

	// Wager escrow
	EventWagerStarted  EventType = "wager_started"
	EventWagerResolved EventType = "wager_resolved"

	// Asset listing engine
	EventItemListed      EventType = "item_listed"
	EventItemDelisted    EventType = "item_delisted"
	EventItemSold        EventType = "item_sold"
	EventPriceUpdated    EventType = "price_updated"
	EventMetadataUpdated EventType = "metadata_updated"

	// Administration
	EventCollectionApproved EventType = "collection_approved"
	EventCollectionRemoved  EventType = "collection_removed"
	EventFeesWithdrawn      EventType = "fees_withdrawn"
	EventPaused             EventType = "paused"
	EventUnpaused           EventType = "unpaused"
	EventAdminTransferred   EventType = "admin_transferred"

	// Ownership registry
	EventAssetRegistered  EventType = "asset_registered"
	EventAssetTransferred EventType = "asset_transferred"
	EventApprovalSet      EventType = "approval_set"
)

// Event carries a typed payload emitted after a state change.
type Event struct {
	Type        EventType      `json:"type"`
	TxID        string         `json:"tx_id"`
	BlockHeight int64          `json:"block_height"`
	Data        map[string]any `json:"data"`
}

// Handler is a callback invoked for matching events.
type Handler func(Event)

// Emitter is a simple pub/sub broker. Subscribe before Emit.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

// NewEmitter creates an Emitter with no subscribers.
func NewEmitter() *Emitter {
	return &Emitter{handlers: make(map[EventType][]Handler)}
}

// Subscribe registers h to be called whenever typ is emitted.
func (e *Emitter) Subscribe(typ EventType, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[typ] = append(e.handlers[typ], h)
}

// Emit delivers ev to all subscribers for ev.Type synchronously.
// Each handler is guarded by panic recovery so a misbehaving subscriber
// cannot crash the node or halt sequencing.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	handlers := e.handlers[ev.Type]
	e.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("[events] handler panicked for %s: %v", ev.Type, r)
				}
			}()
			h(ev)
		}()
	}
}
