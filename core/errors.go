package core

import "errors"

// ErrNotFound is returned when a requested record does not exist in storage.
var ErrNotFound = errors.New("not found")

// Operation failure kinds. Every precondition violation surfaces to the
// caller wrapped around exactly one of these sentinels so clients can match
// with errors.Is. A failed operation leaves the ledger exactly as it was,
// except where a handler explicitly commits a purge (see engine.NoRevert).
var (
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrInvalidPlayer          = errors.New("invalid player address")
	ErrInvalidStake           = errors.New("invalid stake amount")
	ErrDuplicateIdentifier    = errors.New("wager identifier already in use")
	ErrNotActive              = errors.New("wager is not active")
	ErrCollectionNotApproved  = errors.New("collection not approved")
	ErrAlreadyListed          = errors.New("item already listed")
	ErrNotListed              = errors.New("item not listed")
	ErrNotOwner               = errors.New("caller does not own the asset")
	ErrNotSeller              = errors.New("caller is not the seller")
	ErrNotApproved            = errors.New("transfer approval missing")
	ErrSellerNoLongerOwnsItem = errors.New("seller no longer owns item")
	ErrIncorrectPaymentAmount = errors.New("incorrect payment amount")
	ErrSelfPurchase           = errors.New("cannot purchase own listing")
	ErrInvalidPrice           = errors.New("invalid price")
	ErrOperationPaused        = errors.New("operations are paused")
	ErrReentrantCall          = errors.New("reentrant call")
	ErrNotAuthorized          = errors.New("not authorized")
	ErrNotAuthorizedDelegate  = errors.New("caller is not an authorized delegate")
	ErrTransferFailed         = errors.New("transfer failed")
	ErrInvalidPayload         = errors.New("invalid payload")
	ErrAlreadyExists          = errors.New("record already exists")
)
