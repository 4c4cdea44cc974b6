package core

// MarketOperator is the well-known operator identity the listing engine acts
// under when it checks and exercises transfer approvals.
const MarketOperator = "market"

// AssetRegistry is the narrow capability surface of the external ownership
// registry. The listing engine never touches asset records directly; every
// ownership question and every asset movement goes through this interface.
//
// Transfer is fallible and may synchronously call back into the ledger
// before returning; callers must have finished all local mutations first.
type AssetRegistry interface {
	OwnerOf(collection, assetID string) (string, error)
	IsApproved(collection, assetID, operator string) (bool, error)
	Transfer(collection, assetID, from, to string) error
}

// Bank is the push-style native currency transfer primitive. Pay is fallible;
// a failure must propagate as operation failure, never be swallowed. Like
// AssetRegistry.Transfer it may re-enter the ledger synchronously.
type Bank interface {
	Pay(to string, amount uint64) error
}
