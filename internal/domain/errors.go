package domain

import "errors"

// Sentinel errors shared across packages.
var (
	// ErrNotFound is returned by stores and caches when a record or key
	// does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNoRoute is returned by swap executors when the venue cannot
	// price or route the requested pair.
	ErrNoRoute = errors.New("no route for pair")

	// ErrStalePrice marks a price whose timestamp is beyond the staleness
	// threshold.
	ErrStalePrice = errors.New("price data stale")

	// ErrZeroBalance is returned when an on-chain balance check finds no
	// tokens backing a tracked position.
	ErrZeroBalance = errors.New("on-chain balance is zero")

	// ErrBundleNotLanded is returned when bundle status polling exhausts
	// its budget without observing a landed bundle.
	ErrBundleNotLanded = errors.New("bundle did not land")

	// ErrWSDisconnect is returned by the price stream client when the
	// connection is closed.
	ErrWSDisconnect = errors.New("websocket disconnected")
)
