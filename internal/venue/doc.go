// Package venue holds the default implementations of the engine's external
// collaborators: the oracle price source, the swap venue, the auction venue
// and the on-chain liquidation contract caller.
package venue
