package model

import "time"

// CommandKind tags the requests the background scanner submits.
type CommandKind string

const (
	CommandLiquidate CommandKind = "liquidate"
	CommandSettle    CommandKind = "settle"
)

// Command is a liquidate/settle request discovered by the scanner and pushed
// into the submission queue. Dispatch failures are expected (another node may
// have won the race); the idempotence of confiscation makes them harmless.
type Command struct {
	ID             string      `json:"id"`
	Kind           CommandKind `json:"kind"`
	CollateralType AssetID     `json:"collateral_type"`
	Owner          string      `json:"owner"`
	SubmittedAt    time.Time   `json:"submitted_at"`
}

// ScanCursor marks where the background scanner resumes in the
// (collateral type, owner) enumeration. A zero cursor starts from the top.
type ScanCursor struct {
	CollateralType AssetID `json:"collateral_type"`
	Owner          string  `json:"owner"`
}
