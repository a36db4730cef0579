package relay

import (
	"context"

	"casino-tx-relay/internal/models"
)

// Submitter executes one on-chain write per call. The queue hands it an
// explicit nonce; implementations must not allocate nonces themselves.
type Submitter interface {
	// PendingNonce returns the signing account's next nonce. Called once,
	// when the queue first activates.
	PendingNonce(ctx context.Context) (uint64, error)

	// SubmitLog writes a game result to the log contract and waits for
	// confirmation.
	SubmitLog(ctx context.Context, nonce uint64, p models.LogPayload) (models.Result, error)

	// SubmitMint mints a game NFT and waits for confirmation.
	SubmitMint(ctx context.Context, nonce uint64, p models.MintPayload) (models.Result, error)
}

// Archive receives terminal operations for durable retention. Lookups serve
// status queries after the in-memory grace window has passed.
type Archive interface {
	SaveTerminal(ctx context.Context, op models.Operation) error
	Get(ctx context.Context, id string) (models.Operation, bool, error)
}
