package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Kind selects which on-chain write an operation performs.
type Kind string

const (
	KindLog  Kind = "LOG"
	KindMint Kind = "MINT"
)

// State enumerates the operation lifecycle. A failed operation re-enters
// pending dispatch while attempts remain; completed and exhausted-failed
// are terminal.
const (
	StatePending   = "pending"
	StateInFlight  = "in_flight"
	StateCompleted = "completed"
	StateFailed    = "failed"
)

// LogPayload is the body of a LOG operation: one finished game round,
// destined for the on-chain result log. Result is opaque to the relay and
// carries whatever the game produced, including the entropy proof.
type LogPayload struct {
	GameType string          `json:"game_type"`
	Player   string          `json:"player"`
	Bet      float64         `json:"bet"`
	Payout   float64         `json:"payout"`
	Result   json.RawMessage `json:"result"`
}

// Metadata is the ERC-721 metadata document minted alongside a game.
type Metadata struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Image       string      `json:"image,omitempty"`
	Attributes  []Attribute `json:"attributes"`
}

// Attribute is one trait entry in NFT metadata.
type Attribute struct {
	TraitType string `json:"trait_type"`
	Value     any    `json:"value"`
}

// MintPayload is the body of a MINT operation. TokenURI, when set, is used
// verbatim; otherwise the relay synthesizes one from Metadata. Snapshot is
// an optional base64 PNG/JPEG of the outcome render captured client-side.
type MintPayload struct {
	Player   string    `json:"player"`
	Metadata *Metadata `json:"metadata"`
	TokenURI string    `json:"token_uri,omitempty"`
	Snapshot string    `json:"snapshot,omitempty"`
}

// Result is the success payload of a terminal operation. BlockNumber is set
// for LOG, TokenID for MINT.
type Result struct {
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number,omitempty"`
	TokenID     uint64 `json:"token_id,omitempty"`
}

// Operation is one queued blockchain write. Exactly one of Log/Mint is
// non-nil, matching Kind.
type Operation struct {
	ID            string       `json:"id"`
	Kind          Kind         `json:"kind"`
	Log           *LogPayload  `json:"log,omitempty"`
	Mint          *MintPayload `json:"mint,omitempty"`
	State         string       `json:"state"`
	Attempt       int          `json:"attempt"`
	CreatedAt     time.Time    `json:"created_at"`
	LastAttemptAt time.Time    `json:"last_attempt_at,omitempty"`
	LastError     string       `json:"last_error,omitempty"`
	Result        *Result      `json:"result,omitempty"`
}

var (
	ErrUnknownKind = errors.New("unknown operation kind")

	errMissingGameType = errors.New("game_type is required")
	errMissingResult   = errors.New("result is required")
	errMissingMetadata = errors.New("metadata is required")
)

// NewLogOperation validates a LOG payload and wraps it in a pending
// operation with a fresh id. Nothing is mutated on validation failure.
func NewLogOperation(p LogPayload) (*Operation, error) {
	if err := validateLog(p); err != nil {
		return nil, fmt.Errorf("invalid log payload: %w", err)
	}
	return &Operation{
		ID:        uuid.New().String(),
		Kind:      KindLog,
		Log:       &p,
		State:     StatePending,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// NewMintOperation validates a MINT payload and wraps it in a pending
// operation with a fresh id.
func NewMintOperation(p MintPayload) (*Operation, error) {
	if err := validateMint(p); err != nil {
		return nil, fmt.Errorf("invalid mint payload: %w", err)
	}
	return &Operation{
		ID:        uuid.New().String(),
		Kind:      KindMint,
		Mint:      &p,
		State:     StatePending,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func validateLog(p LogPayload) error {
	if p.GameType == "" {
		return errMissingGameType
	}
	if !common.IsHexAddress(p.Player) {
		return fmt.Errorf("malformed player address %q", p.Player)
	}
	if p.Bet < 0 {
		return fmt.Errorf("negative bet %v", p.Bet)
	}
	if p.Payout < 0 {
		return fmt.Errorf("negative payout %v", p.Payout)
	}
	if len(p.Result) == 0 || string(p.Result) == "null" {
		return errMissingResult
	}
	return nil
}

func validateMint(p MintPayload) error {
	if !common.IsHexAddress(p.Player) {
		return fmt.Errorf("malformed player address %q", p.Player)
	}
	if p.Metadata == nil {
		return errMissingMetadata
	}
	if p.Metadata.Name == "" {
		return errors.New("metadata.name is required")
	}
	if p.Metadata.Description == "" {
		return errors.New("metadata.description is required")
	}
	if p.Metadata.Attributes == nil {
		return errors.New("metadata.attributes is required")
	}
	return nil
}

// Terminal reports whether the operation will receive no further attempts.
func (o *Operation) Terminal(maxAttempts int) bool {
	switch o.State {
	case StateCompleted:
		return true
	case StateFailed:
		return o.Attempt >= maxAttempts
	default:
		return false
	}
}

// Snapshot returns a copy safe to hand to callers while the queue keeps
// mutating the original.
func (o *Operation) Snapshot() Operation {
	cp := *o
	if o.Result != nil {
		r := *o.Result
		cp.Result = &r
	}
	return cp
}
