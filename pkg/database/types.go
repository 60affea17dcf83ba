// Copyright 2025 Silica Protocol
//
// Row types for the Silica API relational store.
// Blocks, transactions and stealth outputs are append-only once committed;
// identity profiles are upserted; wallet links are replaced as a set.

package database

import (
	"database/sql"
	"encoding/json"
	"time"
)

// Checkpoint is a durable per-stream ingestion cursor.
// Reserved stream ids are CheckpointChain and CheckpointIdentityRegistry.
type Checkpoint struct {
	ID              string
	LastBlockNumber int64
	UpdatedAt       time.Time
}

// Reserved checkpoint stream identifiers.
const (
	CheckpointChain            = "chain"
	CheckpointIdentityRegistry = "identity_registry"
)

// Block is one indexed chain block
type Block struct {
	BlockNumber       int64
	BlockHash         string
	PreviousBlockHash string
	Timestamp         time.Time
	ValidatorAddress  string
	GasUsed           int64
	GasLimit          int64
	StateRoot         []byte
	StateLeafCount    int64
	TxCount           int32
	IndexedAt         time.Time
	ReceivedAt        time.Time
}

// Transaction is one indexed chain transaction. Payload carries the whole
// RPC transaction document for forward compatibility with new tx types.
type Transaction struct {
	TxID            string
	BlockNumber     int64
	Sender          string
	Recipient       string
	Amount          int64
	Fee             int64
	Nonce           int64
	Timestamp       time.Time
	TransactionType string
	Payload         json.RawMessage
	IndexedAt       time.Time
}

// StealthOutput is one stealth output row. Exactly one of Amount (plaintext
// form, with optional MemoPlaintext) or the three EncryptedMemo* fields is
// populated; the scanner rejects rows violating that invariant.
type StealthOutput struct {
	TxID                       string
	OutputIndex                int32
	BlockNumber                int64
	Sender                     string
	Fee                        int64
	Timestamp                  time.Time
	Commitment                 []byte
	StealthPublicKey           []byte
	TxPublicKey                []byte
	Amount                     sql.NullInt64
	MemoPlaintext              sql.NullString
	EncryptedMemoCiphertext    []byte
	EncryptedMemoNonce         []byte
	EncryptedMemoMessageNumber sql.NullInt32
	OutputCreatedAt            time.Time
	InsertedAt                 time.Time
}

// IdentityProfile is one row of the derived identity registry
type IdentityProfile struct {
	IdentityID        []byte
	DisplayName       sql.NullString
	DisplayNameSearch sql.NullString
	AvatarHash        []byte
	Bio               sql.NullString
	StatsVisibility   string
	CreatedAt         int64
	UpdatedAt         int64
	LastSyncedBlock   int64
	ProfileVersion    int32
}

// WalletLink is one wallet linked to an identity
type WalletLink struct {
	IdentityID      []byte
	WalletAddress   string
	LinkType        string
	ProofSignature  []byte
	CreatedAt       int64
	VerifiedAt      sql.NullInt64
	LastSyncedBlock int64
}

// IdentityMutation is one validated registry update: the profile row plus
// the full replacement set of wallet links for that identity.
type IdentityMutation struct {
	Profile IdentityProfile
	Links   []WalletLink
}

// GovernanceProposal is one governance proposal mirrored from the chain
type GovernanceProposal struct {
	ProposalID   int64
	Proposer     string
	Targets      json.RawMessage
	Values       json.RawMessage
	Calldatas    json.RawMessage
	Description  string
	VoteStart    int64
	VoteEnd      int64
	VotesFor     int64
	VotesAgainst int64
	VotesAbstain int64
	State        string
	ExecutedAt   sql.NullTime
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// GovernanceVote is one recorded vote. Support: 0=Against, 1=For, 2=Abstain.
type GovernanceVote struct {
	ID         int64
	ProposalID int64
	Voter      string
	Support    int32
	Weight     int64
	Reason     sql.NullString
	VotedAt    time.Time
}

// GovernanceDelegation is one stake delegation
type GovernanceDelegation struct {
	Delegator   string
	Delegatee   string
	Amount      int64
	DelegatedAt time.Time
}

// FaucetRequest records one testnet token drip for rate limiting
type FaucetRequest struct {
	ID               int64
	RecipientAddress string
	IPAddress        string
	Amount           int64
	TxHash           string
	CreatedAt        time.Time
}
