// Copyright 2025 Silica Protocol
//
// Wire types for the Silica node JSON-RPC surface.

package rpc

import (
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Transaction types the chain currently produces. The payload column keeps
// the whole document, so unknown future types do not require a migration.
const (
	TxTypeConsensus          = "consensus"
	TxTypeSmartContract      = "smart_contract"
	TxTypeTransfer           = "transfer"
	TxTypeGovernance         = "governance"
	TxTypeStaking            = "staking"
	TxTypeContractDeployment = "contract_deployment"
	TxTypeCrossShard         = "cross_shard"
	TxTypeFinality           = "finality"
)

// KnownTransactionType reports whether the chain's closed set contains t
func KnownTransactionType(t string) bool {
	switch t {
	case TxTypeConsensus, TxTypeSmartContract, TxTypeTransfer, TxTypeGovernance,
		TxTypeStaking, TxTypeContractDeployment, TxTypeCrossShard, TxTypeFinality:
		return true
	}
	return false
}

// Block is one candidate block returned by get_blocks
type Block struct {
	BlockNumber       uint64        `json:"block_number"`
	BlockHash         string        `json:"block_hash"`
	PreviousBlockHash string        `json:"previous_block_hash"`
	Timestamp         time.Time     `json:"timestamp"`
	ValidatorAddress  string        `json:"validator_address"`
	GasUsed           uint64        `json:"gas_used"`
	GasLimit          uint64        `json:"gas_limit"`
	StateRoot         hexutil.Bytes `json:"state_root"`
	StateLeafCount    uint64        `json:"state_leaf_count"`
	Transactions      []Transaction `json:"transactions"`
}

// Transaction is one transaction inside a block
type Transaction struct {
	TxID            string          `json:"tx_id"`
	Sender          string          `json:"sender"`
	Recipient       string          `json:"recipient"`
	Amount          uint64          `json:"amount"`
	Fee             uint64          `json:"fee"`
	Nonce           uint64          `json:"nonce"`
	Timestamp       time.Time       `json:"timestamp"`
	TransactionType string          `json:"transaction_type"`
	Signature       string          `json:"signature,omitempty"`
	StealthOutputs  []StealthOutput `json:"stealth_outputs,omitempty"`
}

// StealthOutput is one stealth output attached to a transaction
type StealthOutput struct {
	Index         uint32         `json:"index"`
	Commitment    hexutil.Bytes  `json:"commitment"`
	Address       StealthAddress `json:"address"`
	Amount        *uint64        `json:"amount,omitempty"`
	MemoPlaintext *string        `json:"memo_plaintext,omitempty"`
	MemoEncrypted *EncryptedMemo `json:"memo_encrypted,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// StealthAddress is the one-time address of a stealth output
type StealthAddress struct {
	PublicKey   hexutil.Bytes `json:"public_key"`
	TxPublicKey hexutil.Bytes `json:"tx_public_key"`
}

// EncryptedMemo is the encrypted payload form of a stealth output
type EncryptedMemo struct {
	Ciphertext    hexutil.Bytes `json:"ciphertext"`
	Nonce         hexutil.Bytes `json:"nonce"`
	MessageNumber uint32        `json:"message_number"`
}

// IdentityRegistryResponse is one page of registry deltas
type IdentityRegistryResponse struct {
	LatestBlock uint64           `json:"latest_block"`
	Updates     []IdentityRecord `json:"updates"`
}

// IdentityRecord is one registry delta for an identity
type IdentityRecord struct {
	IdentityID      string             `json:"identity_id"`
	DisplayName     *string            `json:"display_name,omitempty"`
	AvatarHash      *string            `json:"avatar_hash,omitempty"`
	Bio             *string            `json:"bio,omitempty"`
	StatsVisibility string             `json:"stats_visibility"`
	WalletLinks     []WalletLinkRecord `json:"wallet_links"`
	CreatedAt       uint64             `json:"created_at"`
	UpdatedAt       uint64             `json:"updated_at"`
	UpdatedAtBlock  uint64             `json:"updated_at_block"`
	ProfileVersion  *uint32            `json:"profile_version,omitempty"`
}

// WalletLinkRecord is one wallet link inside a registry delta
type WalletLinkRecord struct {
	WalletAddress  string  `json:"wallet_address"`
	LinkType       string  `json:"link_type"`
	ProofSignature string  `json:"proof_signature"`
	CreatedAt      uint64  `json:"created_at"`
	VerifiedAt     *uint64 `json:"verified_at,omitempty"`
	UpdatedAtBlock uint64  `json:"updated_at_block"`
}

// StealthAddressRequest asks the node to mint a stealth address
type StealthAddressRequest struct {
	SeedHex        *string `json:"seed_hex,omitempty"`
	IncludeSecrets bool    `json:"include_secrets"`
}

// StealthAddressResponse is the node's minted stealth address
type StealthAddressResponse struct {
	Address        string  `json:"address"`
	ViewKey        string  `json:"view_key"`
	SpendPublicKey string  `json:"spend_public_key"`
	ViewSecret     *string `json:"view_secret,omitempty"`
	SpendSecret    *string `json:"spend_secret,omitempty"`
}

// StealthKeyComponent carries one keypair half as hex
type StealthKeyComponent struct {
	Public string `json:"public"`
	Secret string `json:"secret"`
}

// StealthKeyBundle carries a full view/spend key bundle as hex
type StealthKeyBundle struct {
	ViewKeypair  StealthKeyComponent `json:"view_keypair"`
	SpendKeypair StealthKeyComponent `json:"spend_keypair"`
}

// StealthTransferRequest submits a stealth transfer through the node
type StealthTransferRequest struct {
	SenderKeys        StealthKeyBundle `json:"sender_keys"`
	RecipientViewKey  string           `json:"recipient_view_key"`
	RecipientSpendKey string           `json:"recipient_spend_key"`
	Amount            uint64           `json:"amount"`
	Fee               uint64           `json:"fee"`
	Nonce             uint64           `json:"nonce"`
	Memo              *string          `json:"memo,omitempty"`
	PrivacyLevel      string           `json:"privacy_level"`
}

// StealthTransferResponse is the node's transfer acknowledgement
type StealthTransferResponse struct {
	TxHash string `json:"tx_hash"`
	Status string `json:"status"`
}

// FaucetDripResponse is the node's drip acknowledgement
type FaucetDripResponse struct {
	TxHash string `json:"tx_hash"`
	Status string `json:"status"`
}

// GovernanceVoteResponse is the node's vote acknowledgement
type GovernanceVoteResponse struct {
	Status       string `json:"status"`
	VotesFor     uint64 `json:"votes_for"`
	VotesAgainst uint64 `json:"votes_against"`
	Voter        string `json:"voter"`
	VoteWeight   uint64 `json:"vote_weight"`
	Approve      bool   `json:"approve"`
	Finalized    bool   `json:"finalized"`
}

// GovernanceDelegateResponse is the node's delegation acknowledgement
type GovernanceDelegateResponse struct {
	Delegator  string              `json:"delegator"`
	Validator  string              `json:"validator"`
	Amount     uint64              `json:"amount"`
	Delegation DelegationRPCRecord `json:"delegation"`
}

// DelegationRPCRecord is the delegation as the chain recorded it
type DelegationRPCRecord struct {
	Delegator   string `json:"delegator"`
	Validator   string `json:"validator"`
	Amount      uint64 `json:"amount"`
	DelegatedAt string `json:"delegated_at"`
}
