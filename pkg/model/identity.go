// Copyright 2025 Silica Protocol
//
// API view models for identity endpoints. These are the cached shapes;
// cache entries must match what handlers serve.

package model

// IdentityProfileView is the API shape of an identity profile
type IdentityProfileView struct {
	IdentityID      string  `json:"identity_id"`
	DisplayName     *string `json:"display_name,omitempty"`
	AvatarHash      *string `json:"avatar_hash,omitempty"`
	Bio             *string `json:"bio,omitempty"`
	StatsVisibility string  `json:"stats_visibility"`
	WalletCount     int64   `json:"wallet_count"`
	CreatedAt       int64   `json:"created_at"`
	UpdatedAt       int64   `json:"updated_at"`
	LastSyncedBlock int64   `json:"last_synced_block"`
	ProfileVersion  int32   `json:"profile_version"`
}

// WalletLinkView is the API shape of a wallet link
type WalletLinkView struct {
	WalletAddress   string `json:"wallet_address"`
	LinkType        string `json:"link_type"`
	ProofSignature  string `json:"proof_signature"`
	CreatedAt       int64  `json:"created_at"`
	VerifiedAt      *int64 `json:"verified_at,omitempty"`
	LastSyncedBlock int64  `json:"last_synced_block"`
}

// IdentitySearchResult is one row of an identity search response
type IdentitySearchResult struct {
	IdentityID      string  `json:"identity_id"`
	DisplayName     *string `json:"display_name,omitempty"`
	StatsVisibility string  `json:"stats_visibility"`
	UpdatedAt       int64   `json:"updated_at"`
}
