// Copyright 2025 Silica Protocol
//
// Package database provides sentinel errors for repository operations.

package database

import "errors"

// Sentinel errors for database operations
var (
	// ErrNotFound is returned when a requested entity is not found in the database
	ErrNotFound = errors.New("entity not found")

	// ErrBlockNotFound is returned when a chain block is not found
	ErrBlockNotFound = errors.New("block not found")

	// ErrIdentityNotFound is returned when an identity profile is not found
	ErrIdentityNotFound = errors.New("identity not found")

	// ErrProposalNotFound is returned when a governance proposal is not found
	ErrProposalNotFound = errors.New("proposal not found")

	// ErrWalletLinkNotFound is returned when a wallet link is not found
	ErrWalletLinkNotFound = errors.New("wallet link not found")
)
