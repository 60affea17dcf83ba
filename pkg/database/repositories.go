// Copyright 2025 Silica Protocol
//
// Repositories aggregate - provides access to all repository instances

package database

import "context"

// Repositories provides access to all repository instances
type Repositories struct {
	Checkpoints *CheckpointRepository
	Chain       *ChainRepository
	Identity    *IdentityRepository
	Governance  *GovernanceRepository
	Faucet      *FaucetRepository
}

// NewRepositories creates all repositories using a shared client
func NewRepositories(client *Client) *Repositories {
	return &Repositories{
		Checkpoints: NewCheckpointRepository(client),
		Chain:       NewChainRepository(client),
		Identity:    NewIdentityRepository(client),
		Governance:  NewGovernanceRepository(client),
		Faucet:      NewFaucetRepository(client),
	}
}

// ============================================================================
// INDEXER STORE SURFACE
// ============================================================================

// LoadCheckpoint forwards to the checkpoint repository
func (r *Repositories) LoadCheckpoint(ctx context.Context, streamID string) (uint64, error) {
	return r.Checkpoints.Load(ctx, streamID)
}

// PersistCheckpoint forwards to the checkpoint repository
func (r *Repositories) PersistCheckpoint(ctx context.Context, streamID string, block uint64) error {
	return r.Checkpoints.Persist(ctx, streamID, block)
}

// HasBlock forwards to the chain repository
func (r *Repositories) HasBlock(ctx context.Context, blockNumber int64) (bool, error) {
	return r.Chain.HasBlock(ctx, blockNumber)
}

// InsertBlockBundle forwards to the chain repository
func (r *Repositories) InsertBlockBundle(ctx context.Context, block *Block, txs []*Transaction, outputs map[string][]*StealthOutput) error {
	return r.Chain.InsertBlockBundle(ctx, block, txs, outputs)
}

// ApplyIdentityUpdates forwards to the identity repository
func (r *Repositories) ApplyIdentityUpdates(ctx context.Context, updates []*IdentityMutation) error {
	return r.Identity.ApplyUpdates(ctx, updates)
}
