// Copyright 2025 Silica Protocol
//
// Identity registry sync: after each chain advance, pull registry deltas in
// bounded batches and mirror them into the identity tables.
//
// The sync owns the "identity_registry" cursor, independent of the chain
// cursor. Each batch commits in one transaction, the cursor advances after
// commit, and the dependent caches are invalidated before the sync returns.

package indexer

import (
	"context"
	"fmt"
	"math"

	"github.com/silica-protocol/silica-api/pkg/database"
	"github.com/silica-protocol/silica-api/pkg/identity"
	"github.com/silica-protocol/silica-api/pkg/rpc"
)

// maxIdentitySyncIterations bounds the batch loop within a single sync call
const maxIdentitySyncIterations = 2048

// syncIdentityRegistry pulls registry deltas until the identity cursor
// catches up with chainTip or the iteration bound is reached
func (i *Indexer) syncIdentityRegistry(ctx context.Context, chainTip uint64) error {
	checkpoint, err := i.store.LoadCheckpoint(ctx, database.CheckpointIdentityRegistry)
	if err != nil {
		return err
	}
	if checkpoint >= chainTip {
		return nil
	}

	batchSize := uint64(i.cfg.IdentityBatchSize)
	for iterations := 0; checkpoint < chainTip; iterations++ {
		if iterations >= maxIdentitySyncIterations {
			return fmt.Errorf("identity registry sync exceeded %d iterations at cursor %d",
				maxIdentitySyncIterations, checkpoint)
		}

		response, err := i.node.IdentityRegistryUpdates(ctx, checkpoint, batchSize)
		if err != nil {
			return err
		}

		next, err := i.applyIdentityUpdates(ctx, checkpoint, response)
		if err != nil {
			return err
		}
		if next <= checkpoint {
			// No progress reported by the RPC, avoid an infinite loop.
			break
		}
		checkpoint = next
	}

	return nil
}

// applyIdentityUpdates validates and persists one registry page, advances
// the identity cursor and invalidates the dependent caches
func (i *Indexer) applyIdentityUpdates(ctx context.Context, previous uint64, response *rpc.IdentityRegistryResponse) (uint64, error) {
	if response.LatestBlock < previous {
		panic(fmt.Sprintf("identity registry checkpoint regressed: %d < %d", response.LatestBlock, previous))
	}
	if response.LatestBlock > math.MaxInt64 {
		return 0, fmt.Errorf("identity registry latest block %d overflows int64", response.LatestBlock)
	}

	if len(response.Updates) == 0 {
		if err := i.store.PersistCheckpoint(ctx, database.CheckpointIdentityRegistry, response.LatestBlock); err != nil {
			return 0, err
		}
		i.metrics.IdentityCursor.Set(float64(response.LatestBlock))
		return response.LatestBlock, nil
	}

	mutations := make([]*database.IdentityMutation, 0, len(response.Updates))
	touched := make([]string, 0, len(response.Updates))
	for idx := range response.Updates {
		mutation, canonicalID, err := buildIdentityMutation(&response.Updates[idx])
		if err != nil {
			return 0, err
		}
		mutations = append(mutations, mutation)
		touched = append(touched, canonicalID)
	}

	if err := i.store.ApplyIdentityUpdates(ctx, mutations); err != nil {
		return 0, err
	}

	// Display name changes can affect any search key, so the search cache
	// is purged whole; the touched identities also lose their entries.
	// This runs directly after the commit, before the cursor write.
	i.cache.PurgeSearch()
	for _, id := range touched {
		i.cache.InvalidateIdentity(id)
	}

	if err := i.store.PersistCheckpoint(ctx, database.CheckpointIdentityRegistry, response.LatestBlock); err != nil {
		return 0, err
	}

	i.metrics.IdentityCursor.Set(float64(response.LatestBlock))
	i.metrics.IdentityUpserts.Add(float64(len(mutations)))

	return response.LatestBlock, nil
}

// buildIdentityMutation validates one registry record and converts it into
// row form. Any violation aborts the whole batch.
func buildIdentityMutation(update *rpc.IdentityRecord) (*database.IdentityMutation, string, error) {
	identityBytes, err := identity.DecodeIdentityID(update.IdentityID)
	if err != nil {
		return nil, "", fmt.Errorf("invalid identity id %s: %w", update.IdentityID, err)
	}
	canonicalID := identity.EncodeIdentityID(identityBytes)

	mutation := &database.IdentityMutation{}
	profile := &mutation.Profile
	profile.IdentityID = identityBytes

	if update.DisplayName != nil {
		name, err := identity.CanonicalizeDisplayName(*update.DisplayName)
		if err != nil {
			return nil, "", err
		}
		if name != "" {
			profile.DisplayName.String = name
			profile.DisplayName.Valid = true
			profile.DisplayNameSearch.String = identity.DisplayNameSearchKey(name)
			profile.DisplayNameSearch.Valid = true
		}
	}

	if update.AvatarHash != nil {
		hash, err := identity.DecodeHexWithExpected(*update.AvatarHash, identity.AvatarHashBytes, "avatar hash")
		if err != nil {
			return nil, "", err
		}
		profile.AvatarHash = hash
	}

	if update.Bio != nil {
		bio, err := identity.CanonicalizeBio(*update.Bio)
		if err != nil {
			return nil, "", err
		}
		if bio != "" {
			profile.Bio.String = bio
			profile.Bio.Valid = true
		}
	}

	visibility, err := identity.NormalizeVisibility(update.StatsVisibility)
	if err != nil {
		return nil, "", err
	}
	profile.StatsVisibility = visibility

	if profile.CreatedAt, err = checkedInt64(update.CreatedAt, "created_at"); err != nil {
		return nil, "", err
	}
	if profile.UpdatedAt, err = checkedInt64(update.UpdatedAt, "updated_at"); err != nil {
		return nil, "", err
	}
	if profile.LastSyncedBlock, err = checkedInt64(update.UpdatedAtBlock, "updated_at_block"); err != nil {
		return nil, "", err
	}

	version := uint32(1)
	if update.ProfileVersion != nil {
		version = *update.ProfileVersion
	}
	if version > math.MaxInt32 {
		return nil, "", fmt.Errorf("profile_version %d overflows int32", version)
	}
	profile.ProfileVersion = int32(version)

	if len(update.WalletLinks) > identity.MaxWalletLinks {
		return nil, "", fmt.Errorf("identity %s carries %d wallet links, limit is %d",
			canonicalID, len(update.WalletLinks), identity.MaxWalletLinks)
	}
	for idx := range update.WalletLinks {
		link, err := buildWalletLink(identityBytes, &update.WalletLinks[idx])
		if err != nil {
			return nil, "", fmt.Errorf("identity %s wallet link %d: %w", canonicalID, idx, err)
		}
		mutation.Links = append(mutation.Links, *link)
	}

	return mutation, canonicalID, nil
}

func buildWalletLink(identityBytes []byte, record *rpc.WalletLinkRecord) (*database.WalletLink, error) {
	address, err := identity.SanitizeWalletAddress(record.WalletAddress)
	if err != nil {
		return nil, err
	}
	linkType, err := identity.NormalizeLinkType(record.LinkType)
	if err != nil {
		return nil, err
	}
	signature, err := identity.DecodeSignature(record.ProofSignature)
	if err != nil {
		return nil, err
	}

	link := &database.WalletLink{
		IdentityID:     identityBytes,
		WalletAddress:  address,
		LinkType:       linkType,
		ProofSignature: signature,
	}
	if link.CreatedAt, err = checkedInt64(record.CreatedAt, "wallet link created_at"); err != nil {
		return nil, err
	}
	if record.VerifiedAt != nil {
		verifiedAt, err := checkedInt64(*record.VerifiedAt, "wallet link verified_at")
		if err != nil {
			return nil, err
		}
		link.VerifiedAt.Int64 = verifiedAt
		link.VerifiedAt.Valid = true
	}
	if link.LastSyncedBlock, err = checkedInt64(record.UpdatedAtBlock, "wallet link updated_at_block"); err != nil {
		return nil, err
	}

	return link, nil
}
