// Copyright 2025 Silica Protocol
//
// Bounded TTL caches for the API read path.
//
// Invalidation contract with the indexer: after each successful identity
// sync commit, the per-identity profile and wallet entries of every touched
// identity are removed and the search cache is purged whole (search keys
// depend on display names that may have just changed). Readers populate
// lazily and tolerate staleness up to the TTL in every other case.

package cache

import (
	"encoding/json"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/silica-protocol/silica-api/pkg/config"
	"github.com/silica-protocol/silica-api/pkg/model"
)

// APICache holds the service's five bounded caches, keyed by opaque strings
type APICache struct {
	IdentityProfiles *expirable.LRU[string, *model.IdentityProfileView]
	IdentityWallets  *expirable.LRU[string, []model.WalletLinkView]
	IdentitySearch   *expirable.LRU[string, []model.IdentitySearchResult]
	Leaderboards     *expirable.LRU[string, json.RawMessage]
	Proposals        *expirable.LRU[string, json.RawMessage]
}

// New builds the caches from validated configuration
func New(cfg *config.CacheConfig) *APICache {
	identityTTL := time.Duration(cfg.IdentitiesTTLSeconds) * time.Second
	leaderboardTTL := time.Duration(cfg.LeaderboardsTTLSeconds) * time.Second
	proposalTTL := time.Duration(cfg.ProposalsTTLSeconds) * time.Second

	return &APICache{
		IdentityProfiles: expirable.NewLRU[string, *model.IdentityProfileView](
			cfg.IdentitiesMaxCapacity, nil, identityTTL),
		IdentityWallets: expirable.NewLRU[string, []model.WalletLinkView](
			cfg.IdentitiesMaxCapacity, nil, identityTTL),
		IdentitySearch: expirable.NewLRU[string, []model.IdentitySearchResult](
			cfg.IdentitiesMaxCapacity, nil, identityTTL),
		Leaderboards: expirable.NewLRU[string, json.RawMessage](
			cfg.LeaderboardsMaxCapacity, nil, leaderboardTTL),
		Proposals: expirable.NewLRU[string, json.RawMessage](
			cfg.ProposalsMaxCapacity, nil, proposalTTL),
	}
}

// InvalidateIdentity drops one identity's profile and wallet entries.
// Called by the indexer after the corresponding database commit.
func (c *APICache) InvalidateIdentity(canonicalID string) {
	c.IdentityProfiles.Remove(canonicalID)
	c.IdentityWallets.Remove(canonicalID)
}

// PurgeSearch clears the whole identity search cache. Coarse but correct:
// any display name change can affect any search key.
func (c *APICache) PurgeSearch() {
	c.IdentitySearch.Purge()
}
