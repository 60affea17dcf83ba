// Copyright 2025 Silica Protocol
//
// Unit tests for the API cache invalidation contract

package cache

import (
	"testing"

	"github.com/silica-protocol/silica-api/pkg/config"
	"github.com/silica-protocol/silica-api/pkg/model"
)

func testConfig() *config.CacheConfig {
	return &config.CacheConfig{
		IdentitiesMaxCapacity:   128,
		IdentitiesTTLSeconds:    60,
		LeaderboardsMaxCapacity: 16,
		LeaderboardsTTLSeconds:  60,
		ProposalsMaxCapacity:    16,
		ProposalsTTLSeconds:     60,
	}
}

func TestInvalidateIdentity_DropsProfileAndWallets(t *testing.T) {
	c := New(testConfig())

	c.IdentityProfiles.Add("abc", &model.IdentityProfileView{IdentityID: "abc"})
	c.IdentityWallets.Add("abc", []model.WalletLinkView{{WalletAddress: "w1"}})
	c.IdentityProfiles.Add("other", &model.IdentityProfileView{IdentityID: "other"})

	c.InvalidateIdentity("abc")

	if _, ok := c.IdentityProfiles.Get("abc"); ok {
		t.Error("profile entry should be invalidated")
	}
	if _, ok := c.IdentityWallets.Get("abc"); ok {
		t.Error("wallet entry should be invalidated")
	}
	if _, ok := c.IdentityProfiles.Get("other"); !ok {
		t.Error("unrelated profile entry should survive")
	}
}

func TestPurgeSearch_ClearsAllEntries(t *testing.T) {
	c := New(testConfig())

	c.IdentitySearch.Add("alice::20", []model.IdentitySearchResult{{IdentityID: "a"}})
	c.IdentitySearch.Add("bob::20", []model.IdentitySearchResult{{IdentityID: "b"}})

	c.PurgeSearch()

	if c.IdentitySearch.Len() != 0 {
		t.Errorf("search cache should be empty after purge, has %d entries", c.IdentitySearch.Len())
	}
}
