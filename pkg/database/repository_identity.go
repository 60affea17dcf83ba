// Copyright 2025 Silica Protocol
//
// Identity Repository - derived identity registry storage.
// Profiles are upserted whole; wallet links are replaced as a set
// (delete-all-then-insert) inside the same transaction as the profile.

package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// IdentityRepository handles identity profile and wallet link operations
type IdentityRepository struct {
	client *Client
}

// NewIdentityRepository creates a new identity repository
func NewIdentityRepository(client *Client) *IdentityRepository {
	return &IdentityRepository{client: client}
}

// ApplyUpdates persists a batch of validated registry updates atomically.
// Each mutation upserts its profile and replaces the identity's wallet
// links as a set. The whole batch commits or none of it does.
func (r *IdentityRepository) ApplyUpdates(ctx context.Context, updates []*IdentityMutation) error {
	if len(updates) == 0 {
		return nil
	}

	dbtx, err := r.client.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer dbtx.Rollback()

	for _, update := range updates {
		if err := upsertProfile(ctx, dbtx, &update.Profile); err != nil {
			return err
		}
		if err := replaceWalletLinks(ctx, dbtx, update.Profile.IdentityID, update.Links); err != nil {
			return err
		}
	}

	if err := dbtx.Commit(); err != nil {
		return fmt.Errorf("failed to commit identity updates: %w", err)
	}
	return nil
}

func upsertProfile(ctx context.Context, dbtx *sql.Tx, profile *IdentityProfile) error {
	_, err := dbtx.ExecContext(ctx,
		`INSERT INTO identity_profiles (
			identity_id, display_name, display_name_search, avatar_hash, bio,
			stats_visibility, created_at, updated_at, last_synced_block, profile_version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (identity_id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			display_name_search = EXCLUDED.display_name_search,
			avatar_hash = EXCLUDED.avatar_hash,
			bio = EXCLUDED.bio,
			stats_visibility = EXCLUDED.stats_visibility,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at,
			last_synced_block = EXCLUDED.last_synced_block,
			profile_version = EXCLUDED.profile_version`,
		profile.IdentityID, profile.DisplayName, profile.DisplayNameSearch,
		profile.AvatarHash, profile.Bio, profile.StatsVisibility,
		profile.CreatedAt, profile.UpdatedAt, profile.LastSyncedBlock,
		profile.ProfileVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to persist identity profile %x: %w", profile.IdentityID, err)
	}
	return nil
}

func replaceWalletLinks(ctx context.Context, dbtx *sql.Tx, identityID []byte, links []WalletLink) error {
	_, err := dbtx.ExecContext(ctx,
		`DELETE FROM wallet_links WHERE identity_id = $1`, identityID)
	if err != nil {
		return fmt.Errorf("failed to delete existing wallet links for %x: %w", identityID, err)
	}

	if len(links) == 0 {
		return nil
	}

	const cols = 7
	placeholders := make([]string, 0, len(links))
	args := make([]interface{}, 0, len(links)*cols)
	for i, link := range links {
		base := i * cols
		marks := make([]string, cols)
		for j := range marks {
			marks[j] = fmt.Sprintf("$%d", base+j+1)
		}
		placeholders = append(placeholders, "("+strings.Join(marks, ", ")+")")
		args = append(args,
			identityID, link.WalletAddress, link.LinkType, link.ProofSignature,
			link.CreatedAt, link.VerifiedAt, link.LastSyncedBlock,
		)
	}

	query := `INSERT INTO wallet_links (
		identity_id, wallet_address, link_type, proof_signature,
		created_at, verified_at, last_synced_block
	) VALUES ` + strings.Join(placeholders, ", ")

	if _, err := dbtx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to persist wallet links for %x: %w", identityID, err)
	}
	return nil
}

// ============================================================================
// READ QUERIES
// ============================================================================

// GetProfile returns a profile by identity id, or ErrIdentityNotFound
func (r *IdentityRepository) GetProfile(ctx context.Context, identityID []byte) (*IdentityProfile, error) {
	profile := &IdentityProfile{}
	err := r.client.QueryRowContext(ctx,
		`SELECT identity_id, display_name, display_name_search, avatar_hash, bio,
			stats_visibility, created_at, updated_at, last_synced_block, profile_version
		 FROM identity_profiles WHERE identity_id = $1`,
		identityID,
	).Scan(
		&profile.IdentityID, &profile.DisplayName, &profile.DisplayNameSearch,
		&profile.AvatarHash, &profile.Bio, &profile.StatsVisibility,
		&profile.CreatedAt, &profile.UpdatedAt, &profile.LastSyncedBlock,
		&profile.ProfileVersion,
	)
	if err == sql.ErrNoRows {
		return nil, ErrIdentityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get identity profile: %w", err)
	}
	return profile, nil
}

// CountWalletLinks counts the wallet links of one identity
func (r *IdentityRepository) CountWalletLinks(ctx context.Context, identityID []byte) (int64, error) {
	var count int64
	err := r.client.QueryRowContext(ctx,
		`SELECT count(*) FROM wallet_links WHERE identity_id = $1`,
		identityID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count wallet links: %w", err)
	}
	return count, nil
}

// ListWalletLinks returns an identity's wallet links, most recently verified first
func (r *IdentityRepository) ListWalletLinks(ctx context.Context, identityID []byte) ([]*WalletLink, error) {
	rows, err := r.client.QueryContext(ctx,
		`SELECT identity_id, wallet_address, link_type, proof_signature,
			created_at, verified_at, last_synced_block
		 FROM wallet_links
		 WHERE identity_id = $1
		 ORDER BY verified_at DESC NULLS LAST, created_at DESC`,
		identityID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query wallet links: %w", err)
	}
	defer rows.Close()

	var links []*WalletLink
	for rows.Next() {
		link := &WalletLink{}
		err := rows.Scan(
			&link.IdentityID, &link.WalletAddress, &link.LinkType,
			&link.ProofSignature, &link.CreatedAt, &link.VerifiedAt,
			&link.LastSyncedBlock,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan wallet link: %w", err)
		}
		links = append(links, link)
	}
	return links, rows.Err()
}

// FindWalletLink returns the link between an identity and a wallet address,
// or ErrWalletLinkNotFound
func (r *IdentityRepository) FindWalletLink(ctx context.Context, identityID []byte, walletAddress string) (*WalletLink, error) {
	link := &WalletLink{}
	err := r.client.QueryRowContext(ctx,
		`SELECT identity_id, wallet_address, link_type, proof_signature,
			created_at, verified_at, last_synced_block
		 FROM wallet_links
		 WHERE identity_id = $1 AND wallet_address = $2`,
		identityID, walletAddress,
	).Scan(
		&link.IdentityID, &link.WalletAddress, &link.LinkType,
		&link.ProofSignature, &link.CreatedAt, &link.VerifiedAt,
		&link.LastSyncedBlock,
	)
	if err == sql.ErrNoRows {
		return nil, ErrWalletLinkNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find wallet link: %w", err)
	}
	return link, nil
}

// SearchProfiles returns profiles whose lowercased display name contains the
// normalized query, most recently updated first
func (r *IdentityRepository) SearchProfiles(ctx context.Context, normalizedQuery string, limit int) ([]*IdentityProfile, error) {
	rows, err := r.client.QueryContext(ctx,
		`SELECT identity_id, display_name, display_name_search, avatar_hash, bio,
			stats_visibility, created_at, updated_at, last_synced_block, profile_version
		 FROM identity_profiles
		 WHERE display_name_search LIKE '%' || $1 || '%'
		 ORDER BY updated_at DESC
		 LIMIT $2`,
		normalizedQuery, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search identity profiles: %w", err)
	}
	defer rows.Close()

	var profiles []*IdentityProfile
	for rows.Next() {
		profile := &IdentityProfile{}
		err := rows.Scan(
			&profile.IdentityID, &profile.DisplayName, &profile.DisplayNameSearch,
			&profile.AvatarHash, &profile.Bio, &profile.StatsVisibility,
			&profile.CreatedAt, &profile.UpdatedAt, &profile.LastSyncedBlock,
			&profile.ProfileVersion,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan identity profile: %w", err)
		}
		profiles = append(profiles, profile)
	}
	return profiles, rows.Err()
}
