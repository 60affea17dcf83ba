// Copyright 2025 Silica Protocol
//
// Faucet Repository - testnet drip records used for rate limiting

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// FaucetRepository handles faucet request records
type FaucetRepository struct {
	client *Client
}

// NewFaucetRepository creates a new faucet repository
func NewFaucetRepository(client *Client) *FaucetRepository {
	return &FaucetRepository{client: client}
}

// Insert records a completed drip
func (r *FaucetRepository) Insert(ctx context.Context, req *FaucetRequest) error {
	err := r.client.QueryRowContext(ctx,
		`INSERT INTO faucet_requests (recipient_address, ip_address, amount, tx_hash, created_at)
		 VALUES ($1, $2, $3, $4, now())
		 RETURNING id, created_at`,
		req.RecipientAddress, req.IPAddress, req.Amount, req.TxHash,
	).Scan(&req.ID, &req.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record faucet request: %w", err)
	}
	return nil
}

// LastRequestForAddress returns the most recent drip to an address after the
// cutoff, or nil when none exists
func (r *FaucetRepository) LastRequestForAddress(ctx context.Context, address string, cutoff time.Time) (*FaucetRequest, error) {
	req := &FaucetRequest{}
	err := r.client.QueryRowContext(ctx,
		`SELECT id, recipient_address, ip_address, amount, tx_hash, created_at
		 FROM faucet_requests
		 WHERE recipient_address = $1 AND created_at > $2
		 ORDER BY created_at DESC LIMIT 1`,
		address, cutoff,
	).Scan(&req.ID, &req.RecipientAddress, &req.IPAddress, &req.Amount, &req.TxHash, &req.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query faucet requests by address: %w", err)
	}
	return req, nil
}

// HasRecentRequestFromIP reports whether an IP has dripped after the cutoff
func (r *FaucetRepository) HasRecentRequestFromIP(ctx context.Context, ip string, cutoff time.Time) (bool, error) {
	var exists bool
	err := r.client.QueryRowContext(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM faucet_requests WHERE ip_address = $1 AND created_at > $2
		 )`,
		ip, cutoff,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to query faucet requests by ip: %w", err)
	}
	return exists, nil
}

// History returns the most recent drips, newest first
func (r *FaucetRepository) History(ctx context.Context, limit int) ([]*FaucetRequest, error) {
	rows, err := r.client.QueryContext(ctx,
		`SELECT id, recipient_address, ip_address, amount, tx_hash, created_at
		 FROM faucet_requests ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query faucet history: %w", err)
	}
	defer rows.Close()

	var requests []*FaucetRequest
	for rows.Next() {
		req := &FaucetRequest{}
		err := rows.Scan(&req.ID, &req.RecipientAddress, &req.IPAddress, &req.Amount, &req.TxHash, &req.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan faucet request: %w", err)
		}
		requests = append(requests, req)
	}
	return requests, rows.Err()
}

// Totals returns the number of drips and the total amount dripped
func (r *FaucetRepository) Totals(ctx context.Context) (count int64, amount int64, err error) {
	var total sql.NullInt64
	err = r.client.QueryRowContext(ctx,
		`SELECT count(*), sum(amount) FROM faucet_requests`,
	).Scan(&count, &total)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to query faucet totals: %w", err)
	}
	return count, total.Int64, nil
}
