// Copyright 2025 Silica Protocol
//
// Governance Repository - proposals, votes and delegations mirrored from
// the chain's governance module.

package database

import (
	"context"
	"database/sql"
	"fmt"
)

// GovernanceRepository handles governance proposal, vote and delegation storage
type GovernanceRepository struct {
	client *Client
}

// NewGovernanceRepository creates a new governance repository
func NewGovernanceRepository(client *Client) *GovernanceRepository {
	return &GovernanceRepository{client: client}
}

const proposalColumns = `proposal_id, proposer, targets, "values", calldatas,
	description, vote_start, vote_end, votes_for, votes_against, votes_abstain,
	state, executed_at, created_at, updated_at`

func scanProposal(row interface{ Scan(...interface{}) error }) (*GovernanceProposal, error) {
	p := &GovernanceProposal{}
	err := row.Scan(
		&p.ProposalID, &p.Proposer, &p.Targets, &p.Values, &p.Calldatas,
		&p.Description, &p.VoteStart, &p.VoteEnd, &p.VotesFor, &p.VotesAgainst,
		&p.VotesAbstain, &p.State, &p.ExecutedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	return p, err
}

// ListProposals returns proposals, optionally filtered by state, newest first
func (r *GovernanceRepository) ListProposals(ctx context.Context, state string, limit int) ([]*GovernanceProposal, error) {
	var rows *sql.Rows
	var err error
	if state == "" {
		rows, err = r.client.QueryContext(ctx,
			`SELECT `+proposalColumns+` FROM governance_proposals
			 ORDER BY proposal_id DESC LIMIT $1`, limit)
	} else {
		rows, err = r.client.QueryContext(ctx,
			`SELECT `+proposalColumns+` FROM governance_proposals
			 WHERE state = $1 ORDER BY proposal_id DESC LIMIT $2`, state, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query proposals: %w", err)
	}
	defer rows.Close()

	var proposals []*GovernanceProposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan proposal: %w", err)
		}
		proposals = append(proposals, p)
	}
	return proposals, rows.Err()
}

// GetProposal returns one proposal by id, or ErrProposalNotFound
func (r *GovernanceRepository) GetProposal(ctx context.Context, proposalID int64) (*GovernanceProposal, error) {
	p, err := scanProposal(r.client.QueryRowContext(ctx,
		`SELECT `+proposalColumns+` FROM governance_proposals WHERE proposal_id = $1`,
		proposalID))
	if err == sql.ErrNoRows {
		return nil, ErrProposalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get proposal %d: %w", proposalID, err)
	}
	return p, nil
}

// ListVotesForProposal returns votes on a proposal, newest first
func (r *GovernanceRepository) ListVotesForProposal(ctx context.Context, proposalID int64, limit int) ([]*GovernanceVote, error) {
	return r.listVotes(ctx,
		`SELECT id, proposal_id, voter, support, weight, reason, voted_at
		 FROM governance_votes WHERE proposal_id = $1
		 ORDER BY voted_at DESC LIMIT $2`, proposalID, limit)
}

// ListVotesByVoter returns one address's vote history, newest first
func (r *GovernanceRepository) ListVotesByVoter(ctx context.Context, voter string, limit int) ([]*GovernanceVote, error) {
	return r.listVotes(ctx,
		`SELECT id, proposal_id, voter, support, weight, reason, voted_at
		 FROM governance_votes WHERE voter = $1
		 ORDER BY voted_at DESC LIMIT $2`, voter, limit)
}

func (r *GovernanceRepository) listVotes(ctx context.Context, query string, args ...interface{}) ([]*GovernanceVote, error) {
	rows, err := r.client.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query votes: %w", err)
	}
	defer rows.Close()

	var votes []*GovernanceVote
	for rows.Next() {
		v := &GovernanceVote{}
		err := rows.Scan(&v.ID, &v.ProposalID, &v.Voter, &v.Support, &v.Weight, &v.Reason, &v.VotedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan vote: %w", err)
		}
		votes = append(votes, v)
	}
	return votes, rows.Err()
}

// RecordVote inserts or refreshes a vote after a successful chain submission
func (r *GovernanceRepository) RecordVote(ctx context.Context, vote *GovernanceVote) error {
	_, err := r.client.ExecContext(ctx,
		`INSERT INTO governance_votes (proposal_id, voter, support, weight, reason, voted_at)
		 VALUES ($1, $2, $3, $4, $5, now())
		 ON CONFLICT (proposal_id, voter) DO UPDATE SET
			support = EXCLUDED.support,
			weight = EXCLUDED.weight,
			reason = EXCLUDED.reason,
			voted_at = EXCLUDED.voted_at`,
		vote.ProposalID, vote.Voter, vote.Support, vote.Weight, vote.Reason,
	)
	if err != nil {
		return fmt.Errorf("failed to record vote: %w", err)
	}
	return nil
}

// RecordDelegation upserts a delegation after a successful chain submission
func (r *GovernanceRepository) RecordDelegation(ctx context.Context, d *GovernanceDelegation) error {
	_, err := r.client.ExecContext(ctx,
		`INSERT INTO governance_delegations (delegator, delegatee, amount, delegated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (delegator, delegatee) DO UPDATE SET
			amount = EXCLUDED.amount,
			delegated_at = EXCLUDED.delegated_at`,
		d.Delegator, d.Delegatee, d.Amount,
	)
	if err != nil {
		return fmt.Errorf("failed to record delegation: %w", err)
	}
	return nil
}

// ListDelegationsFrom returns the delegations made by an address
func (r *GovernanceRepository) ListDelegationsFrom(ctx context.Context, delegator string) ([]*GovernanceDelegation, error) {
	rows, err := r.client.QueryContext(ctx,
		`SELECT delegator, delegatee, amount, delegated_at
		 FROM governance_delegations WHERE delegator = $1
		 ORDER BY delegated_at DESC`,
		delegator,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query delegations: %w", err)
	}
	defer rows.Close()

	var delegations []*GovernanceDelegation
	for rows.Next() {
		d := &GovernanceDelegation{}
		if err := rows.Scan(&d.Delegator, &d.Delegatee, &d.Amount, &d.DelegatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan delegation: %w", err)
		}
		delegations = append(delegations, d)
	}
	return delegations, rows.Err()
}

// SumDelegatedTo returns the total stake delegated to an address
func (r *GovernanceRepository) SumDelegatedTo(ctx context.Context, delegatee string) (int64, error) {
	return r.sumDelegations(ctx,
		`SELECT sum(amount) FROM governance_delegations WHERE delegatee = $1`, delegatee)
}

// SumDelegatedFrom returns the total stake an address has delegated out
func (r *GovernanceRepository) SumDelegatedFrom(ctx context.Context, delegator string) (int64, error) {
	return r.sumDelegations(ctx,
		`SELECT sum(amount) FROM governance_delegations WHERE delegator = $1`, delegator)
}

func (r *GovernanceRepository) sumDelegations(ctx context.Context, query, address string) (int64, error) {
	var total sql.NullInt64
	err := r.client.QueryRowContext(ctx, query, address).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum delegations: %w", err)
	}
	if total.Int64 < 0 {
		panic(fmt.Sprintf("delegation aggregate for %s is negative: %d", address, total.Int64))
	}
	return total.Int64, nil
}

// CountVotesByVoter counts the votes an address has cast
func (r *GovernanceRepository) CountVotesByVoter(ctx context.Context, voter string) (int64, error) {
	var count int64
	err := r.client.QueryRowContext(ctx,
		`SELECT count(*) FROM governance_votes WHERE voter = $1`,
		voter,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count votes: %w", err)
	}
	return count, nil
}

// CountProposalsByProposer counts the proposals an address has submitted
func (r *GovernanceRepository) CountProposalsByProposer(ctx context.Context, proposer string) (int64, error) {
	var count int64
	err := r.client.QueryRowContext(ctx,
		`SELECT count(*) FROM governance_proposals WHERE proposer = $1`,
		proposer,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count proposals: %w", err)
	}
	return count, nil
}

// CountProposals counts all proposals
func (r *GovernanceRepository) CountProposals(ctx context.Context) (int64, error) {
	var count int64
	err := r.client.QueryRowContext(ctx,
		`SELECT count(*) FROM governance_proposals`,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count proposals: %w", err)
	}
	return count, nil
}

// LastVoteTime returns when an address last voted, or invalid when it never has
func (r *GovernanceRepository) LastVoteTime(ctx context.Context, voter string) (sql.NullTime, error) {
	var votedAt sql.NullTime
	err := r.client.QueryRowContext(ctx,
		`SELECT max(voted_at) FROM governance_votes WHERE voter = $1`,
		voter,
	).Scan(&votedAt)
	if err != nil {
		return votedAt, fmt.Errorf("failed to query last vote: %w", err)
	}
	return votedAt, nil
}
