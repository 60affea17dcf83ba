// Copyright 2025 Silica Protocol
//
// Chain Repository - append-only storage for blocks, transactions and
// stealth outputs. A block lands with all of its transactions and stealth
// outputs in a single database transaction, or not at all.

package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// ChainRepository handles block, transaction and stealth output storage
type ChainRepository struct {
	client *Client
}

// NewChainRepository creates a new chain repository
func NewChainRepository(client *Client) *ChainRepository {
	return &ChainRepository{client: client}
}

// HasBlock reports whether a block row with this number already exists
func (r *ChainRepository) HasBlock(ctx context.Context, blockNumber int64) (bool, error) {
	var exists bool
	err := r.client.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM chain_blocks WHERE block_number = $1)`,
		blockNumber,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check block %d: %w", blockNumber, err)
	}
	return exists, nil
}

// LatestBlockNumber returns the highest indexed block number, or ErrBlockNotFound
// when no block has been indexed yet
func (r *ChainRepository) LatestBlockNumber(ctx context.Context) (int64, error) {
	var number sql.NullInt64
	err := r.client.QueryRowContext(ctx,
		`SELECT max(block_number) FROM chain_blocks`,
	).Scan(&number)
	if err != nil {
		return 0, fmt.Errorf("failed to query latest block: %w", err)
	}
	if !number.Valid {
		return 0, ErrBlockNotFound
	}
	return number.Int64, nil
}

// InsertBlockBundle persists a block with all of its transactions and stealth
// outputs atomically. Transactions whose tx_id already exists are skipped;
// outputs belonging to a skipped transaction are skipped with it.
func (r *ChainRepository) InsertBlockBundle(
	ctx context.Context,
	block *Block,
	txs []*Transaction,
	outputs map[string][]*StealthOutput,
) error {
	dbtx, err := r.client.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer dbtx.Rollback()

	_, err = dbtx.ExecContext(ctx,
		`INSERT INTO chain_blocks (
			block_number, block_hash, previous_block_hash, timestamp,
			validator_address, gas_used, gas_limit, state_root,
			state_leaf_count, tx_count, indexed_at, received_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())`,
		block.BlockNumber, block.BlockHash, block.PreviousBlockHash, block.Timestamp,
		block.ValidatorAddress, block.GasUsed, block.GasLimit, block.StateRoot,
		block.StateLeafCount, block.TxCount,
	)
	if err != nil {
		return fmt.Errorf("failed to insert block %d: %w", block.BlockNumber, err)
	}

	for _, tx := range txs {
		var exists bool
		err := dbtx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM chain_transactions WHERE tx_id = $1)`,
			tx.TxID,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check transaction %s: %w", tx.TxID, err)
		}
		if exists {
			continue
		}

		_, err = dbtx.ExecContext(ctx,
			`INSERT INTO chain_transactions (
				tx_id, block_number, sender, recipient, amount, fee, nonce,
				timestamp, transaction_type, payload, indexed_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())`,
			tx.TxID, tx.BlockNumber, tx.Sender, tx.Recipient, tx.Amount, tx.Fee,
			tx.Nonce, tx.Timestamp, tx.TransactionType, []byte(tx.Payload),
		)
		if err != nil {
			return fmt.Errorf("failed to insert transaction %s: %w", tx.TxID, err)
		}

		if batch := outputs[tx.TxID]; len(batch) > 0 {
			if err := insertStealthOutputs(ctx, dbtx, batch); err != nil {
				return fmt.Errorf("failed to persist stealth outputs for %s: %w", tx.TxID, err)
			}
		}
	}

	if err := dbtx.Commit(); err != nil {
		return fmt.Errorf("failed to commit block %d: %w", block.BlockNumber, err)
	}
	return nil
}

// insertStealthOutputs bulk-inserts one transaction's outputs in a single statement
func insertStealthOutputs(ctx context.Context, dbtx *sql.Tx, batch []*StealthOutput) error {
	const cols = 15
	placeholders := make([]string, 0, len(batch))
	args := make([]interface{}, 0, len(batch)*cols)

	for i, out := range batch {
		base := i * cols
		marks := make([]string, cols)
		for j := range marks {
			marks[j] = fmt.Sprintf("$%d", base+j+1)
		}
		placeholders = append(placeholders, "("+strings.Join(marks, ", ")+", now())")
		args = append(args,
			out.TxID, out.OutputIndex, out.BlockNumber, out.Sender, out.Fee,
			out.Timestamp, out.Commitment, out.StealthPublicKey, out.TxPublicKey,
			out.Amount, out.MemoPlaintext, out.EncryptedMemoCiphertext,
			out.EncryptedMemoNonce, out.EncryptedMemoMessageNumber,
			out.OutputCreatedAt,
		)
	}

	query := `INSERT INTO stealth_outputs (
		tx_id, output_index, block_number, sender, fee, timestamp,
		commitment, stealth_public_key, tx_public_key, amount, memo_plaintext,
		encrypted_memo_ciphertext, encrypted_memo_nonce,
		encrypted_memo_message_number, output_created_at, inserted_at
	) VALUES ` + strings.Join(placeholders, ", ")

	_, err := dbtx.ExecContext(ctx, query, args...)
	return err
}

// ============================================================================
// STEALTH OUTPUT QUERIES
// ============================================================================

// CountStealthOutputs counts outputs with block_number in [from, to]
func (r *ChainRepository) CountStealthOutputs(ctx context.Context, fromBlock, toBlock int64) (int64, error) {
	var count int64
	err := r.client.QueryRowContext(ctx,
		`SELECT count(*) FROM stealth_outputs WHERE block_number >= $1 AND block_number <= $2`,
		fromBlock, toBlock,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count stealth outputs: %w", err)
	}
	return count, nil
}

// ListStealthOutputs returns outputs with block_number in [from, to],
// ordered by (block_number, output_index)
func (r *ChainRepository) ListStealthOutputs(ctx context.Context, fromBlock, toBlock int64) ([]*StealthOutput, error) {
	rows, err := r.client.QueryContext(ctx,
		`SELECT tx_id, output_index, block_number, sender, fee, timestamp,
			commitment, stealth_public_key, tx_public_key, amount, memo_plaintext,
			encrypted_memo_ciphertext, encrypted_memo_nonce,
			encrypted_memo_message_number, output_created_at, inserted_at
		 FROM stealth_outputs
		 WHERE block_number >= $1 AND block_number <= $2
		 ORDER BY block_number ASC, output_index ASC`,
		fromBlock, toBlock,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query stealth outputs: %w", err)
	}
	defer rows.Close()

	var outputs []*StealthOutput
	for rows.Next() {
		out := &StealthOutput{}
		err := rows.Scan(
			&out.TxID, &out.OutputIndex, &out.BlockNumber, &out.Sender, &out.Fee,
			&out.Timestamp, &out.Commitment, &out.StealthPublicKey, &out.TxPublicKey,
			&out.Amount, &out.MemoPlaintext, &out.EncryptedMemoCiphertext,
			&out.EncryptedMemoNonce, &out.EncryptedMemoMessageNumber,
			&out.OutputCreatedAt, &out.InsertedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stealth output: %w", err)
		}
		outputs = append(outputs, out)
	}
	return outputs, rows.Err()
}
