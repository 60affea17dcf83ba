// Copyright 2025 Silica Protocol
//
// Chain indexer: a pull-based polling pipeline that ingests blocks,
// transactions and stealth outputs into the relational store.
//
// Each tick commits new blocks in strictly ascending order, one database
// transaction per block. The chain checkpoint advances only after data
// commits; a crash in between is healed by primary-key idempotence.
//
// Error policy: RPC and validation errors abort the tick and the next tick
// retries; storage write errors bubble out of Run; violations of the node's
// execution contract (chain regression, stealth fan-out, sender and memo
// bounds, zero output amounts) panic.

package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/silica-protocol/silica-api/pkg/cache"
	"github.com/silica-protocol/silica-api/pkg/config"
	"github.com/silica-protocol/silica-api/pkg/database"
	"github.com/silica-protocol/silica-api/pkg/rpc"
)

// MaxStealthOutputsPerTransaction mirrors the node's execution contract.
// A transaction carrying more outputs indicates a byzantine node.
const MaxStealthOutputsPerTransaction = 64

// maxTransactionsPerBlock bounds the per-block transaction fan-out
const maxTransactionsPerBlock = 10_000

// NodeClient is the node RPC surface the indexer consumes
type NodeClient interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	FetchBlocks(ctx context.Context) ([]rpc.Block, error)
	IdentityRegistryUpdates(ctx context.Context, fromBlock, limit uint64) (*rpc.IdentityRegistryResponse, error)
}

// Store is the storage surface the indexer writes
type Store interface {
	LoadCheckpoint(ctx context.Context, streamID string) (uint64, error)
	PersistCheckpoint(ctx context.Context, streamID string, block uint64) error
	HasBlock(ctx context.Context, blockNumber int64) (bool, error)
	InsertBlockBundle(ctx context.Context, block *database.Block, txs []*database.Transaction, outputs map[string][]*database.StealthOutput) error
	ApplyIdentityUpdates(ctx context.Context, updates []*database.IdentityMutation) error
}

// Indexer is the long-lived chain ingestion task. It is the only writer of
// chain and identity state; request handlers are strictly read-only.
type Indexer struct {
	node             NodeClient
	store            Store
	cache            *cache.APICache
	cfg              config.IndexerConfig
	lastIndexedBlock *atomic.Uint64
	metrics          *Metrics
	logger           *log.Logger
}

// New creates a chain indexer
func New(
	node NodeClient,
	store Store,
	apiCache *cache.APICache,
	cfg config.IndexerConfig,
	lastIndexedBlock *atomic.Uint64,
	metrics *Metrics,
	logger *log.Logger,
) *Indexer {
	if cfg.BatchSize <= 0 {
		panic("indexer batch size must be positive")
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[Indexer] ", log.LstdFlags)
	}
	return &Indexer{
		node:             node,
		store:            store,
		cache:            apiCache,
		cfg:              cfg,
		lastIndexedBlock: lastIndexedBlock,
		metrics:          metrics,
		logger:           logger,
	}
}

// Run drives the polling loop until the context is cancelled. It returns
// nil on cancellation and an error only when a storage call on the chain
// path fails (checkpoint load or write, block lookup or insert).
func (i *Indexer) Run(ctx context.Context) error {
	i.logger.Println("Starting chain indexer loop")

	checkpoint, err := i.store.LoadCheckpoint(ctx, database.CheckpointChain)
	if err != nil {
		return err
	}
	i.lastIndexedBlock.Store(checkpoint)
	i.metrics.LastIndexedBlock.Set(float64(checkpoint))

	// Materialize the identity cursor row up front so both reserved
	// streams exist from the first tick.
	if _, err := i.store.LoadCheckpoint(ctx, database.CheckpointIdentityRegistry); err != nil {
		return err
	}

	ticker := time.NewTicker(i.cfg.PollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			i.logger.Println("Indexer shutdown signal received")
			return nil
		case <-ticker.C:
			started := time.Now()
			next, err := i.tick(ctx, checkpoint)
			i.metrics.TickDuration.Observe(time.Since(started).Seconds())
			if err != nil {
				return err
			}
			checkpoint = next
		}
	}
}

// tick performs one poll iteration. The returned cursor covers every block
// committed this tick. An RPC failure leaves it untouched; a validation
// failure stops it at the last block committed before the failing one.
func (i *Indexer) tick(ctx context.Context, current uint64) (uint64, error) {
	latest, err := i.node.LatestBlockNumber(ctx)
	if err != nil {
		i.logger.Printf("Tick aborted: %v", err)
		i.metrics.TickErrors.Inc()
		return current, nil
	}
	if latest < current {
		panic(fmt.Sprintf("chain height must not regress: node reports %d, cursor at %d", latest, current))
	}

	if latest == current {
		return current, nil
	}

	blocks, err := i.node.FetchBlocks(ctx)
	if err != nil {
		i.logger.Printf("Tick aborted: %v", err)
		i.metrics.TickErrors.Inc()
		return current, nil
	}

	candidates := make([]rpc.Block, 0, len(blocks))
	for _, block := range blocks {
		if block.BlockNumber > current {
			candidates = append(candidates, block)
		}
	}
	sort.Slice(candidates, func(a, b int) bool {
		return candidates[a].BlockNumber < candidates[b].BlockNumber
	})

	processed := current
	for idx := range candidates {
		block := &candidates[idx]

		committed, err := i.persistBlock(ctx, block)
		if err != nil {
			// Storage failure: bubble up. Restart reloads the cursor and
			// skips committed rows idempotently.
			return processed, err
		}
		if !committed {
			// Validation failure aborts the rest of the tick; the cursor
			// still advances over what committed before it.
			i.metrics.TickErrors.Inc()
			break
		}

		processed = block.BlockNumber
		i.lastIndexedBlock.Store(processed)
		i.metrics.LastIndexedBlock.Set(float64(processed))
	}

	if processed > current {
		if err := i.store.PersistCheckpoint(ctx, database.CheckpointChain, processed); err != nil {
			return processed, err
		}
		if err := i.syncIdentityRegistry(ctx, processed); err != nil {
			// Identity sync resumes from its own cursor on the next tick
			// that commits a block.
			i.logger.Printf("Identity registry sync failed: %v", err)
			i.metrics.TickErrors.Inc()
		}
	}

	return processed, nil
}

// persistBlock commits one block bundle. Returns (false, nil) when the
// block failed validation, (true, nil) when it committed or already existed.
func (i *Indexer) persistBlock(ctx context.Context, block *rpc.Block) (bool, error) {
	blockNumber, err := checkedInt64(block.BlockNumber, "block number")
	if err != nil {
		i.logger.Printf("Skipping tick remainder: %v", err)
		return false, nil
	}

	exists, err := i.store.HasBlock(ctx, blockNumber)
	if err != nil {
		return false, err
	}
	if exists {
		return true, nil
	}

	row, txs, outputs, err := buildBlockBundle(block)
	if err != nil {
		i.logger.Printf("Block %d failed validation: %v", block.BlockNumber, err)
		return false, nil
	}

	if err := i.store.InsertBlockBundle(ctx, row, txs, outputs); err != nil {
		return false, err
	}

	i.metrics.BlocksIndexed.Inc()
	i.metrics.TransactionsIndexed.Add(float64(len(txs)))
	for _, batch := range outputs {
		i.metrics.StealthOutputsIndexed.Add(float64(len(batch)))
	}
	return true, nil
}

// ============================================================================
// RPC → ROW CONVERSION
// ============================================================================

func buildBlockBundle(block *rpc.Block) (*database.Block, []*database.Transaction, map[string][]*database.StealthOutput, error) {
	blockNumber, err := checkedInt64(block.BlockNumber, "block number")
	if err != nil {
		return nil, nil, nil, err
	}
	gasUsed, err := checkedInt64(block.GasUsed, "gas used")
	if err != nil {
		return nil, nil, nil, err
	}
	gasLimit, err := checkedInt64(block.GasLimit, "gas limit")
	if err != nil {
		return nil, nil, nil, err
	}
	if gasUsed > gasLimit {
		panic(fmt.Sprintf("block %d gas used %d exceeds gas limit %d", block.BlockNumber, gasUsed, gasLimit))
	}
	leafCount, err := checkedInt64(block.StateLeafCount, "state leaf count")
	if err != nil {
		return nil, nil, nil, err
	}
	if len(block.StateRoot) != 32 {
		return nil, nil, nil, fmt.Errorf("state root must be 32 bytes, got %d", len(block.StateRoot))
	}
	if block.BlockHash == "" {
		return nil, nil, nil, fmt.Errorf("block hash cannot be empty")
	}
	if len(block.Transactions) > maxTransactionsPerBlock {
		return nil, nil, nil, fmt.Errorf("block transaction fan-out %d exceeds %d",
			len(block.Transactions), maxTransactionsPerBlock)
	}

	row := &database.Block{
		BlockNumber:       blockNumber,
		BlockHash:         block.BlockHash,
		PreviousBlockHash: block.PreviousBlockHash,
		Timestamp:         block.Timestamp.UTC(),
		ValidatorAddress:  block.ValidatorAddress,
		GasUsed:           gasUsed,
		GasLimit:          gasLimit,
		StateRoot:         block.StateRoot,
		StateLeafCount:    leafCount,
		TxCount:           int32(len(block.Transactions)),
	}

	txs := make([]*database.Transaction, 0, len(block.Transactions))
	outputs := make(map[string][]*database.StealthOutput)
	for idx := range block.Transactions {
		tx := &block.Transactions[idx]
		txRow, err := buildTransactionRow(blockNumber, tx)
		if err != nil {
			return nil, nil, nil, err
		}
		txs = append(txs, txRow)

		batch, err := buildStealthOutputRows(blockNumber, tx)
		if err != nil {
			return nil, nil, nil, err
		}
		if len(batch) > 0 {
			outputs[tx.TxID] = batch
		}
	}

	return row, txs, outputs, nil
}

func buildTransactionRow(blockNumber int64, tx *rpc.Transaction) (*database.Transaction, error) {
	amount, err := checkedInt64(tx.Amount, "transaction amount")
	if err != nil {
		return nil, err
	}
	fee, err := checkedInt64(tx.Fee, "transaction fee")
	if err != nil {
		return nil, err
	}
	nonce, err := checkedInt64(tx.Nonce, "transaction nonce")
	if err != nil {
		return nil, err
	}
	if !rpc.KnownTransactionType(tx.TransactionType) {
		return nil, fmt.Errorf("unknown transaction type %q for %s", tx.TransactionType, tx.TxID)
	}

	// The whole RPC document is stored as the payload so new chain tx
	// shapes survive without a migration.
	payload, err := json.Marshal(tx)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize transaction %s: %w", tx.TxID, err)
	}

	return &database.Transaction{
		TxID:            tx.TxID,
		BlockNumber:     blockNumber,
		Sender:          tx.Sender,
		Recipient:       tx.Recipient,
		Amount:          amount,
		Fee:             fee,
		Nonce:           nonce,
		Timestamp:       tx.Timestamp.UTC(),
		TransactionType: tx.TransactionType,
		Payload:         payload,
	}, nil
}

func buildStealthOutputRows(blockNumber int64, tx *rpc.Transaction) ([]*database.StealthOutput, error) {
	if len(tx.StealthOutputs) == 0 {
		return nil, nil
	}
	if len(tx.StealthOutputs) > MaxStealthOutputsPerTransaction {
		panic(fmt.Sprintf("transaction %s carries %d stealth outputs, execution bound is %d",
			tx.TxID, len(tx.StealthOutputs), MaxStealthOutputsPerTransaction))
	}

	fee, err := checkedInt64(tx.Fee, "transaction fee")
	if err != nil {
		return nil, err
	}
	if len(tx.Sender) > 128 {
		panic(fmt.Sprintf("transaction %s sender address exceeds 128 character bound", tx.TxID))
	}

	rows := make([]*database.StealthOutput, 0, len(tx.StealthOutputs))
	for idx := range tx.StealthOutputs {
		out := &tx.StealthOutputs[idx]
		row, err := buildStealthOutputRow(blockNumber, tx, fee, out)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func buildStealthOutputRow(blockNumber int64, tx *rpc.Transaction, fee int64, out *rpc.StealthOutput) (*database.StealthOutput, error) {
	if out.Index > math.MaxInt32 {
		return nil, fmt.Errorf("stealth output index %d overflows int32", out.Index)
	}
	if len(out.Commitment) != 32 {
		return nil, fmt.Errorf("commitment must be 32 bytes, got %d", len(out.Commitment))
	}
	if len(out.Address.PublicKey) != 32 || len(out.Address.TxPublicKey) != 32 {
		return nil, fmt.Errorf("stealth address keys must be 32 bytes")
	}
	if out.MemoPlaintext != nil && len(*out.MemoPlaintext) > 512 {
		panic(fmt.Sprintf("transaction %s plaintext memo exceeds 512 byte bound", tx.TxID))
	}

	row := &database.StealthOutput{
		TxID:             tx.TxID,
		OutputIndex:      int32(out.Index),
		BlockNumber:      blockNumber,
		Sender:           tx.Sender,
		Fee:              fee,
		Timestamp:        tx.Timestamp.UTC(),
		Commitment:       out.Commitment,
		StealthPublicKey: out.Address.PublicKey,
		TxPublicKey:      out.Address.TxPublicKey,
		OutputCreatedAt:  out.CreatedAt.UTC(),
	}

	switch {
	case out.Amount != nil && out.MemoEncrypted == nil:
		if *out.Amount == 0 {
			panic(fmt.Sprintf("transaction %s stealth output %d amount must be positive", tx.TxID, out.Index))
		}
		amount, err := checkedInt64(*out.Amount, "stealth output amount")
		if err != nil {
			return nil, err
		}
		row.Amount.Int64 = amount
		row.Amount.Valid = true
		if out.MemoPlaintext != nil {
			row.MemoPlaintext.String = *out.MemoPlaintext
			row.MemoPlaintext.Valid = true
		}
	case out.Amount == nil && out.MemoEncrypted != nil:
		memo := out.MemoEncrypted
		if len(memo.Ciphertext) == 0 {
			return nil, fmt.Errorf("encrypted memo ciphertext cannot be empty")
		}
		if len(memo.Nonce) != 12 {
			return nil, fmt.Errorf("encrypted memo nonce must be 12 bytes, got %d", len(memo.Nonce))
		}
		if memo.MessageNumber > math.MaxInt32 {
			return nil, fmt.Errorf("encrypted memo message number %d overflows int32", memo.MessageNumber)
		}
		row.EncryptedMemoCiphertext = memo.Ciphertext
		row.EncryptedMemoNonce = memo.Nonce
		row.EncryptedMemoMessageNumber.Int32 = int32(memo.MessageNumber)
		row.EncryptedMemoMessageNumber.Valid = true
	default:
		return nil, fmt.Errorf("stealth output must be plaintext or encrypted, not both or neither")
	}

	return row, nil
}

func checkedInt64(value uint64, label string) (int64, error) {
	if value > math.MaxInt64 {
		return 0, fmt.Errorf("%s %d overflows int64", label, value)
	}
	return int64(value), nil
}
