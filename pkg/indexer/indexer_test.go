// Copyright 2025 Silica Protocol
//
// Unit tests for the chain indexer tick loop and identity registry sync

package indexer

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/silica-protocol/silica-api/pkg/cache"
	"github.com/silica-protocol/silica-api/pkg/config"
	"github.com/silica-protocol/silica-api/pkg/database"
	"github.com/silica-protocol/silica-api/pkg/model"
	"github.com/silica-protocol/silica-api/pkg/rpc"
)

// ============================================================================
// Fakes
// ============================================================================

type fakeNode struct {
	height        uint64
	blocks        []rpc.Block
	identityPages []*rpc.IdentityRegistryResponse
	heightErr     error
	blocksErr     error

	identityCalls int
}

func (f *fakeNode) LatestBlockNumber(ctx context.Context) (uint64, error) {
	if f.heightErr != nil {
		return 0, f.heightErr
	}
	return f.height, nil
}

func (f *fakeNode) FetchBlocks(ctx context.Context) ([]rpc.Block, error) {
	if f.blocksErr != nil {
		return nil, f.blocksErr
	}
	return f.blocks, nil
}

func (f *fakeNode) IdentityRegistryUpdates(ctx context.Context, fromBlock, limit uint64) (*rpc.IdentityRegistryResponse, error) {
	f.identityCalls++
	if len(f.identityPages) == 0 {
		return &rpc.IdentityRegistryResponse{LatestBlock: fromBlock}, nil
	}
	page := f.identityPages[0]
	f.identityPages = f.identityPages[1:]
	return page, nil
}

type fakeStore struct {
	checkpoints map[string]uint64
	blocks      map[int64]*database.Block
	txs         map[string]*database.Transaction
	outputs     map[string][]*database.StealthOutput
	identities  map[string]*database.IdentityMutation

	commitOrder []int64
	insertErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		checkpoints: make(map[string]uint64),
		blocks:      make(map[int64]*database.Block),
		txs:         make(map[string]*database.Transaction),
		outputs:     make(map[string][]*database.StealthOutput),
		identities:  make(map[string]*database.IdentityMutation),
	}
}

func (f *fakeStore) LoadCheckpoint(ctx context.Context, streamID string) (uint64, error) {
	return f.checkpoints[streamID], nil
}

func (f *fakeStore) PersistCheckpoint(ctx context.Context, streamID string, block uint64) error {
	f.checkpoints[streamID] = block
	return nil
}

func (f *fakeStore) HasBlock(ctx context.Context, blockNumber int64) (bool, error) {
	_, ok := f.blocks[blockNumber]
	return ok, nil
}

func (f *fakeStore) InsertBlockBundle(ctx context.Context, block *database.Block, txs []*database.Transaction, outputs map[string][]*database.StealthOutput) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.blocks[block.BlockNumber] = block
	for _, tx := range txs {
		if _, ok := f.txs[tx.TxID]; ok {
			continue
		}
		f.txs[tx.TxID] = tx
		f.outputs[tx.TxID] = outputs[tx.TxID]
	}
	f.commitOrder = append(f.commitOrder, block.BlockNumber)
	return nil
}

func (f *fakeStore) ApplyIdentityUpdates(ctx context.Context, updates []*database.IdentityMutation) error {
	for _, update := range updates {
		key := fmt.Sprintf("%x", update.Profile.IdentityID)
		f.identities[key] = update
	}
	return nil
}

// ============================================================================
// Builders
// ============================================================================

func testCacheConfig() *config.CacheConfig {
	return &config.CacheConfig{
		IdentitiesMaxCapacity:   128,
		IdentitiesTTLSeconds:    60,
		LeaderboardsMaxCapacity: 16,
		LeaderboardsTTLSeconds:  60,
		ProposalsMaxCapacity:    16,
		ProposalsTTLSeconds:     60,
	}
}

func newTestIndexer(node *fakeNode, store *fakeStore) (*Indexer, *atomic.Uint64, *cache.APICache) {
	cell := &atomic.Uint64{}
	apiCache := cache.New(testCacheConfig())
	cfg := config.IndexerConfig{PollIntervalMs: 100, BatchSize: 64, IdentityBatchSize: 128}
	metrics := NewMetrics(prometheus.NewRegistry())
	idx := New(node, store, apiCache, cfg, cell, metrics, nil)
	return idx, cell, apiCache
}

func testBlock(number uint64, txs ...rpc.Transaction) rpc.Block {
	return rpc.Block{
		BlockNumber:       number,
		BlockHash:         fmt.Sprintf("hash_%d", number),
		PreviousBlockHash: fmt.Sprintf("hash_%d", number-1),
		Timestamp:         time.Now().UTC(),
		ValidatorAddress:  "validator_1",
		GasUsed:           100,
		GasLimit:          1000,
		StateRoot:         make([]byte, 32),
		StateLeafCount:    5,
		Transactions:      txs,
	}
}

func testTransaction(txID string, outputs ...rpc.StealthOutput) rpc.Transaction {
	return rpc.Transaction{
		TxID:            txID,
		Sender:          "sender_1",
		Recipient:       "recipient_1",
		Amount:          500,
		Fee:             10,
		Nonce:           1,
		Timestamp:       time.Now().UTC(),
		TransactionType: rpc.TxTypeTransfer,
		StealthOutputs:  outputs,
	}
}

func plaintextOutput(index uint32, amount uint64) rpc.StealthOutput {
	commitment := make([]byte, 32)
	commitment[0] = byte(index + 1)
	return rpc.StealthOutput{
		Index:      index,
		Commitment: commitment,
		Address: rpc.StealthAddress{
			PublicKey:   make([]byte, 32),
			TxPublicKey: make([]byte, 32),
		},
		Amount:    &amount,
		CreatedAt: time.Now().UTC(),
	}
}

const testIdentityHex = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func identityRecord(walletLinks ...rpc.WalletLinkRecord) rpc.IdentityRecord {
	name := "Alice"
	return rpc.IdentityRecord{
		IdentityID:      testIdentityHex,
		DisplayName:     &name,
		StatsVisibility: "public",
		WalletLinks:     walletLinks,
		CreatedAt:       100,
		UpdatedAt:       200,
		UpdatedAtBlock:  5,
	}
}

// ============================================================================
// Tick Tests
// ============================================================================

func TestTick_EmptyTick(t *testing.T) {
	node := &fakeNode{height: 10}
	store := newFakeStore()
	store.checkpoints[database.CheckpointChain] = 10
	idx, cell, _ := newTestIndexer(node, store)
	cell.Store(10)

	next, err := idx.tick(context.Background(), 10)
	if err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	if next != 10 {
		t.Errorf("cursor should be unchanged, got %d", next)
	}
	if len(store.blocks) != 0 {
		t.Error("empty tick must not write blocks")
	}
	if cell.Load() != 10 {
		t.Errorf("atomic cell should be unchanged, got %d", cell.Load())
	}
	if node.identityCalls != 0 {
		t.Error("empty tick must not invoke identity sync")
	}
}

func TestTick_CommitsBlockWithTransactionsAndOutput(t *testing.T) {
	tx1 := testTransaction("tx_a", plaintextOutput(0, 100))
	tx2 := testTransaction("tx_b")
	node := &fakeNode{height: 1, blocks: []rpc.Block{testBlock(1, tx1, tx2)}}
	store := newFakeStore()
	idx, cell, _ := newTestIndexer(node, store)

	next, err := idx.tick(context.Background(), 0)
	if err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	if next != 1 {
		t.Errorf("cursor should advance to 1, got %d", next)
	}
	if len(store.blocks) != 1 || len(store.txs) != 2 {
		t.Errorf("expected 1 block and 2 transactions, got %d and %d",
			len(store.blocks), len(store.txs))
	}
	if len(store.outputs["tx_a"]) != 1 {
		t.Errorf("expected 1 stealth output for tx_a, got %d", len(store.outputs["tx_a"]))
	}
	if got := store.outputs["tx_a"][0].Amount.Int64; got != 100 {
		t.Errorf("expected output amount 100, got %d", got)
	}
	if cell.Load() != 1 {
		t.Errorf("atomic cell should advance to 1, got %d", cell.Load())
	}
	if store.checkpoints[database.CheckpointChain] != 1 {
		t.Errorf("chain checkpoint should advance to 1, got %d",
			store.checkpoints[database.CheckpointChain])
	}
	if node.identityCalls == 0 {
		t.Error("identity sync should be invoked after a commit")
	}
}

func TestTick_ChainRegressionPanics(t *testing.T) {
	node := &fakeNode{height: 4}
	store := newFakeStore()
	idx, _, _ := newTestIndexer(node, store)

	defer func() {
		if recover() == nil {
			t.Error("chain height regression must panic")
		}
		if store.checkpoints[database.CheckpointChain] != 0 {
			t.Error("cursor must be untouched after regression")
		}
	}()
	idx.tick(context.Background(), 5)
}

func TestTick_CommitsInAscendingOrder(t *testing.T) {
	node := &fakeNode{height: 3, blocks: []rpc.Block{
		testBlock(3), testBlock(1), testBlock(2),
	}}
	store := newFakeStore()
	idx, _, _ := newTestIndexer(node, store)

	if _, err := idx.tick(context.Background(), 0); err != nil {
		t.Fatalf("tick failed: %v", err)
	}

	want := []int64{1, 2, 3}
	if len(store.commitOrder) != len(want) {
		t.Fatalf("expected %d commits, got %d", len(want), len(store.commitOrder))
	}
	for i, n := range want {
		if store.commitOrder[i] != n {
			t.Errorf("commit %d should be block %d, got %d", i, n, store.commitOrder[i])
		}
	}
}

func TestTick_SkipsAlreadyIndexedBlocks(t *testing.T) {
	node := &fakeNode{height: 2, blocks: []rpc.Block{testBlock(1), testBlock(2)}}
	store := newFakeStore()
	idx, _, _ := newTestIndexer(node, store)

	if _, err := idx.tick(context.Background(), 0); err != nil {
		t.Fatalf("first tick failed: %v", err)
	}
	firstCommits := len(store.commitOrder)

	// Same RPC response again from cursor 0: the cursor filter lets both
	// blocks through, so the HasBlock check alone makes the pass a no-op.
	node.height = 2
	if _, err := idx.tick(context.Background(), 0); err != nil {
		t.Fatalf("second tick failed: %v", err)
	}
	if len(store.commitOrder) != firstCommits {
		t.Errorf("re-running the same response must not re-commit blocks: %d -> %d",
			firstCommits, len(store.commitOrder))
	}
}

func TestTick_ValidationFailureAbortsRemainder(t *testing.T) {
	bad := testBlock(2)
	bad.StateRoot = bad.StateRoot[:16] // malformed

	node := &fakeNode{height: 3, blocks: []rpc.Block{testBlock(1), bad, testBlock(3)}}
	store := newFakeStore()
	idx, cell, _ := newTestIndexer(node, store)

	next, err := idx.tick(context.Background(), 0)
	if err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	if next != 1 {
		t.Errorf("cursor should cover only committed blocks, got %d", next)
	}
	if _, ok := store.blocks[3]; ok {
		t.Error("blocks after a validation failure must not commit this tick")
	}
	if cell.Load() != 1 {
		t.Errorf("atomic cell should stop at 1, got %d", cell.Load())
	}
}

func TestTick_TransientRPCErrorLeavesCursor(t *testing.T) {
	node := &fakeNode{heightErr: fmt.Errorf("node unavailable")}
	store := newFakeStore()
	idx, _, _ := newTestIndexer(node, store)

	next, err := idx.tick(context.Background(), 7)
	if err != nil {
		t.Fatalf("transient errors must not bubble out of tick: %v", err)
	}
	if next != 7 {
		t.Errorf("cursor should be unchanged, got %d", next)
	}
}

func TestTick_StorageErrorBubbles(t *testing.T) {
	node := &fakeNode{height: 1, blocks: []rpc.Block{testBlock(1)}}
	store := newFakeStore()
	store.insertErr = fmt.Errorf("connection reset")
	idx, _, _ := newTestIndexer(node, store)

	if _, err := idx.tick(context.Background(), 0); err == nil {
		t.Error("storage failures must bubble out of tick")
	}
}

func TestRun_ShutdownReturnsCleanly(t *testing.T) {
	node := &fakeNode{height: 0}
	store := newFakeStore()
	idx, _, _ := newTestIndexer(node, store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- idx.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("shutdown should return nil, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

// ============================================================================
// Identity Sync Tests
// ============================================================================

func TestIdentitySync_UpsertThenEmptyLinkSetRemovesLinks(t *testing.T) {
	link := rpc.WalletLinkRecord{
		WalletAddress:  "wallet_1",
		LinkType:       "main",
		ProofSignature: "0xdeadbeef",
		CreatedAt:      1,
		UpdatedAtBlock: 5,
	}

	node := &fakeNode{identityPages: []*rpc.IdentityRegistryResponse{
		{LatestBlock: 5, Updates: []rpc.IdentityRecord{identityRecord(link)}},
	}}
	store := newFakeStore()
	idx, _, apiCache := newTestIndexer(node, store)

	if err := idx.syncIdentityRegistry(context.Background(), 5); err != nil {
		t.Fatalf("first sync failed: %v", err)
	}
	if got := len(store.identities[testIdentityHex].Links); got != 1 {
		t.Fatalf("expected 1 wallet link after first sync, got %d", got)
	}
	if store.checkpoints[database.CheckpointIdentityRegistry] != 5 {
		t.Errorf("identity cursor should advance to 5, got %d",
			store.checkpoints[database.CheckpointIdentityRegistry])
	}

	// Seed caches, then sync an update that drops the link.
	apiCache.IdentityProfiles.Add(testIdentityHex, &model.IdentityProfileView{IdentityID: testIdentityHex})
	apiCache.IdentityWallets.Add(testIdentityHex, []model.WalletLinkView{{WalletAddress: "wallet_1"}})
	apiCache.IdentitySearch.Add("alice::20", []model.IdentitySearchResult{{IdentityID: testIdentityHex}})

	node.identityPages = []*rpc.IdentityRegistryResponse{
		{LatestBlock: 6, Updates: []rpc.IdentityRecord{identityRecord()}},
	}
	if err := idx.syncIdentityRegistry(context.Background(), 6); err != nil {
		t.Fatalf("second sync failed: %v", err)
	}

	if got := len(store.identities[testIdentityHex].Links); got != 0 {
		t.Errorf("expected zero wallet links after second sync, got %d", got)
	}
	if _, ok := apiCache.IdentityProfiles.Get(testIdentityHex); ok {
		t.Error("profile cache entry should be invalidated")
	}
	if _, ok := apiCache.IdentityWallets.Get(testIdentityHex); ok {
		t.Error("wallet cache entry should be invalidated")
	}
	if apiCache.IdentitySearch.Len() != 0 {
		t.Error("search cache should be purged whole")
	}
}

func TestIdentitySync_UpToDateSkipsRPC(t *testing.T) {
	node := &fakeNode{}
	store := newFakeStore()
	store.checkpoints[database.CheckpointIdentityRegistry] = 10
	idx, _, _ := newTestIndexer(node, store)

	if err := idx.syncIdentityRegistry(context.Background(), 10); err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if node.identityCalls != 0 {
		t.Error("sync must not call the node when the cursor is at the tip")
	}
}

func TestIdentitySync_NoProgressBreaks(t *testing.T) {
	// The node keeps answering with latest_block equal to the cursor while
	// claiming updates exist; the no-progress guard must break the loop.
	node := &fakeNode{identityPages: []*rpc.IdentityRegistryResponse{
		{LatestBlock: 3, Updates: []rpc.IdentityRecord{identityRecord()}},
	}}
	store := newFakeStore()
	store.checkpoints[database.CheckpointIdentityRegistry] = 3
	idx, _, _ := newTestIndexer(node, store)

	if err := idx.syncIdentityRegistry(context.Background(), 10); err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if node.identityCalls != 1 {
		t.Errorf("expected exactly one RPC call before the guard, got %d", node.identityCalls)
	}
}

func TestIdentitySync_RegressionPanics(t *testing.T) {
	node := &fakeNode{identityPages: []*rpc.IdentityRegistryResponse{
		{LatestBlock: 2},
	}}
	store := newFakeStore()
	store.checkpoints[database.CheckpointIdentityRegistry] = 4
	idx, _, _ := newTestIndexer(node, store)

	defer func() {
		if recover() == nil {
			t.Error("identity cursor regression must panic")
		}
	}()
	idx.syncIdentityRegistry(context.Background(), 10)
}

func TestIdentitySync_ValidationAbortsBatch(t *testing.T) {
	bad := identityRecord()
	bad.StatsVisibility = "secret"

	node := &fakeNode{identityPages: []*rpc.IdentityRegistryResponse{
		{LatestBlock: 5, Updates: []rpc.IdentityRecord{bad}},
	}}
	store := newFakeStore()
	idx, _, _ := newTestIndexer(node, store)

	err := idx.syncIdentityRegistry(context.Background(), 5)
	if err == nil {
		t.Fatal("invalid record should abort the sync")
	}
	if !strings.Contains(err.Error(), "visibility") {
		t.Errorf("unexpected error: %v", err)
	}
	if len(store.identities) != 0 {
		t.Error("aborted batch must not persist identities")
	}
	if store.checkpoints[database.CheckpointIdentityRegistry] != 0 {
		t.Error("aborted batch must not advance the cursor")
	}
}

func TestBuildIdentityMutation_EnforcesLinkBound(t *testing.T) {
	links := make([]rpc.WalletLinkRecord, 33)
	for i := range links {
		links[i] = rpc.WalletLinkRecord{
			WalletAddress:  fmt.Sprintf("wallet_%d", i),
			LinkType:       "main",
			ProofSignature: "0xdeadbeef",
		}
	}
	record := identityRecord(links...)

	if _, _, err := buildIdentityMutation(&record); err == nil {
		t.Error("expected error for more than 32 wallet links")
	}
}

func TestBuildBlockBundle_GasInvariantPanics(t *testing.T) {
	block := testBlock(1)
	block.GasUsed = 2000
	block.GasLimit = 1000

	defer func() {
		if recover() == nil {
			t.Error("gas_used > gas_limit must panic")
		}
	}()
	buildBlockBundle(&block)
}

func TestBuildStealthOutputRows_ZeroAmountPanics(t *testing.T) {
	tx := testTransaction("tx_zero", plaintextOutput(0, 0))

	defer func() {
		if recover() == nil {
			t.Error("a zero stealth output amount must panic")
		}
	}()
	buildStealthOutputRows(1, &tx)
}

func TestBuildStealthOutputRows_OversizedMemoPanics(t *testing.T) {
	memo := strings.Repeat("x", 513)
	output := plaintextOutput(0, 1)
	output.MemoPlaintext = &memo
	tx := testTransaction("tx_memo", output)

	defer func() {
		if recover() == nil {
			t.Error("an oversized plaintext memo must panic")
		}
	}()
	buildStealthOutputRows(1, &tx)
}

func TestBuildStealthOutputRows_OversizedSenderPanics(t *testing.T) {
	tx := testTransaction("tx_sender", plaintextOutput(0, 1))
	tx.Sender = strings.Repeat("a", 129)

	defer func() {
		if recover() == nil {
			t.Error("a sender beyond 128 characters must panic")
		}
	}()
	buildStealthOutputRows(1, &tx)
}

func TestBuildStealthOutputRows_FanOutPanics(t *testing.T) {
	outputs := make([]rpc.StealthOutput, MaxStealthOutputsPerTransaction+1)
	for i := range outputs {
		outputs[i] = plaintextOutput(uint32(i), 1)
	}
	tx := testTransaction("tx_fanout", outputs...)

	defer func() {
		if recover() == nil {
			t.Error("stealth output fan-out beyond the execution bound must panic")
		}
	}()
	buildStealthOutputRows(1, &tx)
}
