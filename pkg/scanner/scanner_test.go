// Copyright 2025 Silica Protocol
//
// Unit tests for the stealth output scanner

package scanner

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/silica-protocol/silica-api/pkg/database"
	"github.com/silica-protocol/silica-api/pkg/stealth"
)

// ============================================================================
// Fake Store
// ============================================================================

type fakeStore struct {
	count   int64
	outputs []*database.StealthOutput
	err     error
	listed  bool
}

func (f *fakeStore) CountStealthOutputs(ctx context.Context, fromBlock, toBlock int64) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.count, nil
}

func (f *fakeStore) ListStealthOutputs(ctx context.Context, fromBlock, toBlock int64) ([]*database.StealthOutput, error) {
	f.listed = true
	if f.err != nil {
		return nil, f.err
	}
	return f.outputs, nil
}

// ============================================================================
// Helpers
// ============================================================================

func mustBundle(t *testing.T) *stealth.KeyBundle {
	t.Helper()
	bundle, err := stealth.GenerateKeyBundle()
	if err != nil {
		t.Fatalf("failed to generate key bundle: %v", err)
	}
	return bundle
}

func plaintextRow(t *testing.T, txID string, recipient *stealth.KeyBundle, amount int64, memo string) *database.StealthOutput {
	t.Helper()
	addr, _, err := stealth.DeriveAddress(recipient.View.Public, recipient.Spend.Public)
	if err != nil {
		t.Fatalf("failed to derive address: %v", err)
	}

	row := &database.StealthOutput{
		TxID:             txID,
		BlockNumber:      10,
		Sender:           "sender_alpha",
		Fee:              10,
		Timestamp:        time.Now().UTC(),
		Commitment:       make([]byte, 32),
		StealthPublicKey: addr.PublicKey[:],
		TxPublicKey:      addr.TxPublicKey[:],
		Amount:           sql.NullInt64{Int64: amount, Valid: true},
	}
	copy(row.Commitment, txID)
	if memo != "" {
		row.MemoPlaintext = sql.NullString{String: memo, Valid: true}
	}
	return row
}

func encryptedRow(t *testing.T, txID string, recipient *stealth.KeyBundle, amount uint64, memo string) *database.StealthOutput {
	t.Helper()
	addr, _, err := stealth.DeriveAddress(recipient.View.Public, recipient.Spend.Public)
	if err != nil {
		t.Fatalf("failed to derive address: %v", err)
	}

	payload := &stealth.Payload{Amount: amount, Fee: 3, Timestamp: 1}
	if memo != "" {
		payload.Memo = &memo
	}
	sender := stealth.NewSender(addr.PublicKey[:])
	encrypted, err := sender.EncryptPayload(payload)
	if err != nil {
		t.Fatalf("failed to encrypt payload: %v", err)
	}

	row := &database.StealthOutput{
		TxID:                       txID,
		BlockNumber:                20,
		Sender:                     "sender_beta",
		Fee:                        3,
		Timestamp:                  time.Now().UTC(),
		Commitment:                 make([]byte, 32),
		StealthPublicKey:           addr.PublicKey[:],
		TxPublicKey:                addr.TxPublicKey[:],
		EncryptedMemoCiphertext:    encrypted.Ciphertext,
		EncryptedMemoNonce:         encrypted.Nonce[:],
		EncryptedMemoMessageNumber: sql.NullInt32{Int32: int32(encrypted.MessageNumber), Valid: true},
	}
	copy(row.Commitment, txID)
	return row
}

func scan(t *testing.T, store *fakeStore, keys *stealth.KeyBundle, limit int) *Outcome {
	t.Helper()
	outcome, err := New(store, nil).Scan(context.Background(), keys, 0, 1_000_000, limit)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	return outcome
}

// ============================================================================
// Plaintext Ownership
// ============================================================================

func TestScan_PlaintextOwnership(t *testing.T) {
	recipient := mustBundle(t)
	stranger := mustBundle(t)

	store := &fakeStore{}
	store.outputs = append(store.outputs,
		plaintextRow(t, "tx_owned", recipient, 42, `{"note":"hello"}`))
	for i := 0; i < 49; i++ {
		store.outputs = append(store.outputs,
			plaintextRow(t, "tx_other_"+string(rune('a'+i%26))+string(rune('0'+i/26)), stranger, 7, ""))
	}
	store.count = int64(len(store.outputs))

	outcome := scan(t, store, recipient, 4)

	if outcome.OwnedTotal != 1 {
		t.Errorf("expected exactly one owned output, got %d", outcome.OwnedTotal)
	}
	if outcome.TotalBalance != 42 {
		t.Errorf("expected total balance 42, got %d", outcome.TotalBalance)
	}
	if outcome.TotalScanned != 50 {
		t.Errorf("expected 50 scanned rows, got %d", outcome.TotalScanned)
	}
	if outcome.HasMore {
		t.Error("has_more should be false")
	}
	if len(outcome.Transactions) != 1 {
		t.Fatalf("expected one transaction view, got %d", len(outcome.Transactions))
	}

	view := outcome.Transactions[0]
	if view.Amount != 42 {
		t.Errorf("expected amount 42, got %d", view.Amount)
	}
	var memo map[string]string
	if err := json.Unmarshal(view.Memo, &memo); err != nil {
		t.Fatalf("memo should be parsed JSON: %v", err)
	}
	if memo["note"] != "hello" {
		t.Errorf("unexpected memo: %v", memo)
	}
}

// ============================================================================
// Encrypted Ownership and Paging
// ============================================================================

func TestScan_EncryptedOwnershipWithPaging(t *testing.T) {
	recipient := mustBundle(t)
	stranger := mustBundle(t)

	store := &fakeStore{}
	var wantBalance uint64
	for i := 0; i < 10; i++ {
		amount := uint64(100 + i)
		wantBalance += amount
		store.outputs = append(store.outputs,
			encryptedRow(t, "tx_owned_"+string(rune('a'+i)), recipient, amount, `{"note":"secret"}`))
	}
	for i := 0; i < 100; i++ {
		store.outputs = append(store.outputs,
			encryptedRow(t, "tx_noise_"+string(rune('a'+i%26))+string(rune('0'+i/26)), stranger, 1, ""))
	}
	store.count = int64(len(store.outputs))

	outcome := scan(t, store, recipient, 4)

	if outcome.OwnedTotal != 10 {
		t.Errorf("expected 10 owned outputs, got %d", outcome.OwnedTotal)
	}
	if len(outcome.Transactions) != 4 {
		t.Errorf("expected 4 returned views, got %d", len(outcome.Transactions))
	}
	if !outcome.HasMore {
		t.Error("has_more should be true when owned_total exceeds returned views")
	}
	if outcome.TotalBalance != wantBalance {
		t.Errorf("expected total balance %d, got %d", wantBalance, outcome.TotalBalance)
	}

	var memo map[string]string
	if err := json.Unmarshal(outcome.Transactions[0].Memo, &memo); err != nil {
		t.Fatalf("memo should be parsed JSON: %v", err)
	}
	if memo["note"] != "secret" {
		t.Errorf("unexpected memo: %v", memo)
	}
}

// ============================================================================
// Bounds and Errors
// ============================================================================

func TestScan_EmptyRange(t *testing.T) {
	recipient := mustBundle(t)
	store := &fakeStore{count: 0}

	outcome := scan(t, store, recipient, 4)
	if outcome.OwnedTotal != 0 || outcome.TotalScanned != 0 || outcome.HasMore {
		t.Errorf("empty range should yield empty outcome: %+v", outcome)
	}
	if store.listed {
		t.Error("empty range should not read rows")
	}
}

func TestScan_OutputOverflow(t *testing.T) {
	recipient := mustBundle(t)
	store := &fakeStore{count: MaxOutputsPerRequest + 1}

	_, err := New(store, nil).Scan(context.Background(), recipient, 0, 1_000_000, 4)
	var overflow *OutputOverflowError
	if !errors.As(err, &overflow) {
		t.Fatalf("expected OutputOverflowError, got %v", err)
	}
	if overflow.Observed != MaxOutputsPerRequest+1 || overflow.Limit != MaxOutputsPerRequest {
		t.Errorf("unexpected overflow values: %+v", overflow)
	}
	if store.listed {
		t.Error("overflow must be detected without reading rows")
	}
}

func TestScan_BlockBoundExceeded(t *testing.T) {
	recipient := mustBundle(t)
	store := &fakeStore{}

	_, err := New(store, nil).Scan(context.Background(), recipient, 0, 1<<63, 4)
	var bound *BlockBoundError
	if !errors.As(err, &bound) {
		t.Fatalf("expected BlockBoundError, got %v", err)
	}
}

func TestScan_SkipsMalformedRows(t *testing.T) {
	recipient := mustBundle(t)

	good := plaintextRow(t, "tx_good", recipient, 5, "")
	malformed := plaintextRow(t, "tx_bad", recipient, 5, "")
	malformed.StealthPublicKey = malformed.StealthPublicKey[:16] // wrong length

	both := plaintextRow(t, "tx_both", recipient, 5, "")
	both.EncryptedMemoCiphertext = []byte{1}
	both.EncryptedMemoNonce = make([]byte, 12)
	both.EncryptedMemoMessageNumber = sql.NullInt32{Int32: 0, Valid: true}

	store := &fakeStore{count: 3, outputs: []*database.StealthOutput{good, malformed, both}}

	outcome := scan(t, store, recipient, 4)
	if outcome.TotalScanned != 1 {
		t.Errorf("malformed rows should be skipped, scanned %d", outcome.TotalScanned)
	}
	if outcome.OwnedTotal != 1 {
		t.Errorf("expected the good row to be owned, got %d", outcome.OwnedTotal)
	}
}

func TestScan_NonJSONMemoReturnedAsString(t *testing.T) {
	recipient := mustBundle(t)
	store := &fakeStore{count: 1, outputs: []*database.StealthOutput{
		plaintextRow(t, "tx_memo", recipient, 9, "plain words"),
	}}

	outcome := scan(t, store, recipient, 4)
	if len(outcome.Transactions) != 1 {
		t.Fatalf("expected one view, got %d", len(outcome.Transactions))
	}
	var memo string
	if err := json.Unmarshal(outcome.Transactions[0].Memo, &memo); err != nil {
		t.Fatalf("memo should be a JSON string: %v", err)
	}
	if memo != "plain words" {
		t.Errorf("unexpected memo %q", memo)
	}
}
