// Copyright 2025 Silica Protocol
//
// Stealth output scanner: given a recipient's key bundle, find the outputs
// in a block range addressed to them and recover amounts and memos.
//
// The scan is best-effort over malformed rows (skip and warn) because the
// ingestor already validated everything it stored; a bad row here is a
// prior bug, and failing the whole scan would punish the wallet user.

package scanner

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/silica-protocol/silica-api/pkg/database"
	"github.com/silica-protocol/silica-api/pkg/model"
	"github.com/silica-protocol/silica-api/pkg/stealth"
)

// MaxOutputsPerRequest bounds the rows a single scan may load into memory
const MaxOutputsPerRequest = 200_000

// Store is the storage surface the scanner reads
type Store interface {
	CountStealthOutputs(ctx context.Context, fromBlock, toBlock int64) (int64, error)
	ListStealthOutputs(ctx context.Context, fromBlock, toBlock int64) ([]*database.StealthOutput, error)
}

// BlockBoundError reports a block bound that overflows storage
type BlockBoundError struct {
	Block uint64
}

func (e *BlockBoundError) Error() string {
	return fmt.Sprintf("block number %d exceeds storage bounds", e.Block)
}

// OutputOverflowError reports a range holding more outputs than the scanner
// is willing to load
type OutputOverflowError struct {
	Observed int64
	Limit    int64
}

func (e *OutputOverflowError) Error() string {
	return fmt.Sprintf("requested range returned %d stealth outputs which exceeds the defensive bound of %d",
		e.Observed, e.Limit)
}

// Outcome is the result of one scan
type Outcome struct {
	Transactions []model.OwnedStealthTransactionView
	OwnedTotal   int
	TotalBalance uint64
	TotalScanned int
	HasMore      bool
}

// Scanner scans stored stealth outputs against recipient key bundles
type Scanner struct {
	store  Store
	logger *log.Logger
}

// New creates a scanner over a storage backend
func New(store Store, logger *log.Logger) *Scanner {
	if logger == nil {
		logger = log.New(log.Writer(), "[StealthScanner] ", log.LstdFlags)
	}
	return &Scanner{store: store, logger: logger}
}

// Scan finds the outputs in [fromBlock, toBlock] owned by the key bundle's
// holder. At most limit views are returned; counters cover the whole range.
func (s *Scanner) Scan(ctx context.Context, keys *stealth.KeyBundle, fromBlock, toBlock uint64, limit int) (*Outcome, error) {
	if fromBlock > toBlock {
		panic(fmt.Sprintf("scan range must be ordered: [%d, %d]", fromBlock, toBlock))
	}
	if limit <= 0 {
		panic(fmt.Sprintf("scan limit must be positive: %d", limit))
	}
	if fromBlock > math.MaxInt64 {
		return nil, &BlockBoundError{Block: fromBlock}
	}
	if toBlock > math.MaxInt64 {
		return nil, &BlockBoundError{Block: toBlock}
	}

	total, err := s.store.CountStealthOutputs(ctx, int64(fromBlock), int64(toBlock))
	if err != nil {
		return nil, fmt.Errorf("failed to count outputs in range: %w", err)
	}
	if total == 0 {
		return &Outcome{}, nil
	}
	if total > MaxOutputsPerRequest {
		return nil, &OutputOverflowError{Observed: total, Limit: MaxOutputsPerRequest}
	}

	rows, err := s.store.ListStealthOutputs(ctx, int64(fromBlock), int64(toBlock))
	if err != nil {
		return nil, fmt.Errorf("failed to load outputs in range: %w", err)
	}

	records := s.convertRows(rows)
	return detectOwnedOutputs(records, keys, limit), nil
}

// convertRows turns stored rows into scan records, skipping malformed ones
func (s *Scanner) convertRows(rows []*database.StealthOutput) []outputRecord {
	records := make([]outputRecord, 0, len(rows))
	for _, row := range rows {
		record, err := recordFromRow(row)
		if err != nil {
			s.logger.Printf("Skipping malformed stealth output %s[%d]: %v",
				row.TxID, row.OutputIndex, err)
			continue
		}
		records = append(records, record)
	}
	return records
}

// detectOwnedOutputs runs trial detection over well-formed records. Pure
// CPU; does not touch storage.
func detectOwnedOutputs(records []outputRecord, keys *stealth.KeyBundle, limit int) *Outcome {
	outcome := &Outcome{TotalScanned: len(records)}
	if len(records) == 0 {
		return outcome
	}

	for i := range records {
		record := &records[i]

		var view *model.OwnedStealthTransactionView
		if record.encrypted == nil {
			view = evaluatePlaintext(record, keys)
		} else {
			view = evaluateEncrypted(record, keys)
		}
		if view == nil {
			continue
		}

		outcome.TotalBalance = saturatingAdd(outcome.TotalBalance, view.Amount)
		outcome.OwnedTotal++
		if len(outcome.Transactions) < limit {
			outcome.Transactions = append(outcome.Transactions, *view)
		}
	}

	outcome.HasMore = outcome.OwnedTotal > len(outcome.Transactions)
	return outcome
}

func evaluatePlaintext(record *outputRecord, keys *stealth.KeyBundle) *model.OwnedStealthTransactionView {
	tx := stealth.Transaction{
		TxID:    record.txID,
		Sender:  record.sender,
		Address: record.address,
		Amount:  record.amount,
		Fee:     record.fee,
		Memo:    record.memo,
	}

	owned := keys.ScanForTransactions([]stealth.Transaction{tx})
	if len(owned) == 0 {
		return nil
	}

	amount := owned[0].DecryptedAmount
	if amount == 0 {
		amount = record.amount
	}
	memo := owned[0].DecryptedMemo
	if memo == nil {
		memo = record.memo
	}
	return buildOwnedView(record, amount, memo)
}

func evaluateEncrypted(record *outputRecord, keys *stealth.KeyBundle) *model.OwnedStealthTransactionView {
	if !keys.Owns(&record.address) {
		return nil
	}

	// The shared ratchet secret is the one-time public key both sides derive.
	ratchet := stealth.NewReceiver(record.address.PublicKey[:])
	payload, err := ratchet.DecryptPayload(&stealth.EncryptedPayload{
		Ciphertext:    record.encrypted.ciphertext,
		Nonce:         record.encrypted.nonce,
		MessageNumber: record.encrypted.messageNumber,
	})
	if err != nil {
		return nil
	}
	return buildOwnedView(record, payload.Amount, payload.Memo)
}

func buildOwnedView(record *outputRecord, amount uint64, memo *string) *model.OwnedStealthTransactionView {
	view := &model.OwnedStealthTransactionView{
		TransactionID: record.txID,
		Sender:        record.sender,
		Fee:           record.fee,
		Amount:        amount,
		Timestamp:     record.timestamp.UTC().Format(time.RFC3339),
		StealthAddress: model.StealthAddressObservation{
			PublicKey:   hex.EncodeToString(record.address.PublicKey[:]),
			TxPublicKey: hex.EncodeToString(record.address.TxPublicKey[:]),
		},
	}
	if memo != nil {
		view.Memo = memoToJSON(*memo)
	}
	return view
}

// memoToJSON returns the memo as parsed JSON when it is a JSON document,
// or as a JSON string otherwise
func memoToJSON(memo string) json.RawMessage {
	if json.Valid([]byte(memo)) {
		return json.RawMessage(memo)
	}
	quoted, err := json.Marshal(memo)
	if err != nil {
		return nil
	}
	return quoted
}

func saturatingAdd(a, b uint64) uint64 {
	sum := a + b
	if sum < a {
		return math.MaxUint64
	}
	return sum
}

// ============================================================================
// ROW CONVERSION
// ============================================================================

type outputRecord struct {
	txID      string
	sender    string
	fee       uint64
	timestamp time.Time
	address   stealth.Address

	// Plaintext form: amount set, memo optional. Encrypted form: encrypted
	// set, amount zero. Exactly one form per record.
	amount    uint64
	memo      *string
	encrypted *encryptedMemo
}

type encryptedMemo struct {
	ciphertext    []byte
	nonce         [stealth.NonceSize]byte
	messageNumber uint32
}

func recordFromRow(row *database.StealthOutput) (outputRecord, error) {
	var record outputRecord

	address, err := stealth.AddressFromBytes(row.StealthPublicKey, row.TxPublicKey)
	if err != nil {
		return record, err
	}
	if len(row.Commitment) != 32 {
		return record, fmt.Errorf("commitment must be 32 bytes, got %d", len(row.Commitment))
	}
	if row.Fee < 0 {
		return record, fmt.Errorf("fee %d cannot be represented as uint64", row.Fee)
	}

	record = outputRecord{
		txID:      row.TxID,
		sender:    row.Sender,
		fee:       uint64(row.Fee),
		timestamp: row.Timestamp.UTC(),
		address:   *address,
	}

	hasEncrypted, err := decodeEncryptedFields(row, &record)
	if err != nil {
		return record, err
	}

	switch {
	case row.Amount.Valid && !hasEncrypted:
		if row.Amount.Int64 < 0 {
			return record, fmt.Errorf("amount %d cannot be represented as uint64", row.Amount.Int64)
		}
		record.amount = uint64(row.Amount.Int64)
		if row.MemoPlaintext.Valid {
			memo := row.MemoPlaintext.String
			record.memo = &memo
		}
	case !row.Amount.Valid && hasEncrypted:
		// encrypted fields already populated
	default:
		return record, fmt.Errorf("stealth output row has inconsistent plaintext/encrypted data")
	}

	return record, nil
}

func decodeEncryptedFields(row *database.StealthOutput, record *outputRecord) (bool, error) {
	hasCiphertext := len(row.EncryptedMemoCiphertext) > 0
	hasNonce := len(row.EncryptedMemoNonce) > 0
	hasNumber := row.EncryptedMemoMessageNumber.Valid

	if !hasCiphertext && !hasNonce && !hasNumber {
		return false, nil
	}
	if !hasCiphertext || !hasNonce || !hasNumber {
		return false, fmt.Errorf("encrypted memo fields must all be present or all absent")
	}
	if len(row.EncryptedMemoNonce) != stealth.NonceSize {
		return false, fmt.Errorf("encrypted memo nonce must be %d bytes, got %d",
			stealth.NonceSize, len(row.EncryptedMemoNonce))
	}
	if row.EncryptedMemoMessageNumber.Int32 < 0 {
		return false, fmt.Errorf("encrypted memo message number %d cannot be negative",
			row.EncryptedMemoMessageNumber.Int32)
	}

	encrypted := &encryptedMemo{
		ciphertext:    row.EncryptedMemoCiphertext,
		messageNumber: uint32(row.EncryptedMemoMessageNumber.Int32),
	}
	copy(encrypted.nonce[:], row.EncryptedMemoNonce)
	record.encrypted = encrypted
	return true, nil
}
