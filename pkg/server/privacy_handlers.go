// Copyright 2025 Silica Protocol
//
// Privacy API handlers: stealth address generation, owned output scanning
// and stealth transfer submission.

package server

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/silica-protocol/silica-api/pkg/rpc"
	"github.com/silica-protocol/silica-api/pkg/scanner"
	"github.com/silica-protocol/silica-api/pkg/stealth"
)

const (
	seedHexBytes             = 32
	maxStealthScanResults    = 1024
	maxStealthScanBlockRange = 10_000
)

// PrivacyHandlers provides HTTP handlers for privacy endpoints
type PrivacyHandlers struct {
	scanner          *scanner.Scanner
	rpc              *rpc.Client
	lastIndexedBlock *atomic.Uint64
	logger           *log.Logger
}

// NewPrivacyHandlers creates new privacy handlers
func NewPrivacyHandlers(sc *scanner.Scanner, rpcClient *rpc.Client, lastIndexedBlock *atomic.Uint64, logger *log.Logger) *PrivacyHandlers {
	if logger == nil {
		logger = log.New(log.Writer(), "[PrivacyAPI] ", log.LstdFlags)
	}
	return &PrivacyHandlers{
		scanner:          sc,
		rpc:              rpcClient,
		lastIndexedBlock: lastIndexedBlock,
		logger:           logger,
	}
}

// HandleGenerateAddress handles POST /privacy/stealth/address
func (h *PrivacyHandlers) HandleGenerateAddress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(h.logger, w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only POST is allowed")
		return
	}

	var payload rpc.StealthAddressRequest
	if err := decodeJSONBody(r, &payload); err != nil {
		writeError(h.logger, w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	if payload.SeedHex != nil {
		normalized := strings.ToLower(strings.TrimSpace(*payload.SeedHex))
		if len(normalized) != seedHexBytes*2 {
			writeError(h.logger, w, http.StatusBadRequest, "INVALID_SEED",
				fmt.Sprintf("seed_hex must be %d hex characters (%d bytes)", seedHexBytes*2, seedHexBytes))
			return
		}
		payload.SeedHex = &normalized
	}

	response, err := h.rpc.GenerateStealthAddress(r.Context(), &payload)
	if err != nil {
		writeError(h.logger, w, http.StatusBadGateway, "NODE_ERROR", err.Error())
		return
	}
	writeJSON(h.logger, w, http.StatusOK, response)
}

// ============================================================================
// SCAN ENDPOINT
// ============================================================================

type stealthScanRequest struct {
	StealthKeys rpc.StealthKeyBundle `json:"stealth_keys"`
	FromBlock   *uint64              `json:"from_block,omitempty"`
	ToBlock     *uint64              `json:"to_block,omitempty"`
	Limit       *uint64              `json:"limit,omitempty"`
}

type stealthScanRange struct {
	FromBlock uint64 `json:"from_block"`
	ToBlock   uint64 `json:"to_block"`
	Span      uint64 `json:"span"`
}

type stealthScanResponse struct {
	Range                stealthScanRange `json:"range"`
	LatestBlock          uint64           `json:"latest_block"`
	TotalScanned         int              `json:"total_scanned"`
	TotalBalance         uint64           `json:"total_balance"`
	TransactionsReturned int              `json:"transactions_returned"`
	HasMore              bool             `json:"has_more"`
	Transactions         interface{}      `json:"transactions"`
}

// HandleScan handles POST /privacy/stealth/scan
func (h *PrivacyHandlers) HandleScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(h.logger, w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only POST is allowed")
		return
	}

	var payload stealthScanRequest
	if err := decodeJSONBody(r, &payload); err != nil {
		writeError(h.logger, w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	keys, err := stealth.BundleFromHexComponents(
		payload.StealthKeys.ViewKeypair.Public,
		payload.StealthKeys.ViewKeypair.Secret,
		payload.StealthKeys.SpendKeypair.Public,
		payload.StealthKeys.SpendKeypair.Secret,
	)
	if err != nil {
		writeError(h.logger, w, http.StatusBadRequest, "INVALID_KEYS", err.Error())
		return
	}

	limit := uint64(maxStealthScanResults)
	if payload.Limit != nil {
		limit = *payload.Limit
	}
	if limit == 0 || limit > maxStealthScanResults {
		writeError(h.logger, w, http.StatusBadRequest, "INVALID_LIMIT",
			fmt.Sprintf("limit must be between 1 and %d", maxStealthScanResults))
		return
	}

	latestBlock := h.lastIndexedBlock.Load()
	fromBlock := uint64(0)
	if payload.FromBlock != nil {
		fromBlock = *payload.FromBlock
	}
	if fromBlock > latestBlock {
		writeError(h.logger, w, http.StatusBadRequest, "INVALID_RANGE",
			fmt.Sprintf("from_block %d exceeds latest indexed block %d", fromBlock, latestBlock))
		return
	}

	toBlock := latestBlock
	if payload.ToBlock != nil && *payload.ToBlock < latestBlock {
		toBlock = *payload.ToBlock
	}
	if toBlock < fromBlock {
		writeError(h.logger, w, http.StatusBadRequest, "INVALID_RANGE",
			"to_block must be greater than or equal to from_block")
		return
	}

	span := toBlock - fromBlock
	if span > maxStealthScanBlockRange {
		writeError(h.logger, w, http.StatusBadRequest, "RANGE_TOO_LARGE",
			fmt.Sprintf("Requested scan range %d exceeds static limit of %d blocks", span, maxStealthScanBlockRange))
		return
	}

	outcome, err := h.scanner.Scan(r.Context(), keys, fromBlock, toBlock, int(limit))
	if err != nil {
		h.writeScanError(w, err)
		return
	}

	writeJSON(h.logger, w, http.StatusOK, stealthScanResponse{
		Range:                stealthScanRange{FromBlock: fromBlock, ToBlock: toBlock, Span: span},
		LatestBlock:          latestBlock,
		TotalScanned:         outcome.TotalScanned,
		TotalBalance:         outcome.TotalBalance,
		TransactionsReturned: len(outcome.Transactions),
		HasMore:              outcome.HasMore,
		Transactions:         outcome.Transactions,
	})
}

func (h *PrivacyHandlers) writeScanError(w http.ResponseWriter, err error) {
	var bound *scanner.BlockBoundError
	var overflow *scanner.OutputOverflowError
	switch {
	case errors.As(err, &bound):
		writeError(h.logger, w, http.StatusBadRequest, "BLOCK_BOUND_EXCEEDED", bound.Error())
	case errors.As(err, &overflow):
		writeError(h.logger, w, http.StatusBadRequest, "OUTPUT_OVERFLOW", overflow.Error())
	default:
		h.logger.Printf("Stealth scan database error: %v", err)
		writeError(h.logger, w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to query stealth outputs")
	}
}

// ============================================================================
// TRANSFER ENDPOINT
// ============================================================================

// HandleTransfer handles POST /privacy/stealth/transfer
func (h *PrivacyHandlers) HandleTransfer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(h.logger, w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only POST is allowed")
		return
	}

	var payload rpc.StealthTransferRequest
	if err := decodeJSONBody(r, &payload); err != nil {
		writeError(h.logger, w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	if payload.Amount == 0 {
		writeError(h.logger, w, http.StatusBadRequest, "INVALID_AMOUNT", "amount must be greater than zero")
		return
	}
	if payload.Memo != nil && len(*payload.Memo) > stealth.StealthOutputMemoMaxBytes {
		writeError(h.logger, w, http.StatusBadRequest, "MEMO_TOO_LARGE",
			fmt.Sprintf("memo length must not exceed %d bytes", stealth.StealthOutputMemoMaxBytes))
		return
	}
	if payload.PrivacyLevel == "" {
		payload.PrivacyLevel = "encrypted"
	}
	if payload.PrivacyLevel != "stealth" && payload.PrivacyLevel != "encrypted" {
		writeError(h.logger, w, http.StatusBadRequest, "INVALID_PRIVACY_LEVEL",
			"privacy_level must be \"stealth\" or \"encrypted\"")
		return
	}

	if _, err := stealth.BundleFromHexComponents(
		payload.SenderKeys.ViewKeypair.Public,
		payload.SenderKeys.ViewKeypair.Secret,
		payload.SenderKeys.SpendKeypair.Public,
		payload.SenderKeys.SpendKeypair.Secret,
	); err != nil {
		writeError(h.logger, w, http.StatusBadRequest, "INVALID_KEYS", err.Error())
		return
	}
	if _, err := stealth.KeyFromHex(payload.RecipientViewKey, "recipient view key"); err != nil {
		writeError(h.logger, w, http.StatusBadRequest, "INVALID_KEYS", err.Error())
		return
	}
	if _, err := stealth.KeyFromHex(payload.RecipientSpendKey, "recipient spend key"); err != nil {
		writeError(h.logger, w, http.StatusBadRequest, "INVALID_KEYS", err.Error())
		return
	}

	response, err := h.rpc.SubmitStealthTransfer(r.Context(), &payload)
	if err != nil {
		writeError(h.logger, w, http.StatusBadGateway, "NODE_ERROR", err.Error())
		return
	}
	writeJSON(h.logger, w, http.StatusOK, response)
}
