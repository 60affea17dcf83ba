// Copyright 2025 Silica Protocol
//
// Faucet API handlers: testnet token drips with per-address and per-IP
// rate limiting backed by the faucet_requests table.

package server

import (
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/silica-protocol/silica-api/pkg/database"
	"github.com/silica-protocol/silica-api/pkg/rpc"
)

// Drip bounds in base units, and the two rate-limit windows.
const (
	maxDripAmount     = 100_000_000_000
	defaultDripAmount = 10_000_000_000
	minDripAmount     = 100_000_000

	addressRateLimit = 24 * time.Hour
	ipRateLimit      = 60 * time.Second

	maxFaucetHistoryLimit = 100
)

// FaucetHandlers provides HTTP handlers for faucet endpoints
type FaucetHandlers struct {
	repos  *database.Repositories
	rpc    *rpc.Client
	logger *log.Logger
}

// NewFaucetHandlers creates new faucet handlers
func NewFaucetHandlers(repos *database.Repositories, rpcClient *rpc.Client, logger *log.Logger) *FaucetHandlers {
	if logger == nil {
		logger = log.New(log.Writer(), "[FaucetAPI] ", log.LstdFlags)
	}
	return &FaucetHandlers{repos: repos, rpc: rpcClient, logger: logger}
}

type dripRequest struct {
	Address string  `json:"address"`
	Amount  *uint64 `json:"amount,omitempty"`
}

type dripResponse struct {
	Success        bool   `json:"success"`
	RequestID      string `json:"request_id"`
	TxHash         string `json:"tx_hash"`
	Amount         uint64 `json:"amount"`
	Recipient      string `json:"recipient"`
	Message        string `json:"message"`
	NextEligibleAt string `json:"next_eligible_at"`
}

// HandleDrip handles POST /faucet/drip
func (h *FaucetHandlers) HandleDrip(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(h.logger, w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only POST is allowed")
		return
	}

	var payload dripRequest
	if err := decodeJSONBody(r, &payload); err != nil {
		writeError(h.logger, w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	if len(payload.Address) < 32 || len(payload.Address) > 64 {
		writeError(h.logger, w, http.StatusBadRequest, "INVALID_ADDRESS", "Invalid wallet address format")
		return
	}

	amount := uint64(defaultDripAmount)
	if payload.Amount != nil {
		amount = *payload.Amount
	}
	if amount < minDripAmount {
		writeError(h.logger, w, http.StatusBadRequest, "AMOUNT_TOO_SMALL",
			fmt.Sprintf("Amount below minimum of %d base units", minDripAmount))
		return
	}
	if amount > maxDripAmount {
		writeError(h.logger, w, http.StatusBadRequest, "AMOUNT_TOO_LARGE",
			fmt.Sprintf("Amount exceeds maximum of %d base units", maxDripAmount))
		return
	}

	ctx := r.Context()
	ipAddress := getClientIP(r)

	last, err := h.repos.Faucet.LastRequestForAddress(ctx, payload.Address, time.Now().Add(-addressRateLimit))
	if err != nil {
		h.logger.Printf("Error checking address rate limit: %v", err)
		writeError(h.logger, w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to check eligibility")
		return
	}
	if last != nil {
		wait := time.Until(last.CreatedAt.Add(addressRateLimit))
		writeError(h.logger, w, http.StatusTooManyRequests, "RATE_LIMITED",
			fmt.Sprintf("Rate limited. Please wait %d hours before requesting again.",
				int(wait.Hours())+1))
		return
	}

	recentIP, err := h.repos.Faucet.HasRecentRequestFromIP(ctx, ipAddress, time.Now().Add(-ipRateLimit))
	if err != nil {
		h.logger.Printf("Error checking ip rate limit: %v", err)
		writeError(h.logger, w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to check eligibility")
		return
	}
	if recentIP {
		writeError(h.logger, w, http.StatusTooManyRequests, "RATE_LIMITED",
			fmt.Sprintf("Please wait %d seconds between requests from the same IP.",
				int(ipRateLimit.Seconds())))
		return
	}

	drip, err := h.rpc.FaucetDrip(ctx, payload.Address, amount)
	if err != nil {
		writeError(h.logger, w, http.StatusBadGateway, "NODE_ERROR", err.Error())
		return
	}

	record := &database.FaucetRequest{
		RecipientAddress: payload.Address,
		IPAddress:        ipAddress,
		Amount:           int64(amount),
		TxHash:           drip.TxHash,
	}
	if err := h.repos.Faucet.Insert(ctx, record); err != nil {
		h.logger.Printf("Error recording faucet request: %v", err)
		writeError(h.logger, w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to record request")
		return
	}

	h.logger.Printf("Faucet drip: %d tokens to %s (tx: %s)", amount, payload.Address, drip.TxHash)

	writeJSON(h.logger, w, http.StatusOK, dripResponse{
		Success:        true,
		RequestID:      uuid.New().String(),
		TxHash:         drip.TxHash,
		Amount:         amount,
		Recipient:      payload.Address,
		Message:        "Tokens sent! They should arrive within a few seconds.",
		NextEligibleAt: time.Now().Add(addressRateLimit).UTC().Format(time.RFC3339),
	})
}

// HandleStatus handles GET /faucet/status
func (h *FaucetHandlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(h.logger, w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only GET is allowed")
		return
	}

	count, total, err := h.repos.Faucet.Totals(r.Context())
	if err != nil {
		h.logger.Printf("Error loading faucet totals: %v", err)
		writeError(h.logger, w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load faucet status")
		return
	}

	writeJSON(h.logger, w, http.StatusOK, map[string]interface{}{
		"enabled":              true,
		"default_drip_amount":  defaultDripAmount,
		"min_drip_amount":      minDripAmount,
		"max_drip_amount":      maxDripAmount,
		"total_requests":       count,
		"total_amount_dripped": total,
	})
}

// HandleCheckEligibility handles GET /faucet/check/{address}
func (h *FaucetHandlers) HandleCheckEligibility(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(h.logger, w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only GET is allowed")
		return
	}

	address := strings.Trim(strings.TrimPrefix(r.URL.Path, "/faucet/check/"), "/")
	if address == "" {
		writeError(h.logger, w, http.StatusBadRequest, "INVALID_ADDRESS", "Address is required")
		return
	}

	last, err := h.repos.Faucet.LastRequestForAddress(r.Context(), address, time.Now().Add(-addressRateLimit))
	if err != nil {
		h.logger.Printf("Error checking eligibility: %v", err)
		writeError(h.logger, w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to check eligibility")
		return
	}

	response := map[string]interface{}{
		"address":  address,
		"eligible": last == nil,
	}
	if last != nil {
		response["next_eligible_at"] = last.CreatedAt.Add(addressRateLimit).UTC().Format(time.RFC3339)
	}
	writeJSON(h.logger, w, http.StatusOK, response)
}

// HandleHistory handles GET /faucet/history
func (h *FaucetHandlers) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(h.logger, w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only GET is allowed")
		return
	}

	limit := maxFaucetHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > maxFaucetHistoryLimit {
			writeError(h.logger, w, http.StatusBadRequest, "INVALID_LIMIT",
				fmt.Sprintf("limit must be between 1 and %d", maxFaucetHistoryLimit))
			return
		}
		limit = parsed
	}

	requests, err := h.repos.Faucet.History(r.Context(), limit)
	if err != nil {
		h.logger.Printf("Error loading faucet history: %v", err)
		writeError(h.logger, w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load faucet history")
		return
	}

	entries := make([]map[string]interface{}, 0, len(requests))
	for _, req := range requests {
		entries = append(entries, map[string]interface{}{
			"recipient":  req.RecipientAddress,
			"amount":     req.Amount,
			"tx_hash":    req.TxHash,
			"created_at": req.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(h.logger, w, http.StatusOK, map[string]interface{}{"requests": entries})
}
