// Copyright 2025 Silica Protocol
//
// Identity API handlers: profile lookup, wallet listing, wallet link
// verification and display name search.

package server

import (
	"encoding/hex"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/silica-protocol/silica-api/pkg/cache"
	"github.com/silica-protocol/silica-api/pkg/database"
	"github.com/silica-protocol/silica-api/pkg/identity"
	"github.com/silica-protocol/silica-api/pkg/model"
)

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 100
)

// IdentityHandlers provides HTTP handlers for identity endpoints
type IdentityHandlers struct {
	repos  *database.Repositories
	cache  *cache.APICache
	logger *log.Logger
}

// NewIdentityHandlers creates new identity handlers
func NewIdentityHandlers(repos *database.Repositories, apiCache *cache.APICache, logger *log.Logger) *IdentityHandlers {
	if logger == nil {
		logger = log.New(log.Writer(), "[IdentityAPI] ", log.LstdFlags)
	}
	return &IdentityHandlers{repos: repos, cache: apiCache, logger: logger}
}

// HandleIdentityPath routes /identity/{id}, /identity/{id}/wallets and
// /identity/{id}/wallets/verify
func (h *IdentityHandlers) HandleIdentityPath(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/identity/"), "/")
	parts := strings.Split(rest, "/")

	switch {
	case len(parts) == 1 && parts[0] != "":
		h.handleGetProfile(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "wallets":
		h.handleGetWallets(w, r, parts[0])
	case len(parts) == 3 && parts[1] == "wallets" && parts[2] == "verify":
		h.handleVerifyWallet(w, r, parts[0])
	default:
		writeError(h.logger, w, http.StatusNotFound, "NOT_FOUND", "Unknown identity route")
	}
}

func (h *IdentityHandlers) handleGetProfile(w http.ResponseWriter, r *http.Request, rawID string) {
	if r.Method != http.MethodGet {
		writeError(h.logger, w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only GET is allowed")
		return
	}

	identityBytes, err := identity.DecodeIdentityID(rawID)
	if err != nil {
		writeError(h.logger, w, http.StatusBadRequest, "INVALID_IDENTITY_ID", err.Error())
		return
	}
	canonicalID := identity.EncodeIdentityID(identityBytes)

	if cached, ok := h.cache.IdentityProfiles.Get(canonicalID); ok {
		writeJSON(h.logger, w, http.StatusOK, cached)
		return
	}

	profile, err := h.repos.Identity.GetProfile(r.Context(), identityBytes)
	if err == database.ErrIdentityNotFound {
		writeError(h.logger, w, http.StatusNotFound, "IDENTITY_NOT_FOUND", "Identity "+rawID+" not found")
		return
	}
	if err != nil {
		h.logger.Printf("Error loading identity profile: %v", err)
		writeError(h.logger, w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load identity profile")
		return
	}

	walletCount, err := h.repos.Identity.CountWalletLinks(r.Context(), identityBytes)
	if err != nil {
		h.logger.Printf("Error counting wallet links: %v", err)
		writeError(h.logger, w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load identity profile")
		return
	}

	view := profileView(canonicalID, profile, walletCount)
	h.cache.IdentityProfiles.Add(canonicalID, view)
	writeJSON(h.logger, w, http.StatusOK, view)
}

func (h *IdentityHandlers) handleGetWallets(w http.ResponseWriter, r *http.Request, rawID string) {
	if r.Method != http.MethodGet {
		writeError(h.logger, w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only GET is allowed")
		return
	}

	identityBytes, err := identity.DecodeIdentityID(rawID)
	if err != nil {
		writeError(h.logger, w, http.StatusBadRequest, "INVALID_IDENTITY_ID", err.Error())
		return
	}
	canonicalID := identity.EncodeIdentityID(identityBytes)

	if cached, ok := h.cache.IdentityWallets.Get(canonicalID); ok {
		writeJSON(h.logger, w, http.StatusOK, cached)
		return
	}

	links, err := h.repos.Identity.ListWalletLinks(r.Context(), identityBytes)
	if err != nil {
		h.logger.Printf("Error listing wallet links: %v", err)
		writeError(h.logger, w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load wallet links")
		return
	}

	views := make([]model.WalletLinkView, 0, len(links))
	for _, link := range links {
		views = append(views, walletLinkView(link))
	}

	h.cache.IdentityWallets.Add(canonicalID, views)
	writeJSON(h.logger, w, http.StatusOK, views)
}

type walletVerificationRequest struct {
	WalletAddress string  `json:"wallet_address"`
	Signature     *string `json:"signature,omitempty"`
}

type walletVerificationResponse struct {
	IdentityID      string  `json:"identity_id"`
	WalletAddress   string  `json:"wallet_address"`
	Linked          bool    `json:"linked"`
	Verified        bool    `json:"verified"`
	ProofSignature  *string `json:"proof_signature,omitempty"`
	VerifiedAt      *int64  `json:"verified_at,omitempty"`
	LastSyncedBlock *int64  `json:"last_synced_block,omitempty"`
	Reason          *string `json:"reason,omitempty"`
}

func (h *IdentityHandlers) handleVerifyWallet(w http.ResponseWriter, r *http.Request, rawID string) {
	if r.Method != http.MethodPost {
		writeError(h.logger, w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only POST is allowed")
		return
	}

	identityBytes, err := identity.DecodeIdentityID(rawID)
	if err != nil {
		writeError(h.logger, w, http.StatusBadRequest, "INVALID_IDENTITY_ID", err.Error())
		return
	}
	canonicalID := identity.EncodeIdentityID(identityBytes)

	var payload walletVerificationRequest
	if err := decodeJSONBody(r, &payload); err != nil {
		writeError(h.logger, w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	address, err := identity.SanitizeWalletAddress(payload.WalletAddress)
	if err != nil {
		writeError(h.logger, w, http.StatusBadRequest, "INVALID_WALLET_ADDRESS", err.Error())
		return
	}

	link, err := h.repos.Identity.FindWalletLink(r.Context(), identityBytes, address)
	if err == database.ErrWalletLinkNotFound {
		reason := "Wallet not linked to identity"
		writeJSON(h.logger, w, http.StatusOK, walletVerificationResponse{
			IdentityID:    canonicalID,
			WalletAddress: address,
			Reason:        &reason,
		})
		return
	}
	if err != nil {
		h.logger.Printf("Error finding wallet link: %v", err)
		writeError(h.logger, w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to verify wallet link")
		return
	}

	verified := link.VerifiedAt.Valid
	if payload.Signature != nil {
		provided, err := identity.DecodeSignature(*payload.Signature)
		if err != nil {
			writeError(h.logger, w, http.StatusBadRequest, "INVALID_SIGNATURE", err.Error())
			return
		}
		verified = string(provided) == string(link.ProofSignature)
	}

	response := walletVerificationResponse{
		IdentityID:      canonicalID,
		WalletAddress:   address,
		Linked:          true,
		Verified:        verified,
		LastSyncedBlock: &link.LastSyncedBlock,
	}
	signature := hex.EncodeToString(link.ProofSignature)
	response.ProofSignature = &signature
	if link.VerifiedAt.Valid {
		response.VerifiedAt = &link.VerifiedAt.Int64
	}
	if !verified {
		reason := "Signature mismatch or verification pending"
		response.Reason = &reason
	}
	writeJSON(h.logger, w, http.StatusOK, response)
}

// HandleSearch handles GET /identity/search?q=&limit=
func (h *IdentityHandlers) HandleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(h.logger, w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only GET is allowed")
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(h.logger, w, http.StatusBadRequest, "INVALID_QUERY", "Query parameter 'q' must not be empty")
		return
	}
	normalized := strings.ToLower(query)
	if len(normalized) < 2 {
		writeError(h.logger, w, http.StatusBadRequest, "INVALID_QUERY", "Query must be at least two characters")
		return
	}
	if len(normalized) > identity.MaxDisplayNameLen {
		writeError(h.logger, w, http.StatusBadRequest, "INVALID_QUERY", "Query too long")
		return
	}

	limit := defaultSearchLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > maxSearchLimit {
			writeError(h.logger, w, http.StatusBadRequest, "INVALID_LIMIT",
				"limit must be between 1 and "+strconv.Itoa(maxSearchLimit))
			return
		}
		limit = parsed
	}

	cacheKey := normalized + "::" + strconv.Itoa(limit)
	if cached, ok := h.cache.IdentitySearch.Get(cacheKey); ok {
		writeJSON(h.logger, w, http.StatusOK, searchResponse{Query: normalized, Limit: limit, Results: cached})
		return
	}

	profiles, err := h.repos.Identity.SearchProfiles(r.Context(), normalized, limit)
	if err != nil {
		h.logger.Printf("Error searching identities: %v", err)
		writeError(h.logger, w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to search identities")
		return
	}

	results := make([]model.IdentitySearchResult, 0, len(profiles))
	for _, profile := range profiles {
		result := model.IdentitySearchResult{
			IdentityID:      identity.EncodeIdentityID(profile.IdentityID),
			StatsVisibility: profile.StatsVisibility,
			UpdatedAt:       profile.UpdatedAt,
		}
		if profile.DisplayName.Valid {
			name := profile.DisplayName.String
			result.DisplayName = &name
		}
		results = append(results, result)
	}

	h.cache.IdentitySearch.Add(cacheKey, results)
	writeJSON(h.logger, w, http.StatusOK, searchResponse{Query: normalized, Limit: limit, Results: results})
}

type searchResponse struct {
	Query   string                       `json:"query"`
	Limit   int                          `json:"limit"`
	Results []model.IdentitySearchResult `json:"results"`
}

// ============================================================================
// VIEW BUILDERS
// ============================================================================

func profileView(canonicalID string, profile *database.IdentityProfile, walletCount int64) *model.IdentityProfileView {
	view := &model.IdentityProfileView{
		IdentityID:      canonicalID,
		StatsVisibility: profile.StatsVisibility,
		WalletCount:     walletCount,
		CreatedAt:       profile.CreatedAt,
		UpdatedAt:       profile.UpdatedAt,
		LastSyncedBlock: profile.LastSyncedBlock,
		ProfileVersion:  profile.ProfileVersion,
	}
	if profile.DisplayName.Valid {
		name := profile.DisplayName.String
		view.DisplayName = &name
	}
	if len(profile.AvatarHash) > 0 {
		hash := hex.EncodeToString(profile.AvatarHash)
		view.AvatarHash = &hash
	}
	if profile.Bio.Valid {
		bio := profile.Bio.String
		view.Bio = &bio
	}
	return view
}

func walletLinkView(link *database.WalletLink) model.WalletLinkView {
	view := model.WalletLinkView{
		WalletAddress:   link.WalletAddress,
		LinkType:        link.LinkType,
		ProofSignature:  hex.EncodeToString(link.ProofSignature),
		CreatedAt:       link.CreatedAt,
		LastSyncedBlock: link.LastSyncedBlock,
	}
	if link.VerifiedAt.Valid {
		view.VerifiedAt = &link.VerifiedAt.Int64
	}
	return view
}
