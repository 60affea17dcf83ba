// Copyright 2025 Silica Protocol
//
// HTTP server wiring for the Silica API. Handlers are strictly read-only
// against indexed state; writes go through the node RPC.

package server

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/silica-protocol/silica-api/pkg/cache"
	"github.com/silica-protocol/silica-api/pkg/database"
	"github.com/silica-protocol/silica-api/pkg/rpc"
	"github.com/silica-protocol/silica-api/pkg/scanner"
)

// Server owns the HTTP mux and the shared read-path dependencies
type Server struct {
	mux              *http.ServeMux
	db               *database.Client
	cache            *cache.APICache
	lastIndexedBlock *atomic.Uint64
	startTime        time.Time
	logger           *log.Logger
}

// Options bundles the dependencies of the HTTP surface
type Options struct {
	DB               *database.Client
	Repos            *database.Repositories
	RPC              *rpc.Client
	Cache            *cache.APICache
	LastIndexedBlock *atomic.Uint64
	FaucetEnabled    bool
	Gatherer         prometheus.Gatherer
	Logger           *log.Logger
}

// New builds the server and registers all routes
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	}

	s := &Server{
		mux:              http.NewServeMux(),
		db:               opts.DB,
		cache:            opts.Cache,
		lastIndexedBlock: opts.LastIndexedBlock,
		startTime:        time.Now(),
		logger:           logger,
	}

	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/health/ready", s.handleHealthReady)
	if opts.Gatherer != nil {
		s.mux.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	identityHandlers := NewIdentityHandlers(opts.Repos, opts.Cache, nil)
	s.mux.HandleFunc("/identity/search", identityHandlers.HandleSearch)
	s.mux.HandleFunc("/identity/", identityHandlers.HandleIdentityPath)

	privacyHandlers := NewPrivacyHandlers(
		scanner.New(opts.Repos.Chain, nil), opts.RPC, opts.LastIndexedBlock, nil)
	s.mux.HandleFunc("/privacy/stealth/address", privacyHandlers.HandleGenerateAddress)
	s.mux.HandleFunc("/privacy/stealth/scan", privacyHandlers.HandleScan)
	s.mux.HandleFunc("/privacy/stealth/transfer", privacyHandlers.HandleTransfer)

	governanceHandlers := NewGovernanceHandlers(opts.Repos, opts.RPC, opts.Cache, nil)
	s.mux.HandleFunc("/governance/proposals", governanceHandlers.HandleProposals)
	s.mux.HandleFunc("/governance/proposals/", governanceHandlers.HandleProposalPath)
	s.mux.HandleFunc("/governance/votes", governanceHandlers.HandleSubmitVote)
	s.mux.HandleFunc("/governance/votes/", governanceHandlers.HandleVoteHistory)
	s.mux.HandleFunc("/governance/voting-power/", governanceHandlers.HandleVotingPower)
	s.mux.HandleFunc("/governance/delegations", governanceHandlers.HandleDelegate)
	s.mux.HandleFunc("/governance/delegations/", governanceHandlers.HandleDelegations)
	s.mux.HandleFunc("/governance/stats/", governanceHandlers.HandleStats)

	if opts.FaucetEnabled {
		faucetHandlers := NewFaucetHandlers(opts.Repos, opts.RPC, nil)
		s.mux.HandleFunc("/faucet/drip", faucetHandlers.HandleDrip)
		s.mux.HandleFunc("/faucet/status", faucetHandlers.HandleStatus)
		s.mux.HandleFunc("/faucet/history", faucetHandlers.HandleHistory)
		s.mux.HandleFunc("/faucet/check/", faucetHandlers.HandleCheckEligibility)
	}

	return s
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ============================================================================
// HEALTH ENDPOINTS
// ============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, map[string]interface{}{
		"status":         "live",
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
	})
}

func (s *Server) handleHealthReady(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		writeError(s.logger, w, http.StatusServiceUnavailable, "DATABASE_UNAVAILABLE", err.Error())
		return
	}

	writeJSON(s.logger, w, http.StatusOK, map[string]interface{}{
		"status":             "ready",
		"last_indexed_block": s.lastIndexedBlock.Load(),
		"cache_entries": map[string]int{
			"identity_profiles": s.cache.IdentityProfiles.Len(),
			"identity_wallets":  s.cache.IdentityWallets.Len(),
			"identity_search":   s.cache.IdentitySearch.Len(),
			"leaderboards":      s.cache.Leaderboards.Len(),
			"proposals":         s.cache.Proposals.Len(),
		},
	})
}

// ============================================================================
// SHARED HELPERS
// ============================================================================

func writeJSON(logger *log.Logger, w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Printf("Error encoding response: %v", err)
	}
}

func writeError(logger *log.Logger, w http.ResponseWriter, status int, code, message string) {
	writeJSON(logger, w, status, map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

func decodeJSONBody(r *http.Request, dst interface{}) error {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	return decoder.Decode(dst)
}

// getClientIP extracts the originating client address for rate limiting
func getClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	addr := r.RemoteAddr
	if colonIdx := strings.LastIndex(addr, ":"); colonIdx != -1 {
		return addr[:colonIdx]
	}
	return addr
}
