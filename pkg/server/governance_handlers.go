// Copyright 2025 Silica Protocol
//
// Governance API handlers: proposal listing, vote history, voting power,
// delegations and write-through submission to the node.

package server

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/silica-protocol/silica-api/pkg/cache"
	"github.com/silica-protocol/silica-api/pkg/database"
	"github.com/silica-protocol/silica-api/pkg/rpc"
)

const (
	maxProposalQueryLimit = 100
	maxVoteHistoryLimit   = 500
	maxDelegationAmount   = 100_000_000_000_000
)

// GovernanceHandlers provides HTTP handlers for governance endpoints
type GovernanceHandlers struct {
	repos  *database.Repositories
	rpc    *rpc.Client
	cache  *cache.APICache
	logger *log.Logger
}

// NewGovernanceHandlers creates new governance handlers
func NewGovernanceHandlers(repos *database.Repositories, rpcClient *rpc.Client, apiCache *cache.APICache, logger *log.Logger) *GovernanceHandlers {
	if logger == nil {
		logger = log.New(log.Writer(), "[GovernanceAPI] ", log.LstdFlags)
	}
	return &GovernanceHandlers{repos: repos, rpc: rpcClient, cache: apiCache, logger: logger}
}

// ============================================================================
// PROPOSAL ENDPOINTS
// ============================================================================

// HandleProposals handles GET /governance/proposals
func (h *GovernanceHandlers) HandleProposals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(h.logger, w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only GET is allowed")
		return
	}

	state := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("state")))
	limit, ok := h.parseLimit(w, r, maxProposalQueryLimit)
	if !ok {
		return
	}

	cacheKey := fmt.Sprintf("proposals::%s::%d", state, limit)
	if cached, found := h.cache.Proposals.Get(cacheKey); found {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(cached)
		return
	}

	proposals, err := h.repos.Governance.ListProposals(r.Context(), state, limit)
	if err != nil {
		h.logger.Printf("Error listing proposals: %v", err)
		writeError(h.logger, w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list proposals")
		return
	}

	views := make([]proposalView, 0, len(proposals))
	for _, p := range proposals {
		views = append(views, newProposalView(p))
	}

	body, err := json.Marshal(map[string]interface{}{"proposals": views})
	if err != nil {
		writeError(h.logger, w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to encode proposals")
		return
	}
	h.cache.Proposals.Add(cacheKey, body)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// HandleProposalPath routes /governance/proposals/{id} and
// /governance/proposals/{id}/votes
func (h *GovernanceHandlers) HandleProposalPath(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(h.logger, w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only GET is allowed")
		return
	}

	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/governance/proposals/"), "/")
	parts := strings.Split(rest, "/")

	proposalID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(h.logger, w, http.StatusBadRequest, "INVALID_PROPOSAL_ID", "Proposal id must be an integer")
		return
	}

	switch {
	case len(parts) == 1:
		h.handleGetProposal(w, r, proposalID)
	case len(parts) == 2 && parts[1] == "votes":
		h.handleProposalVotes(w, r, proposalID)
	default:
		writeError(h.logger, w, http.StatusNotFound, "NOT_FOUND", "Unknown governance route")
	}
}

func (h *GovernanceHandlers) handleGetProposal(w http.ResponseWriter, r *http.Request, proposalID int64) {
	proposal, err := h.repos.Governance.GetProposal(r.Context(), proposalID)
	if err == database.ErrProposalNotFound {
		writeError(h.logger, w, http.StatusNotFound, "PROPOSAL_NOT_FOUND",
			fmt.Sprintf("Proposal %d not found", proposalID))
		return
	}
	if err != nil {
		h.logger.Printf("Error loading proposal: %v", err)
		writeError(h.logger, w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load proposal")
		return
	}
	writeJSON(h.logger, w, http.StatusOK, newProposalView(proposal))
}

func (h *GovernanceHandlers) handleProposalVotes(w http.ResponseWriter, r *http.Request, proposalID int64) {
	limit, ok := h.parseLimit(w, r, maxVoteHistoryLimit)
	if !ok {
		return
	}

	votes, err := h.repos.Governance.ListVotesForProposal(r.Context(), proposalID, limit)
	if err != nil {
		h.logger.Printf("Error listing votes: %v", err)
		writeError(h.logger, w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list votes")
		return
	}

	views := make([]voteView, 0, len(votes))
	for _, v := range votes {
		views = append(views, newVoteView(v))
	}
	writeJSON(h.logger, w, http.StatusOK, map[string]interface{}{
		"proposal_id": proposalID,
		"votes":       views,
	})
}

// ============================================================================
// VOTE ENDPOINTS
// ============================================================================

// HandleVoteHistory handles GET /governance/votes/{address}
func (h *GovernanceHandlers) HandleVoteHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(h.logger, w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only GET is allowed")
		return
	}

	address := strings.Trim(strings.TrimPrefix(r.URL.Path, "/governance/votes/"), "/")
	if address == "" {
		writeError(h.logger, w, http.StatusBadRequest, "INVALID_ADDRESS", "Voter address is required")
		return
	}

	limit, ok := h.parseLimit(w, r, maxVoteHistoryLimit)
	if !ok {
		return
	}

	votes, err := h.repos.Governance.ListVotesByVoter(r.Context(), address, limit)
	if err != nil {
		h.logger.Printf("Error listing vote history: %v", err)
		writeError(h.logger, w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list vote history")
		return
	}

	views := make([]voteView, 0, len(votes))
	for _, v := range votes {
		views = append(views, newVoteView(v))
	}
	writeJSON(h.logger, w, http.StatusOK, map[string]interface{}{
		"voter": address,
		"votes": views,
	})
}

type submitVoteRequest struct {
	ProposalID string `json:"proposal_id"`
	Voter      string `json:"voter"`
	Approve    bool   `json:"approve"`
	Reason     string `json:"reason,omitempty"`
}

// HandleSubmitVote handles POST /governance/votes
func (h *GovernanceHandlers) HandleSubmitVote(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(h.logger, w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only POST is allowed")
		return
	}

	var payload submitVoteRequest
	if err := decodeJSONBody(r, &payload); err != nil {
		writeError(h.logger, w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if payload.ProposalID == "" || payload.Voter == "" {
		writeError(h.logger, w, http.StatusBadRequest, "INVALID_REQUEST", "proposal_id and voter are required")
		return
	}
	proposalID, err := strconv.ParseInt(payload.ProposalID, 10, 64)
	if err != nil {
		writeError(h.logger, w, http.StatusBadRequest, "INVALID_PROPOSAL_ID", "Proposal id must be an integer")
		return
	}

	response, err := h.rpc.GovernanceCastVote(r.Context(), payload.ProposalID, payload.Voter, payload.Approve)
	if err != nil {
		writeError(h.logger, w, http.StatusBadGateway, "NODE_ERROR", err.Error())
		return
	}

	support := int32(0)
	if response.Approve {
		support = 1
	}
	weight := int64(0)
	if response.VoteWeight <= 1<<62 {
		weight = int64(response.VoteWeight)
	}
	vote := &database.GovernanceVote{
		ProposalID: proposalID,
		Voter:      payload.Voter,
		Support:    support,
		Weight:     weight,
	}
	if payload.Reason != "" {
		vote.Reason = sql.NullString{String: payload.Reason, Valid: true}
	}
	if err := h.repos.Governance.RecordVote(r.Context(), vote); err != nil {
		h.logger.Printf("Error recording vote locally: %v", err)
	}

	writeJSON(h.logger, w, http.StatusOK, response)
}

// ============================================================================
// DELEGATION AND STATS ENDPOINTS
// ============================================================================

type votingPowerView struct {
	Address string `json:"address"`
	// VotingPower is the net inbound stake: delegated in minus delegated
	// out, clamped at zero.
	VotingPower    int64 `json:"voting_power"`
	DelegatedPower int64 `json:"delegated_power"`
	TotalPower     int64 `json:"total_power"`
}

// HandleVotingPower handles GET /governance/voting-power/{address}
func (h *GovernanceHandlers) HandleVotingPower(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(h.logger, w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only GET is allowed")
		return
	}

	address := strings.Trim(strings.TrimPrefix(r.URL.Path, "/governance/voting-power/"), "/")
	if address == "" {
		writeError(h.logger, w, http.StatusBadRequest, "INVALID_ADDRESS", "Address is required")
		return
	}
	if len(address) > 128 {
		writeError(h.logger, w, http.StatusBadRequest, "INVALID_ADDRESS", "Address exceeds 128 character bound")
		return
	}

	ctx := r.Context()
	delegatedTo, err := h.repos.Governance.SumDelegatedTo(ctx, address)
	if err != nil {
		h.logger.Printf("Error summing inbound delegations: %v", err)
		writeError(h.logger, w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to compute voting power")
		return
	}
	delegatedOut, err := h.repos.Governance.SumDelegatedFrom(ctx, address)
	if err != nil {
		h.logger.Printf("Error summing outbound delegations: %v", err)
		writeError(h.logger, w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to compute voting power")
		return
	}

	writeJSON(h.logger, w, http.StatusOK, votingPowerView{
		Address:        address,
		VotingPower:    clampNonNegative(delegatedTo - delegatedOut),
		DelegatedPower: delegatedOut,
		TotalPower:     delegatedTo + delegatedOut,
	})
}

// HandleDelegations handles GET /governance/delegations/{address}
func (h *GovernanceHandlers) HandleDelegations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(h.logger, w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only GET is allowed")
		return
	}

	address := strings.Trim(strings.TrimPrefix(r.URL.Path, "/governance/delegations/"), "/")
	if address == "" {
		writeError(h.logger, w, http.StatusBadRequest, "INVALID_ADDRESS", "Address is required")
		return
	}

	delegations, err := h.repos.Governance.ListDelegationsFrom(r.Context(), address)
	if err != nil {
		h.logger.Printf("Error listing delegations: %v", err)
		writeError(h.logger, w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list delegations")
		return
	}

	views := make([]map[string]interface{}, 0, len(delegations))
	for _, d := range delegations {
		views = append(views, map[string]interface{}{
			"delegator":    d.Delegator,
			"delegatee":    d.Delegatee,
			"amount":       d.Amount,
			"delegated_at": d.DelegatedAt,
		})
	}
	writeJSON(h.logger, w, http.StatusOK, map[string]interface{}{
		"delegator":   address,
		"delegations": views,
	})
}

type delegateRequest struct {
	Delegator string `json:"delegator"`
	Validator string `json:"validator"`
	Amount    uint64 `json:"amount"`
}

// HandleDelegate handles POST /governance/delegations
func (h *GovernanceHandlers) HandleDelegate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(h.logger, w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only POST is allowed")
		return
	}

	var payload delegateRequest
	if err := decodeJSONBody(r, &payload); err != nil {
		writeError(h.logger, w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if payload.Delegator == "" || payload.Validator == "" {
		writeError(h.logger, w, http.StatusBadRequest, "INVALID_REQUEST", "delegator and validator are required")
		return
	}
	if payload.Amount == 0 || payload.Amount > maxDelegationAmount {
		writeError(h.logger, w, http.StatusBadRequest, "INVALID_AMOUNT",
			fmt.Sprintf("amount must be between 1 and %d", maxDelegationAmount))
		return
	}

	response, err := h.rpc.GovernanceDelegateStake(r.Context(), payload.Delegator, payload.Validator, payload.Amount)
	if err != nil {
		writeError(h.logger, w, http.StatusBadGateway, "NODE_ERROR", err.Error())
		return
	}

	delegation := &database.GovernanceDelegation{
		Delegator: payload.Delegator,
		Delegatee: payload.Validator,
		Amount:    int64(payload.Amount),
	}
	if err := h.repos.Governance.RecordDelegation(r.Context(), delegation); err != nil {
		h.logger.Printf("Error recording delegation locally: %v", err)
	}

	writeJSON(h.logger, w, http.StatusOK, response)
}

type governanceStatsView struct {
	Address            string  `json:"address"`
	ProposalsSubmitted int64   `json:"proposals_submitted"`
	VotesCast          int64   `json:"votes_cast"`
	ParticipationRate  float64 `json:"participation_rate"`
	LastVoteAt         *int64  `json:"last_vote_at,omitempty"`
	DelegatedIn        int64   `json:"delegated_in"`
	DelegatedOut       int64   `json:"delegated_out"`
	NetVotingPower     int64   `json:"net_voting_power"`
}

// HandleStats handles GET /governance/stats/{address}
func (h *GovernanceHandlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(h.logger, w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only GET is allowed")
		return
	}

	address := strings.Trim(strings.TrimPrefix(r.URL.Path, "/governance/stats/"), "/")
	if address == "" {
		writeError(h.logger, w, http.StatusBadRequest, "INVALID_ADDRESS", "Address is required")
		return
	}
	if len(address) > 128 {
		writeError(h.logger, w, http.StatusBadRequest, "INVALID_ADDRESS", "Address exceeds 128 character bound")
		return
	}

	ctx := r.Context()
	proposalsSubmitted, err := h.repos.Governance.CountProposalsByProposer(ctx, address)
	if err != nil {
		h.logger.Printf("Error counting submitted proposals: %v", err)
		writeError(h.logger, w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load stats")
		return
	}
	votesCast, err := h.repos.Governance.CountVotesByVoter(ctx, address)
	if err != nil {
		h.logger.Printf("Error counting votes: %v", err)
		writeError(h.logger, w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load stats")
		return
	}
	totalProposals, err := h.repos.Governance.CountProposals(ctx)
	if err != nil {
		h.logger.Printf("Error counting proposals: %v", err)
		writeError(h.logger, w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load stats")
		return
	}

	participationRate := 0.0
	if totalProposals > 0 {
		participationRate = float64(votesCast) / float64(totalProposals)
		if participationRate > 1.0 {
			participationRate = 1.0
		}
	}

	lastVote, err := h.repos.Governance.LastVoteTime(ctx, address)
	if err != nil {
		h.logger.Printf("Error loading last vote: %v", err)
		writeError(h.logger, w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load stats")
		return
	}

	delegatedIn, err := h.repos.Governance.SumDelegatedTo(ctx, address)
	if err != nil {
		h.logger.Printf("Error summing inbound delegations: %v", err)
		writeError(h.logger, w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load stats")
		return
	}
	delegatedOut, err := h.repos.Governance.SumDelegatedFrom(ctx, address)
	if err != nil {
		h.logger.Printf("Error summing outbound delegations: %v", err)
		writeError(h.logger, w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load stats")
		return
	}

	view := governanceStatsView{
		Address:            address,
		ProposalsSubmitted: proposalsSubmitted,
		VotesCast:          votesCast,
		ParticipationRate:  participationRate,
		DelegatedIn:        delegatedIn,
		DelegatedOut:       delegatedOut,
		NetVotingPower:     clampNonNegative(delegatedIn - delegatedOut),
	}
	if lastVote.Valid {
		at := lastVote.Time.Unix()
		view.LastVoteAt = &at
	}
	writeJSON(h.logger, w, http.StatusOK, view)
}

func clampNonNegative(value int64) int64 {
	if value < 0 {
		return 0
	}
	return value
}

// ============================================================================
// HELPERS AND VIEWS
// ============================================================================

func (h *GovernanceHandlers) parseLimit(w http.ResponseWriter, r *http.Request, max int) (int, bool) {
	limit := max
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > max {
			writeError(h.logger, w, http.StatusBadRequest, "INVALID_LIMIT",
				fmt.Sprintf("limit must be between 1 and %d", max))
			return 0, false
		}
		limit = parsed
	}
	return limit, true
}

type proposalView struct {
	ProposalID   int64           `json:"proposal_id"`
	Proposer     string          `json:"proposer"`
	Targets      json.RawMessage `json:"targets"`
	Values       json.RawMessage `json:"values"`
	Calldatas    json.RawMessage `json:"calldatas"`
	Description  string          `json:"description"`
	VoteStart    int64           `json:"vote_start"`
	VoteEnd      int64           `json:"vote_end"`
	VotesFor     int64           `json:"votes_for"`
	VotesAgainst int64           `json:"votes_against"`
	VotesAbstain int64           `json:"votes_abstain"`
	State        string          `json:"state"`
	ExecutedAt   *string         `json:"executed_at,omitempty"`
}

func newProposalView(p *database.GovernanceProposal) proposalView {
	view := proposalView{
		ProposalID:   p.ProposalID,
		Proposer:     p.Proposer,
		Targets:      p.Targets,
		Values:       p.Values,
		Calldatas:    p.Calldatas,
		Description:  p.Description,
		VoteStart:    p.VoteStart,
		VoteEnd:      p.VoteEnd,
		VotesFor:     p.VotesFor,
		VotesAgainst: p.VotesAgainst,
		VotesAbstain: p.VotesAbstain,
		State:        p.State,
	}
	if p.ExecutedAt.Valid {
		executed := p.ExecutedAt.Time.UTC().Format("2006-01-02T15:04:05Z07:00")
		view.ExecutedAt = &executed
	}
	return view
}

type voteView struct {
	ProposalID int64   `json:"proposal_id"`
	Voter      string  `json:"voter"`
	Support    int32   `json:"support"`
	Weight     int64   `json:"weight"`
	Reason     *string `json:"reason,omitempty"`
	VotedAt    string  `json:"voted_at"`
}

func newVoteView(v *database.GovernanceVote) voteView {
	view := voteView{
		ProposalID: v.ProposalID,
		Voter:      v.Voter,
		Support:    v.Support,
		Weight:     v.Weight,
		VotedAt:    v.VotedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
	if v.Reason.Valid {
		reason := v.Reason.String
		view.Reason = &reason
	}
	return view
}
