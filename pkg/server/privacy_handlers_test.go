// Copyright 2025 Silica Protocol
//
// Unit tests for the stealth scan endpoint's request validation and
// response shaping

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/silica-protocol/silica-api/pkg/database"
	"github.com/silica-protocol/silica-api/pkg/scanner"
	"github.com/silica-protocol/silica-api/pkg/stealth"
)

type emptyStore struct{}

func (emptyStore) CountStealthOutputs(ctx context.Context, fromBlock, toBlock int64) (int64, error) {
	return 0, nil
}

func (emptyStore) ListStealthOutputs(ctx context.Context, fromBlock, toBlock int64) ([]*database.StealthOutput, error) {
	return nil, nil
}

func newPrivacyHandlers(latestBlock uint64) *PrivacyHandlers {
	cell := &atomic.Uint64{}
	cell.Store(latestBlock)
	return NewPrivacyHandlers(scanner.New(emptyStore{}, nil), nil, cell, nil)
}

func scanRequestBody(t *testing.T, mutate func(*map[string]interface{})) *bytes.Reader {
	t.Helper()
	bundle, err := stealth.GenerateKeyBundle()
	if err != nil {
		t.Fatalf("failed to generate bundle: %v", err)
	}

	body := map[string]interface{}{
		"stealth_keys": map[string]interface{}{
			"view_keypair": map[string]string{
				"public": fmt.Sprintf("%x", bundle.View.Public),
				"secret": fmt.Sprintf("%x", bundle.View.Secret),
			},
			"spend_keypair": map[string]string{
				"public": fmt.Sprintf("%x", bundle.Spend.Public),
				"secret": fmt.Sprintf("%x", bundle.Spend.Secret),
			},
		},
	}
	if mutate != nil {
		mutate(&body)
	}

	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to encode request: %v", err)
	}
	return bytes.NewReader(raw)
}

func postScan(t *testing.T, h *PrivacyHandlers, body *bytes.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/privacy/stealth/scan", body)
	rec := httptest.NewRecorder()
	h.HandleScan(rec, req)
	return rec
}

func TestHandleScan_EmptyRange(t *testing.T) {
	h := newPrivacyHandlers(100)
	rec := postScan(t, h, scanRequestBody(t, nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var response struct {
		Range struct {
			FromBlock uint64 `json:"from_block"`
			ToBlock   uint64 `json:"to_block"`
		} `json:"range"`
		LatestBlock  uint64 `json:"latest_block"`
		TotalScanned int    `json:"total_scanned"`
		HasMore      bool   `json:"has_more"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.LatestBlock != 100 || response.Range.ToBlock != 100 {
		t.Errorf("scan should clamp to the latest indexed block: %+v", response)
	}
	if response.TotalScanned != 0 || response.HasMore {
		t.Errorf("empty store should yield an empty outcome: %+v", response)
	}
}

func TestHandleScan_RejectsBadKeys(t *testing.T) {
	h := newPrivacyHandlers(100)
	rec := postScan(t, h, scanRequestBody(t, func(body *map[string]interface{}) {
		(*body)["stealth_keys"] = map[string]interface{}{
			"view_keypair":  map[string]string{"public": "dead", "secret": "beef"},
			"spend_keypair": map[string]string{"public": "dead", "secret": "beef"},
		}
	}))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed keys, got %d", rec.Code)
	}
}

func TestHandleScan_RejectsZeroLimit(t *testing.T) {
	h := newPrivacyHandlers(100)
	rec := postScan(t, h, scanRequestBody(t, func(body *map[string]interface{}) {
		(*body)["limit"] = 0
	}))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for zero limit, got %d", rec.Code)
	}
}

func TestHandleScan_RejectsFromBeyondTip(t *testing.T) {
	h := newPrivacyHandlers(100)
	rec := postScan(t, h, scanRequestBody(t, func(body *map[string]interface{}) {
		(*body)["from_block"] = 101
	}))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for from_block beyond tip, got %d", rec.Code)
	}
}

func TestHandleScan_RejectsOversizedRange(t *testing.T) {
	h := newPrivacyHandlers(50_000)
	rec := postScan(t, h, scanRequestBody(t, func(body *map[string]interface{}) {
		(*body)["from_block"] = 0
		(*body)["to_block"] = 20_000
	}))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for oversized range, got %d", rec.Code)
	}
}

func TestHandleScan_RejectsGet(t *testing.T) {
	h := newPrivacyHandlers(100)
	req := httptest.NewRequest(http.MethodGet, "/privacy/stealth/scan", nil)
	rec := httptest.NewRecorder()
	h.HandleScan(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for GET, got %d", rec.Code)
	}
}
