// Copyright 2025 Silica Protocol
//
// JSON-RPC client for the Silica node. The wire transport is go-ethereum's
// rpc package; every call carries an explicit per-request timeout.

package rpc

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"time"

	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Blocks returned per get_blocks call never exceed this page size.
const maxBlockBatch = 10_000

// Client is a Silica node JSON-RPC client. It is safe for concurrent use;
// the underlying transport multiplexes HTTP connections.
type Client struct {
	inner   *gethrpc.Client
	timeout time.Duration
}

// NewClient dials the node RPC endpoint
func NewClient(endpoint string, timeout time.Duration) (*Client, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("RPC endpoint must be provided")
	}
	if timeout < 100*time.Millisecond || timeout > 60*time.Second {
		return nil, fmt.Errorf("RPC timeout %s outside [100ms, 60s]", timeout)
	}

	inner, err := gethrpc.DialOptions(context.Background(), endpoint,
		gethrpc.WithHTTPClient(&http.Client{Timeout: timeout}))
	if err != nil {
		return nil, fmt.Errorf("failed to build RPC client for %s: %w", endpoint, err)
	}

	return &Client{inner: inner, timeout: timeout}, nil
}

// Timeout returns the per-request timeout
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// Close releases the underlying transport
func (c *Client) Close() {
	c.inner.Close()
}

func (c *Client) call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.inner.CallContext(ctx, result, method, args...); err != nil {
		return fmt.Errorf("RPC call %s failed: %w", method, err)
	}
	return nil
}

// LatestBlockNumber returns the node's current chain height
func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	var response struct {
		BlockNumber uint64 `json:"block_number"`
	}
	if err := c.call(ctx, &response, "eth_blockNumber"); err != nil {
		return 0, err
	}
	if response.BlockNumber > math.MaxInt64 {
		return 0, fmt.Errorf("block height %d exceeds storage bounds", response.BlockNumber)
	}
	return response.BlockNumber, nil
}

// FetchBlocks returns the node's current candidate block batch. The batch
// may include already-indexed blocks; the caller filters by cursor.
func (c *Client) FetchBlocks(ctx context.Context) ([]Block, error) {
	var response struct {
		Blocks []Block `json:"blocks"`
	}
	if err := c.call(ctx, &response, "get_blocks"); err != nil {
		return nil, err
	}
	if len(response.Blocks) > maxBlockBatch {
		return nil, fmt.Errorf("block batch of %d exceeds page limit %d", len(response.Blocks), maxBlockBatch)
	}
	for i := range response.Blocks {
		if response.Blocks[i].BlockHash == "" {
			return nil, fmt.Errorf("RPC returned block %d with empty hash", response.Blocks[i].BlockNumber)
		}
	}
	return response.Blocks, nil
}

// IdentityRegistryUpdates returns registry deltas since fromBlock, up to
// limit records
func (c *Client) IdentityRegistryUpdates(ctx context.Context, fromBlock, limit uint64) (*IdentityRegistryResponse, error) {
	if limit == 0 || limit > 1024 {
		return nil, fmt.Errorf("identity registry limit %d outside [1, 1024]", limit)
	}

	var response IdentityRegistryResponse
	if err := c.call(ctx, &response, "identity_registryUpdates", fromBlock, limit); err != nil {
		return nil, err
	}
	if uint64(len(response.Updates)) > limit {
		return nil, fmt.Errorf("identity registry response of %d records exceeds requested limit %d",
			len(response.Updates), limit)
	}
	return &response, nil
}

// GenerateStealthAddress asks the node to mint a stealth address
func (c *Client) GenerateStealthAddress(ctx context.Context, request *StealthAddressRequest) (*StealthAddressResponse, error) {
	var response StealthAddressResponse
	if err := c.call(ctx, &response, "privacy_generateStealthAddress", request); err != nil {
		return nil, err
	}
	if response.Address == "" {
		return nil, fmt.Errorf("RPC returned empty stealth address")
	}
	if len(response.ViewKey) != 64 {
		return nil, fmt.Errorf("view key hex encoding must be 32 bytes, got %d chars", len(response.ViewKey))
	}
	return &response, nil
}

// SubmitStealthTransfer submits a stealth transfer through the node
func (c *Client) SubmitStealthTransfer(ctx context.Context, request *StealthTransferRequest) (*StealthTransferResponse, error) {
	var response StealthTransferResponse
	if err := c.call(ctx, &response, "privacy_submitStealthTransfer", request); err != nil {
		return nil, err
	}
	if response.TxHash == "" {
		return nil, fmt.Errorf("RPC returned empty transaction hash")
	}
	return &response, nil
}

// FaucetDrip asks the node to send testnet tokens
func (c *Client) FaucetDrip(ctx context.Context, address string, amount uint64) (*FaucetDripResponse, error) {
	if address == "" {
		return nil, fmt.Errorf("drip address must be provided")
	}
	if amount == 0 {
		return nil, fmt.Errorf("drip amount must be positive")
	}

	var response FaucetDripResponse
	if err := c.call(ctx, &response, "faucet_drip", address, amount); err != nil {
		return nil, err
	}
	if response.TxHash == "" {
		return nil, fmt.Errorf("RPC returned empty drip tx hash")
	}
	return &response, nil
}

// GovernanceCastVote casts a vote on a proposal via the node
func (c *Client) GovernanceCastVote(ctx context.Context, proposalID, voter string, approve bool) (*GovernanceVoteResponse, error) {
	if proposalID == "" {
		return nil, fmt.Errorf("proposal ID must not be empty")
	}
	if voter == "" {
		return nil, fmt.Errorf("voter address must be provided")
	}

	support := 0
	if approve {
		support = 1
	}

	var response GovernanceVoteResponse
	if err := c.call(ctx, &response, "governance_castVote", proposalID, voter, support); err != nil {
		return nil, err
	}
	return &response, nil
}

// GovernanceDelegateStake delegates voting stake to a validator via the node
func (c *Client) GovernanceDelegateStake(ctx context.Context, delegator, validator string, amount uint64) (*GovernanceDelegateResponse, error) {
	if delegator == "" {
		return nil, fmt.Errorf("delegator address must be provided")
	}
	if validator == "" {
		return nil, fmt.Errorf("validator address must be provided")
	}
	if amount == 0 {
		return nil, fmt.Errorf("delegation amount must be positive")
	}

	var response GovernanceDelegateResponse
	if err := c.call(ctx, &response, "governance_delegateStake", delegator, validator, amount); err != nil {
		return nil, err
	}
	return &response, nil
}
