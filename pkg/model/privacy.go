// Copyright 2025 Silica Protocol
//
// API view models for privacy endpoints.

package model

import "encoding/json"

// StealthAddressObservation is the hex form of a stored stealth address
type StealthAddressObservation struct {
	PublicKey   string `json:"public_key"`
	TxPublicKey string `json:"tx_public_key"`
}

// OwnedStealthTransactionView is one owned output as served to the wallet.
// Memo holds parsed JSON when the decrypted memo is a JSON document, or a
// JSON string otherwise.
type OwnedStealthTransactionView struct {
	TransactionID  string                    `json:"transaction_id"`
	Sender         string                    `json:"sender"`
	Fee            uint64                    `json:"fee"`
	Amount         uint64                    `json:"amount"`
	Timestamp      string                    `json:"timestamp"`
	StealthAddress StealthAddressObservation `json:"stealth_address"`
	Memo           json.RawMessage           `json:"memo,omitempty"`
}
