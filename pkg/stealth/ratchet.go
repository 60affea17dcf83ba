// Copyright 2025 Silica Protocol
//
// Double-Ratchet payload cipher for encrypted stealth output memos.
//
// Sender and receiver seed symmetric ratchets from the shared secret (the
// one-time stealth public key both sides can compute). Each message number
// gets its own ChaCha20-Poly1305 key derived by stepping an HKDF-SHA256
// chain, so the compromise of one message key exposes no earlier payloads.

package stealth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// NonceSize is the AEAD nonce length carried with each encrypted payload
const NonceSize = chacha20poly1305.NonceSize

// maxMessageNumber bounds the chain walk on decryption
const maxMessageNumber = 4096

// Payload is the private content of an encrypted stealth output
type Payload struct {
	Amount    uint64  `json:"amount"`
	Memo      *string `json:"memo,omitempty"`
	Fee       uint64  `json:"fee"`
	Timestamp uint64  `json:"timestamp"`
}

// EncryptedPayload is the wire form of an encrypted stealth output memo
type EncryptedPayload struct {
	Ciphertext    []byte
	Nonce         [NonceSize]byte
	MessageNumber uint32
}

// Ratchet is one side's ratchet state. Sender and receiver construct
// identical initial chains from the same shared secret.
type Ratchet struct {
	rootChainKey [KeySize]byte
	next         uint32
}

// NewSender creates the sending side of a ratchet
func NewSender(sharedSecret []byte) *Ratchet {
	return newRatchet(sharedSecret)
}

// NewReceiver creates the receiving side of a ratchet
func NewReceiver(sharedSecret []byte) *Ratchet {
	return newRatchet(sharedSecret)
}

func newRatchet(sharedSecret []byte) *Ratchet {
	reader := hkdf.New(sha256.New, sharedSecret,
		[]byte("silica-stealth-ratchet-v1"), []byte("chain root"))
	r := &Ratchet{}
	if _, err := io.ReadFull(reader, r.rootChainKey[:]); err != nil {
		panic(err)
	}
	return r
}

// EncryptPayload seals a payload under the next message key and advances
// the sender's counter
func (r *Ratchet) EncryptPayload(payload *Payload) (*EncryptedPayload, error) {
	if payload.Memo != nil && len(*payload.Memo) > StealthOutputMemoMaxBytes {
		return nil, fmt.Errorf("memo exceeds %d byte limit", StealthOutputMemoMaxBytes)
	}

	plaintext, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	messageNumber := r.next
	key, err := r.messageKey(messageNumber)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to build cipher: %w", err)
	}

	encrypted := &EncryptedPayload{MessageNumber: messageNumber}
	if _, err := io.ReadFull(rand.Reader, encrypted.Nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	encrypted.Ciphertext = aead.Seal(nil, encrypted.Nonce[:], plaintext, nil)

	r.next = messageNumber + 1
	return encrypted, nil
}

// DecryptPayload opens an encrypted payload at its carried message number
func (r *Ratchet) DecryptPayload(encrypted *EncryptedPayload) (*Payload, error) {
	if len(encrypted.Ciphertext) == 0 {
		return nil, fmt.Errorf("ciphertext cannot be empty")
	}

	key, err := r.messageKey(encrypted.MessageNumber)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to build cipher: %w", err)
	}

	plaintext, err := aead.Open(nil, encrypted.Nonce[:], encrypted.Ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt payload: %w", err)
	}

	payload := &Payload{}
	if err := json.Unmarshal(plaintext, payload); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	return payload, nil
}

// messageKey walks the chain from the root to the requested message number.
// Keys are derived on demand so out-of-order payloads decrypt correctly.
func (r *Ratchet) messageKey(messageNumber uint32) ([KeySize]byte, error) {
	var key [KeySize]byte
	if messageNumber > maxMessageNumber {
		return key, fmt.Errorf("message number %d exceeds chain bound %d", messageNumber, maxMessageNumber)
	}

	chain := r.rootChainKey
	for i := uint32(0); i < messageNumber; i++ {
		chain = stepChain(chain)
	}

	reader := hkdf.New(sha256.New, chain[:], nil, []byte("silica ratchet message key"))
	if _, err := io.ReadFull(reader, key[:]); err != nil {
		panic(err)
	}
	return key, nil
}

func stepChain(chain [KeySize]byte) [KeySize]byte {
	reader := hkdf.New(sha256.New, chain[:], nil, []byte("silica ratchet chain key"))
	var next [KeySize]byte
	if _, err := io.ReadFull(reader, next[:]); err != nil {
		panic(err)
	}
	return next
}
