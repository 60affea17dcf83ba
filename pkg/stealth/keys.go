// Copyright 2025 Silica Protocol
//
// Stealth key bundles and one-time address derivation.
//
// A stealth address pairs a one-time public key P with the sender's
// ephemeral transaction key R. The sender derives P from the recipient's
// view and spend public keys plus fresh randomness; only the holder of the
// matching view secret can recognize P, by replaying the ECDH exchange
// against R and re-deriving the one-time key.

package stealth

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/silica-protocol/silica-api/pkg/identity"
)

// KeySize is the byte length of all stealth key material
const KeySize = 32

// StealthOutputMemoMaxBytes bounds plaintext and decrypted memo sizes
const StealthOutputMemoMaxBytes = 512

// KeyPair is one X25519 keypair half of a stealth key bundle
type KeyPair struct {
	Public [KeySize]byte
	Secret [KeySize]byte
}

// KeyBundle holds the view and spend keypairs of a stealth recipient.
// Scanning requires the view secret; the spend secret is carried for
// transfer submission and is not used during scans.
type KeyBundle struct {
	View  KeyPair
	Spend KeyPair
}

// Address is a one-time stealth address: the derived public key and the
// sender's ephemeral transaction public key
type Address struct {
	PublicKey   [KeySize]byte
	TxPublicKey [KeySize]byte
}

// AddressFromBytes builds an Address from raw 32-byte components
func AddressFromBytes(publicKey, txPublicKey []byte) (*Address, error) {
	if len(publicKey) != KeySize {
		return nil, fmt.Errorf("stealth public key must be %d bytes, got %d", KeySize, len(publicKey))
	}
	if len(txPublicKey) != KeySize {
		return nil, fmt.Errorf("tx public key must be %d bytes, got %d", KeySize, len(txPublicKey))
	}
	addr := &Address{}
	copy(addr.PublicKey[:], publicKey)
	copy(addr.TxPublicKey[:], txPublicKey)
	return addr, nil
}

// KeyFromHex parses one 32-byte key from hex
func KeyFromHex(value, label string) ([KeySize]byte, error) {
	var key [KeySize]byte
	decoded, err := identity.DecodeHexWithExpected(value, KeySize, label)
	if err != nil {
		return key, err
	}
	copy(key[:], decoded)
	return key, nil
}

// GenerateKeyBundle creates a fresh view/spend key bundle
func GenerateKeyBundle() (*KeyBundle, error) {
	view, err := generateKeyPair()
	if err != nil {
		return nil, err
	}
	spend, err := generateKeyPair()
	if err != nil {
		return nil, err
	}
	return &KeyBundle{View: *view, Spend: *spend}, nil
}

func generateKeyPair() (*KeyPair, error) {
	pair := &KeyPair{}
	if _, err := io.ReadFull(rand.Reader, pair.Secret[:]); err != nil {
		return nil, fmt.Errorf("failed to generate key material: %w", err)
	}
	public, err := curve25519.X25519(pair.Secret[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive public key: %w", err)
	}
	copy(pair.Public[:], public)
	return pair, nil
}

// BundleFromHexComponents parses a key bundle from its four hex halves
func BundleFromHexComponents(viewPub, viewSec, spendPub, spendSec string) (*KeyBundle, error) {
	bundle := &KeyBundle{}
	for _, part := range []struct {
		value string
		label string
		dst   *[KeySize]byte
	}{
		{viewPub, "view public key", &bundle.View.Public},
		{viewSec, "view secret key", &bundle.View.Secret},
		{spendPub, "spend public key", &bundle.Spend.Public},
		{spendSec, "spend secret key", &bundle.Spend.Secret},
	} {
		decoded, err := identity.DecodeHexWithExpected(part.value, KeySize, part.label)
		if err != nil {
			return nil, err
		}
		copy(part.dst[:], decoded)
	}
	return bundle, nil
}

// DeriveAddress derives a fresh one-time address for a recipient from their
// view and spend public keys. Returns the address and the ephemeral secret
// the sender used. Payload encryption is seeded from the address's one-time
// public key, not from this secret.
func DeriveAddress(viewPub, spendPub [KeySize]byte) (*Address, [KeySize]byte, error) {
	var ephemeral [KeySize]byte
	if _, err := io.ReadFull(rand.Reader, ephemeral[:]); err != nil {
		return nil, ephemeral, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}

	txPublic, err := curve25519.X25519(ephemeral[:], curve25519.Basepoint)
	if err != nil {
		return nil, ephemeral, fmt.Errorf("failed to derive tx public key: %w", err)
	}

	shared, err := curve25519.X25519(ephemeral[:], viewPub[:])
	if err != nil {
		return nil, ephemeral, fmt.Errorf("failed to derive shared point: %w", err)
	}

	oneTime := deriveOneTimeSecret(shared, spendPub)
	public, err := curve25519.X25519(oneTime[:], curve25519.Basepoint)
	if err != nil {
		return nil, ephemeral, fmt.Errorf("failed to derive one-time public key: %w", err)
	}

	addr := &Address{}
	copy(addr.PublicKey[:], public)
	copy(addr.TxPublicKey[:], txPublic)
	return addr, ephemeral, nil
}

// Owns reports whether this bundle's holder is the recipient of addr.
// The check replays the sender's ECDH exchange with the view secret and
// compares the re-derived one-time key against the address.
func (kb *KeyBundle) Owns(addr *Address) bool {
	shared, err := curve25519.X25519(kb.View.Secret[:], addr.TxPublicKey[:])
	if err != nil {
		return false
	}
	oneTime := deriveOneTimeSecret(shared, kb.Spend.Public)
	candidate, err := curve25519.X25519(oneTime[:], curve25519.Basepoint)
	if err != nil {
		return false
	}
	return bytes.Equal(candidate, addr.PublicKey[:])
}

// deriveOneTimeSecret maps the ECDH shared point and the recipient's spend
// public key onto a one-time key scalar
func deriveOneTimeSecret(shared []byte, spendPub [KeySize]byte) [KeySize]byte {
	reader := hkdf.New(sha256.New, shared, spendPub[:], []byte("silica stealth one-time key"))
	var secret [KeySize]byte
	if _, err := io.ReadFull(reader, secret[:]); err != nil {
		// HKDF cannot fail for a 32-byte read.
		panic(err)
	}
	return secret
}

// Transaction is a stealth transaction view assembled for trial scanning
type Transaction struct {
	TxID    string
	Sender  string
	Address Address
	Amount  uint64
	Fee     uint64
	Memo    *string
}

// Owned is a transaction the key bundle's holder owns, with the values the
// scan recovered
type Owned struct {
	TxID            string
	DecryptedAmount uint64
	DecryptedMemo   *string
}

// ScanForTransactions trial-scans a batch of stealth transactions and
// returns the ones owned by this bundle's holder
func (kb *KeyBundle) ScanForTransactions(txs []Transaction) []Owned {
	var owned []Owned
	for i := range txs {
		tx := &txs[i]
		if !kb.Owns(&tx.Address) {
			continue
		}
		owned = append(owned, Owned{
			TxID:            tx.TxID,
			DecryptedAmount: tx.Amount,
			DecryptedMemo:   tx.Memo,
		})
	}
	return owned
}
