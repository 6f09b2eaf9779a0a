package solana

import (
	"bytes"
	"crypto/ed25519"
	"fmt"
	"strings"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"

	"edufund/internal/ledger"
)

// PublicKeyLength is the size of an ed25519 public key / Solana address.
const PublicKeyLength = 32

// SystemProgramID is the native System Program address.
const SystemProgramID = "11111111111111111111111111111111"

// LamportsPerSOL is the number of lamports in one SOL.
const LamportsPerSOL = 1_000_000_000

// Decimals is the base-unit exponent for SOL.
const Decimals = 9

// DecodePublicKey decodes a base58 address into its 32 raw bytes.
func DecodePublicKey(addr string) ([]byte, error) {
	raw, err := base58.Decode(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: base58: %v", ledger.ErrInvalidAddress, err)
	}
	if len(raw) != PublicKeyLength {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ledger.ErrInvalidAddress, PublicKeyLength, len(raw))
	}
	return raw, nil
}

// isOnCurve reports whether point is a valid ed25519 public key. Program
// derived addresses are off-curve and cannot own SOL sent by a wallet.
func isOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}

// NormalizeAddress validates a wallet address and returns its canonical
// base58 form.
func NormalizeAddress(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", ledger.ErrInvalidAddress
	}
	raw, err := DecodePublicKey(addr)
	if err != nil {
		return "", err
	}
	if !isOnCurve(raw) {
		return "", fmt.Errorf("%w: not an ed25519 point", ledger.ErrInvalidAddress)
	}
	return base58.Encode(raw), nil
}

// ParsePrivateKey decodes a base58 64-byte secret key (seed || public key),
// the format produced by solana-keygen and wallet exports.
func ParsePrivateKey(secret string) (ed25519.PrivateKey, error) {
	raw, err := base58.Decode(strings.TrimSpace(secret))
	if err != nil {
		return nil, fmt.Errorf("decode vault key: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("vault key: expected %d bytes, got %d", ed25519.PrivateKeySize, len(raw))
	}
	key := ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
	if !bytes.Equal(key[ed25519.SeedSize:], raw[ed25519.SeedSize:]) {
		return nil, fmt.Errorf("vault key: public half does not match seed")
	}
	return key, nil
}

// EncodePrivateKey returns the base58 form accepted by ParsePrivateKey.
func EncodePrivateKey(key ed25519.PrivateKey) string {
	return base58.Encode(key)
}

// PublicKeyOf returns the base58 address of key.
func PublicKeyOf(key ed25519.PrivateKey) string {
	return base58.Encode(key.Public().(ed25519.PublicKey))
}
