package eip712

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	x402 "github.com/fastx402/x402-go"
)

// KeySigner signs challenges with a local secp256k1 private key. It
// implements x402.ChallengeSigner and is intended for clients, tooling and
// tests; server-side verification never touches a private key.
type KeySigner struct {
	key *ecdsa.PrivateKey
}

// NewKeySigner parses a hex-encoded private key, with or without 0x prefix.
func NewKeySigner(hexKey string) (*KeySigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &KeySigner{key: key}, nil
}

// NewKeySignerFromKey wraps an existing private key.
func NewKeySignerFromKey(key *ecdsa.PrivateKey) *KeySigner {
	return &KeySigner{key: key}
}

// Address returns the signer's account address in EIP-55 checksum form.
func (s *KeySigner) Address() string {
	return crypto.PubkeyToAddress(s.key.PublicKey).Hex()
}

// SignChallenge signs the challenge digest and returns the 65-byte r||s||v
// signature with v in Ethereum convention (27/28).
func (s *KeySigner) SignChallenge(_ context.Context, challenge *x402.Challenge) (*x402.Signature, error) {
	digest, err := Digest(challenge)
	if err != nil {
		return nil, err
	}

	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return nil, fmt.Errorf("sign challenge digest: %w", err)
	}
	sig[64] += 27

	return &x402.Signature{
		Signer:    s.Address(),
		Signature: hexutil.Encode(sig),
	}, nil
}
