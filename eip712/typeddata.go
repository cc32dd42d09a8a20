// Package eip712 implements the structured-data signature scheme for payment
// challenges. The EIP-712 domain separator carries the chain id and the
// merchant address, so a signature collected for one merchant or chain can
// never be replayed against another.
package eip712

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	x402 "github.com/fastx402/x402-go"
)

// Domain constants. Bumping the version invalidates all outstanding
// signatures.
const (
	DomainName    = "x402"
	DomainVersion = "1"
)

// TypedData builds the EIP-712 payload for a challenge. The merchant address
// doubles as the verifying contract, which places it in the domain separator
// alongside the chain id.
func TypedData(challenge *x402.Challenge) (apitypes.TypedData, error) {
	merchant, err := NormalizeAddress(challenge.Merchant)
	if err != nil {
		return apitypes.TypedData{}, err
	}

	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Payment": []apitypes.Type{
				{Name: "price", Type: "string"},
				{Name: "currency", Type: "string"},
				{Name: "merchant", Type: "address"},
				{Name: "nonce", Type: "string"},
				{Name: "issuedAt", Type: "uint256"},
				{Name: "description", Type: "string"},
			},
		},
		PrimaryType: "Payment",
		Domain: apitypes.TypedDataDomain{
			Name:              DomainName,
			Version:           DomainVersion,
			ChainId:           math.NewHexOrDecimal256(challenge.ChainID),
			VerifyingContract: merchant,
		},
		Message: apitypes.TypedDataMessage{
			"price":       challenge.Price,
			"currency":    challenge.Currency,
			"merchant":    merchant,
			"nonce":       challenge.Nonce,
			"issuedAt":    math.NewHexOrDecimal256(challenge.IssuedAt),
			"description": challenge.Description,
		},
	}, nil
}

// Digest computes the EIP-191 digest (0x19 0x01 || domainSeparator ||
// hashStruct(Payment)) that clients sign.
func Digest(challenge *x402.Challenge) ([]byte, error) {
	typedData, err := TypedData(challenge)
	if err != nil {
		return nil, err
	}

	messageHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("hash payment message: %w", err)
	}
	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("hash domain separator: %w", err)
	}

	raw := make([]byte, 0, 2+len(domainSeparator)+len(messageHash))
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, domainSeparator...)
	raw = append(raw, messageHash...)
	return crypto.Keccak256(raw), nil
}

// NormalizeAddress validates an account address and returns its EIP-55
// checksum form. Mixed-case input must already carry a valid checksum; a bad
// checksum is a malformed-input rejection, distinct from a cryptographic
// failure.
func NormalizeAddress(address string) (string, error) {
	if !common.IsHexAddress(address) {
		return "", x402.NewPaymentError(x402.ErrCodeMalformed, fmt.Sprintf("invalid account address %q", address), nil)
	}

	checksummed := common.HexToAddress(address).Hex()

	hexPart := strings.TrimPrefix(strings.TrimPrefix(address, "0x"), "0X")
	mixedCase := hexPart != strings.ToLower(hexPart) && hexPart != strings.ToUpper(hexPart)
	if mixedCase && address != checksummed {
		return "", x402.NewPaymentError(x402.ErrCodeMalformed, fmt.Sprintf("address %q fails checksum validation", address), nil)
	}
	return checksummed, nil
}
