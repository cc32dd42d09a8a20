package eip712

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	x402 "github.com/fastx402/x402-go"
)

const signatureLength = 65

// Verifier recovers and validates challenge signatures. It implements
// x402.ProofVerifier, is stateless and safe for concurrent use.
type Verifier struct{}

// NewVerifier creates a structured-data signature verifier.
func NewVerifier() *Verifier {
	return &Verifier{}
}

// Verify reconstructs the challenge digest, recovers the signer via
// ecrecover and checks it against the asserted signer. Syntactic problems
// (bad addresses, bad checksum, wrong signature length) are ErrCodeMalformed;
// recovery failures and signer mismatches are ErrCodeInvalidSignature.
func (v *Verifier) Verify(_ context.Context, proof *x402.Proof) (string, error) {
	asserted, err := NormalizeAddress(proof.Signature.Signer)
	if err != nil {
		return "", err
	}
	if _, err := NormalizeAddress(proof.Challenge.Merchant); err != nil {
		return "", err
	}

	sig, err := hexutil.Decode(proof.Signature.Signature)
	if err != nil {
		return "", x402.NewPaymentError(x402.ErrCodeMalformed, "signature is not valid 0x-prefixed hex", err)
	}
	if len(sig) != signatureLength {
		return "", x402.NewPaymentError(x402.ErrCodeMalformed, fmt.Sprintf("signature must be %d bytes, got %d", signatureLength, len(sig)), nil)
	}

	digest, err := Digest(&proof.Challenge)
	if err != nil {
		return "", err
	}

	// Accept both 0/1 and Ethereum's 27/28 recovery ids.
	recSig := make([]byte, signatureLength)
	copy(recSig, sig)
	if recSig[64] >= 27 {
		recSig[64] -= 27
	}
	if recSig[64] > 1 {
		return "", x402.NewPaymentError(x402.ErrCodeMalformed, fmt.Sprintf("invalid recovery id %d", sig[64]), nil)
	}

	pubKey, err := crypto.SigToPub(digest, recSig)
	if err != nil {
		return "", x402.NewPaymentError(x402.ErrCodeInvalidSignature, "signature recovery failed", err)
	}

	recovered := crypto.PubkeyToAddress(*pubKey)
	if recovered != common.HexToAddress(asserted) {
		return "", x402.NewPaymentError(x402.ErrCodeInvalidSignature,
			fmt.Sprintf("recovered signer %s does not match asserted signer %s", recovered.Hex(), asserted), nil)
	}
	return recovered.Hex(), nil
}
