package matching

import (
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// SignatureVerifier recovers the signing address from an order digest. It is
// a pluggable capability: the default is secp256k1 ecrecover, deployments
// with different custody schemes swap in their own.
type SignatureVerifier interface {
	Recover(digest [32]byte, signature []byte) (string, error)
}

// EcdsaVerifier recovers secp256k1 signatures in the 65-byte r||s||v form.
type EcdsaVerifier struct{}

func NewEcdsaVerifier() *EcdsaVerifier { return &EcdsaVerifier{} }

func (v *EcdsaVerifier) Recover(digest [32]byte, signature []byte) (string, error) {
	if len(signature) != 65 {
		return "", fmt.Errorf("signature must be 65 bytes, got %d", len(signature))
	}
	sig := make([]byte, 65)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := crypto.SigToPub(digest[:], sig)
	if err != nil {
		return "", fmt.Errorf("recover pubkey: %w", err)
	}
	return crypto.PubkeyToAddress(*pub).Hex(), nil
}
