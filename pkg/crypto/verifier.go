package crypto

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"

	"github.com/Mindburn-Labs/helm/core/pkg/contracts"
)

// Verifier checks signatures over links and pact proofs.
type Verifier interface {
	Verify(message []byte, signature []byte) bool
	VerifyLink(l *contracts.Link) (bool, error)
	VerifyPactSignature(sig contracts.PactSignature, signerPubkey string) (bool, error)
}

// Ed25519Verifier implements Verifier. Only Verify uses the fixed public
// key. VerifyLink takes the key from the link itself, since the author
// pubkey travels with the envelope, and VerifyPactSignature uses the
// signerPubkey its caller supplies.
type Ed25519Verifier struct {
	PublicKey ed25519.PublicKey
}

// NewEd25519Verifier creates a new verifier bound to pubKeyBytes.
func NewEd25519Verifier(pubKeyBytes []byte) (*Ed25519Verifier, error) {
	if len(pubKeyBytes) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid public key size: %d", len(pubKeyBytes))
	}
	return &Ed25519Verifier{PublicKey: ed25519.PublicKey(pubKeyBytes)}, nil
}

func (v *Ed25519Verifier) Verify(message []byte, signature []byte) bool {
	return ed25519.Verify(v.PublicKey, message, signature)
}

// VerifyLink verifies l.Signature against l.AuthorPubkey over the derived
// signing bytes (§4.2, §4.3). It never consults v.PublicKey — author keys
// are self-declared on the envelope and checked against the authorization
// guard separately (§4.6).
func (v *Ed25519Verifier) VerifyLink(l *contracts.Link) (bool, error) {
	if l.Signature == "" {
		return false, fmt.Errorf("missing signature")
	}
	signingBytes, err := BuildSigningBytes(l)
	if err != nil {
		return false, err
	}
	return Verify(l.AuthorPubkey, l.Signature, signingBytes)
}

// VerifyPactSignature verifies a pact signer's signature over the raw atom
// hash, independently of the author's signature (§4.3, §4.5).
func (v *Ed25519Verifier) VerifyPactSignature(sig contracts.PactSignature, signerPubkey string) (bool, error) {
	if sig.Signature == "" {
		return false, fmt.Errorf("missing signature")
	}
	raw, err := hex.DecodeString(sig.AtomHash)
	if err != nil {
		return false, fmt.Errorf("invalid atom hash hex: %w", err)
	}
	return Verify(signerPubkey, sig.Signature, raw)
}
