package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/Mindburn-Labs/helm/core/pkg/contracts"
)

// Signer signs ledger commits. Every signing operation goes through
// BuildSigningBytes so the exact bytes covered by a signature never drift
// from the wire verifier.
type Signer interface {
	Sign(data []byte) (string, error)
	PublicKey() string
	PublicKeyBytes() []byte
	SignLink(l *contracts.Link) error
	SignPactProof(pactID, signer, atomHash string) (contracts.PactSignature, error)
}

// Ed25519Signer is the kernel's sole signature scheme.
type Ed25519Signer struct {
	privKey ed25519.PrivateKey
	pubKey  ed25519.PublicKey
	KeyID   string
}

// NewEd25519Signer generates a fresh keypair.
func NewEd25519Signer(keyID string) (*Ed25519Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	return &Ed25519Signer{
		privKey: priv,
		pubKey:  pub,
		KeyID:   keyID,
	}, nil
}

// NewEd25519SignerFromKey wraps an existing private key.
func NewEd25519SignerFromKey(priv ed25519.PrivateKey, keyID string) *Ed25519Signer {
	return &Ed25519Signer{
		privKey: priv,
		pubKey:  priv.Public().(ed25519.PublicKey),
		KeyID:   keyID,
	}
}

// Sign returns the hex-encoded Ed25519 signature over data.
func (s *Ed25519Signer) Sign(data []byte) (string, error) {
	sig := ed25519.Sign(s.privKey, data)
	return hex.EncodeToString(sig), nil
}

func (s *Ed25519Signer) PublicKey() string {
	return hex.EncodeToString(s.pubKey)
}

func (s *Ed25519Signer) PublicKeyBytes() []byte {
	return s.pubKey
}

// Verify checks a raw message/signature pair against this signer's own
// public key.
func (s *Ed25519Signer) Verify(message []byte, signature []byte) bool {
	return ed25519.Verify(s.pubKey, message, signature)
}

// Verify checks a hex signature and hex pubkey over raw data.
func Verify(pubKeyHex, sigHex string, data []byte) (bool, error) {
	pubKey, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return false, fmt.Errorf("invalid public key hex: %w", err)
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, fmt.Errorf("invalid signature hex: %w", err)
	}
	if len(pubKey) != ed25519.PublicKeySize {
		return false, fmt.Errorf("invalid public key size")
	}
	if len(sig) != ed25519.SignatureSize {
		return false, fmt.Errorf("invalid signature size")
	}
	return ed25519.Verify(ed25519.PublicKey(pubKey), data, sig), nil
}

// SignLink computes the signing bytes for l (§4.2) and populates its
// Signature and AuthorPubkey fields.
func (s *Ed25519Signer) SignLink(l *contracts.Link) error {
	signingBytes, err := BuildSigningBytes(l)
	if err != nil {
		return fmt.Errorf("build signing bytes: %w", err)
	}
	sig, err := s.Sign(signingBytes)
	if err != nil {
		return err
	}
	l.Signature = sig
	l.AuthorPubkey = s.PublicKey()
	return nil
}

// SignPactProof produces a PactSignature over atomHash for the signer's own
// key. The pact registry verifies each signature independently against the
// atom hash alone — never against the author's signing bytes.
func (s *Ed25519Signer) SignPactProof(pactID, signer, atomHash string) (contracts.PactSignature, error) {
	raw, err := hex.DecodeString(atomHash)
	if err != nil {
		return contracts.PactSignature{}, fmt.Errorf("invalid atom hash hex: %w", err)
	}
	sig, err := s.Sign(raw)
	if err != nil {
		return contracts.PactSignature{}, err
	}
	return contracts.PactSignature{
		PactID:    pactID,
		Signer:    signer,
		Signature: sig,
		AtomHash:  atomHash,
	}, nil
}
