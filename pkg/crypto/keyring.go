package crypto

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Mindburn-Labs/helm/core/pkg/contracts"
)

// KeyRing holds multiple signing keys to support rotation: old keys stay
// registered long enough to verify signatures issued before rotation,
// while new signing operations use the active (lexicographically latest
// by key ID) key.
type KeyRing struct {
	mu      sync.RWMutex
	signers map[string]*Ed25519Signer
}

// NewKeyRing creates a new empty KeyRing.
func NewKeyRing() *KeyRing {
	return &KeyRing{
		signers: make(map[string]*Ed25519Signer),
	}
}

// AddKey registers a signer under its KeyID.
func (k *KeyRing) AddKey(s *Ed25519Signer) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.signers[s.KeyID] = s
}

// RevokeKey removes a key from the keyring by ID.
func (k *KeyRing) RevokeKey(keyID string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.signers, keyID)
}

// active returns the lexicographically last registered key, used as the
// signing key when no specific key is requested.
func (k *KeyRing) active() (*Ed25519Signer, error) {
	var ids []string
	for id := range k.signers {
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no keyring keys available")
	}
	sort.Strings(ids)
	return k.signers[ids[len(ids)-1]], nil
}

// Sign signs data with the active key.
func (k *KeyRing) Sign(data []byte) (string, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	s, err := k.active()
	if err != nil {
		return "", err
	}
	return s.Sign(data)
}

// SignLink signs l with the active key.
func (k *KeyRing) SignLink(l *contracts.Link) error {
	k.mu.RLock()
	defer k.mu.RUnlock()
	s, err := k.active()
	if err != nil {
		return err
	}
	return s.SignLink(l)
}

// SignPactProof signs a pact proof with the active key.
func (k *KeyRing) SignPactProof(pactID, signer, atomHash string) (contracts.PactSignature, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	s, err := k.active()
	if err != nil {
		return contracts.PactSignature{}, err
	}
	return s.SignPactProof(pactID, signer, atomHash)
}

// PublicKey returns the active key's hex public key.
func (k *KeyRing) PublicKey() string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	s, err := k.active()
	if err != nil {
		return ""
	}
	return s.PublicKey()
}

// PublicKeyBytes returns the active key's raw public key.
func (k *KeyRing) PublicKeyBytes() []byte {
	k.mu.RLock()
	defer k.mu.RUnlock()
	s, err := k.active()
	if err != nil {
		return nil
	}
	return s.PublicKeyBytes()
}

// VerifyByKeyID verifies a raw message/signature pair against a specific
// registered key, used when the caller already knows which key produced
// the signature (e.g. a pact signer enrolled under a known key ID).
func (k *KeyRing) VerifyByKeyID(keyID string, message, signature []byte) (bool, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	s, exists := k.signers[keyID]
	if !exists {
		return false, fmt.Errorf("unknown or revoked key: %s", keyID)
	}
	return s.Verify(message, signature), nil
}
