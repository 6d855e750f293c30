package signing

import (
	"encoding/hex"
	"fmt"
	"log"
)

// KeyStore is the minimal persistence contract the signing package needs
// to survive restarts without a configured key.
type KeyStore interface {
	LoadSigningKey() (hexKey string, ok bool, err error)
	SaveSigningKey(hexKey string) error
}

// LoadOrCreateSigner resolves the process signing identity in priority
// order: an explicitly configured hex key, a previously persisted key, or
// (when allowEphemeral is set) a freshly generated key that is immediately
// persisted so later restarts pick it back up.
func LoadOrCreateSigner(configuredHex string, allowEphemeral bool, store KeyStore) (*Signer, error) {
	if configuredHex != "" {
		raw, err := hex.DecodeString(configuredHex)
		if err != nil {
			return nil, fmt.Errorf("signing: invalid SIGNING_PRIVATE_KEY_HEX: %w", err)
		}
		return NewSigner(raw)
	}

	if stored, ok, err := store.LoadSigningKey(); err != nil {
		return nil, fmt.Errorf("signing: load persisted key: %w", err)
	} else if ok {
		raw, err := hex.DecodeString(stored)
		if err != nil {
			return nil, fmt.Errorf("signing: invalid persisted key: %w", err)
		}
		return NewSigner(raw)
	}

	if !allowEphemeral {
		return nil, fmt.Errorf("signing: no signing key configured and SIGNING_ALLOW_EPHEMERAL=false")
	}

	signer, err := GenerateSigner()
	if err != nil {
		return nil, err
	}
	if err := store.SaveSigningKey(signer.PrivateKeyHex()); err != nil {
		return nil, fmt.Errorf("signing: persist generated key: %w", err)
	}
	log.Printf("[signing] generated new certificate signing key, public key %s", signer.PublicKeyHex())
	return signer, nil
}
