// Package signing produces and verifies Certified Execution Trace
// certificates: a canonical JSON payload wrapped in an ECDSA-secp256k1
// proof, the trust engine's equivalent of a notarized receipt.
package signing

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/gowebpki/jcs"
)

const (
	// CertificateContext and CertificateType are the envelope fields every
	// Certificate carries. Exported so callers reconstructing a
	// Certificate from a persisted trace row (the duplicate-submission
	// path) can rebuild an identical envelope.
	CertificateContext = "https://garl.io/schema/v1"
	CertificateType    = "CertifiedExecutionTrace"
	// ProofType names the proof's verification-method family, distinct
	// from ProofAlg which names the signature algorithm (spec.md's
	// proof.alg="ECDSA-secp256k1"). Exported so callers reconstructing a
	// Certificate from persisted storage.Certificate rows (which don't
	// carry this constant value) can set it without guessing the string.
	ProofType = "EcdsaSecp256k1Signature2019"
	ProofAlg  = "ECDSA-secp256k1"
)

// Proof is the detachable signature block attached to a signed payload.
type Proof struct {
	Type      string `json:"type"`
	Created   int64  `json:"created"`
	PublicKey string `json:"publicKey"`
	Signature string `json:"signature"`
	Alg       string `json:"alg"`
}

// Certificate is a signed, verifiable wrapper around an arbitrary JSON
// payload — the wire format returned for every recorded trace.
type Certificate struct {
	Context string          `json:"@context"`
	Type    string          `json:"@type"`
	Payload json.RawMessage `json:"payload"`
	Proof   Proof           `json:"proof"`
}

// TracePayload is the certificate's signed payload: the small, post-
// scoring summary of a persisted trace, per the wire-level output
// contract. It deliberately excludes the raw trace input (task
// description, tool calls, summaries, ...) — that input is what trace_hash
// already commits to.
type TracePayload struct {
	TraceID         string  `json:"trace_id"`
	AgentID         string  `json:"agent_id"`
	Status          string  `json:"status"`
	TrustScoreAfter float64 `json:"trust_score_after"`
	TraceHash       string  `json:"trace_hash"`
	Created         int64   `json:"created"`
}

// Signer holds a secp256k1 key pair and signs payloads with it.
type Signer struct {
	priv *btcec.PrivateKey
	pub  *btcec.PublicKey
}

// NewSigner builds a Signer from a raw 32-byte private key.
func NewSigner(privKeyBytes []byte) (*Signer, error) {
	if len(privKeyBytes) != 32 {
		return nil, fmt.Errorf("signing: private key must be 32 bytes, got %d", len(privKeyBytes))
	}
	priv, pub := btcec.PrivKeyFromBytes(privKeyBytes)
	return &Signer{priv: priv, pub: pub}, nil
}

// GenerateSigner creates a new random secp256k1 key pair.
func GenerateSigner() (*Signer, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("signing: generate key: %w", err)
	}
	return &Signer{priv: priv, pub: priv.PubKey()}, nil
}

// PrivateKeyHex returns the signer's private key as lowercase hex, suitable
// for SIGNING_PRIVATE_KEY_HEX.
func (s *Signer) PrivateKeyHex() string {
	return hex.EncodeToString(s.priv.Serialize())
}

// PublicKeyHex returns the signer's compressed public key as lowercase hex.
func (s *Signer) PublicKeyHex() string {
	return hex.EncodeToString(s.pub.SerializeCompressed())
}

// CanonicalDigest reduces an arbitrary JSON document to its RFC 8785
// canonical form and returns the sha256 digest of that form.
func CanonicalDigest(payload json.RawMessage) ([32]byte, []byte, error) {
	canonical, err := jcs.Transform(payload)
	if err != nil {
		return [32]byte{}, nil, fmt.Errorf("signing: canonicalize payload: %w", err)
	}
	return sha256.Sum256(canonical), canonical, nil
}

// Hash returns the hex-encoded sha256 digest of the canonical form of
// payload. Used as the content-addressed trace hash stored alongside each
// trace row.
func Hash(payload json.RawMessage) (string, error) {
	digest, _, err := CanonicalDigest(payload)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(digest[:]), nil
}

// SignPayload produces a Certificate wrapping payload, signed with s.
// created stamps the proof and is caller-supplied rather than read from the
// clock here, so a certificate's timestamp matches the trace event that
// produced it.
func (s *Signer) SignPayload(payload json.RawMessage, created int64) (*Certificate, error) {
	digest, _, err := CanonicalDigest(payload)
	if err != nil {
		return nil, err
	}
	sig := btcecdsa.Sign(s.priv, digest[:])

	return &Certificate{
		Context: CertificateContext,
		Type:    CertificateType,
		Payload: payload,
		Proof: Proof{
			Type:      ProofType,
			Created:   created,
			PublicKey: s.PublicKeyHex(),
			Signature: hex.EncodeToString(sig.Serialize()),
			Alg:       ProofAlg,
		},
	}, nil
}

// SignTracePayload marshals p canonically and signs it, returning the
// certificate the trace pipeline hands back to the caller.
func (s *Signer) SignTracePayload(p TracePayload) (*Certificate, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("signing: encode trace payload: %w", err)
	}
	return s.SignPayload(raw, p.Created)
}

// Verify checks that cert.Proof.Signature is a valid secp256k1 signature
// over the canonical digest of cert.Payload, by the embedded public key.
func Verify(cert *Certificate) (bool, error) {
	pubBytes, err := hex.DecodeString(cert.Proof.PublicKey)
	if err != nil {
		return false, fmt.Errorf("signing: decode public key: %w", err)
	}
	pub, err := btcec.ParsePubKey(pubBytes)
	if err != nil {
		return false, fmt.Errorf("signing: parse public key: %w", err)
	}
	sigBytes, err := hex.DecodeString(cert.Proof.Signature)
	if err != nil {
		return false, fmt.Errorf("signing: decode signature: %w", err)
	}
	sig, err := btcecdsa.ParseDERSignature(sigBytes)
	if err != nil {
		return false, fmt.Errorf("signing: parse signature: %w", err)
	}
	digest, _, err := CanonicalDigest(cert.Payload)
	if err != nil {
		return false, err
	}
	return sig.Verify(digest[:], pub), nil
}
