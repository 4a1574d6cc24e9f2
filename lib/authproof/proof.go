// Copyright 2026 The Caretaker Authors
// SPDX-License-Identifier: Apache-2.0

package authproof

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/caretaker-app/caretaker/lib/codec"
)

// signatureSize is the fixed size of an Ed25519 signature.
const signatureSize = ed25519.SignatureSize // 64 bytes

// Named rights a proof can be scoped to.
const (
	// RightExecute authorizes running an allowlisted command through
	// the helper.
	RightExecute = "com.caretaker.helper.execute"

	// RightAdmin authorizes installing, upgrading, or removing the
	// helper.
	RightAdmin = "com.caretaker.helper.admin"
)

// DefaultTTL is the lifetime of a freshly minted proof. Short by
// design: a proof is obtained for one user gesture, not a session.
const DefaultTTL = 5 * time.Minute

// Proof is the CBOR-encoded payload of an authorization proof.
type Proof struct {
	// Right is the named right this proof authorizes. A proof scoped
	// to one right cannot be used for another.
	Right string `cbor:"1,keyasint"`

	// KeyID identifies the minting key (hex digest prefix). The
	// helper uses it to group an execution with a later cancellation
	// request from the same authorization.
	KeyID string `cbor:"2,keyasint"`

	// Nonce is a unique random identifier for this proof.
	Nonce string `cbor:"3,keyasint"`

	// IssuedAt is a Unix timestamp (seconds) of when the broker
	// minted this proof.
	IssuedAt int64 `cbor:"4,keyasint"`

	// ExpiresAt is a Unix timestamp (seconds) after which this proof
	// is no longer valid.
	ExpiresAt int64 `cbor:"5,keyasint"`
}

// Errors returned by Verify and related functions.
var (
	ErrProofTooShort    = errors.New("authproof: proof too short for signature")
	ErrInvalidSignature = errors.New("authproof: invalid Ed25519 signature")
	ErrProofExpired     = errors.New("authproof: proof has expired")
	ErrRightMismatch    = errors.New("authproof: right does not match")
)

// Mint signs a Proof with the broker's private key and returns the raw
// wire-format bytes: CBOR-encoded payload followed by the 64-byte
// Ed25519 signature.
func Mint(privateKey ed25519.PrivateKey, proof *Proof) ([]byte, error) {
	payload, err := codec.Marshal(proof)
	if err != nil {
		return nil, fmt.Errorf("authproof: encoding proof payload: %w", err)
	}

	signature := ed25519.Sign(privateKey, payload)

	result := make([]byte, len(payload)+signatureSize)
	copy(result, payload)
	copy(result[len(payload):], signature)

	return result, nil
}

// New constructs an unminted Proof for the given right with a fresh
// nonce, stamped from now with the default TTL. keyID identifies the
// minting key.
func New(right, keyID string, now time.Time) (*Proof, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("authproof: generating nonce: %w", err)
	}
	return &Proof{
		Right:     right,
		KeyID:     keyID,
		Nonce:     hex.EncodeToString(nonce),
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(DefaultTTL).Unix(),
	}, nil
}

// Verify splits the raw proof bytes, verifies the Ed25519 signature,
// CBOR-decodes the payload, and checks expiry and the named right.
// Returns the decoded Proof on success. This is the helper's standard
// validation path, run on every request.
func Verify(publicKey ed25519.PublicKey, proofBytes []byte, right string) (*Proof, error) {
	return VerifyAt(publicKey, proofBytes, right, time.Now())
}

// VerifyAt is like Verify but accepts an explicit time for expiry
// checks. This supports deterministic testing.
func VerifyAt(publicKey ed25519.PublicKey, proofBytes []byte, right string, now time.Time) (*Proof, error) {
	if len(proofBytes) <= signatureSize {
		return nil, ErrProofTooShort
	}

	splitPoint := len(proofBytes) - signatureSize
	payload := proofBytes[:splitPoint]
	signature := proofBytes[splitPoint:]

	if !ed25519.Verify(publicKey, payload, signature) {
		return nil, ErrInvalidSignature
	}

	var proof Proof
	if err := codec.Unmarshal(payload, &proof); err != nil {
		return nil, fmt.Errorf("authproof: decoding proof payload: %w", err)
	}

	if now.Unix() >= proof.ExpiresAt {
		return nil, ErrProofExpired
	}

	if proof.Right != right {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrRightMismatch, proof.Right, right)
	}

	return &proof, nil
}
