// Copyright 2026 The Caretaker Authors
// SPDX-License-Identifier: Apache-2.0

// Package authproof implements Ed25519-signed administrator
// authorization proofs for the privileged helper.
//
// A proof is the opaque token a caller attaches to every elevated
// request. It is minted by the authorization broker after the user
// passes administrator authentication, scoped to one named right, and
// short-lived. The helper re-validates the proof cryptographically on
// every request — it never caches a "this caller is trusted" flag, and
// the privacy of the socket is never treated as sufficient on its own.
// Proofs are held in memory only and never persisted to disk.
//
// # Wire format
//
// A proof is raw bytes: CBOR-encoded payload followed by a 64-byte
// Ed25519 signature over the payload bytes.
//
//	[CBOR payload bytes] [64-byte Ed25519 signature]
//
// The split point is always len(proof) - 64. No header, no length
// prefix, no base64 — the algorithm is fixed and the signature size is
// constant. The CBOR encoding is deterministic (lib/codec), so a
// logical proof has exactly one byte representation.
//
// # Rights
//
// Rights are dotted names identifying what the proof authorizes:
// [RightExecute] for running an allowlisted command through the helper,
// [RightAdmin] for installing or removing the helper itself. A proof
// for one right is useless for another.
//
// This package depends only on crypto/ed25519 and lib/codec; the
// helper imports it without pulling in the catalog or executor trees.
package authproof
