// Copyright 2026 The Caretaker Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides Caretaker's standard CBOR encoding configuration.
//
// Caretaker uses two serialization formats with a clear boundary:
//
//   - JSON (JSONC on disk) for external artifacts: the capability
//     catalog and CLI --json output.
//   - CBOR for the privileged plane: helper socket requests and
//     responses, and authorization proof payloads.
//
// This package provides the shared CBOR encoding and decoding modes so
// that the helper, the channel client, and the proof code encode
// identically without duplicating configuration. The encoder uses Core
// Deterministic Encoding (RFC 8949 §4.2): sorted map keys, smallest
// integer encoding, no indefinite-length items. Deterministic bytes
// matter for authorization proofs — the signature covers the payload
// encoding, so the same logical proof must always produce identical
// bytes.
//
// For buffer-oriented operations (proof payloads):
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations (the helper socket):
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
package codec
