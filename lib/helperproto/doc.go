// Copyright 2026 The Caretaker Authors
// SPDX-License-Identifier: Apache-2.0

// Package helperproto defines the wire protocol between the app and
// the privileged helper: CBOR over a Unix socket, one request per
// connection. The client writes a single Request, the helper writes a
// single Response, and the connection closes.
//
// The envelope carries a machine-readable Code alongside the human
// error string so the client can map failures back onto the execution
// error taxonomy without parsing messages. Codes are part of the
// protocol contract; messages are not.
//
// Only types and constants live here. The server side is package
// helper; the client side is lib/helperclient. Both ends must agree on
// this package's version, which is why the helper reports its build
// version over the unauthenticated "version" action.
package helperproto
