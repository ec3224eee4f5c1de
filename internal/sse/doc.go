// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package sse consumes server-sent event streams on the client side.
//
// The stream arrives in arbitrary chunk boundaries, so LineBuffer
// reassembles complete lines and carries the unterminated tail across
// chunks. Payload parsing is deliberately forgiving: upstreams disagree
// about record shapes, so extraction walks a fallback chain and treats
// anything unparseable as literal text rather than failing the stream.
package sse
