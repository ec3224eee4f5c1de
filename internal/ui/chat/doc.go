// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat provides the Bubble Tea chat view for the termchat
// client.
//
// The response lifecycle is receive-then-reveal: while a stream is in
// flight only a spinner shows, the full text is accumulated off-screen,
// and once the stream completes the reply is revealed a few characters
// per tick like terminal output, then rendered as markdown.
//
// States: idle -> streaming -> typing -> idle. Esc aborts an in-flight
// response by canceling its request context; an abort appends exactly
// one system notice to the transcript and persists nothing.
package chat
