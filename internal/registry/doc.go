// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package registry holds the static model catalog and resolves model IDs
// to the provider that serves them. The registry is the single source of
// truth for routing: a request for a model never reaches any provider
// other than the one the catalog names.
package registry
