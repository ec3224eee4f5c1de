// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// =============================================================================
// MODEL CATALOG TYPES
// =============================================================================

// Provider names as they appear in the catalog and API responses.
const (
	ProviderLocal    = "local"
	ProviderMinitool = "minitool"
)

// Model categories.
const (
	CategoryGeneral = "general"
	CategoryCoding  = "coding"
	CategoryOpenAI  = "openai"
)

// ModelInfo describes a single entry in the model catalog.
type ModelInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ShortName   string `json:"shortName,omitempty"`
	Description string `json:"description"`
	Provider    string `json:"provider"`
	Category    string `json:"category"`
	Recommended bool   `json:"recommended,omitempty"`
	// Streaming indicates whether the backing provider can deliver this
	// model's output incrementally. Non-streaming models are silently
	// downgraded when a client asks for a stream.
	Streaming bool `json:"streaming"`
	Default   bool `json:"default,omitempty"`
}

var titleCaser = cases.Title(language.English)

// CategoryDisplayName returns a presentable form of a category key
// ("coding" -> "Coding", "openai" -> "OpenAI").
func CategoryDisplayName(category string) string {
	switch category {
	case CategoryOpenAI:
		return "OpenAI"
	default:
		return titleCaser.String(category)
	}
}
