// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/jeranaias/termchat/internal/model"
)

// =============================================================================
// ERRORS
// =============================================================================

// UnknownModelError is returned when a model ID is not in the catalog.
// Resolution never falls back to a default: an unknown ID is an error.
type UnknownModelError struct {
	ModelID string
}

func (e *UnknownModelError) Error() string {
	return fmt.Sprintf("no provider found for model: %s", e.ModelID)
}

// =============================================================================
// CATALOG
// =============================================================================

// defaultCatalog returns the built-in model catalog.
func defaultCatalog() []model.ModelInfo {
	return []model.ModelInfo{
		// Direct (local endpoint) models - all support streaming.
		{
			ID:          "MiniMax-M2-Stable",
			Name:        "MiniMax M2 Stable",
			ShortName:   "M2 Stable",
			Description: "Stable general-purpose model with reliable output",
			Provider:    model.ProviderLocal,
			Category:    model.CategoryGeneral,
			Recommended: true,
			Streaming:   true,
			Default:     true,
		},
		{
			ID:          "MiniMax-M2",
			Name:        "MiniMax M2",
			ShortName:   "M2",
			Description: "Latest general-purpose model",
			Provider:    model.ProviderLocal,
			Category:    model.CategoryGeneral,
			Streaming:   true,
		},
		{
			ID:          "deepseek-coder-v2",
			Name:        "DeepSeek Coder V2",
			ShortName:   "DS Coder",
			Description: "Code generation and programming assistance",
			Provider:    model.ProviderLocal,
			Category:    model.CategoryCoding,
			Streaming:   true,
		},
		{
			ID:          "llama3.1:8b",
			Name:        "Llama 3.1 8B",
			ShortName:   "Llama 8B",
			Description: "Fast general-purpose model",
			Provider:    model.ProviderLocal,
			Category:    model.CategoryGeneral,
			Streaming:   true,
		},
		{
			ID:          "qwen2.5:1.5b",
			Name:        "Qwen 2.5 1.5B",
			ShortName:   "Qwen 1.5B",
			Description: "Lightweight model for quick responses",
			Provider:    model.ProviderLocal,
			Category:    model.CategoryGeneral,
			Streaming:   true,
		},

		// Scraped provider models - upstream cannot stream, so replies
		// arrive in one piece and are downgraded on stream requests.
		{
			ID:          "gpt-4o-mini",
			Name:        "GPT-4o Mini",
			ShortName:   "4o Mini",
			Description: "Fast and capable general assistant",
			Provider:    model.ProviderMinitool,
			Category:    model.CategoryOpenAI,
			Recommended: true,
			Streaming:   false,
		},
		{
			ID:          "gpt-4.1-mini",
			Name:        "GPT-4.1 Mini",
			ShortName:   "4.1 Mini",
			Description: "Balanced quality and speed",
			Provider:    model.ProviderMinitool,
			Category:    model.CategoryOpenAI,
			Streaming:   false,
		},
		{
			ID:          "gpt-4.1-nano",
			Name:        "GPT-4.1 Nano",
			ShortName:   "4.1 Nano",
			Description: "Smallest and fastest 4.1 variant",
			Provider:    model.ProviderMinitool,
			Category:    model.CategoryOpenAI,
			Streaming:   false,
		},
		{
			ID:          "gpt-5-mini",
			Name:        "GPT-5 Mini",
			ShortName:   "5 Mini",
			Description: "Compact next-generation model",
			Provider:    model.ProviderMinitool,
			Category:    model.CategoryOpenAI,
			Streaming:   false,
		},
		{
			ID:          "gpt-5-nano",
			Name:        "GPT-5 Nano",
			ShortName:   "5 Nano",
			Description: "Minimal latency next-generation model",
			Provider:    model.ProviderMinitool,
			Category:    model.CategoryOpenAI,
			Streaming:   false,
		},
		{
			ID:          "gpt-3.5-turbo",
			Name:        "GPT-3.5 Turbo",
			ShortName:   "3.5 Turbo",
			Description: "Legacy fast general assistant",
			Provider:    model.ProviderMinitool,
			Category:    model.CategoryOpenAI,
			Streaming:   false,
		},
	}
}

// =============================================================================
// REGISTRY
// =============================================================================

// Registry is a concurrent-safe, read-mostly view of the model catalog.
type Registry struct {
	mu       sync.RWMutex
	models   []model.ModelInfo
	byID     map[string]model.ModelInfo
	defaults string
}

// New creates a Registry seeded with the built-in catalog.
func New() *Registry {
	return NewWithCatalog(defaultCatalog())
}

// NewWithCatalog creates a Registry from an explicit catalog. The first
// entry flagged Default wins; if none is flagged, the first entry is
// the default.
func NewWithCatalog(catalog []model.ModelInfo) *Registry {
	r := &Registry{
		models: catalog,
		byID:   make(map[string]model.ModelInfo, len(catalog)),
	}
	for _, m := range catalog {
		r.byID[m.ID] = m
		if m.Default && r.defaults == "" {
			r.defaults = m.ID
		}
	}
	if r.defaults == "" && len(catalog) > 0 {
		r.defaults = catalog[0].ID
	}
	return r
}

// Resolve returns the provider name serving modelID.
func (r *Registry) Resolve(modelID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, ok := r.byID[modelID]
	if !ok {
		return "", &UnknownModelError{ModelID: modelID}
	}
	return info.Provider, nil
}

// IsValid reports whether modelID is in the catalog.
func (r *Registry) IsValid(modelID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byID[modelID]
	return ok
}

// Info returns the catalog entry for modelID.
func (r *Registry) Info(modelID string) (model.ModelInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.byID[modelID]
	return info, ok
}

// List returns all catalog entries in stable catalog order.
func (r *Registry) List() []model.ModelInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.ModelInfo, len(r.models))
	copy(out, r.models)
	return out
}

// Default returns the default model ID.
func (r *Registry) Default() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaults
}

// SetDefault overrides the default model. Unknown IDs are ignored so a
// stale config entry cannot break routing.
func (r *Registry) SetDefault(modelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[modelID]; ok {
		r.defaults = modelID
	}
}

// ByProvider groups the catalog by provider name.
func (r *Registry) ByProvider() map[string][]model.ModelInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string][]model.ModelInfo)
	for _, m := range r.models {
		out[m.Provider] = append(out[m.Provider], m)
	}
	return out
}

// ByCategory groups the catalog by category.
func (r *Registry) ByCategory() map[string][]model.ModelInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string][]model.ModelInfo)
	for _, m := range r.models {
		out[m.Category] = append(out[m.Category], m)
	}
	return out
}

// CategoryCounts returns the number of models per category.
func (r *Registry) CategoryCounts() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]int)
	for _, m := range r.models {
		out[m.Category]++
	}
	return out
}

// Providers returns the distinct provider names in sorted order.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string
	for _, m := range r.models {
		if !seen[m.Provider] {
			seen[m.Provider] = true
			out = append(out, m.Provider)
		}
	}
	sort.Strings(out)
	return out
}
