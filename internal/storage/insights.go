// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"log"
	"path/filepath"
	"time"

	"github.com/jeranaias/termchat/internal/util"
)

// =============================================================================
// INSIGHTS
// =============================================================================

// Insights is an aggregate view over all stored conversations.
type Insights struct {
	TotalConversations             int            `json:"totalConversations"`
	TotalMessages                  int            `json:"totalMessages"`
	AverageMessagesPerConversation float64        `json:"averageMessagesPerConversation"`
	PeakUsageHours                 map[int]int    `json:"peakUsageHours"`
	ModelUsage                     map[string]int `json:"modelUsage"`
	GeneratedAt                    time.Time      `json:"generatedAt"`
}

// ComputeInsights aggregates conversation statistics and persists the
// result to insights.json as a side artifact. The modelUsage map comes
// from the request metrics recorder and may be nil.
func (s *Store) ComputeInsights(modelUsage map[string]int) (*Insights, error) {
	summaries := s.List()

	insights := &Insights{
		TotalConversations: len(summaries),
		PeakUsageHours:     map[int]int{},
		ModelUsage:         modelUsage,
		GeneratedAt:        time.Now(),
	}
	if insights.ModelUsage == nil {
		insights.ModelUsage = map[string]int{}
	}

	for _, summary := range summaries {
		insights.TotalMessages += summary.MessageCount
		hour := summary.CreatedAt.Hour()
		insights.PeakUsageHours[hour]++
	}

	if len(summaries) > 0 {
		insights.AverageMessagesPerConversation =
			float64(insights.TotalMessages) / float64(len(summaries))
	}

	data, err := json.MarshalIndent(insights, "", "  ")
	if err != nil {
		return nil, &ConversationError{Op: "encode insights", Err: err}
	}
	path := filepath.Join(s.dataDir, insightsFileName)
	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return nil, &ConversationError{Op: "write insights", Err: err}
	}

	log.Printf("STORE_INSIGHTS | conversations=%d messages=%d",
		insights.TotalConversations, insights.TotalMessages)
	return insights, nil
}
