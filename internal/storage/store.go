// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/jeranaias/termchat/internal/model"
	"github.com/jeranaias/termchat/internal/util"
)

// =============================================================================
// CONSTANTS AND ERRORS
// =============================================================================

const (
	// DefaultRetentionDays is how long idle conversations are kept.
	DefaultRetentionDays = 30

	// DefaultHistoryLimit is the history window returned when the
	// caller does not specify one.
	DefaultHistoryLimit = 50

	indexFileName    = "conversations-index.json"
	insightsFileName = "insights.json"

	// lastMessagePreviewLen caps the index-entry preview length.
	lastMessagePreviewLen = 100
)

// ConversationError provides context about a storage operation failure.
type ConversationError struct {
	Op  string
	ID  string
	Err error
}

func (e *ConversationError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("conversation %s: %s: %v", e.ID, e.Op, e.Err)
	}
	return fmt.Sprintf("conversation store: %s: %v", e.Op, e.Err)
}

func (e *ConversationError) Unwrap() error {
	return e.Err
}

// =============================================================================
// INDEX TYPES
// =============================================================================

type indexEntry struct {
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	MessageCount int       `json:"messageCount"`
	LastMessage  string    `json:"lastMessage"`
}

type conversationIndex struct {
	Conversations map[string]indexEntry `json:"conversations"`
}

// =============================================================================
// STORE
// =============================================================================

// Store is a file-backed conversation store.
type Store struct {
	dataDir       string
	indexPath     string
	retentionDays int

	// indexMu serializes index file rewrites.
	indexMu sync.Mutex

	// locks holds one mutex per conversation; mu guards the map itself.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates a Store rooted at dataDir, creating the directory
// and index file if needed.
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, &ConversationError{Op: "init", Err: err}
	}

	s := &Store{
		dataDir:       dataDir,
		indexPath:     filepath.Join(dataDir, indexFileName),
		retentionDays: DefaultRetentionDays,
		locks:         make(map[string]*sync.Mutex),
	}

	if _, err := os.Stat(s.indexPath); os.IsNotExist(err) {
		if err := s.saveIndex(&conversationIndex{Conversations: map[string]indexEntry{}}); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// WithRetentionDays overrides the cleanup retention window.
func (s *Store) WithRetentionDays(days int) *Store {
	if days > 0 {
		s.retentionDays = days
	}
	return s
}

// lockFor returns the per-conversation mutex, creating it on first use.
func (s *Store) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *Store) conversationPath(id string) string {
	return filepath.Join(s.dataDir, id+".json")
}

// =============================================================================
// CORE OPERATIONS
// =============================================================================

// GetOrCreate loads a conversation, creating an empty one if it does
// not exist yet. Creation is persisted immediately.
func (s *Store) GetOrCreate(id string) (*model.Conversation, error) {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()
	return s.getOrCreateLocked(id)
}

func (s *Store) getOrCreateLocked(id string) (*model.Conversation, error) {
	path := s.conversationPath(id)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		conv := model.NewConversation(id)
		if err := s.saveLocked(conv); err != nil {
			return nil, err
		}
		return conv, nil
	}
	if err != nil {
		return nil, &ConversationError{Op: "load", ID: id, Err: err}
	}

	var conv model.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, &ConversationError{Op: "decode", ID: id, Err: err}
	}
	return &conv, nil
}

// saveLocked persists a conversation and its index entry. Callers must
// hold the conversation lock.
func (s *Store) saveLocked(conv *model.Conversation) error {
	conv.UpdatedAt = time.Now()

	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return &ConversationError{Op: "encode", ID: conv.ID, Err: err}
	}
	if err := util.AtomicWriteFile(s.conversationPath(conv.ID), data, 0600); err != nil {
		return &ConversationError{Op: "write", ID: conv.ID, Err: err}
	}

	return s.updateIndex(conv.ID, indexEntry{
		CreatedAt:    conv.CreatedAt,
		UpdatedAt:    conv.UpdatedAt,
		MessageCount: len(conv.Messages),
		LastMessage:  util.TruncateRunesNoEllipsis(conv.LastContent(), lastMessagePreviewLen),
	})
}

// AppendMessage adds a message to a conversation, creating the
// conversation if needed. Missing message IDs and timestamps are filled
// in. Returns the updated conversation.
func (s *Store) AppendMessage(id string, msg model.Message) (*model.Conversation, error) {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	conv, err := s.getOrCreateLocked(id)
	if err != nil {
		return nil, err
	}

	if msg.ID == "" {
		msg.ID = model.NewMessageID()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	conv.Messages = append(conv.Messages, msg)
	conv.RecountMetadata()

	if err := s.saveLocked(conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// List returns summaries of all conversations, most recently updated
// first. Index read failures degrade to an empty list.
func (s *Store) List() []model.ConversationSummary {
	index, err := s.loadIndex()
	if err != nil {
		log.Printf("STORE_LIST_DEGRADED | err=%v", err)
		return []model.ConversationSummary{}
	}

	out := make([]model.ConversationSummary, 0, len(index.Conversations))
	for id, entry := range index.Conversations {
		out = append(out, model.ConversationSummary{
			ID:           id,
			CreatedAt:    entry.CreatedAt,
			UpdatedAt:    entry.UpdatedAt,
			MessageCount: entry.MessageCount,
			LastMessage:  entry.LastMessage,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// GetHistory returns the last limit messages of a conversation
// (DefaultHistoryLimit when limit <= 0). Read failures degrade to an
// empty slice.
func (s *Store) GetHistory(id string, limit int) []model.Message {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	conv, err := s.GetOrCreate(id)
	if err != nil {
		log.Printf("STORE_HISTORY_DEGRADED | conversation=%s err=%v", id, err)
		return []model.Message{}
	}

	msgs := conv.Messages
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]model.Message, len(msgs))
	copy(out, msgs)
	return out
}

// Delete removes a conversation file and its index entry. Deleting a
// conversation that does not exist is not an error.
func (s *Store) Delete(id string) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(s.conversationPath(id)); err != nil && !os.IsNotExist(err) {
		return &ConversationError{Op: "delete", ID: id, Err: err}
	}

	if err := s.removeIndexEntry(id); err != nil {
		return err
	}

	log.Printf("STORE_DELETE | conversation=%s", id)
	return nil
}

// CleanupExpired deletes conversations whose last update is older than
// the retention window. Returns the number deleted.
func (s *Store) CleanupExpired() (int, error) {
	index, err := s.loadIndex()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)
	deleted := 0
	for id, entry := range index.Conversations {
		if entry.UpdatedAt.Before(cutoff) {
			if err := s.Delete(id); err != nil {
				log.Printf("STORE_CLEANUP_SKIP | conversation=%s err=%v", id, err)
				continue
			}
			deleted++
		}
	}

	if deleted > 0 {
		log.Printf("STORE_CLEANUP | deleted=%d retention_days=%d", deleted, s.retentionDays)
	}
	return deleted, nil
}

// Count returns the number of conversations in the index.
func (s *Store) Count() int {
	index, err := s.loadIndex()
	if err != nil {
		return 0
	}
	return len(index.Conversations)
}

// ActiveSince returns the number of conversations updated within the
// given duration.
func (s *Store) ActiveSince(d time.Duration) int {
	index, err := s.loadIndex()
	if err != nil {
		return 0
	}
	cutoff := time.Now().Add(-d)
	active := 0
	for _, entry := range index.Conversations {
		if entry.UpdatedAt.After(cutoff) {
			active++
		}
	}
	return active
}

// =============================================================================
// INDEX PERSISTENCE
// =============================================================================

func (s *Store) loadIndex() (*conversationIndex, error) {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	return s.loadIndexLocked()
}

func (s *Store) loadIndexLocked() (*conversationIndex, error) {
	data, err := os.ReadFile(s.indexPath)
	if err != nil {
		return nil, &ConversationError{Op: "load index", Err: err}
	}
	var index conversationIndex
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, &ConversationError{Op: "decode index", Err: err}
	}
	if index.Conversations == nil {
		index.Conversations = map[string]indexEntry{}
	}
	return &index, nil
}

func (s *Store) saveIndex(index *conversationIndex) error {
	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return &ConversationError{Op: "encode index", Err: err}
	}
	if err := util.AtomicWriteFile(s.indexPath, data, 0600); err != nil {
		return &ConversationError{Op: "write index", Err: err}
	}
	return nil
}

func (s *Store) updateIndex(id string, entry indexEntry) error {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	index, err := s.loadIndexLocked()
	if err != nil {
		// A corrupt index is rebuilt from scratch rather than blocking
		// writes.
		log.Printf("STORE_INDEX_REBUILD | err=%v", err)
		index = &conversationIndex{Conversations: map[string]indexEntry{}}
	}
	index.Conversations[id] = entry
	return s.saveIndex(index)
}

func (s *Store) removeIndexEntry(id string) error {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	index, err := s.loadIndexLocked()
	if err != nil {
		return err
	}
	delete(index.Conversations, id)
	return s.saveIndex(index)
}
