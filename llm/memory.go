// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package llm holds the conversation cache shared by the LLM backend (see
// internal/llmbackend). Per-process, in-memory only; no persistence
// crosses a restart.
package llm

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/cmsj/dreambot-go/llm/common"
)

// maxConversations bounds the cache by count, so a burst of distinct users
// can't grow it without bound. Forget's 24h age cutoff applies only when a
// caller invokes it.
const maxConversations = 500

// maxTurns bounds a single conversation's rolling context so an
// unbounded "--followup" chain can't grow the request sent to the
// completion API without limit.
const maxTurns = 20

// Conversation is the rolling context cache for one (reply-to, channel,
// user) triple, keyed exactly as the envelope's own context fields so a
// reply from any frontend lands on the same conversation line.
type Conversation struct {
	ReplyTo    string
	Channel    string
	User       string
	Started    time.Time
	LastUpdate time.Time
	Messages   []common.Message

	_ struct{}
}

// Memory holds every live conversation. Owned by exactly one backend
// worker; no cross-worker sharing is expected. Get, TrimTurns and Forget
// take the lock so they are safe to call from different goroutines.
type Memory struct {
	mu            sync.Mutex
	conversations []*Conversation
}

// Get returns the conversation for (replyTo, channel, user), creating it
// with the given system turn as its sole message if it doesn't exist yet.
// reset, if true, clears any existing messages back down to just the
// system turn (the no-"--followup" case); new conversations are always
// freshly seeded regardless of reset.
func (m *Memory) Get(replyTo, channel, user, systemPrompt string, reset bool) *Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.conversations {
		if c.ReplyTo == replyTo && c.Channel == channel && c.User == user {
			c.LastUpdate = time.Now()
			if reset {
				c.Messages = []common.Message{{Role: common.System, Content: systemPrompt}}
				c.Started = c.LastUpdate
			}
			return c
		}
	}
	now := time.Now()
	c := &Conversation{
		ReplyTo:    replyTo,
		Channel:    channel,
		User:       user,
		Started:    now,
		LastUpdate: now,
		Messages:   []common.Message{{Role: common.System, Content: systemPrompt}},
	}
	m.conversations = append(m.conversations, c)
	if len(m.conversations) > maxConversations {
		m.evictOldestLocked()
	}
	return c
}

// TrimTurns drops the oldest non-system turns of c until at most maxTurns
// messages remain, keeping the seed system turn in place.
func (m *Memory) TrimTurns(c *Conversation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(c.Messages) <= maxTurns {
		return
	}
	excess := len(c.Messages) - maxTurns
	c.Messages = append(c.Messages[:1:1], c.Messages[1+excess:]...)
}

// evictOldestLocked drops the least-recently-updated conversation. Called
// with mu held.
func (m *Memory) evictOldestLocked() {
	oldest := 0
	for i, c := range m.conversations {
		if c.LastUpdate.Before(m.conversations[oldest].LastUpdate) {
			oldest = i
		}
	}
	m.conversations = slices.Delete(m.conversations, oldest, oldest+1)
}

// Forget forgets old conversations.
func (m *Memory) Forget() {
	m.mu.Lock()
	// First sort then cut off. This is so much faster than complex structures
	// like a heap.
	slices.SortFunc(m.conversations, func(a, b *Conversation) int {
		return -1 * a.LastUpdate.Compare(b.LastUpdate)
	})
	before := len(m.conversations)
	cutoff := time.Now().Add(-24 * time.Hour)
	for i, c := range m.conversations {
		if c.LastUpdate.Before(cutoff) {
			m.conversations = m.conversations[:i]
			break
		}
	}
	after := len(m.conversations)
	m.mu.Unlock()
	slog.Info("memory", "action", "forget", "before", before, "after", after)
}
