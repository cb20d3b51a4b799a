package conversation

import (
	"context"
	"sort"
	"sync"
)

// Conversation is a chat handle owned by the caller.
type Conversation interface {
	ChatID() string
	RefreshMessages(ctx context.Context) error
}

// Registry maps chat IDs to conversation handles.
type Registry struct {
	mu    sync.RWMutex
	convs map[string]Conversation
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{convs: make(map[string]Conversation)}
}

// Mark records conv as active. Marking a chat ID again replaces the handle.
func (r *Registry) Mark(conv Conversation) {
	if conv == nil {
		return
	}

	r.mu.Lock()
	r.convs[conv.ChatID()] = conv
	r.mu.Unlock()
}

// Get returns the handle registered for chatID.
func (r *Registry) Get(chatID string) (Conversation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conv, ok := r.convs[chatID]
	return conv, ok
}

// All returns a snapshot of the registered conversations ordered by chat ID.
func (r *Registry) All() []Conversation {
	r.mu.RLock()
	convs := make([]Conversation, 0, len(r.convs))
	for _, conv := range r.convs {
		convs = append(convs, conv)
	}
	r.mu.RUnlock()

	sort.Slice(convs, func(i, j int) bool {
		return convs[i].ChatID() < convs[j].ChatID()
	})
	return convs
}

// Len returns the number of registered conversations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.convs)
}

// Reset forgets every conversation.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.convs = make(map[string]Conversation)
	r.mu.Unlock()
}
