package feed

import (
	"context"
	"sync"

	"chat-client/internal/models"
)

// ChannelFeed is an in-process feed. Events injected with Emit go to
// every live subscription for the conversation. Used in tests and for
// single-process setups with no external feed.
type ChannelFeed struct {
	mu   sync.Mutex
	subs map[int64]map[*Subscription]struct{}
}

// NewChannelFeed creates an empty in-process feed.
func NewChannelFeed() *ChannelFeed {
	return &ChannelFeed{subs: make(map[int64]map[*Subscription]struct{})}
}

// Subscribe registers a subscription that lives until its context ends
// or it is closed.
func (f *ChannelFeed) Subscribe(ctx context.Context, conversationID int64) (*Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	sub := newSubscription(cancel)

	f.mu.Lock()
	if _, ok := f.subs[conversationID]; !ok {
		f.subs[conversationID] = make(map[*Subscription]struct{})
	}
	f.subs[conversationID][sub] = struct{}{}
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		if subs, ok := f.subs[conversationID]; ok {
			delete(subs, sub)
			if len(subs) == 0 {
				delete(f.subs, conversationID)
			}
		}
		f.mu.Unlock()
		sub.finish(nil)
	}()
	return sub, nil
}

// Emit delivers one event to every subscription on the conversation.
func (f *ChannelFeed) Emit(conversationID int64, ev models.Event) {
	f.mu.Lock()
	subs := make([]*Subscription, 0, len(f.subs[conversationID]))
	for sub := range f.subs[conversationID] {
		subs = append(subs, sub)
	}
	f.mu.Unlock()

	for _, sub := range subs {
		sub.deliver(ev)
	}
}
