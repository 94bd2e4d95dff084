package mqttclient

import (
	"slices"
	"strings"
)

// MessageHandler handles incoming MQTT messages. Handlers run one message
// at a time, in arrival order, on a goroutine separate from the connection.
type MessageHandler func(msg *Message)

type subscriptionEntry struct {
	sub     Subscription
	handler MessageHandler
}

// subscriptionRegistry maps the client's active topic filters to their
// handlers. It is owned by the connection loop.
type subscriptionRegistry struct {
	trie     *Trie[*subscriptionEntry]
	byFilter map[string]*subscriptionEntry
}

func newSubscriptionRegistry() *subscriptionRegistry {
	return &subscriptionRegistry{
		trie:     NewTrie[*subscriptionEntry](),
		byFilter: make(map[string]*subscriptionEntry),
	}
}

// add registers or replaces the handler of sub.TopicFilter and returns the
// new entry.
func (r *subscriptionRegistry) add(sub Subscription, handler MessageHandler) (*subscriptionEntry, error) {
	entry := &subscriptionEntry{sub: sub, handler: handler}
	if err := r.trie.Insert(sub.TopicFilter, entry); err != nil {
		return nil, err
	}
	if old, ok := r.byFilter[sub.TopicFilter]; ok {
		r.trie.Remove(sub.TopicFilter, old)
	}
	r.byFilter[sub.TopicFilter] = entry
	return entry, nil
}

// remove drops the filter. When entry is non-nil the filter is only dropped
// if it still maps to that entry.
func (r *subscriptionRegistry) remove(filter string, entry *subscriptionEntry) bool {
	current, ok := r.byFilter[filter]
	if !ok || (entry != nil && current != entry) {
		return false
	}
	delete(r.byFilter, filter)
	r.trie.Remove(filter, current)
	return true
}

// match returns the handlers of every filter matching topic.
func (r *subscriptionRegistry) match(topic string) []MessageHandler {
	entries := r.trie.Match(topic)
	if len(entries) == 0 {
		return nil
	}
	handlers := make([]MessageHandler, 0, len(entries))
	for _, e := range entries {
		handlers = append(handlers, e.handler)
	}
	return handlers
}

// subscriptions returns the registered subscriptions ordered by filter.
func (r *subscriptionRegistry) subscriptions() []Subscription {
	subs := make([]Subscription, 0, len(r.byFilter))
	for _, e := range r.byFilter {
		subs = append(subs, e.sub)
	}
	slices.SortFunc(subs, func(a, b Subscription) int {
		return strings.Compare(a.TopicFilter, b.TopicFilter)
	})
	return subs
}

func (r *subscriptionRegistry) len() int {
	return len(r.byFilter)
}
