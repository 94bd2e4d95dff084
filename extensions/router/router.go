// Package router dispatches received messages to handlers by topic filter
// and message attributes. A Router is used as the handler of one or more
// client subscriptions:
//
//	r := router.New()
//	r.Handle(onTemp, router.WithTopic("sensors/+/temp"))
//	r.Handle(onJSON, router.WithTopic("sensors/#"), router.WithContentType(regexp.MustCompile(`json$`)))
//	client.Subscribe(ctx, r.MessageHandler(), r.Subscriptions(1)...)
package router

import (
	"regexp"
	"slices"
	"sync"

	"github.com/vitalvas/mqttclient"
)

// Handler processes a routed message.
type Handler func(msg *mqttclient.Message)

type userPropertyMatcher struct {
	key   *regexp.Regexp
	value *regexp.Regexp
}

// Condition is the set of criteria a message must meet. Unset criteria
// match everything.
type Condition struct {
	topicFilter    *string
	qos            *byte
	retained       *bool
	subscriptionID *uint32
	contentType    *regexp.Regexp
	responseTopic  *regexp.Regexp
	userProperties []userPropertyMatcher
}

// ConditionOption configures a Condition.
type ConditionOption func(*Condition)

// WithTopic matches the message topic against an MQTT filter. Wildcards
// + and # are supported.
func WithTopic(filter string) ConditionOption {
	return func(c *Condition) {
		c.topicFilter = &filter
	}
}

// WithQoS matches the QoS the message was delivered with.
func WithQoS(qos byte) ConditionOption {
	return func(c *Condition) {
		c.qos = &qos
	}
}

// WithRetained matches on the retain flag.
func WithRetained(retained bool) ConditionOption {
	return func(c *Condition) {
		c.retained = &retained
	}
}

// WithSubscriptionID matches messages delivered for the subscription with
// this identifier. MQTT 5.0 only.
func WithSubscriptionID(id uint32) ConditionOption {
	return func(c *Condition) {
		c.subscriptionID = &id
	}
}

// WithContentType matches the content type property.
func WithContentType(pattern *regexp.Regexp) ConditionOption {
	return func(c *Condition) {
		c.contentType = pattern
	}
}

// WithResponseTopic matches the response topic property.
func WithResponseTopic(pattern *regexp.Regexp) ConditionOption {
	return func(c *Condition) {
		c.responseTopic = pattern
	}
}

// WithUserProperty requires a user property whose key and value both match.
// It may be given several times; every matcher must find a property.
func WithUserProperty(key, value *regexp.Regexp) ConditionOption {
	return func(c *Condition) {
		c.userProperties = append(c.userProperties, userPropertyMatcher{key: key, value: value})
	}
}

func (c *Condition) matches(msg *mqttclient.Message) bool {
	switch {
	case c.topicFilter != nil && !mqttclient.TopicMatch(*c.topicFilter, msg.Topic):
		return false
	case c.qos != nil && *c.qos != msg.QoS:
		return false
	case c.retained != nil && *c.retained != msg.Retain:
		return false
	case c.subscriptionID != nil && !slices.Contains(msg.SubscriptionIdentifiers, *c.subscriptionID):
		return false
	case c.contentType != nil && !c.contentType.MatchString(msg.ContentType):
		return false
	case c.responseTopic != nil && !c.responseTopic.MatchString(msg.ResponseTopic):
		return false
	}

	for _, m := range c.userProperties {
		if !slices.ContainsFunc(msg.UserProperties, func(p mqttclient.StringPair) bool {
			return m.key.MatchString(p.Key) && m.value.MatchString(p.Value)
		}) {
			return false
		}
	}
	return true
}

type route struct {
	handler   Handler
	condition Condition
}

// Router dispatches messages to every handler whose condition matches, in
// registration order. It is safe for concurrent use.
type Router struct {
	mu     sync.RWMutex
	routes []route
}

// New creates an empty Router.
func New() *Router {
	return &Router{}
}

// Handle registers handler under the given conditions.
func (r *Router) Handle(handler Handler, opts ...ConditionOption) {
	var cond Condition
	for _, opt := range opts {
		opt(&cond)
	}

	r.mu.Lock()
	r.routes = append(r.routes, route{handler: handler, condition: cond})
	r.mu.Unlock()
}

// Route calls every matching handler and reports how many were called.
func (r *Router) Route(msg *mqttclient.Message) int {
	if msg == nil {
		return 0
	}

	r.mu.RLock()
	var matched []Handler
	for _, rt := range r.routes {
		if rt.condition.matches(msg) {
			matched = append(matched, rt.handler)
		}
	}
	r.mu.RUnlock()

	for _, h := range matched {
		h(msg)
	}
	return len(matched)
}

// Filters returns the distinct topic filters, in registration order.
func (r *Router) Filters() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var filters []string
	for _, rt := range r.routes {
		if f := rt.condition.topicFilter; f != nil && !slices.Contains(filters, *f) {
			filters = append(filters, *f)
		}
	}
	return filters
}

// Subscriptions returns one subscription per registered topic filter, all
// at the given QoS.
func (r *Router) Subscriptions(qos byte) []mqttclient.Subscription {
	filters := r.Filters()
	subs := make([]mqttclient.Subscription, len(filters))
	for i, f := range filters {
		subs[i] = mqttclient.Subscription{TopicFilter: f, QoS: qos}
	}
	return subs
}

// Len returns the number of registered handlers.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.routes)
}

// Clear removes all handlers.
func (r *Router) Clear() {
	r.mu.Lock()
	r.routes = nil
	r.mu.Unlock()
}

// MessageHandler adapts the router for Client.Subscribe and
// WithDefaultHandler.
func (r *Router) MessageHandler() mqttclient.MessageHandler {
	return func(msg *mqttclient.Message) {
		r.Route(msg)
	}
}
