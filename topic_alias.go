package mqttclient

import (
	"fmt"
)

var errTopicAliasInvalid = fmt.Errorf("%w: topic alias invalid", ErrProtocolError)

// topicAliasTable resolves the topic aliases a server sets on PUBLISH.
// Aliases are scoped to one network connection and never outlive it.
type topicAliasTable struct {
	maximum uint16
	topics  map[uint16]string
}

// newTopicAliasTable creates a table accepting aliases 1..maximum, the
// Topic Alias Maximum the client sent in CONNECT.
func newTopicAliasTable(maximum uint16) *topicAliasTable {
	return &topicAliasTable{
		maximum: maximum,
		topics:  make(map[uint16]string),
	}
}

// resolve records or looks up an alias. A non-empty topic (re)binds the
// alias; an empty topic uses the existing binding.
func (t *topicAliasTable) resolve(alias uint16, topic string) (string, error) {
	if alias == 0 || alias > t.maximum {
		return "", fmt.Errorf("%w: alias %d outside 1..%d", errTopicAliasInvalid, alias, t.maximum)
	}
	if topic != "" {
		t.topics[alias] = topic
		return topic, nil
	}
	bound, ok := t.topics[alias]
	if !ok {
		return "", fmt.Errorf("%w: alias %d is not bound", errTopicAliasInvalid, alias)
	}
	return bound, nil
}

func (t *topicAliasTable) len() int {
	return len(t.topics)
}
