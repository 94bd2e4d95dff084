package mqttclient

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

var (
	ErrInvalidTopicName   = fmt.Errorf("%w: topic name", ErrInvalidTopic)
	ErrInvalidTopicFilter = fmt.Errorf("%w: topic filter", ErrInvalidTopic)
	ErrEmptyTopic         = fmt.Errorf("%w: empty", ErrInvalidTopic)
	ErrInvalidShareName   = errors.New("invalid shared subscription")
)

const (
	topicSeparator      = "/"
	singleLevelWildcard = "+"
	multiLevelWildcard  = "#"
	sharePrefix         = "$share/"
)

// ValidateTopicName checks a topic used in PUBLISH. Topic names never
// contain wildcards.
func ValidateTopicName(topic string) error {
	if topic == "" {
		return ErrEmptyTopic
	}
	if len(topic) > maxUint16 || !utf8.ValidString(topic) || strings.ContainsRune(topic, 0) {
		return ErrInvalidTopicName
	}
	if strings.ContainsAny(topic, singleLevelWildcard+multiLevelWildcard) {
		return fmt.Errorf("%w: %q contains a wildcard", ErrInvalidTopicName, topic)
	}
	return nil
}

// ValidateTopicFilter checks a filter used in SUBSCRIBE and UNSUBSCRIBE,
// including the $share/<group>/ form.
func ValidateTopicFilter(filter string) error {
	if filter == "" {
		return ErrEmptyTopic
	}
	if len(filter) > maxUint16 || !utf8.ValidString(filter) || strings.ContainsRune(filter, 0) {
		return ErrInvalidTopicFilter
	}

	if strings.HasPrefix(filter, sharePrefix) {
		_, inner, err := ParseSharedSubscription(filter)
		if err != nil {
			return err
		}
		filter = inner
	}

	levels := strings.Split(filter, topicSeparator)
	for i, level := range levels {
		if strings.Contains(level, singleLevelWildcard) && level != singleLevelWildcard {
			return fmt.Errorf("%w: %q: '+' must occupy a whole level", ErrInvalidTopicFilter, filter)
		}
		if strings.Contains(level, multiLevelWildcard) && (level != multiLevelWildcard || i != len(levels)-1) {
			return fmt.Errorf("%w: %q: '#' must be the last level", ErrInvalidTopicFilter, filter)
		}
	}
	return nil
}

// ParseSharedSubscription splits "$share/<group>/<filter>". For a plain
// filter it returns an empty group and the filter unchanged.
func ParseSharedSubscription(filter string) (group, inner string, err error) {
	if !strings.HasPrefix(filter, sharePrefix) {
		return "", filter, nil
	}
	rest := filter[len(sharePrefix):]
	group, inner, found := strings.Cut(rest, topicSeparator)
	if !found || group == "" || inner == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidShareName, filter)
	}
	if strings.ContainsAny(group, singleLevelWildcard+multiLevelWildcard) {
		return "", "", fmt.Errorf("%w: group %q contains a wildcard", ErrInvalidShareName, group)
	}
	return group, inner, nil
}

// TopicMatch reports whether topic matches filter. Shared subscription
// prefixes are stripped from the filter first.
func TopicMatch(filter, topic string) bool {
	_, filter, err := ParseSharedSubscription(filter)
	if err != nil || filter == "" || topic == "" {
		return false
	}
	// Topics starting with '$' are not matched by a leading wildcard.
	if topic[0] == '$' && (filter[0] == '+' || filter[0] == '#') {
		return false
	}

	fl := strings.Split(filter, topicSeparator)
	tl := strings.Split(topic, topicSeparator)
	for i, level := range fl {
		if level == multiLevelWildcard {
			return true
		}
		if i >= len(tl) {
			return false
		}
		if level != singleLevelWildcard && level != tl[i] {
			return false
		}
	}
	return len(fl) == len(tl)
}
