package engine

import (
	"strings"
	"unicode/utf8"

	"github.com/heymuze/muze/internal/store"
)

// ghostWindow is how many recent messages the filter inspects.
const ghostWindow = 3

// minGhostTopicLen guards the substring match against very short topic
// names, which would false-positive on common words.
const minGhostTopicLen = 4

// IsGhostTopic reports whether the topic already appears in the user's
// most recent messages, meaning a nudge about it would be redundant.
// Matching is a case-insensitive substring check, not semantic: a topic
// phrased differently in conversation will slip through.
func IsGhostTopic(topic string, recent []store.Message) bool {
	topic = strings.TrimSpace(topic)
	if utf8.RuneCountInString(topic) < minGhostTopicLen {
		return false
	}
	needle := strings.ToLower(topic)
	if len(recent) > ghostWindow {
		recent = recent[:ghostWindow]
	}
	for _, m := range recent {
		if strings.Contains(strings.ToLower(m.Body), needle) {
			return true
		}
	}
	return false
}
