// Package bridge forwards hub messages to external brokers. Each bridge is an
// ordinary hub subscriber.
package bridge

import (
	"strings"
)

// topicSafe replaces characters that would split or wildcard a topic or
// subject segment.
func topicSafe(producer string, reserved string) string {
	if producer == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(reserved, r) {
			return '_'
		}
		return r
	}, producer)
}
